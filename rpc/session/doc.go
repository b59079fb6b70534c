// Package session implements the request driver of the client.
//
// A Session binds one logical connection (obtained from a
// transport.IConnectionManager) to a server and pushes requests through the
// retry loop of SendCommand:
//
//   - communication errors (timeouts, lost connections, framing errors) are
//     retried up to the configured retry count, reconnecting when the physical
//     connection is gone
//   - OkSoFar replies are reassembled into one body
//   - redirections are followed: counted within a time window, checked
//     against the domain rules, then the session reconnects, logs in again with
//     the redirection token and reopens its file before resending the request
//   - wait replies are slept (capped by the configured maximum) without using
//     up the retry budget
//   - error replies are terminal and surface as *common.ServerError
//
// Successful reads populate the session's read cache, Read consults it before
// going to the network.
//
// Handshake is the transport.HandshakeFunc the connection managers run on every
// new physical connection.
package session
