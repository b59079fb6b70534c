// Package base implements the connection layer independent of the specific
// socket type (TCP, Unix sockets). Socket specifics are injected through
// IClientConnector.
//
// Key Components:
//
//   - ClientConn: one physical connection. A background reader frames incoming
//     bytes into messages and pushes them onto bounded per-stream queues, so
//     a waiter for stream X never observes a reply for stream Y. Unsolicited
//     (attn) messages go to an unbounded queue instead. Writes are serialized
//     by a transaction lock. Any I/O error stops the reader, which closes the
//     socket and resets the login state; a ClientConn never reconnects itself.
//
//   - Manager: the registry of physical connections. Logical ids double as
//     stream ids and are reference counted per endpoint. Concurrent connects
//     to the same endpoint share one dial (singleflight). Unreferenced
//     connections are kept until their role dependent TTL expires and are
//     reclaimed by a periodic sweep ordered by expiry time.
//
// Unsolicited notices are applied by the manager: a message is logged, a
// disconnect notice invalidates the connection after the announced delay,
// redirect and wait notices are stored as hints for the next request on the
// connection. All notices are forwarded to Manager.Notices without blocking.
//
// Thread Safety:
//
//	All exported methods are safe for concurrent use. The manager lock is never
//	held across blocking I/O.
package base
