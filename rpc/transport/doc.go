// Package transport defines the interfaces between a protocol session and the
// connection layer underneath it.
//
// Key Components:
//
//   - IConnectionManager: maps endpoints to at most one physical connection each and
//     hands out short-lived logical connection ids bound to them (reference counted).
//
//   - IConnection: a physical connection as seen by a session. Requests are written as
//     one transaction, replies are matched to requests by stream id only.
//
//   - HandshakeFunc: the protocol handshake run once per physical connection, before
//     its background reader starts.
//
//   - Notice: an unsolicited server notice, published on IConnectionManager.Notices.
//
// Implementations live in the base package; the tcp and unix packages provide the
// connectors and factory functions.
package transport
