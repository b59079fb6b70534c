// Package rpc implements the client side of the root:// file access protocol.
//
// The package is organized into several subpackages:
//
//   - common: Request codes and request values, configuration, error sentinels,
//     URL parsing and the logger setup shared by all other packages.
//
//   - wire: The framed wire format (8 byte request and reply headers, the
//     handshake, status decoding).
//
//   - serializer: Encoding of request bodies and decoding of reply bodies
//     (login, open, stat, dirlist).
//
//   - transport: Physical connections and the connection manager
//     (base implementation, TCP and Unix connectors).
//
//   - auth: Credential providers for the mechanisms offered at login.
//
//   - session: The protocol session, which logs in and authenticates, then
//     retries, waits and follows redirections on behalf of its caller.
//
//   - client: The file level API (Stat, Dirlist, Open, ReadAt) built on sessions.
//
//   - servertest: A scriptable in-process server for tests.
package rpc
