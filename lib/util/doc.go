// Package util provides small generic data structures used by the transport layer.
//
// The package contains:
//   - mapheap: a keyed min-heap, used to order idle connections by expiry time
//   - queue: an unbounded Multi-Producer Single-Consumer queue whose consumer side is a channel,
//     used to hand unsolicited server notices from socket readers to the connection manager
package util
