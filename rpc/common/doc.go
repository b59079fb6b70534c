// Package common provides the types shared by all layers of the client.
//
// Key Components:
//
//   - RequestCode and Request: the protocol requests, with factory methods for
//     every operation the client sends (login, auth, open, read, close, stat,
//     dirlist, ping).
//
//   - ClientConfig: timeouts, retry budget, transport tuning, redirection limits
//     and the read cache size. Validated with go-playground/validator.
//
//   - Errors: sentinel errors, ServerError and AuthError, plus the
//     classification used by the retry logic (IsCommunicationError, NeedsReconnect).
//
//   - URL: parsing of root:// URLs and host:port endpoints.
//
//   - Logger: logging implementation that plugs into the Dragonboat logger
//     registry, so every package can use logger.GetLogger.
package common
