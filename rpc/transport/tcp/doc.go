// Package tcp implements the TCP connector of the transport layer. It provides a
// concrete implementation of base.IClientConnector that dials TCP sockets and
// applies the socket tuning of the client configuration (no-delay, keep-alive,
// linger and buffer sizes).
//
// See the base package for the connection manager and the physical connection
// built on top of the connector.
package tcp
