// Package unix implements a connector of the transport layer using Unix domain
// sockets, for servers (or local proxies) running on the same machine.
//
// Endpoints keep their host:port form so redirects and the connection manager
// work unchanged; the connector maps an endpoint to the socket file
// <dir>/<host>:<port>.
package unix
