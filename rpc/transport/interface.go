package transport

import (
	"context"
	"io"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/wire"
)

// --------------------------------------------------------------------------
// Handshake
// --------------------------------------------------------------------------

// HandshakeFunc runs the protocol handshake on a freshly dialed socket, before
// the background reader is started. The connection manager applies the connect
// timeout as deadline on the socket while the function runs.
type HandshakeFunc func(rw io.ReadWriter) (wire.HandshakeInfo, error)

// --------------------------------------------------------------------------
// Unsolicited notices
// --------------------------------------------------------------------------

// Notice is an unsolicited (attn) message received from a server
type Notice struct {
	Endpoint string
	Action   int32
	Params   []byte
	Received time.Time
}

// --------------------------------------------------------------------------
// Physical connection
// --------------------------------------------------------------------------

// IConnection is the view a session has on the physical connection bound to
// its logical id. Replies are matched to requests by stream id only.
type IConnection interface {
	// Endpoint returns the host:port of the server
	Endpoint() string
	// Role returns the server role announced during the handshake
	Role() common.ServerRole
	// ProtocolVersion returns the protocol version announced during the handshake
	ProtocolVersion() uint32

	// Send writes one request frame. The write is serialized with all other
	// writes on the connection, stale replies queued for the stream are dropped first.
	Send(streamID uint16, code common.RequestCode, body []byte) error
	// ReadMessage pops the next reply of the stream, waiting at most timeout
	ReadMessage(ctx context.Context, streamID uint16, timeout time.Duration) (*wire.Message, error)

	// LoginState returns whether a session is logged in on this connection
	LoginState() common.LoginState
	// EnsureLogin runs login once per connection. Concurrent callers wait for
	// the running login. With force the login is repeated even if already done.
	EnsureLogin(force bool, login func() error) error

	// TakeRedirectHint returns (and clears) a redirect announced by an unsolicited notice
	TakeRedirectHint() (wire.StatusRedirect, bool)
	// WaitUntil returns the time until which the server asked clients to hold off
	WaitUntil() time.Time
}

// --------------------------------------------------------------------------
// Connection manager
// --------------------------------------------------------------------------

// Stats is a snapshot of the connection manager state
type Stats struct {
	Physical  int
	Logical   int
	Idle      int
	Endpoints []EndpointStats
}

// EndpointStats describes one physical connection
type EndpointStats struct {
	Endpoint   string
	Role       common.ServerRole
	Refs       int
	LoginState common.LoginState
	Expires    time.Time // zero while referenced
}

// IConnectionManager maps endpoints to at most one physical connection each and
// hands out logical connection ids bound to them
type IConnectionManager interface {
	// Connect returns a fresh logical id bound to the physical connection of
	// endpoint (host:port), dialing it if necessary
	Connect(ctx context.Context, endpoint string) (uint16, error)
	// Disconnect releases a logical id. The physical connection is closed if
	// force is set, otherwise it is kept for reuse until it idled past its TTL.
	Disconnect(id uint16, force bool) error
	// GetConnection returns the physical connection bound to id
	GetConnection(id uint16) (IConnection, error)
	// Notices returns the channel unsolicited notices are forwarded to
	Notices() <-chan Notice
	// Stats returns a snapshot of the current connections
	Stats() Stats
	// Close tears down all connections
	Close() error
}
