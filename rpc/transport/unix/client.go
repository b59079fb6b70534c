package unix

import (
	"context"
	"net"
	"path/filepath"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/transport"
	"github.com/ValentinKolb/xrdc/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for Unix sockets.
// The endpoint host:port is mapped to the socket file <dir>/<host>:<port>.
type clientConnector struct {
	dir    string
	dialer net.Dialer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "unix"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	return c.dialer.DialContext(ctx, "unix", SocketPath(c.dir, endpoint))
}

func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	if config.Transport.WriteBufferSize > 0 {
		if err := unixConn.SetWriteBuffer(config.Transport.WriteBufferSize); err != nil {
			return err
		}
	}
	if config.Transport.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(config.Transport.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}

// SocketPath returns the socket file used for an endpoint
func SocketPath(dir, endpoint string) string {
	return filepath.Join(dir, endpoint)
}

// --------------------------------------------------------------------------
// Connection Manager Factory Method
// --------------------------------------------------------------------------

// NewUnixConnectionManager creates a connection manager dialing Unix sockets in dir
func NewUnixConnectionManager(dir string, config common.ClientConfig, handshake transport.HandshakeFunc) transport.IConnectionManager {
	return base.NewManager(&clientConnector{dir: dir}, config, handshake)
}
