package tcp

import (
	"context"
	"net"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/transport"
	"github.com/ValentinKolb/xrdc/rpc/transport/base"
)

// clientConnector implements the IClientConnector interface for TCP sockets
type clientConnector struct {
	dialer net.Dialer
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IClientConnector)
// --------------------------------------------------------------------------

func (c *clientConnector) GetName() string {
	return "tcp"
}

func (c *clientConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	return c.dialer.DialContext(ctx, "tcp", endpoint)
}

// UpgradeConnection applies the TCP and socket settings of the configuration
func (c *clientConnector) UpgradeConnection(conn net.Conn, config common.ClientConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil // Not a TCP connection, nothing to upgrade
	}
	tc := config.Transport

	// Disable Nagle's algorithm, requests are small and latency bound
	if err := tcpConn.SetNoDelay(tc.TCPNoDelay); err != nil {
		return err
	}

	if tc.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(tc.WriteBufferSize); err != nil {
			return err
		}
	}

	if tc.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(tc.ReadBufferSize); err != nil {
			return err
		}
	}

	if tc.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(tc.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	if tc.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(tc.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Connection Manager Factory Method
// --------------------------------------------------------------------------

// NewTCPConnectionManager creates a connection manager dialing TCP sockets
func NewTCPConnectionManager(config common.ClientConfig, handshake transport.HandshakeFunc) transport.IConnectionManager {
	return base.NewManager(&clientConnector{}, config, handshake)
}
