package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/servertest"
	"github.com/ValentinKolb/xrdc/rpc/wire"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handshake(rw io.ReadWriter) (wire.HandshakeInfo, error) {
	if _, err := rw.Write(wire.HandshakeRequest()); err != nil {
		return wire.HandshakeInfo{}, err
	}
	reply := make([]byte, wire.HandshakeTypeSize+wire.HandshakeBodySize)
	if _, err := io.ReadFull(rw, reply); err != nil {
		return wire.HandshakeInfo{}, err
	}
	return wire.ParseHandshakeBody(reply[wire.HandshakeTypeSize:])
}

func TestUpgradeConnection(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	conn, err := (&clientConnector{}).Connect(context.Background(), l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	cfg := common.DefaultClientConfig()
	cfg.Transport.TCPKeepAliveSec = 30
	cfg.Transport.WriteBufferSize = 64 * 1024
	cfg.Transport.ReadBufferSize = 64 * 1024
	assert.NoError(t, (&clientConnector{}).UpgradeConnection(conn, cfg))
}

func TestTCPConnectionManager(t *testing.T) {
	defer leaktest.Check(t)()

	srv, err := servertest.Start("tcp", "127.0.0.1:0", servertest.Options{Role: common.RoleLoadBalancer})
	require.NoError(t, err)
	defer srv.Close()

	cfg := common.DefaultClientConfig()
	cfg.Transport.GCInterval = 10 * time.Millisecond
	cfg.Transport.LoadBalancerTTL = 20 * time.Millisecond
	m := NewTCPConnectionManager(cfg, handshake)
	defer m.Close()

	id, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(id, false))

	// the periodic sweep reclaims the idle load balancer connection
	assert.Eventually(t, func() bool { return m.Stats().Physical == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return srv.OpenConnections() == 0 }, 2*time.Second, 10*time.Millisecond)

	_, err = m.GetConnection(id)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}
