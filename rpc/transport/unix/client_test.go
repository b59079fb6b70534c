package unix

import (
	"context"
	"io"
	"os"
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

func TestUnixConnectionManager(t *testing.T) {
	defer leaktest.Check(t)()

	dir, err := os.MkdirTemp("", "xrdc")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	srv, err := servertest.Start("unix", SocketPath(dir, "local:1094"), servertest.Options{})
	require.NoError(t, err)
	defer srv.Close()

	cfg := common.DefaultClientConfig()
	cfg.Transport.GCInterval = 0
	m := NewUnixConnectionManager(dir, cfg, handshake)
	defer m.Close()

	id, err := m.Connect(context.Background(), "local:1094")
	require.NoError(t, err)

	c, err := m.GetConnection(id)
	require.NoError(t, err)
	assert.Equal(t, common.RoleDataServer, c.Role())

	require.NoError(t, c.Send(id, common.ReqPing, nil))
	msg, err := c.ReadMessage(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.StatusOk{}, msg.Status)
}
