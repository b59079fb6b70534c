package base

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/servertest"
	"github.com/ValentinKolb/xrdc/rpc/wire"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Test helpers
// --------------------------------------------------------------------------

type testConnector struct {
	dialer net.Dialer
}

func (c *testConnector) GetName() string { return "test" }

func (c *testConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	return c.dialer.DialContext(ctx, "tcp", endpoint)
}

func (c *testConnector) UpgradeConnection(net.Conn, common.ClientConfig) error { return nil }

// testHandshake is a minimal client side handshake
func testHandshake(rw io.ReadWriter) (wire.HandshakeInfo, error) {
	if _, err := rw.Write(wire.HandshakeRequest()); err != nil {
		return wire.HandshakeInfo{}, err
	}
	reply := make([]byte, wire.HandshakeTypeSize+wire.HandshakeBodySize)
	if _, err := io.ReadFull(rw, reply); err != nil {
		return wire.HandshakeInfo{}, err
	}
	return wire.ParseHandshakeBody(reply[wire.HandshakeTypeSize:])
}

func testConfig() common.ClientConfig {
	cfg := common.DefaultClientConfig()
	cfg.Transport.GCInterval = 0
	cfg.Timeout = time.Second
	return cfg
}

func startServer(t *testing.T, opts servertest.Options) *servertest.Server {
	srv, err := servertest.Start("tcp", "127.0.0.1:0", opts)
	require.NoError(t, err)
	return srv
}

func newTestManager(cfg common.ClientConfig) *Manager {
	return NewManager(&testConnector{}, cfg, testHandshake)
}

func ping(t *testing.T, m *Manager, id uint16) *wire.Message {
	c, err := m.getConn(id)
	require.NoError(t, err)
	require.NoError(t, c.Send(id, common.ReqPing, nil))
	msg, err := c.ReadMessage(context.Background(), id, time.Second)
	require.NoError(t, err)
	return msg
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestConnectSharesPhysicalConnection(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{Role: common.RoleLoadBalancer})
	defer srv.Close()
	m := newTestManager(testConfig())
	defer m.Close()

	id1, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	id2, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 1, srv.Accepted())

	stats := m.Stats()
	assert.Equal(t, 1, stats.Physical)
	assert.Equal(t, 2, stats.Logical)
	require.Len(t, stats.Endpoints, 1)
	assert.Equal(t, common.RoleLoadBalancer, stats.Endpoints[0].Role)
	assert.Equal(t, 2, stats.Endpoints[0].Refs)

	c, err := m.GetConnection(id1)
	require.NoError(t, err)
	assert.Equal(t, common.RoleLoadBalancer, c.Role())
	assert.Equal(t, testConfig().Transport.LoadBalancerTTL, c.(*ClientConn).TTL())

	ping(t, m, id1)
	ping(t, m, id2)
}

func TestConcurrentConnectDialsOnce(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	m := newTestManager(testConfig())
	defer m.Close()

	var wg sync.WaitGroup
	ids := make(chan uint16, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := m.Connect(context.Background(), srv.Endpoint())
			assert.NoError(t, err)
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[uint16]bool{}
	for id := range ids {
		assert.False(t, seen[id], "logical id %d handed out twice", id)
		seen[id] = true
	}
	assert.Equal(t, 1, srv.Accepted())
	assert.Equal(t, 10, m.Stats().Logical)
}

func TestStreamIsolation(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	// the first stream gets the slowest answer, replies arrive in reverse order
	srv.Handle(func(req servertest.Request) []servertest.Reply {
		return []servertest.Reply{{
			Status: wire.StatusOk{},
			Body:   []byte(fmt.Sprintf("stream-%d", req.StreamID)),
			Delay:  time.Duration(10-int(req.StreamID)%10) * 5 * time.Millisecond,
		}}
	})
	m := newTestManager(testConfig())
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		id, err := m.Connect(context.Background(), srv.Endpoint())
		require.NoError(t, err)

		wg.Add(1)
		go func(id uint16) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				c, err := m.getConn(id)
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, c.Send(id, common.ReqPing, nil))
				msg, err := c.ReadMessage(context.Background(), id, time.Second)
				if assert.NoError(t, err) {
					assert.Equal(t, id, msg.StreamID)
					assert.Equal(t, fmt.Sprintf("stream-%d", id), string(msg.TakeBody()))
				}
			}
		}(id)
	}
	wg.Wait()
	assert.Equal(t, 1, srv.Accepted())
}

func TestReadTimeoutAndStaleReplyDrain(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	calls := 0
	var mu sync.Mutex
	srv.Handle(func(req servertest.Request) []servertest.Reply {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return []servertest.Reply{{Status: wire.StatusOk{}, Body: []byte("first"), Delay: 100 * time.Millisecond}}
		}
		return servertest.Ok([]byte("second"))
	})
	m := newTestManager(testConfig())
	defer m.Close()

	id, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	c, err := m.getConn(id)
	require.NoError(t, err)

	require.NoError(t, c.Send(id, common.ReqPing, nil))
	_, err = c.ReadMessage(context.Background(), id, 20*time.Millisecond)
	assert.True(t, errors.Is(err, common.ErrTimeout), "got %v", err)

	// the late reply to the first request arrives and must be discarded
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, c.Send(id, common.ReqPing, nil))
	msg, err := c.ReadMessage(context.Background(), id, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(msg.TakeBody()))

	// a timeout leaves the connection usable
	assert.NoError(t, c.Err())
}

func TestReadMessageHonoursContext(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	srv.Handle(func(req servertest.Request) []servertest.Reply { return []servertest.Reply{} })
	m := newTestManager(testConfig())
	defer m.Close()

	id, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	c, _ := m.getConn(id)
	require.NoError(t, c.Send(id, common.ReqPing, nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.ReadMessage(ctx, id, time.Minute)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueueOverflowFailsRead(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	srv.Handle(func(req servertest.Request) []servertest.Reply {
		return servertest.Chunked([]byte("abc"), 1)
	})
	cfg := testConfig()
	cfg.Transport.QueueDepth = 1
	m := newTestManager(cfg)
	defer m.Close()

	id, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	c, _ := m.getConn(id)
	require.NoError(t, c.Send(id, common.ReqPing, nil))

	// nobody reads, the queue holds "a", "b" and the final "c" are dropped
	time.Sleep(100 * time.Millisecond)

	_, err = c.ReadMessage(context.Background(), id, 50*time.Millisecond)
	assert.True(t, errors.Is(err, common.ErrStreamOverflow), "got %v", err)
	assert.True(t, common.IsCommunicationError(err))
	assert.False(t, common.NeedsReconnect(err))

	// the reader is not stalled by the full queue
	assert.NoError(t, c.Err())
}

func TestQueueOverflowSkipsRestOfReply(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	var calls sync.Mutex
	first := true
	srv.Handle(func(req servertest.Request) []servertest.Reply {
		calls.Lock()
		defer calls.Unlock()
		if !first {
			return servertest.Ok([]byte("fresh"))
		}
		first = false
		replies := servertest.Chunked([]byte("abcd"), 1)
		replies[len(replies)-1].Delay = 200 * time.Millisecond
		return replies
	})
	cfg := testConfig()
	cfg.Transport.QueueDepth = 2
	m := newTestManager(cfg)
	defer m.Close()

	id, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	c, _ := m.getConn(id)
	require.NoError(t, c.Send(id, common.ReqPing, nil))

	// "a" and "b" are queued, "c" is dropped, the final "d" is still pending
	time.Sleep(100 * time.Millisecond)

	_, err = c.ReadMessage(context.Background(), id, time.Second)
	assert.True(t, errors.Is(err, common.ErrStreamOverflow), "got %v", err)

	// the terminal part of the broken reply was consumed as well
	_, err = c.ReadMessage(context.Background(), id, 20*time.Millisecond)
	assert.True(t, errors.Is(err, common.ErrTimeout), "got %v", err)

	// the stream is usable again
	msg := ping(t, m, id)
	assert.Equal(t, "fresh", string(msg.TakeBody()))
}

func TestIdleConnectionIsKeptUntilTTL(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	m := newTestManager(testConfig())
	defer m.Close()

	id, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(id, false))

	stats := m.Stats()
	assert.Equal(t, 1, stats.Physical)
	assert.Equal(t, 0, stats.Logical)
	assert.Equal(t, 1, stats.Idle)

	_, err = m.GetConnection(id)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	// not yet expired
	assert.Equal(t, 0, m.CollectGarbage(time.Now()))

	// reuse cancels the scheduled reclamation
	id, err = m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	assert.Equal(t, 0, m.Stats().Idle)
	assert.Equal(t, 0, m.CollectGarbage(time.Now().Add(time.Hour)), "referenced connections are never reclaimed")
	require.NoError(t, m.Disconnect(id, false))

	assert.Equal(t, 1, m.CollectGarbage(time.Now().Add(time.Hour)))
	assert.Equal(t, 0, m.Stats().Physical)
	assert.Equal(t, 1, srv.Accepted())

	assert.Eventually(t, func() bool { return srv.OpenConnections() == 0 }, time.Second, 5*time.Millisecond)
}

func TestZeroTTLClosesOnLastRelease(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	cfg := testConfig()
	cfg.Transport.DataServerTTL = 0
	m := newTestManager(cfg)
	defer m.Close()

	id1, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	id2, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)

	require.NoError(t, m.Disconnect(id1, false))
	assert.Equal(t, 1, m.Stats().Physical)

	require.NoError(t, m.Disconnect(id2, false))
	assert.Equal(t, 0, m.Stats().Physical)

	assert.True(t, errors.Is(m.Disconnect(id2, false), common.ErrNotFound))
}

func TestForceDisconnectInvalidatesSharedIds(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	m := newTestManager(testConfig())
	defer m.Close()

	id1, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	id2, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)

	require.NoError(t, m.Disconnect(id1, true))

	_, err = m.GetConnection(id2)
	assert.True(t, errors.Is(err, common.ErrNotFound), "no logical id may map to a destroyed connection")
	assert.Equal(t, 0, m.Stats().Logical)

	// the next connect dials a fresh connection
	id3, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	ping(t, m, id3)
	assert.Equal(t, 2, srv.Accepted())
}

func TestConnectionLoss(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	srv.Handle(func(req servertest.Request) []servertest.Reply {
		return []servertest.Reply{{Close: true}}
	})
	m := newTestManager(testConfig())
	defer m.Close()

	id, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	c, err := m.getConn(id)
	require.NoError(t, err)

	require.NoError(t, c.Send(id, common.ReqPing, nil))
	_, err = c.ReadMessage(context.Background(), id, time.Second)
	assert.True(t, errors.Is(err, common.ErrConnectionLost), "got %v", err)
	assert.True(t, common.NeedsReconnect(err))
	assert.Equal(t, common.LoginNo, c.LoginState())

	assert.Eventually(t, func() bool {
		_, err := m.GetConnection(id)
		return errors.Is(err, common.ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	err = c.Send(id, common.ReqPing, nil)
	assert.True(t, errors.Is(err, common.ErrConnectionLost))
}

func TestEnsureLoginRunsOnce(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	m := newTestManager(testConfig())
	defer m.Close()

	id, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	c, _ := m.GetConnection(id)

	var calls int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.EnsureLogin(false, func() error {
				calls++ // serialized by the login lock
				time.Sleep(10 * time.Millisecond)
				return nil
			}))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
	assert.Equal(t, common.LoginYes, c.LoginState())

	require.NoError(t, c.EnsureLogin(true, func() error { calls++; return nil }))
	assert.Equal(t, 2, calls)

	err = c.EnsureLogin(true, func() error { return errors.New("denied") })
	assert.Error(t, err)
	assert.Equal(t, common.LoginNo, c.LoginState())
}

func TestUnsolicitedNotices(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	m := newTestManager(testConfig())
	defer m.Close()

	id, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	c, _ := m.GetConnection(id)

	srv.Notify(wire.AttnMessage, []byte("maintenance at noon"))
	select {
	case n := <-m.Notices():
		assert.Equal(t, wire.AttnMessage, n.Action)
		assert.Equal(t, "maintenance at noon", string(n.Params))
	case <-time.After(time.Second):
		t.Fatal("notice not forwarded")
	}

	redirect := wire.NewMessage(0, wire.StatusRedirect{Host: "b.example.org", Port: 7777, Token: "t1"}, nil).Marshal()
	srv.Notify(wire.AttnRedirect, redirect[wire.HeaderSize:])
	<-m.Notices()
	hint, ok := c.TakeRedirectHint()
	require.True(t, ok)
	assert.Equal(t, wire.StatusRedirect{Host: "b.example.org", Port: 7777, Token: "t1"}, hint)
	_, ok = c.TakeRedirectHint()
	assert.False(t, ok, "hints are consumed once")

	secs := make([]byte, 4)
	binary.BigEndian.PutUint32(secs, 30)
	srv.Notify(wire.AttnWait, secs)
	<-m.Notices()
	assert.True(t, c.WaitUntil().After(time.Now().Add(20*time.Second)))

	// notices are not replies
	srv.Handle(func(req servertest.Request) []servertest.Reply { return []servertest.Reply{} })
	require.NoError(t, c.Send(id, common.ReqPing, nil))
	srv.Notify(wire.AttnMessage, []byte("x"))
	_, err = c.ReadMessage(context.Background(), id, 50*time.Millisecond)
	assert.True(t, errors.Is(err, common.ErrTimeout))
}

func TestDisconnectNoticeInvalidatesConnection(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	m := newTestManager(testConfig())
	defer m.Close()

	id, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)

	srv.Notify(wire.AttnDisconnect, []byte{0, 0, 0, 0})

	assert.Eventually(t, func() bool {
		_, err := m.GetConnection(id)
		return errors.Is(err, common.ErrNotFound)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.Stats().Physical)
}

func TestConnectFailure(t *testing.T) {
	defer leaktest.Check(t)()

	// reserve a port and close it again
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	endpoint := l.Addr().String()
	require.NoError(t, l.Close())

	m := newTestManager(testConfig())
	defer m.Close()
	_, err = m.Connect(context.Background(), endpoint)
	assert.True(t, errors.Is(err, common.ErrConnectionLost), "got %v", err)
	assert.Equal(t, 0, m.Stats().Physical)
}

func TestClosedManager(t *testing.T) {
	defer leaktest.Check(t)()

	srv := startServer(t, servertest.Options{})
	defer srv.Close()
	m := NewManager(&testConnector{}, testConfig(), testHandshake)

	_, err := m.Connect(context.Background(), srv.Endpoint())
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	_, err = m.Connect(context.Background(), srv.Endpoint())
	assert.True(t, errors.Is(err, common.ErrClosed))
	assert.Eventually(t, func() bool { return srv.OpenConnections() == 0 }, time.Second, 5*time.Millisecond)
}
