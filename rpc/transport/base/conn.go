package base

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/xrdc/lib/util"
	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/transport"
	"github.com/ValentinKolb/xrdc/rpc/wire"
	"github.com/VictoriaMetrics/metrics"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

var (
	droppedFramesTotal = metrics.GetOrCreateCounter("xrdc_transport_dropped_frames_total")
	staleRepliesTotal  = metrics.GetOrCreateCounter("xrdc_transport_stale_replies_total")
	noticesTotal       = metrics.GetOrCreateCounter("xrdc_transport_notices_total")
	openConnections    = metrics.GetOrCreateCounter("xrdc_transport_open_connections")
)

// ClientConn is one physical connection to one endpoint. It owns the socket and
// a background reader that frames incoming bytes and dispatches the messages
// into bounded per-stream queues.
//
// The reader is the only goroutine closing the socket: Close asks it to stop at
// the next frame boundary and waits for it.
type ClientConn struct {
	endpoint string
	conn     net.Conn
	info     wire.HandshakeInfo
	ttl      time.Duration

	queueDepth   int
	writeTimeout time.Duration
	queues       *xsync.MapOf[uint16, *streamQueue]

	txMu    sync.Mutex // serializes writes (and the stale reply drain preceding them)
	loginMu sync.Mutex // serializes logins
	login   atomic.Int32
	lastUse atomic.Int64 // unix nano

	hintMu       sync.Mutex
	redirectHint *wire.StatusRedirect
	waitUntil    time.Time

	unsolicited *util.Queue[transport.Notice]

	started  atomic.Bool
	stopping atomic.Bool
	done     chan struct{}
	err      error // reason the reader stopped, readable after done is closed

	refs int // guarded by the manager lock
}

// streamQueue holds the replies of one logical id. overflow is set by the
// reader when it had to drop a frame because ch was full.
type streamQueue struct {
	ch       chan *wire.Message
	overflow atomic.Bool
}

// newClientConn wraps an established (and handshaked) socket. The reader is
// not started yet.
func newClientConn(endpoint string, conn net.Conn, info wire.HandshakeInfo, config common.ClientConfig) *ClientConn {
	c := &ClientConn{
		endpoint:     endpoint,
		conn:         conn,
		info:         info,
		ttl:          config.TTLFor(info.Role),
		queueDepth:   config.Transport.QueueDepth,
		writeTimeout: config.Timeout,
		queues:       xsync.NewMapOf[uint16, *streamQueue](),
		unsolicited:  util.NewQueue[transport.Notice](),
		done:         make(chan struct{}),
	}
	if c.queueDepth <= 0 {
		c.queueDepth = 1
	}
	c.login.Store(int32(common.LoginNo))
	c.touch()
	openConnections.Inc()
	return c
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnection)
// --------------------------------------------------------------------------

func (c *ClientConn) Endpoint() string { return c.endpoint }

func (c *ClientConn) Role() common.ServerRole { return c.info.Role }

func (c *ClientConn) ProtocolVersion() uint32 { return c.info.ProtocolVersion }

func (c *ClientConn) Send(streamID uint16, code common.RequestCode, body []byte) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	if c.isDone() {
		return errors.Wrapf(common.ErrConnectionLost, "connection to %s is closed", c.endpoint)
	}

	// replies of a previous, timed out request on this stream must not be
	// mistaken for the reply of this one
	if q, ok := c.queues.Load(streamID); ok {
		c.drain(streamID, q)
		q.overflow.Store(false)
	}

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := wire.WriteFrame(c.conn, streamID, uint16(code), body); err != nil {
		Logger.Warningf("write to %s failed: %v", c.endpoint, err)
		c.invalidate()
		return err
	}
	c.touch()
	return nil
}

func (c *ClientConn) ReadMessage(ctx context.Context, streamID uint16, timeout time.Duration) (*wire.Message, error) {
	q, ok := c.queues.Load(streamID)
	if !ok {
		return nil, errors.Wrapf(common.ErrNotFound, "stream %d is not registered on %s", streamID, c.endpoint)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		msg, err := c.receive(ctx, q, timeoutCh)
		if !q.overflow.Load() {
			if errors.Is(err, common.ErrTimeout) {
				err = errors.Wrapf(err, "no reply on stream %d from %s within %s", streamID, c.endpoint, timeout)
			}
			return msg, err
		}

		// the reply lost frames, its remaining parts are skipped up to the
		// terminal status so they cannot be taken for the reply of a resend
		if err == nil && msg.Status.Code() == wire.CodeOkSoFar {
			continue
		}
		q.overflow.Store(false)
		if err != nil && !errors.Is(err, common.ErrTimeout) {
			return nil, err
		}
		return nil, errors.Wrapf(common.ErrStreamOverflow, "reply on stream %d from %s lost frames", streamID, c.endpoint)
	}
}

func (c *ClientConn) LoginState() common.LoginState {
	return common.LoginState(c.login.Load())
}

func (c *ClientConn) EnsureLogin(force bool, login func() error) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	if !force && c.LoginState() == common.LoginYes {
		return nil
	}
	if c.isDone() {
		return errors.Wrapf(common.ErrConnectionLost, "connection to %s is closed", c.endpoint)
	}

	c.login.Store(int32(common.LoginPending))
	if err := login(); err != nil {
		c.login.Store(int32(common.LoginNo))
		return err
	}
	c.login.Store(int32(common.LoginYes))
	return nil
}

func (c *ClientConn) TakeRedirectHint() (wire.StatusRedirect, bool) {
	c.hintMu.Lock()
	defer c.hintMu.Unlock()
	if c.redirectHint == nil {
		return wire.StatusRedirect{}, false
	}
	hint := *c.redirectHint
	c.redirectHint = nil
	return hint, true
}

func (c *ClientConn) WaitUntil() time.Time {
	c.hintMu.Lock()
	defer c.hintMu.Unlock()
	return c.waitUntil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// IsExpired reports whether the connection idled longer than its TTL
func (c *ClientConn) IsExpired(now time.Time) bool {
	return now.Sub(time.Unix(0, c.lastUse.Load())) > c.ttl
}

// TTL returns the idle time-to-live derived from the server role
func (c *ClientConn) TTL() time.Duration { return c.ttl }

// LastUse returns the time of the last successful send or receive
func (c *ClientConn) LastUse() time.Time { return time.Unix(0, c.lastUse.Load()) }

// Done is closed when the reader stopped and the socket is closed
func (c *ClientConn) Done() <-chan struct{} { return c.done }

// Err returns why the connection is down, nil while it is alive
func (c *ClientConn) Err() error {
	if !c.isDone() {
		return nil
	}
	return c.err
}

// StartReader spawns the background reader goroutine
func (c *ClientConn) StartReader() {
	if c.started.CompareAndSwap(false, true) {
		go c.readLoop()
	}
}

// Close stops the reader at the next frame boundary, which then closes the
// socket. Close blocks until the socket is closed and is safe to call repeatedly.
func (c *ClientConn) Close() {
	c.stopping.Store(true)

	// no reader was ever started, nobody else touches the socket
	if c.started.CompareAndSwap(false, true) {
		c.finish(c.closedErr())
		return
	}

	// unblock a reader waiting for the next header
	_ = c.conn.SetReadDeadline(time.Now())
	<-c.done
}

// invalidate marks the connection broken after an I/O error, without waiting
func (c *ClientConn) invalidate() {
	c.stopping.Store(true)
	_ = c.conn.SetReadDeadline(time.Now())
}

// registerStream creates the reply queue of a logical id
func (c *ClientConn) registerStream(id uint16) {
	c.queues.Store(id, &streamQueue{ch: make(chan *wire.Message, c.queueDepth)})
}

// releaseStream drops the reply queue of a logical id, queued replies are discarded
func (c *ClientConn) releaseStream(id uint16) {
	c.queues.Delete(id)
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// readLoop frames messages off the socket until the connection is stopped or fails
func (c *ClientConn) readLoop() {
	var reason error
	for {
		if c.stopping.Load() {
			reason = c.closedErr()
			break
		}

		msg, err := wire.ReadFrame(c.conn)
		if err != nil {
			if c.stopping.Load() {
				reason = c.closedErr()
			} else {
				Logger.Warningf("reading from %s failed: %v", c.endpoint, err)
				reason = err
				if errors.Is(err, common.ErrTimeout) {
					reason = errors.Wrap(common.ErrConnectionLost, err.Error())
				}
			}
			break
		}
		c.touch()

		if msg.IsUnsolicited() {
			attn := msg.Status.(wire.StatusAttn)
			noticesTotal.Inc()
			c.unsolicited.Push(transport.Notice{
				Endpoint: c.endpoint,
				Action:   attn.Action,
				Params:   attn.Params,
				Received: time.Now(),
			})
			continue
		}

		c.dispatch(msg)
	}

	c.finish(reason)
}

// dispatch pushes a reply onto the queue of its stream without ever blocking
// the reader. A full queue drops the frame and marks the stream, the pending
// read then fails with ErrStreamOverflow instead of returning an incomplete reply.
func (c *ClientConn) dispatch(msg *wire.Message) {
	q, ok := c.queues.Load(msg.StreamID)
	if !ok {
		Logger.Debugf("dropping reply for unknown stream %d from %s", msg.StreamID, c.endpoint)
		droppedFramesTotal.Inc()
		return
	}
	select {
	case q.ch <- msg:
	default:
		q.overflow.Store(true)
		Logger.Warningf("queue of stream %d on %s is full, dropping %v", msg.StreamID, c.endpoint, msg)
		droppedFramesTotal.Inc()
	}
}

// receive takes the next reply of a stream. Replies that arrived before the
// connection went down are still delivered.
func (c *ClientConn) receive(ctx context.Context, q *streamQueue, timeoutCh <-chan time.Time) (*wire.Message, error) {
	select {
	case msg := <-q.ch:
		c.touch()
		return msg, nil
	default:
	}

	select {
	case msg := <-q.ch:
		c.touch()
		return msg, nil
	case <-c.done:
		select {
		case msg := <-q.ch:
			return msg, nil
		default:
		}
		return nil, c.Err()
	case <-timeoutCh:
		return nil, common.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish closes the socket and publishes the terminal state
func (c *ClientConn) finish(reason error) {
	_ = c.conn.Close()
	c.login.Store(int32(common.LoginNo))
	c.err = reason
	c.unsolicited.Close()
	openConnections.Dec()
	close(c.done)
}

// drain discards queued replies of a stream (c.txMu must be held)
func (c *ClientConn) drain(streamID uint16, q *streamQueue) {
	for {
		select {
		case msg := <-q.ch:
			Logger.Debugf("discarding stale reply %v on stream %d", msg, streamID)
			staleRepliesTotal.Inc()
		default:
			return
		}
	}
}

func (c *ClientConn) closedErr() error {
	return errors.Wrapf(common.ErrConnectionLost, "connection to %s closed", c.endpoint)
}

func (c *ClientConn) isDone() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *ClientConn) touch() {
	c.lastUse.Store(time.Now().UnixNano())
}

func (c *ClientConn) setRedirectHint(r wire.StatusRedirect) {
	c.hintMu.Lock()
	defer c.hintMu.Unlock()
	c.redirectHint = &r
}

func (c *ClientConn) setWaitUntil(t time.Time) {
	c.hintMu.Lock()
	defer c.hintMu.Unlock()
	if t.After(c.waitUntil) {
		c.waitUntil = t
	}
}
