package base

import (
	"context"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/xrdc/lib/util"
	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/transport"
	"github.com/ValentinKolb/xrdc/rpc/wire"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var Logger = logger.GetLogger("xrdc/transport")

var (
	dialsTotal      = metrics.GetOrCreateCounter("xrdc_transport_dials_total")
	dialErrorsTotal = metrics.GetOrCreateCounter("xrdc_transport_dial_errors_total")
	reclaimedTotal  = metrics.GetOrCreateCounter("xrdc_transport_reclaimed_total")
)

const (
	// noticeBuffer is the capacity of the channel returned by Notices
	noticeBuffer = 64
	// maxBindAttempts bounds the dials of one Connect call
	maxBindAttempts = 3
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint (host:port)
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Connection Manager
// -----------------------------------------------------------

// Manager implements transport.IConnectionManager. It keeps at most one physical
// connection per endpoint and maps logical ids, which double as stream ids, onto them.
//
// All map mutations happen under mu; mu is never held across dialing, the
// handshake or closing a socket.
type Manager struct {
	connector IClientConnector
	config    common.ClientConfig
	handshake transport.HandshakeFunc

	mu       sync.Mutex
	physical map[string]*ClientConn
	logical  map[uint16]string
	idle     *util.MapHeap[string] // endpoints without references, by expiry time
	nextID   uint16
	closed   bool

	dials   singleflight.Group
	notices chan transport.Notice

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// -----------------------------------------------------------
// Manager Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewManager creates a connection manager dialing through the connector. A nil
// handshake skips the protocol handshake, the server role is then unknown.
func NewManager(connector IClientConnector, config common.ClientConfig, handshake transport.HandshakeFunc) *Manager {
	m := &Manager{
		connector: connector,
		config:    config,
		handshake: handshake,
		physical:  make(map[string]*ClientConn),
		logical:   make(map[uint16]string),
		idle:      util.NewMapHeap[string](),
		notices:   make(chan transport.Notice, noticeBuffer),
		stopCh:    make(chan struct{}),
	}

	if config.Transport.GCInterval > 0 {
		m.wg.Add(1)
		go m.gcLoop(config.Transport.GCInterval)
	}
	return m
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IConnectionManager)
// --------------------------------------------------------------------------

func (m *Manager) Connect(ctx context.Context, endpoint string) (uint16, error) {
	for attempt := 0; ; attempt++ {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return 0, errors.Wrap(common.ErrClosed, "connection manager")
		}
		if c, ok := m.physical[endpoint]; ok && !c.isDone() {
			id, err := m.bindLocked(c)
			m.mu.Unlock()
			return id, err
		}
		m.mu.Unlock()

		if attempt >= maxBindAttempts {
			return 0, errors.Wrapf(common.ErrConnectionLost, "connection to %s went down right after connecting", endpoint)
		}

		// concurrent connects to the same endpoint share one dial
		_, err, _ := m.dials.Do(endpoint, func() (interface{}, error) {
			return m.dial(ctx, endpoint)
		})
		if err != nil {
			return 0, err
		}
		// the fresh connection is registered, bind to it in the next round
	}
}

func (m *Manager) Disconnect(id uint16, force bool) error {
	m.mu.Lock()

	endpoint, ok := m.logical[id]
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(common.ErrNotFound, "logical id %d", id)
	}
	delete(m.logical, id)

	c := m.physical[endpoint]
	if c == nil {
		m.mu.Unlock()
		return nil
	}
	c.releaseStream(id)
	c.refs--

	var toClose *ClientConn
	switch {
	case force || c.isDone():
		toClose = m.removeLocked(c)
	case c.refs == 0 && c.TTL() <= 0:
		toClose = m.removeLocked(c)
	case c.refs == 0:
		m.idle.Set(endpoint, time.Now().Add(c.TTL()).UnixNano())
	}
	m.mu.Unlock()

	if toClose != nil {
		Logger.Debugf("closing connection to %s (force=%v)", endpoint, force)
		toClose.Close()
	}
	return nil
}

func (m *Manager) GetConnection(id uint16) (transport.IConnection, error) {
	c, err := m.getConn(id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (m *Manager) Notices() <-chan transport.Notice {
	return m.notices
}

func (m *Manager) Stats() transport.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := transport.Stats{
		Physical: len(m.physical),
		Logical:  len(m.logical),
		Idle:     m.idle.Len(),
	}
	for endpoint, c := range m.physical {
		es := transport.EndpointStats{
			Endpoint:   endpoint,
			Role:       c.Role(),
			Refs:       c.refs,
			LoginState: c.LoginState(),
		}
		if expires, ok := m.idle.Get(endpoint); ok {
			es.Expires = time.Unix(0, expires)
		}
		stats.Endpoints = append(stats.Endpoints, es)
	}
	sort.Slice(stats.Endpoints, func(i, j int) bool {
		return stats.Endpoints[i].Endpoint < stats.Endpoints[j].Endpoint
	})
	return stats
}

func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]*ClientConn, 0, len(m.physical))
	for _, c := range m.physical {
		conns = append(conns, c)
	}
	m.physical = make(map[string]*ClientConn)
	m.logical = make(map[uint16]string)
	m.idle = util.NewMapHeap[string]()
	m.mu.Unlock()

	close(m.stopCh)
	for _, c := range conns {
		c.Close()
	}
	m.wg.Wait()

	Logger.Infof("connection manager closed (%d connections)", len(conns))
	return nil
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// CollectGarbage closes all unreferenced connections whose TTL expired at now
// and returns how many were closed.
func (m *Manager) CollectGarbage(now time.Time) int {
	var expired []*ClientConn

	m.mu.Lock()
	for _, endpoint := range m.idle.PopUntil(now.UnixNano()) {
		c, ok := m.physical[endpoint]
		if !ok || c.refs > 0 {
			continue
		}
		if !c.IsExpired(now) {
			// used after it was scheduled, look again once the new TTL ran out
			m.idle.Set(endpoint, c.LastUse().Add(c.TTL()).UnixNano())
			continue
		}
		expired = append(expired, m.removeLocked(c))
	}
	m.mu.Unlock()

	for _, c := range expired {
		Logger.Infof("reclaiming idle connection to %s (idle since %s)", c.Endpoint(), c.LastUse().Format(time.RFC3339))
		c.Close()
		reclaimedTotal.Inc()
	}
	return len(expired)
}

// gcLoop runs the periodic idle connection sweep
func (m *Manager) gcLoop(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case now := <-ticker.C:
			m.CollectGarbage(now)
		}
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// dial connects, upgrades and handshakes a new physical connection and registers it
func (m *Manager) dial(ctx context.Context, endpoint string) (*ClientConn, error) {
	dialsTotal.Inc()

	if m.config.Transport.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Transport.ConnectTimeout)
		defer cancel()
	}

	conn, err := m.connector.Connect(ctx, endpoint)
	if err != nil {
		dialErrorsTotal.Inc()
		return nil, errors.Wrap(common.ErrConnectionLost, fmt.Sprintf("failed to connect to %s: %v", endpoint, err))
	}

	if err := m.connector.UpgradeConnection(conn, m.config); err != nil {
		_ = conn.Close()
		dialErrorsTotal.Inc()
		return nil, errors.Wrapf(common.ErrConnectionLost, "failed to upgrade connection to %s: %v", endpoint, err)
	}

	info, err := runHandshake(ctx, conn, m.handshake)
	if err != nil {
		_ = conn.Close()
		dialErrorsTotal.Inc()
		return nil, errors.WithMessagef(err, "handshake with %s", endpoint)
	}

	c := newClientConn(endpoint, conn, info, m.config)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		c.Close()
		return nil, errors.Wrap(common.ErrClosed, "connection manager")
	}
	if old, ok := m.physical[endpoint]; ok && old != c {
		// a dead connection is replaced, its logical ids are stale now
		m.removeLocked(old)
	}
	m.physical[endpoint] = c
	m.wg.Add(1)
	m.mu.Unlock()

	c.StartReader()
	go m.watch(c)

	Logger.Infof("connected to %s using %s transport (%s, protocol %#x, ttl %s)",
		endpoint, m.connector.GetName(), info.Role, info.ProtocolVersion, c.TTL())
	return c, nil
}

// bindLocked allocates a logical id on the connection (m.mu must be held)
func (m *Manager) bindLocked(c *ClientConn) (uint16, error) {
	if len(m.logical) >= 0xffff {
		return 0, fmt.Errorf("no free logical connection id")
	}
	for {
		m.nextID++
		if m.nextID == 0 {
			continue // 0 is never handed out
		}
		if _, used := m.logical[m.nextID]; !used {
			break
		}
	}

	id := m.nextID
	m.logical[id] = c.Endpoint()
	c.registerStream(id)
	c.refs++
	c.touch()
	m.idle.Remove(c.Endpoint())
	return id, nil
}

// removeLocked unregisters a physical connection and every logical id bound to
// it (m.mu must be held). The caller closes the returned connection after
// releasing the lock.
func (m *Manager) removeLocked(c *ClientConn) *ClientConn {
	endpoint := c.Endpoint()
	if m.physical[endpoint] == c {
		delete(m.physical, endpoint)
		m.idle.Remove(endpoint)
	}
	for id, ep := range m.logical {
		if ep == endpoint {
			delete(m.logical, id)
			c.releaseStream(id)
		}
	}
	c.refs = 0
	return c
}

// getConn resolves a logical id
func (m *Manager) getConn(id uint16) (*ClientConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	endpoint, ok := m.logical[id]
	if !ok {
		return nil, errors.Wrapf(common.ErrNotFound, "logical id %d", id)
	}
	c, ok := m.physical[endpoint]
	if !ok {
		delete(m.logical, id)
		return nil, errors.Wrapf(common.ErrNotFound, "logical id %d", id)
	}
	return c, nil
}

// watch consumes the unsolicited notices of a connection and unregisters the
// connection once its reader stopped
func (m *Manager) watch(c *ClientConn) {
	defer m.wg.Done()

	for n := range c.unsolicited.Recv() {
		m.handleNotice(c, n)
	}

	m.mu.Lock()
	if m.physical[c.Endpoint()] == c {
		Logger.Infof("connection to %s is down: %v", c.Endpoint(), c.Err())
		m.removeLocked(c)
	}
	m.mu.Unlock()
}

// handleNotice applies an unsolicited notice to the connection and forwards it to subscribers
func (m *Manager) handleNotice(c *ClientConn, n transport.Notice) {
	switch n.Action {
	case wire.AttnMessage:
		Logger.Infof("message from %s: %s", n.Endpoint, string(n.Params))

	case wire.AttnDisconnect:
		delay := noticeSeconds(n.Params)
		Logger.Warningf("%s announced disconnect in %s", n.Endpoint, delay)
		time.AfterFunc(delay, c.invalidate)

	case wire.AttnRedirect:
		r, err := wire.ParseRedirect(n.Params)
		if err != nil {
			Logger.Warningf("ignoring malformed redirect notice from %s: %v", n.Endpoint, err)
			break
		}
		Logger.Infof("%s announced %s", n.Endpoint, r)
		c.setRedirectHint(r)

	case wire.AttnWait:
		delay := noticeSeconds(n.Params)
		Logger.Infof("%s asked to wait %s", n.Endpoint, delay)
		c.setWaitUntil(n.Received.Add(delay))

	default:
		Logger.Debugf("ignoring notice %d from %s", n.Action, n.Endpoint)
	}

	select {
	case m.notices <- n:
	default:
		Logger.Debugf("no subscriber for notice %d from %s", n.Action, n.Endpoint)
	}
}
