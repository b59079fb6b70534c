package session

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/xrdc/lib/readcache"
	"github.com/ValentinKolb/xrdc/rpc/auth"
	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/serializer"
	"github.com/ValentinKolb/xrdc/rpc/transport"
	"github.com/ValentinKolb/xrdc/rpc/wire"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("xrdc/session")

var (
	requestsTotal  = metrics.GetOrCreateCounter("xrdc_session_requests_total")
	retriesTotal   = metrics.GetOrCreateCounter("xrdc_session_retries_total")
	redirectsTotal = metrics.GetOrCreateCounter("xrdc_session_redirects_total")
	waitsTotal     = metrics.GetOrCreateCounter("xrdc_session_waits_total")
)

// Response is the terminal answer to a request
type Response struct {
	// Body is the complete reply body, OkSoFar parts are concatenated
	Body []byte
	// Endpoint is the server that answered
	Endpoint string
	// Cached reports that the data was served by the read cache
	Cached bool
}

// openFile is the file a session has open, kept to reissue the open after a reconnect
type openFile struct {
	path    string
	mode    uint16
	options uint16
	handle  common.FileHandle // handle known to the caller
	current common.FileHandle // handle valid on the current server
}

// Session drives requests over one logical connection. It owns a read cache
// and at most one open file.
//
// Requests of one session are serialized: the logical id doubles as stream
// id, so a session never has more than one request in flight.
type Session struct {
	config   common.ClientConfig
	manager  transport.IConnectionManager
	registry *auth.Registry
	ser      serializer.IRPCSerializer
	cache    *readcache.Cache
	acl      *DomainACL

	mu        sync.Mutex // serializes requests, guards all fields below
	id        uint16     // 0 while no logical connection is held
	url       common.URL
	endpoint  string
	redirect  redirectState
	token     string // pending redirection token, sent with the next login
	sessionID [16]byte
	file      *openFile
	closed    bool

	state atomic.Int32
}

// --------------------------------------------------------------------------
// Session Factory Method
// --------------------------------------------------------------------------

// NewSession creates a disconnected session. A nil registry uses the built-in
// authentication mechanisms.
func NewSession(manager transport.IConnectionManager, config common.ClientConfig, registry *auth.Registry) *Session {
	if registry == nil {
		registry = auth.DefaultRegistry()
	}
	return &Session{
		config:   config,
		manager:  manager,
		registry: registry,
		ser:      serializer.NewBinarySerializer(),
		cache:    readcache.New(config.Cache.CapacityBytes),
		acl:      NewDomainACL(config.Redirect.AllowDomains, config.Redirect.DenyDomains),
		redirect: redirectState{windowStart: time.Now()},
	}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Connect binds the session to the server named by url (root://host[:port]//path),
// runs login and authentication and leaves the session Ready.
func (s *Session) Connect(ctx context.Context, rawURL string) error {
	u, err := common.ParseURL(rawURL)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Wrap(common.ErrClosed, "session")
	}
	if s.id != 0 {
		_ = s.manager.Disconnect(s.id, false)
		s.id = 0
	}
	s.url = u

	err = s.connectTo(ctx, u.Endpoint(), nil)
	var rd *redirectError
	if errors.As(err, &rd) {
		err = s.followRedirect(ctx, rd.target, nil)
	}
	if err != nil {
		s.setState(StateFailed)
		return err
	}
	return nil
}

// SendCommand sends req and returns the terminal reply. Communication errors
// are retried (reconnecting when needed) up to the configured retry count,
// redirections and wait requests are followed transparently. A timeout <= 0
// uses the configured request timeout.
func (s *Session) SendCommand(ctx context.Context, req *common.Request, timeout time.Duration) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.Wrap(common.ErrClosed, "session")
	}
	if timeout <= 0 {
		timeout = s.config.Timeout
	}
	return s.sendLocked(ctx, req, timeout)
}

// Read returns up to length bytes at offset of the open file. The read cache
// is consulted first, a miss fetches at least the configured read-ahead.
func (s *Session) Read(ctx context.Context, h common.FileHandle, offset int64, length int32) ([]byte, error) {
	if data, ok := s.cache.Lookup(offset, offset+int64(length)); ok {
		return data, nil
	}

	fetch := length
	if ra := s.config.Cache.ReadAheadBytes; int64(fetch) < ra && ra <= int64(^uint32(0)>>1) {
		fetch = int32(ra)
	}

	resp, err := s.SendCommand(ctx, common.NewReadRequest(h, offset, fetch), 0)
	if err != nil {
		return nil, err
	}
	data := resp.Body
	if len(data) > int(length) {
		data = data[:length]
	}
	return data, nil
}

// Lookup consults the read cache only
func (s *Session) Lookup(begin, end int64) ([]byte, bool) {
	return s.cache.Lookup(begin, end)
}

// Ping checks that the current server answers
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.SendCommand(ctx, common.NewPingRequest(), 0)
	return err
}

// State returns the current state of the session
func (s *Session) State() State {
	return State(s.state.Load())
}

// Endpoint returns the server the session is currently bound to
func (s *Session) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// URL returns the url the session was connected with
func (s *Session) URL() common.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// LoadBalancer returns the recorded load balancer endpoint, if any
func (s *Session) LoadBalancer() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.redirect.loadBalancer, s.redirect.loadBalancer != ""
}

// CacheStats returns a snapshot of the read cache
func (s *Session) CacheStats() readcache.Stats {
	return s.cache.Stats()
}

// Close releases the logical connection and clears the read cache. An open
// file is closed on the server first (best effort).
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if s.file != nil && s.id != 0 {
		if _, err := s.sendLocked(ctx, common.NewCloseRequest(s.file.handle), s.config.Timeout); err != nil {
			Logger.Warningf("closing %s failed: %v", s.file.path, err)
		}
	}
	s.closed = true
	s.file = nil
	s.cache.Clear()

	var err error
	if s.id != 0 {
		err = s.manager.Disconnect(s.id, false)
		if errors.Is(err, common.ErrNotFound) {
			err = nil
		}
		s.id = 0
	}
	s.setState(StateDisconnected)
	return err
}

// --------------------------------------------------------------------------
// Request Loop (s.mu must be held)
// --------------------------------------------------------------------------

// sendLocked is the retry loop of SendCommand
func (s *Session) sendLocked(ctx context.Context, req *common.Request, timeout time.Duration) (*Response, error) {
	requestsTotal.Inc()

	commErrors := 0
	backoff := s.config.RetryBackoff

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, body, err := s.attempt(ctx, req, timeout)
		if err != nil {
			var rd *redirectError
			if errors.As(err, &rd) {
				if err := s.followRedirect(ctx, rd.target, req); err != nil {
					return nil, err
				}
				continue
			}
			if !common.IsCommunicationError(err) {
				return nil, err
			}

			commErrors++
			if commErrors >= s.config.RetryCount {
				return nil, errors.WithMessagef(err, "%s failed after %d attempts", req.Code, commErrors)
			}
			retriesTotal.Inc()
			Logger.Infof("%s on %s failed (attempt %d/%d): %v", req.Code, s.endpoint, commErrors, s.config.RetryCount, err)

			if common.NeedsReconnect(err) {
				s.dropConnection(true)
			}
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			continue
		}

		switch st := status.(type) {
		case wire.StatusOk:
			return s.complete(req, body), nil

		case wire.StatusRedirect:
			if err := s.followRedirect(ctx, st, req); err != nil {
				return nil, err
			}

		case wire.StatusWait:
			if err := s.wait(ctx, time.Duration(st.Seconds)*time.Second, st.Message); err != nil {
				return nil, err
			}

		case wire.StatusError:
			Logger.Debugf("%s refused by %s: %d %s", req, s.endpoint, st.ErrCode, st.Message)
			return nil, st.Err()

		default:
			return nil, errors.Wrapf(common.ErrFraming, "unexpected status %d in reply to %s", status.Code(), req.Code)
		}
	}
}

// attempt makes sure a connection is bound, honours pending server hints and
// exchanges the request once
func (s *Session) attempt(ctx context.Context, req *common.Request, timeout time.Duration) (wire.Status, []byte, error) {
	conn, err := s.ensureConnected(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	if hint, ok := conn.TakeRedirectHint(); ok {
		Logger.Infof("following redirect hint of %s to %s", s.endpoint, hint)
		return nil, nil, &redirectError{target: hint}
	}
	if until := conn.WaitUntil(); until.After(time.Now()) {
		if err := s.wait(ctx, time.Until(until), "server requested wait"); err != nil {
			return nil, nil, err
		}
	}

	return s.exchange(ctx, conn, s.substituteHandle(req), timeout)
}

// exchange writes one request and reads until a terminal status. OkSoFar
// parts are accumulated, any status other than Ok following them ends the
// exchange with a *common.PartialResponseError.
func (s *Session) exchange(ctx context.Context, conn transport.IConnection, req *common.Request, timeout time.Duration) (wire.Status, []byte, error) {
	body, err := s.ser.Serialize(req)
	if err != nil {
		return nil, nil, err
	}
	if err := conn.Send(s.id, req.Code, body); err != nil {
		return nil, nil, err
	}

	var acc []byte
	partial := false
	for {
		msg, err := conn.ReadMessage(ctx, s.id, timeout)
		if err != nil {
			return nil, nil, err
		}

		switch msg.Status.(type) {
		case wire.StatusOkSoFar:
			acc = append(acc, msg.TakeBody()...)
			partial = true
			continue
		case wire.StatusOk:
			if !partial {
				return msg.Status, msg.TakeBody(), nil
			}
			return msg.Status, append(acc, msg.TakeBody()...), nil
		default:
			if partial {
				perr := &common.PartialResponseError{Status: uint16(msg.Status.Code()), Received: len(acc)}
				if st, ok := msg.Status.(wire.StatusError); ok {
					perr.Cause = st.Err()
				}
				return nil, nil, errors.WithMessagef(perr, "%s", req.Code)
			}
			return msg.Status, msg.TakeBody(), nil
		}
	}
}

// complete applies the side effects of a successful reply
func (s *Session) complete(req *common.Request, body []byte) *Response {
	resp := &Response{Body: body, Endpoint: s.endpoint}

	switch req.Code {
	case common.ReqOpen:
		if h, err := serializer.DecodeOpen(body); err == nil {
			if s.file != nil {
				Logger.Warningf("replacing open file %s by %s", s.file.path, req.Path)
			}
			s.file = &openFile{path: req.Path, mode: req.Mode, options: req.Options, handle: h, current: h}
			s.cache.Clear()
		}

	case common.ReqClose:
		if s.file != nil && s.file.handle == req.Handle {
			s.file = nil
			s.cache.Clear()
		}

	case common.ReqRead:
		end := req.Offset + int64(len(body))
		if s.cache.Submit(body, req.Offset, end) {
			// the cache owns body now
			resp.Body = bytes.Clone(body)
		}
	}
	return resp
}

// substituteHandle maps the handle known to the caller to the one valid on the current server
func (s *Session) substituteHandle(req *common.Request) *common.Request {
	if !req.UsesHandle() || s.file == nil || req.Handle != s.file.handle || s.file.current == s.file.handle {
		return req
	}
	return req.WithHandle(s.file.current)
}

// wait sleeps for a server requested time, capped by the configured maximum
func (s *Session) wait(ctx context.Context, d time.Duration, msg string) error {
	if limit := s.config.Redirect.MaxWait; limit > 0 && d > limit {
		d = limit
	}
	waitsTotal.Inc()
	Logger.Infof("%s asks to wait %s: %s", s.endpoint, d, msg)
	return sleepCtx(ctx, d)
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// sleepCtx sleeps for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionID returns the id the server assigned at the last login of this session
func (s *Session) SessionID() [16]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}
