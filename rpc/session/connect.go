package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/serializer"
	"github.com/ValentinKolb/xrdc/rpc/transport"
	"github.com/ValentinKolb/xrdc/rpc/wire"
	"github.com/pkg/errors"
)

// redirectState counts redirections within a time window
type redirectState struct {
	count        int
	windowStart  time.Time
	loadBalancer string // endpoint to fall back to, empty if unknown
}

// register counts one redirection and returns the count the limit is checked
// against. Once the window elapsed the count starts over at 1.
func (r *redirectState) register(now time.Time, window time.Duration) int {
	if now.Sub(r.windowStart) > window {
		r.count = 0
		r.windowStart = now
	}
	r.count++
	return r.count
}

// redirectError carries a redirection received while (re)establishing a
// connection, it is resolved by followRedirect
type redirectError struct {
	target wire.StatusRedirect
}

func (e *redirectError) Error() string {
	return fmt.Sprintf("redirected to %s", e.target)
}

// --------------------------------------------------------------------------
// Redirection (s.mu must be held)
// --------------------------------------------------------------------------

// followRedirect handles a redirection and every redirection the reconnect
// itself runs into
func (s *Session) followRedirect(ctx context.Context, target wire.StatusRedirect, inflight *common.Request) error {
	for {
		err := s.handleRedirect(ctx, target, inflight)
		var rd *redirectError
		if errors.As(err, &rd) {
			target = rd.target
			continue
		}
		return err
	}
}

// handleRedirect moves the session to target: the redirection is counted and
// checked against the domain rules, the current logical connection released
// and a new one established. If the target cannot be reached the session falls
// back to the load balancer.
func (s *Session) handleRedirect(ctx context.Context, target wire.StatusRedirect, inflight *common.Request) error {
	s.setState(StateRedirecting)
	redirectsTotal.Inc()

	window, limit := s.config.Redirect.Window, s.config.Redirect.MaxRedirects
	if n := s.redirect.register(time.Now(), window); n > limit {
		s.setState(StateFailed)
		return errors.Wrapf(common.ErrRedirectLoop, "%d redirections within %s (limit %d)", n, window, limit)
	}
	if err := s.acl.Check(ctx, target.Host); err != nil {
		s.setState(StateFailed)
		return err
	}

	if s.redirect.loadBalancer == "" && s.endpoint != "" {
		s.redirect.loadBalancer = s.endpoint
	}

	endpoint := common.JoinEndpoint(target.Host, target.Port)
	Logger.Infof("redirected from %s to %s (%d/%d in window)", s.endpoint, endpoint, s.redirect.count, limit)

	s.token = target.Token
	s.dropConnection(false)
	s.setState(StateReconnecting)

	err := s.connectTo(ctx, endpoint, inflight)
	if err == nil {
		return nil
	}

	var rd *redirectError
	if errors.As(err, &rd) {
		return err
	}

	lb := s.redirect.loadBalancer
	if lb != "" && lb != endpoint && common.IsCommunicationError(err) {
		Logger.Warningf("connecting to %s failed (%v), falling back to load balancer %s", endpoint, err, lb)
		s.token = ""
		if err = s.connectTo(ctx, lb, inflight); err == nil || errors.As(err, &rd) {
			return err
		}
	}

	s.setState(StateFailed)
	return err
}

// --------------------------------------------------------------------------
// Connection (s.mu must be held)
// --------------------------------------------------------------------------

// ensureConnected returns the bound connection, reconnecting if the logical
// connection went stale
func (s *Session) ensureConnected(ctx context.Context, inflight *common.Request) (transport.IConnection, error) {
	if s.id != 0 {
		conn, err := s.manager.GetConnection(s.id)
		if err == nil {
			return conn, nil
		}
		// the physical connection is gone, and with it the logical id
		s.id = 0
	}
	if s.endpoint == "" {
		return nil, errors.New("session is not connected")
	}

	s.setState(StateReconnecting)
	err := s.connectTo(ctx, s.endpoint, inflight)
	if lb := s.redirect.loadBalancer; err != nil && lb != "" && lb != s.endpoint && common.IsCommunicationError(err) {
		Logger.Warningf("reconnecting to %s failed (%v), falling back to load balancer %s", s.endpoint, err, lb)
		err = s.connectTo(ctx, lb, inflight)
	}
	if err != nil {
		return nil, err
	}
	return s.manager.GetConnection(s.id)
}

// connectTo binds the session to endpoint. Unless the in-flight request is a
// login (or an open) itself, login, authentication and the reopen of the open
// file run before it is resent.
func (s *Session) connectTo(ctx context.Context, endpoint string, inflight *common.Request) error {
	id, err := s.manager.Connect(ctx, endpoint)
	if err != nil {
		return err
	}
	s.id, s.endpoint = id, endpoint
	s.setState(StateConnected)

	conn, err := s.manager.GetConnection(id)
	if err != nil {
		s.id = 0
		return err
	}
	// the manager ran the handshake before handing out the id
	s.setState(StateHandshakeDone)
	if conn.Role() == common.RoleLoadBalancer && s.redirect.loadBalancer == "" {
		s.redirect.loadBalancer = endpoint
	}

	if err := s.establish(ctx, conn, inflight); err != nil {
		s.dropConnection(common.NeedsReconnect(err))
		return err
	}
	s.setState(StateReady)
	return nil
}

func (s *Session) establish(ctx context.Context, conn transport.IConnection, inflight *common.Request) error {
	code := common.RequestCode(0)
	if inflight != nil {
		code = inflight.Code
	}
	if code != common.ReqLogin {
		if err := s.login(ctx, conn); err != nil {
			return err
		}
	}
	if s.file != nil && code != common.ReqLogin && code != common.ReqOpen {
		if err := s.reopen(ctx, conn); err != nil {
			return err
		}
	}
	return nil
}

// dropConnection releases the logical connection, force also closes the physical one
func (s *Session) dropConnection(force bool) {
	if s.id == 0 {
		return
	}
	if err := s.manager.Disconnect(s.id, force); err != nil && !errors.Is(err, common.ErrNotFound) {
		Logger.Warningf("releasing logical id %d failed: %v", s.id, err)
	}
	s.id = 0
}

// --------------------------------------------------------------------------
// Login and Authentication (s.mu must be held)
// --------------------------------------------------------------------------

// login logs in on the physical connection unless that already happened. A
// pending redirection token forces a new login carrying the token.
func (s *Session) login(ctx context.Context, conn transport.IConnection) error {
	return conn.EnsureLogin(s.token != "", func() error {
		req := common.NewLoginRequest(uint32(os.Getpid()), s.config.User, s.token)
		body, err := s.simpleRequest(ctx, conn, req)
		if err != nil {
			return err
		}
		reply, err := serializer.DecodeLogin(body)
		if err != nil {
			return errors.Wrap(common.ErrFraming, err.Error())
		}

		s.sessionID = reply.SessionID
		s.token = ""
		s.setState(StateLoggedIn)
		Logger.Debugf("logged in on %s as %s", conn.Endpoint(), s.config.User)

		if len(reply.Mechanisms) == 0 {
			return nil
		}
		if err := s.negotiateAuth(ctx, conn, reply.Mechanisms); err != nil {
			return err
		}
		s.setState(StateAuthenticated)
		return nil
	})
}

// negotiateAuth tries the offered mechanisms in server preference order until
// one succeeds. The failure of the last mechanism tried is returned if none does.
func (s *Session) negotiateAuth(ctx context.Context, conn transport.IConnection, offered []serializer.Mechanism) error {
	candidates := s.registry.Select(offered, s.config.AuthMechanisms)
	if len(candidates) == 0 {
		return &common.AuthError{Reason: fmt.Sprintf("no supported mechanism among %d offered", len(offered))}
	}

	var last *common.AuthError
	for _, c := range candidates {
		name := c.Mechanism.Name
		creds, err := c.Provider.Credentials(ctx, c.Mechanism.Params)
		if err != nil {
			last = &common.AuthError{Mechanism: name, Reason: err.Error()}
			continue
		}

		for done := false; !done; {
			status, body, err := s.exchange(ctx, conn, common.NewAuthRequest(name, creds), s.config.Timeout)
			if err != nil {
				return err
			}

			switch st := status.(type) {
			case wire.StatusOk:
				Logger.Debugf("authenticated on %s using %s", conn.Endpoint(), name)
				return nil
			case wire.StatusAuthMore:
				if creds, err = c.Provider.Continue(ctx, st.Params); err != nil {
					last = &common.AuthError{Mechanism: name, Reason: err.Error()}
					done = true
				}
			case wire.StatusError:
				last = &common.AuthError{Mechanism: name, Reason: st.Message}
				done = true
			case wire.StatusWait:
				if err := s.wait(ctx, time.Duration(st.Seconds)*time.Second, st.Message); err != nil {
					return err
				}
			default:
				return errors.Wrapf(common.ErrFraming, "unexpected status %d (%d bytes) during authentication", status.Code(), len(body))
			}
		}
		Logger.Infof("mechanism %s rejected by %s: %s", name, conn.Endpoint(), last.Reason)
	}
	return last
}

// reopen reissues the open of the session's file on a new connection
func (s *Session) reopen(ctx context.Context, conn transport.IConnection) error {
	req := common.NewOpenRequest(s.file.path, s.file.mode, s.file.options)
	body, err := s.simpleRequest(ctx, conn, req)
	if err != nil {
		return err
	}
	h, err := serializer.DecodeOpen(body)
	if err != nil {
		return errors.Wrap(common.ErrFraming, err.Error())
	}
	Logger.Debugf("reopened %s on %s (handle %s)", s.file.path, conn.Endpoint(), h)
	s.file.current = h
	return nil
}

// simpleRequest exchanges a request used while establishing a connection.
// Waits are honoured, a redirection is returned as *redirectError.
func (s *Session) simpleRequest(ctx context.Context, conn transport.IConnection, req *common.Request) ([]byte, error) {
	for {
		status, body, err := s.exchange(ctx, conn, req, s.config.Timeout)
		if err != nil {
			return nil, err
		}
		switch st := status.(type) {
		case wire.StatusOk:
			return body, nil
		case wire.StatusRedirect:
			return nil, &redirectError{target: st}
		case wire.StatusWait:
			if err := s.wait(ctx, time.Duration(st.Seconds)*time.Second, st.Message); err != nil {
				return nil, err
			}
		case wire.StatusError:
			return nil, st.Err()
		default:
			return nil, errors.Wrapf(common.ErrFraming, "unexpected status %d in reply to %s", status.Code(), req.Code)
		}
	}
}
