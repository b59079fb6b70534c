package client

import (
	"context"
	"time"

	"github.com/ValentinKolb/xrdc/rpc/auth"
	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/serializer"
	"github.com/ValentinKolb/xrdc/rpc/session"
	"github.com/ValentinKolb/xrdc/rpc/transport"
	"github.com/pkg/errors"
)

// Client gives access to remote files. Every operation runs on its own session
// (and logical connection), physical connections are shared through the
// connection manager.
type Client struct {
	config   common.ClientConfig
	manager  transport.IConnectionManager
	registry *auth.Registry
}

// NewClient creates a client on top of a connection manager. The manager is not
// owned by the client and must be closed by the caller. A nil registry uses the
// built-in authentication mechanisms.
func NewClient(manager transport.IConnectionManager, config common.ClientConfig, registry *auth.Registry) *Client {
	return &Client{config: config, manager: manager, registry: registry}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Stat returns the metadata of the file or directory named by url
func (c *Client) Stat(ctx context.Context, url string) (serializer.StatInfo, error) {
	s, u, err := c.connect(ctx, url)
	if err != nil {
		return serializer.StatInfo{}, err
	}
	defer c.release(s)

	resp, err := invokeRequest(ctx, s, common.NewStatRequest(u.Path))
	if err != nil {
		return serializer.StatInfo{}, err
	}
	return serializer.DecodeStat(resp.Body)
}

// Dirlist returns the entries of the directory named by url
func (c *Client) Dirlist(ctx context.Context, url string) ([]string, error) {
	s, u, err := c.connect(ctx, url)
	if err != nil {
		return nil, err
	}
	defer c.release(s)

	resp, err := invokeRequest(ctx, s, common.NewDirlistRequest(u.Path))
	if err != nil {
		return nil, err
	}
	return serializer.DecodeDirlist(resp.Body), nil
}

// Ping measures the round trip time of a ping to the server named by url
func (c *Client) Ping(ctx context.Context, url string) (time.Duration, error) {
	s, _, err := c.connect(ctx, url)
	if err != nil {
		return 0, err
	}
	defer c.release(s)

	start := time.Now()
	if err := s.Ping(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// Open opens the file named by url for reading
func (c *Client) Open(ctx context.Context, url string) (*File, error) {
	s, u, err := c.connect(ctx, url)
	if err != nil {
		return nil, err
	}

	info, err := statPath(ctx, s, u.Path)
	if err != nil {
		c.release(s)
		return nil, err
	}
	if info.IsDir() {
		c.release(s)
		return nil, errors.Errorf("%s is a directory", u)
	}

	resp, err := invokeRequest(ctx, s, common.NewOpenRequest(u.Path, 0, common.OpenRead))
	if err != nil {
		c.release(s)
		return nil, err
	}
	h, err := serializer.DecodeOpen(resp.Body)
	if err != nil {
		c.release(s)
		return nil, err
	}

	Logger.Debugf("opened %s (handle %s, %d bytes)", u, h, info.Size)
	return &File{url: u, session: s, handle: h, size: info.Size}, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connect creates a session bound to the server named by url
func (c *Client) connect(ctx context.Context, url string) (*session.Session, common.URL, error) {
	u, err := common.ParseURL(url)
	if err != nil {
		return nil, common.URL{}, err
	}
	if u.Path == "" {
		return nil, common.URL{}, errors.Errorf("url %q names no path", url)
	}

	s := session.NewSession(c.manager, c.config, c.registry)
	if err := s.Connect(ctx, url); err != nil {
		_ = s.Close(ctx)
		return nil, common.URL{}, err
	}
	return s, u, nil
}

func (c *Client) release(s *session.Session) {
	if err := s.Close(context.Background()); err != nil {
		Logger.Warningf("closing session to %s failed: %v", s.URL().Endpoint(), err)
	}
}

func statPath(ctx context.Context, s *session.Session, path string) (serializer.StatInfo, error) {
	resp, err := invokeRequest(ctx, s, common.NewStatRequest(path))
	if err != nil {
		return serializer.StatInfo{}, err
	}
	return serializer.DecodeStat(resp.Body)
}
