package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate = validator.New()

// --------------------------------------------------------------------------
// Client configuration structs
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings applied by the connectors
type SocketConf struct {
	WriteBufferSize int `mapstructure:"transport-write-buffer" validate:"gte=0"`
	ReadBufferSize  int `mapstructure:"transport-read-buffer" validate:"gte=0"`
}

// TCPConf holds TCP specific settings applied by the tcp connector
type TCPConf struct {
	TCPNoDelay      bool `mapstructure:"transport-tcp-nodelay"`
	TCPKeepAliveSec int  `mapstructure:"transport-tcp-keepalive" validate:"gte=0"`
	TCPLingerSec    int  `mapstructure:"transport-tcp-linger"`
}

// ClientTransportConfig controls the physical connections
type ClientTransportConfig struct {
	SocketConf `mapstructure:",squash"`
	TCPConf    `mapstructure:",squash"`

	// ConnectTimeout bounds dialing plus the initial handshake
	ConnectTimeout time.Duration `mapstructure:"connect-timeout" validate:"gt=0"`
	// QueueDepth is the capacity of every per-stream reply queue
	QueueDepth int `mapstructure:"queue-depth" validate:"gt=0"`
	// DataServerTTL is the idle time after which a data server connection is reclaimed
	DataServerTTL time.Duration `mapstructure:"data-server-ttl" validate:"gte=0"`
	// LoadBalancerTTL is the idle time after which a load balancer connection is reclaimed
	LoadBalancerTTL time.Duration `mapstructure:"load-balancer-ttl" validate:"gte=0"`
	// GCInterval is the period of the idle connection sweep (0 disables the sweep)
	GCInterval time.Duration `mapstructure:"gc-interval" validate:"gte=0"`
}

// RedirectConfig controls the redirection and wait handling of a session
type RedirectConfig struct {
	// MaxRedirects is the number of redirections tolerated within one Window
	MaxRedirects int `mapstructure:"max-redirects" validate:"gt=0"`
	// Window is the time after which the redirection counter starts over
	Window time.Duration `mapstructure:"redirect-window" validate:"gt=0"`
	// MaxWait caps the server requested wait time (0 = no cap)
	MaxWait time.Duration `mapstructure:"max-wait" validate:"gte=0"`
	// AllowDomains lists domain patterns a redirection may point to
	AllowDomains []string `mapstructure:"allow-domains"`
	// DenyDomains lists domain patterns a redirection must never point to
	DenyDomains []string `mapstructure:"deny-domains"`
}

// CacheConfig controls the read cache of a session
type CacheConfig struct {
	// CapacityBytes is the size of the read cache (0 disables caching)
	CapacityBytes int64 `mapstructure:"cache-size" validate:"gte=0"`
	// ReadAheadBytes is the minimum number of bytes requested on a cache miss
	ReadAheadBytes int64 `mapstructure:"read-ahead" validate:"gte=0"`
}

// ClientConfig is the configuration value object handed to the transport,
// the connection manager and the sessions at construction time.
type ClientConfig struct {
	// Timeout bounds the wait for a single reply
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
	// RetryCount bounds the communication errors tolerated per request
	RetryCount int `mapstructure:"transport-retries" validate:"gte=1"`
	// RetryBackoff is the initial backoff between two attempts (doubled on every retry)
	RetryBackoff time.Duration `mapstructure:"retry-backoff" validate:"gte=0"`

	// User is the name sent during login
	User string `mapstructure:"user" validate:"max=8"`
	// AuthMechanisms restricts (and orders) the mechanisms the client is willing to use
	AuthMechanisms []string `mapstructure:"auth"`

	Transport ClientTransportConfig `mapstructure:",squash"`
	Redirect  RedirectConfig        `mapstructure:",squash"`
	Cache     CacheConfig           `mapstructure:",squash"`
}

// DefaultClientConfig returns a configuration usable without further tuning
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:      30 * time.Second,
		RetryCount:   3,
		RetryBackoff: 50 * time.Millisecond,
		User:         "nobody",
		Transport: ClientTransportConfig{
			TCPConf:         TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
			ConnectTimeout:  10 * time.Second,
			QueueDepth:      64,
			DataServerTTL:   5 * time.Minute,
			LoadBalancerTTL: 20 * time.Minute,
			GCInterval:      30 * time.Second,
		},
		Redirect: RedirectConfig{
			MaxRedirects: 16,
			Window:       time.Minute,
			MaxWait:      5 * time.Minute,
			AllowDomains: []string{"*"},
		},
		Cache: CacheConfig{
			CapacityBytes:  8 * 1024 * 1024,
			ReadAheadBytes: 512 * 1024,
		},
	}
}

// Validate checks the struct tags and the rules that cannot be expressed in tags
func (c *ClientConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		if validationErrs, ok := err.(validator.ValidationErrors); ok && len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
		}
		return err
	}

	if c.Cache.ReadAheadBytes > c.Cache.CapacityBytes && c.Cache.CapacityBytes > 0 {
		return fmt.Errorf("read-ahead (%d) must not exceed cache-size (%d)", c.Cache.ReadAheadBytes, c.Cache.CapacityBytes)
	}
	for _, pattern := range append(append([]string{}, c.Redirect.AllowDomains...), c.Redirect.DenyDomains...) {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("empty domain pattern")
		}
	}
	return nil
}

// TTLFor returns the idle time-to-live of a connection to a server with the given role
func (c *ClientConfig) TTLFor(role ServerRole) time.Duration {
	if role == RoleLoadBalancer {
		return c.Transport.LoadBalancerTTL
	}
	return c.Transport.DataServerTTL
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("User", c.User)
	addField("Timeout", c.Timeout.String())
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Retry Backoff", c.RetryBackoff.String())
	addField("Auth Mechanisms", strings.Join(c.AuthMechanisms, ","))

	addSection("Transport")
	addField("Connect Timeout", c.Transport.ConnectTimeout.String())
	addField("Queue Depth", strconv.Itoa(c.Transport.QueueDepth))
	addField("Data Server TTL", c.Transport.DataServerTTL.String())
	addField("Load Balancer TTL", c.Transport.LoadBalancerTTL.String())
	addField("GC Interval", c.Transport.GCInterval.String())

	addSection("Redirection")
	addField("Max Redirects", strconv.Itoa(c.Redirect.MaxRedirects))
	addField("Window", c.Redirect.Window.String())
	addField("Max Wait", c.Redirect.MaxWait.String())
	addField("Allowed Domains", strings.Join(c.Redirect.AllowDomains, ","))
	addField("Denied Domains", strings.Join(c.Redirect.DenyDomains, ","))

	addSection("Read Cache")
	addField("Capacity", fmt.Sprintf("%d bytes", c.Cache.CapacityBytes))
	addField("Read Ahead", fmt.Sprintf("%d bytes", c.Cache.ReadAheadBytes))

	return sb.String()
}
