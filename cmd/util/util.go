package util

import (
	"fmt"
	"io"
	"strings"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/ValentinKolb/xrdc/rpc/session"
	"github.com/ValentinKolb/xrdc/rpc/transport"
	"github.com/ValentinKolb/xrdc/rpc/transport/tcp"
	"github.com/ValentinKolb/xrdc/rpc/transport/unix"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the client configuration flags to a command. The
// defaults are taken from common.DefaultClientConfig.
func SetupClientFlags(cmd *cobra.Command) {
	d := common.DefaultClientConfig()
	f := cmd.PersistentFlags()

	key := "timeout"
	f.Duration(key, d.Timeout, WrapString("How long to wait for a single reply"))
	key = "transport-retries"
	f.Int(key, d.RetryCount, WrapString("How many communication errors a request tolerates"))
	key = "retry-backoff"
	f.Duration(key, d.RetryBackoff, WrapString("Initial backoff between two attempts, doubled on every retry"))
	key = "user"
	f.String(key, d.User, WrapString("User name sent during login (at most 8 characters)"))
	key = "auth"
	f.StringSlice(key, nil, WrapString("Authentication mechanisms the client may use, in addition to the server preference (comma separated, empty = all)"))

	key = "connect-timeout"
	f.Duration(key, d.Transport.ConnectTimeout, WrapString("Timeout for dialing and the initial handshake"))
	key = "queue-depth"
	f.Int(key, d.Transport.QueueDepth, WrapString("Capacity of every per-stream reply queue"))
	key = "data-server-ttl"
	f.Duration(key, d.Transport.DataServerTTL, WrapString("Idle time after which a data server connection is closed (0 = close when unused)"))
	key = "load-balancer-ttl"
	f.Duration(key, d.Transport.LoadBalancerTTL, WrapString("Idle time after which a load balancer connection is closed (0 = close when unused)"))
	key = "gc-interval"
	f.Duration(key, d.Transport.GCInterval, WrapString("Period of the idle connection sweep (0 = disabled)"))
	key = "transport-write-buffer"
	f.Int(key, 512, WrapString("The size of the socket write buffer (in KB, 0 = system default)"))
	key = "transport-read-buffer"
	f.Int(key, 512, WrapString("The size of the socket read buffer (in KB, 0 = system default)"))
	key = "transport-tcp-nodelay"
	f.Bool(key, d.Transport.TCPNoDelay, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))
	key = "transport-tcp-keepalive"
	f.Int(key, d.Transport.TCPKeepAliveSec, WrapString("The keepalive interval (in seconds, only for tcp)"))
	key = "transport-tcp-linger"
	f.Int(key, d.Transport.TCPLingerSec, WrapString("The linger time (in seconds, -1 = system default, only for tcp)"))

	key = "max-redirects"
	f.Int(key, d.Redirect.MaxRedirects, WrapString("How many redirections are tolerated within the redirect window"))
	key = "redirect-window"
	f.Duration(key, d.Redirect.Window, WrapString("Time after which the redirection counter starts over"))
	key = "max-wait"
	f.Duration(key, d.Redirect.MaxWait, WrapString("Upper bound for server requested waits (0 = no bound)"))
	key = "allow-domains"
	f.StringSlice(key, d.Redirect.AllowDomains, WrapString("Domains a redirection may point to (comma separated, * = all)"))
	key = "deny-domains"
	f.StringSlice(key, nil, WrapString("Domains a redirection must never point to (comma separated)"))

	key = "cache-size"
	f.Int64(key, d.Cache.CapacityBytes, WrapString("Size of the read cache of every open file in bytes (0 = disabled)"))
	key = "read-ahead"
	f.Int64(key, d.Cache.ReadAheadBytes, WrapString("Minimum number of bytes requested on a cache miss"))

	key = "transport"
	f.String(key, "tcp", WrapString("transport to use (tcp, unix)"))
	key = "socket-dir"
	f.String(key, "/tmp/xrdc", WrapString("Directory holding the sockets of the unix transport, one per host:port"))
}

// InitClientConfig initializes configuration from environment variables and .env files
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("xrdc")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Printf("failed to read config file %s: %v\n", path, err)
		}
	}
}

// GetClientConfig decodes the client configuration from viper and validates it
func GetClientConfig() (*common.ClientConfig, error) {
	conf := common.DefaultClientConfig()
	err := viper.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %v", err)
	}

	// buffer sizes are given in KB
	conf.Transport.WriteBufferSize *= 1024
	conf.Transport.ReadBufferSize *= 1024

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// GetConnectionManager creates the connection manager of the configured transport
func GetConnectionManager(config common.ClientConfig) (transport.IConnectionManager, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPConnectionManager(config, session.Handshake), nil
	case "unix":
		return unix.NewUnixConnectionManager(viper.GetString("socket-dir"), config, session.Handshake), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// WriteMetrics writes all counters in Prometheus text format
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
