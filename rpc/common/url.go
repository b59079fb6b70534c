package common

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort is used when an URL or endpoint does not name a port
const DefaultPort = 1094

// URL is a parsed root://host[:port]//path location
type URL struct {
	Host string
	Port int
	Path string
}

// Endpoint returns the host:port pair of the URL
func (u URL) Endpoint() string {
	return JoinEndpoint(u.Host, u.Port)
}

func (u URL) String() string {
	return fmt.Sprintf("root://%s/%s", u.Endpoint(), u.Path)
}

// ParseURL parses root://host[:port]//path, xroot:// is accepted as well.
// A bare host[:port] without path is accepted too.
func ParseURL(raw string) (URL, error) {
	rest := raw
	for _, scheme := range []string{"root://", "xroot://"} {
		if strings.HasPrefix(rest, scheme) {
			rest = strings.TrimPrefix(rest, scheme)
			break
		}
	}
	if strings.Contains(rest, "://") {
		return URL{}, fmt.Errorf("unsupported url scheme in %q", raw)
	}

	hostPart, path, _ := strings.Cut(rest, "/")
	if hostPart == "" {
		return URL{}, fmt.Errorf("missing host in url %q", raw)
	}

	host, port, err := SplitEndpoint(hostPart)
	if err != nil {
		return URL{}, fmt.Errorf("invalid url %q: %v", raw, err)
	}

	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return URL{Host: host, Port: port, Path: path}, nil
}

// SplitEndpoint splits host[:port] and applies DefaultPort
func SplitEndpoint(endpoint string) (string, int, error) {
	if !strings.Contains(endpoint, ":") || (strings.HasPrefix(endpoint, "[") && strings.HasSuffix(endpoint, "]")) {
		return strings.Trim(endpoint, "[]"), DefaultPort, nil
	}
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

// JoinEndpoint builds the host:port key used by the connection manager
func JoinEndpoint(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
