package auth

import (
	"context"
	"os"
)

// hostProvider implements the "host" mechanism, the server trusts the client
// host name (and checks it against the connection's peer address)
type hostProvider struct {
	hostname func() (string, error)
}

// NewHostProvider creates the provider for the "host" mechanism
func NewHostProvider() IProvider {
	return &hostProvider{hostname: os.Hostname}
}

func (p *hostProvider) Name() string { return "host" }

func (p *hostProvider) Credentials(context.Context, string) ([]byte, error) {
	h, err := p.hostname()
	if err != nil {
		return nil, err
	}
	return []byte(h), nil
}

func (p *hostProvider) Continue(context.Context, []byte) ([]byte, error) {
	return nil, errNoMoreRounds(p.Name())
}
