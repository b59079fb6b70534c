package auth

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"time"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// UnixCredentials is the credential blob of the unix mechanism, XDR encoded
// like the AUTH_UNIX flavour of ONC RPC
type UnixCredentials struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
	UserName    string
	GroupName   string
}

// unixProvider implements IProvider with the identity of the local process
type unixProvider struct {
	lookup func() (UnixCredentials, error)
}

// NewUnixProvider creates the provider for the "unix" mechanism
func NewUnixProvider() IProvider {
	return &unixProvider{lookup: localUnixCredentials}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see auth.IProvider)
// --------------------------------------------------------------------------

func (p *unixProvider) Name() string { return "unix" }

func (p *unixProvider) Credentials(_ context.Context, _ string) ([]byte, error) {
	creds, err := p.lookup()
	if err != nil {
		return nil, err
	}
	return EncodeUnixCredentials(creds)
}

func (p *unixProvider) Continue(context.Context, []byte) ([]byte, error) {
	return nil, errNoMoreRounds(p.Name())
}

// --------------------------------------------------------------------------
// Encoding
// --------------------------------------------------------------------------

// EncodeUnixCredentials XDR encodes the credentials
func EncodeUnixCredentials(c UnixCredentials) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &c); err != nil {
		return nil, fmt.Errorf("failed to encode unix credentials: %v", err)
	}
	return buf.Bytes(), nil
}

// DecodeUnixCredentials is the inverse of EncodeUnixCredentials
func DecodeUnixCredentials(b []byte) (UnixCredentials, error) {
	var c UnixCredentials
	if _, err := xdr.Unmarshal(bytes.NewReader(b), &c); err != nil {
		return UnixCredentials{}, fmt.Errorf("failed to decode unix credentials: %v", err)
	}
	return c, nil
}

// localUnixCredentials collects the identity of the current process
func localUnixCredentials() (UnixCredentials, error) {
	host, err := os.Hostname()
	if err != nil {
		return UnixCredentials{}, err
	}
	creds := UnixCredentials{
		Stamp:       uint32(time.Now().Unix()),
		MachineName: host,
		UID:         uint32(os.Getuid()),
		GID:         uint32(os.Getgid()),
	}

	if groups, err := os.Getgroups(); err == nil {
		for _, g := range groups {
			creds.GIDs = append(creds.GIDs, uint32(g))
		}
	}
	if u, err := user.Current(); err == nil {
		creds.UserName = u.Username
	}
	if g, err := user.LookupGroupId(strconv.Itoa(os.Getgid())); err == nil {
		creds.GroupName = g.Name
	}
	return creds, nil
}
