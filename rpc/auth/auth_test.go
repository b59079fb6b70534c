package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/xrdc/rpc/serializer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticProvider is a provider with a fixed credential
type staticProvider struct {
	name  string
	creds string
}

func (p staticProvider) Name() string { return p.name }

func (p staticProvider) Credentials(context.Context, string) ([]byte, error) {
	return []byte(p.creds), nil
}

func (p staticProvider) Continue(context.Context, []byte) ([]byte, error) {
	return nil, errNoMoreRounds(p.name)
}

func offered(names ...string) []serializer.Mechanism {
	out := make([]serializer.Mechanism, 0, len(names))
	for _, n := range names {
		out = append(out, serializer.Mechanism{Name: n})
	}
	return out
}

func candidateNames(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Mechanism.Name)
	}
	return out
}

func TestRegistryNames(t *testing.T) {
	r := NewRegistry(staticProvider{name: "krb5"}, staticProvider{name: "gsi"})
	assert.Equal(t, []string{"gsi", "krb5"}, r.Names())

	// registering the same name replaces the provider
	r.Register(staticProvider{name: "gsi", creds: "new"})
	assert.Len(t, r.Names(), 2)
	p, ok := r.Get("gsi")
	require.True(t, ok)
	creds, err := p.Credentials(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "new", string(creds))

	_, ok = r.Get("pwd")
	assert.False(t, ok)
}

func TestDefaultRegistry(t *testing.T) {
	assert.Equal(t, []string{"host", "unix"}, DefaultRegistry().Names())
}

func TestSelect(t *testing.T) {
	r := NewRegistry(staticProvider{name: "unix"}, staticProvider{name: "host"}, staticProvider{name: "sss"})

	tests := []struct {
		name    string
		offered []string
		allowed []string
		want    []string
	}{
		{"server order is kept", []string{"sss", "krb5", "unix", "host"}, nil, []string{"sss", "unix", "host"}},
		{"allowed filters", []string{"sss", "unix", "host"}, []string{"host", "unix"}, []string{"unix", "host"}},
		{"nothing usable", []string{"krb5", "gsi"}, nil, []string{}},
		{"allowed without provider", []string{"unix"}, []string{"krb5"}, []string{}},
		{"nothing offered", nil, nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Select(offered(tt.offered...), tt.allowed)
			assert.Equal(t, tt.want, candidateNames(got))
			for _, c := range got {
				assert.Equal(t, c.Mechanism.Name, c.Provider.Name())
			}
		})
	}
}

func TestUnixCredentialsEncoding(t *testing.T) {
	in := UnixCredentials{
		Stamp:       1700000000,
		MachineName: "worker07.example.org",
		UID:         1000,
		GID:         100,
		GIDs:        []uint32{100, 27, 4},
		UserName:    "alice",
		GroupName:   "users",
	}

	b, err := EncodeUnixCredentials(in)
	require.NoError(t, err)
	// XDR output is always a multiple of 4 bytes
	assert.Zero(t, len(b)%4)

	out, err := DecodeUnixCredentials(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeUnixCredentials(b[:7])
	assert.Error(t, err)
}

func TestUnixProvider(t *testing.T) {
	p := &unixProvider{lookup: func() (UnixCredentials, error) {
		return UnixCredentials{MachineName: "node1", UID: 42, GID: 42, GIDs: []uint32{42}, UserName: "bob"}, nil
	}}
	assert.Equal(t, "unix", p.Name())

	b, err := p.Credentials(context.Background(), "")
	require.NoError(t, err)
	creds, err := DecodeUnixCredentials(b)
	require.NoError(t, err)
	assert.Equal(t, "node1", creds.MachineName)
	assert.Equal(t, uint32(42), creds.UID)
	assert.Equal(t, "bob", creds.UserName)

	_, err = p.Continue(context.Background(), []byte("challenge"))
	assert.Error(t, err)

	failing := &unixProvider{lookup: func() (UnixCredentials, error) {
		return UnixCredentials{}, errors.New("no identity")
	}}
	_, err = failing.Credentials(context.Background(), "")
	assert.Error(t, err)
}

func TestLocalUnixCredentials(t *testing.T) {
	b, err := NewUnixProvider().Credentials(context.Background(), "")
	require.NoError(t, err)
	creds, err := DecodeUnixCredentials(b)
	require.NoError(t, err)
	assert.NotEmpty(t, creds.MachineName)
}

func TestHostProvider(t *testing.T) {
	p := &hostProvider{hostname: func() (string, error) { return "client.example.org", nil }}
	assert.Equal(t, "host", p.Name())

	b, err := p.Credentials(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "client.example.org", string(b))

	_, err = p.Continue(context.Background(), nil)
	assert.Error(t, err)
}
