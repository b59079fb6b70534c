package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ValentinKolb/xrdc/rpc/serializer"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("xrdc/auth")

// --------------------------------------------------------------------------
// Interface Definitions
// --------------------------------------------------------------------------

// IProvider generates the credentials of one authentication mechanism
type IProvider interface {
	// Name returns the mechanism identifier (at most 4 bytes on the wire)
	Name() string

	// Credentials returns the initial credential blob for the parameters the
	// server sent with the mechanism in its login reply
	Credentials(ctx context.Context, params string) ([]byte, error)

	// Continue answers an "auth more" round with the next credential blob
	Continue(ctx context.Context, challenge []byte) ([]byte, error)
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry holds the providers a client is able to use
type Registry struct {
	mu        sync.RWMutex
	providers map[string]IProvider
}

// NewRegistry creates a registry with the given providers
func NewRegistry(providers ...IProvider) *Registry {
	r := &Registry{providers: make(map[string]IProvider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// DefaultRegistry creates a registry with the built-in mechanisms
func DefaultRegistry() *Registry {
	return NewRegistry(NewUnixProvider(), NewHostProvider())
}

// Register adds a provider, an existing provider of the same name is replaced
func (r *Registry) Register(p IProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider of a mechanism
func (r *Registry) Get(name string) (IProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the sorted names of all registered mechanisms
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Candidate is an offered mechanism the client has a provider for
type Candidate struct {
	Mechanism serializer.Mechanism
	Provider  IProvider
}

// Select returns the offered mechanisms in server preference order that have a
// provider and are allowed. An empty allowed list allows every mechanism.
func (r *Registry) Select(offered []serializer.Mechanism, allowed []string) []Candidate {
	allow := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allow[a] = true
	}

	var candidates []Candidate
	for _, m := range offered {
		if len(allow) > 0 && !allow[m.Name] {
			Logger.Debugf("skipping mechanism %s: not allowed by configuration", m.Name)
			continue
		}
		p, ok := r.Get(m.Name)
		if !ok {
			Logger.Debugf("skipping mechanism %s: no provider", m.Name)
			continue
		}
		candidates = append(candidates, Candidate{Mechanism: m, Provider: p})
	}
	return candidates
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// errNoMoreRounds is returned by single round mechanisms asked to continue
func errNoMoreRounds(mechanism string) error {
	return fmt.Errorf("mechanism %s does not support additional rounds", mechanism)
}
