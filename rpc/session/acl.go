package session

import (
	"context"
	"net"
	"path"
	"strings"

	"github.com/ValentinKolb/xrdc/rpc/common"
	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

// DomainACL decides whether a redirection may point to a host.
//
// Patterns are either "*", a domain ("cern.ch" or ".cern.ch", matching the
// domain and all sub domains) or a shell glob over the canonical host name
// ("data-??.example.org"). Hosts given as IP address are checked under their
// reverse DNS names and under the literal address.
//
// A host matching a deny pattern is rejected, a host matching an allow pattern
// is accepted, anything else is rejected. An ACL without patterns accepts all.
type DomainACL struct {
	allow    []string
	deny     []string
	resolver *net.Resolver
}

// NewDomainACL creates an ACL from allow and deny patterns
func NewDomainACL(allow, deny []string) *DomainACL {
	return &DomainACL{
		allow:    normalizePatterns(allow),
		deny:     normalizePatterns(deny),
		resolver: net.DefaultResolver,
	}
}

// Check returns ErrDomainDenied if host must not be contacted
func (a *DomainACL) Check(ctx context.Context, host string) error {
	if len(a.allow) == 0 && len(a.deny) == 0 {
		return nil
	}

	names := a.namesOf(ctx, host)
	if len(names) == 0 {
		return errors.Wrapf(common.ErrDomainDenied, "invalid host name %q", host)
	}

	for _, name := range names {
		if p, ok := matchAny(a.deny, name); ok {
			return errors.Wrapf(common.ErrDomainDenied, "%s matches deny pattern %q", host, p)
		}
	}
	for _, name := range names {
		if _, ok := matchAny(a.allow, name); ok {
			return nil
		}
	}
	return errors.Wrapf(common.ErrDomainDenied, "%s matches no allow pattern", host)
}

// namesOf returns the canonical names a host is checked under
func (a *DomainACL) namesOf(ctx context.Context, host string) []string {
	if ip := net.ParseIP(strings.Trim(host, "[]")); ip != nil {
		names := []string{ip.String()}
		// a lone "*" decides without asking the resolver
		if onlyWildcard(a.allow) && len(a.deny) == 0 {
			return names
		}
		ptrs, err := a.resolver.LookupAddr(ctx, ip.String())
		if err != nil {
			Logger.Debugf("reverse lookup of %s failed: %v", ip, err)
		}
		for _, ptr := range ptrs {
			names = append(names, dns.CanonicalName(ptr))
		}
		return names
	}

	if _, ok := dns.IsDomainName(host); !ok {
		return nil
	}
	return []string{dns.CanonicalName(host)}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func onlyWildcard(patterns []string) bool {
	return len(patterns) == 1 && patterns[0] == "*"
}

func matchAny(patterns []string, name string) (string, bool) {
	for _, p := range patterns {
		if matchPattern(p, name) {
			return p, true
		}
	}
	return "", false
}

// matchPattern matches one normalized pattern against a canonical name or IP literal
func matchPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if net.ParseIP(name) != nil {
		return pattern == name
	}

	if strings.ContainsAny(pattern, "*?[") {
		ok, err := path.Match(dns.CanonicalName(pattern), name)
		return err == nil && ok
	}

	domain := dns.CanonicalName(strings.TrimPrefix(pattern, "."))
	return dns.IsSubDomain(domain, name)
}
