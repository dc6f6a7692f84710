// Package resolver caches hostname resolution for the client dialer. The
// chat client re-dials the same host on every login/logoff cycle, so lookups
// are served from a TTL cache instead of hitting DNS each time.
package resolver

import (
	"context"
	"fmt"
	"net"
	"time"

	"chatrelay/cacher"
)

// LookupFunc resolves a host name to one or more addresses. It matches the
// shape of net.Resolver.LookupHost and is injectable for tests.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Resolver resolves host names through a Cacher. IP literals bypass the
// cache entirely. Safe for concurrent use.
type Resolver struct {
	cache  cacher.Cacher[string]
	ttl    time.Duration
	lookup LookupFunc
}

// New creates a Resolver that caches successful lookups in cache for ttl.
// Lookups go through net.DefaultResolver unless overridden with WithLookup.
//
// Parameters:
//   - cache: Backing cache for resolved addresses
//   - ttl: How long a resolved address stays valid
//
// Returns:
//   - A new Resolver
func New(cache cacher.Cacher[string], ttl time.Duration) *Resolver {
	return &Resolver{
		cache:  cache,
		ttl:    ttl,
		lookup: net.DefaultResolver.LookupHost,
	}
}

// WithLookup replaces the lookup function and returns the receiver.
// Intended for tests that need to observe or fake DNS traffic.
func (r *Resolver) WithLookup(fn LookupFunc) *Resolver {
	r.lookup = fn
	return r
}

// Resolve returns an address for host, consulting the cache first.
// IP literals are returned as-is without touching the cache.
//
// Parameters:
//   - ctx: Context for cancellation and timeout control
//   - host: Host name or IP literal
//
// Returns:
//   - A resolved address for host
//   - An error if the lookup fails or yields no addresses
func (r *Resolver) Resolve(ctx context.Context, host string) (string, error) {
	if net.ParseIP(host) != nil {
		return host, nil
	}

	return r.cache.GetOrFetch(ctx, "resolve:"+host, r.ttl, func(ctx context.Context) (string, error) {
		addrs, err := r.lookup(ctx, host)
		if err != nil {
			return "", fmt.Errorf("lookup %s: %w", host, err)
		}

		if len(addrs) == 0 {
			return "", fmt.Errorf("lookup %s: no addresses", host)
		}

		return addrs[0], nil
	})
}
