// Package directory resolves brand role membership. The approval core treats
// identity as an external capability: it asks who holds a role on a brand and
// whether an actor is the brand's designated administrator, and never caches
// staleness-sensitive answers longer than the configured TTL.
package directory

import (
	"context"
	"sync"
	"time"
)

// Directory answers role-membership questions for a brand.
type Directory interface {
	// HasRole reports whether the user currently holds the role on the brand.
	HasRole(ctx context.Context, userID, brandID, role string) (bool, error)

	// UsersWithRole returns all users currently holding the role on the brand.
	UsersWithRole(ctx context.Context, brandID, role string) ([]string, error)

	// IsBrandAdmin reports whether the user is the brand's designated
	// administrator.
	IsBrandAdmin(ctx context.Context, userID, brandID string) (bool, error)
}

type membershipEntry struct {
	users   []string
	expires time.Time
}

// Cached wraps a Directory with a TTL cache on UsersWithRole. HasRole and
// IsBrandAdmin answer from the cached membership when possible so that a
// single advance call does at most one upstream lookup per step.
type Cached struct {
	inner Directory
	ttl   time.Duration
	mu    sync.RWMutex
	cache map[string]membershipEntry
}

// NewCached creates a caching Directory with the given TTL.
func NewCached(inner Directory, ttl time.Duration) *Cached {
	return &Cached{
		inner: inner,
		ttl:   ttl,
		cache: make(map[string]membershipEntry),
	}
}

func cacheKey(brandID, role string) string {
	return brandID + ":" + role
}

// UsersWithRole returns the role membership, served from cache within the TTL.
func (c *Cached) UsersWithRole(ctx context.Context, brandID, role string) ([]string, error) {
	key := cacheKey(brandID, role)

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && time.Now().Before(entry.expires) {
		c.mu.RUnlock()
		return entry.users, nil
	}
	c.mu.RUnlock()

	users, err := c.inner.UsersWithRole(ctx, brandID, role)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = membershipEntry{users: users, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return users, nil
}

// HasRole checks membership via UsersWithRole so the answer shares the cache.
func (c *Cached) HasRole(ctx context.Context, userID, brandID, role string) (bool, error) {
	users, err := c.UsersWithRole(ctx, brandID, role)
	if err != nil {
		return false, err
	}
	for _, u := range users {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

// IsBrandAdmin delegates to the wrapped directory. Admin checks gate restarts
// only, so they are not worth caching.
func (c *Cached) IsBrandAdmin(ctx context.Context, userID, brandID string) (bool, error) {
	return c.inner.IsBrandAdmin(ctx, userID, brandID)
}

// Invalidate clears cached membership for the given brand.
func (c *Cached) Invalidate(brandID string) {
	prefix := brandID + ":"
	c.mu.Lock()
	for key := range c.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.cache, key)
		}
	}
	c.mu.Unlock()
}
