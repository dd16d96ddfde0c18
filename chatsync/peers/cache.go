// Package peers is a display-only cache of user profiles.
package peers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vovakirdan/chatsync-sdk/chatsync"
	"github.com/vovakirdan/chatsync-sdk/chatsync/rest"
)

// UnknownName is shown for users whose profile could not be resolved.
const UnknownName = "unknown user"

const (
	lookupTimeout = 10 * time.Second
	warmLimit     = 8
)

// Resolver fetches profiles. *rest.Client satisfies it.
type Resolver interface {
	GetUser(ctx context.Context, userID string) (*rest.User, error)
	ListUsers(ctx context.Context) ([]rest.User, error)
}

// Profile is what the UI renders for a user.
type Profile struct {
	ID     string
	Name   string
	Avatar string
	// Unknown marks a memoized failed lookup.
	Unknown bool
}

func placeholder(id string) Profile {
	return Profile{ID: id, Name: UnknownName, Unknown: true}
}

// Cache memoizes profiles by user id, including failed lookups, so a user
// that cannot be resolved is asked for once.
type Cache struct {
	resolver Resolver
	logger   chatsync.Logger
	group    singleflight.Group

	mu         sync.RWMutex
	profiles   map[string]Profile
	onResolved func(Profile)
}

// New returns an empty cache.
func New(r Resolver, logger chatsync.Logger) *Cache {
	if logger == nil {
		logger = chatsync.NopLogger()
	}
	return &Cache{resolver: r, logger: logger, profiles: make(map[string]Profile)}
}

// OnResolved sets a callback fired after a background lookup fills an entry.
func (c *Cache) OnResolved(fn func(Profile)) {
	c.mu.Lock()
	c.onResolved = fn
	c.mu.Unlock()
}

// Peek returns a memoized profile without resolving.
func (c *Cache) Peek(userID string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[userID]
	return p, ok
}

// Name returns the display name for userID, starting a background lookup on
// a miss. Until the lookup lands the id itself is returned.
func (c *Cache) Name(ctx context.Context, userID string) string {
	if p, ok := c.Peek(userID); ok {
		return p.Name
	}
	go func() {
		p := c.Lookup(ctx, userID)
		c.mu.RLock()
		fn := c.onResolved
		c.mu.RUnlock()
		if fn != nil {
			fn(p)
		}
	}()
	return userID
}

// Lookup returns the profile for userID, resolving and memoizing it on a
// miss. Concurrent lookups of the same id share one request.
func (c *Cache) Lookup(ctx context.Context, userID string) Profile {
	if p, ok := c.Peek(userID); ok {
		return p
	}
	v, _, _ := c.group.Do(userID, func() (any, error) {
		if p, ok := c.Peek(userID); ok {
			return p, nil
		}
		// The shared request outlives any one caller's cancellation.
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		p := placeholder(userID)
		u, err := c.resolver.GetUser(reqCtx, userID)
		if err != nil {
			c.logger.Debug("profile lookup failed", map[string]any{"user": userID, "error": err.Error()})
		} else if u != nil {
			p = profileOf(userID, *u)
		}
		c.store(p)
		return p, nil
	})
	return v.(Profile)
}

// Warm fills the cache ahead of rendering. With no ids it loads the whole
// directory through ListUsers; otherwise the ids are looked up in parallel.
func (c *Cache) Warm(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		users, err := c.resolver.ListUsers(ctx)
		if err != nil {
			return chatsync.WrapError(chatsync.Classify(err), "list users", err)
		}
		for _, u := range users {
			if u.ID != "" {
				c.store(profileOf(u.ID, u))
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmLimit)
	for _, id := range userIDs {
		if _, ok := c.Peek(id); ok || id == "" {
			continue
		}
		g.Go(func() error {
			c.Lookup(gctx, id)
			return gctx.Err()
		})
	}
	return g.Wait()
}

// Forget drops a memoized entry so the next lookup asks again.
func (c *Cache) Forget(userID string) {
	c.mu.Lock()
	delete(c.profiles, userID)
	c.mu.Unlock()
}

// Len returns the number of memoized profiles.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.profiles)
}

func (c *Cache) store(p Profile) {
	c.mu.Lock()
	c.profiles[p.ID] = p
	c.mu.Unlock()
}

func profileOf(id string, u rest.User) Profile {
	name := u.Name
	if name == "" {
		name = id
	}
	return Profile{ID: id, Name: name, Avatar: u.Avatar}
}
