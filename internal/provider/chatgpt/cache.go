package chatgpt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// SessionCache shares one handshake across requests for up to ttl.
//
// Only sessions without a proof-of-work challenge are kept: a proof token
// is bound to its challenge and spent by a single request, so challenged
// sessions are handed to the caller that triggered the handshake and then
// forgotten. Concurrent misses share one in-flight handshake.
type SessionCache struct {
	source SessionSource
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	cached *Session
	group  singleflight.Group
}

// flight is one refresh result. A challenged session goes to the first
// waiter that claims it.
type flight struct {
	session *Session
	claimed atomic.Bool
}

// NewSessionCache wraps source.
func NewSessionCache(source SessionSource, ttl time.Duration) *SessionCache {
	return &SessionCache{source: source, ttl: ttl, now: time.Now}
}

// Session returns the cached session while it is fresh, otherwise the
// result of a single shared refresh.
func (c *SessionCache) Session(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if s := c.cached; s != nil && c.now().Sub(s.AcquiredAt) < c.ttl {
		c.mu.Unlock()
		return s, nil
	}
	c.cached = nil
	c.mu.Unlock()

	ch := c.group.DoChan("session", func() (any, error) {
		s, err := c.source.Session(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if s.Challenge == nil {
			c.mu.Lock()
			c.cached = s
			c.mu.Unlock()
		}
		return &flight{session: s}, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		f := res.Val.(*flight)
		if f.session.Challenge == nil || f.claimed.CompareAndSwap(false, true) {
			return f.session, nil
		}
		return c.source.Session(ctx)
	}
}

// Invalidate drops s if it is the cached session.
func (c *SessionCache) Invalidate(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == s {
		c.cached = nil
	}
	c.source.Invalidate(s)
}
