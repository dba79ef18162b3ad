package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradeflow/internal/logger"

	"github.com/google/uuid"
)

const DefaultTTL = 30 * time.Minute

var (
	ErrNotFound        = errors.New("strategy not found")
	ErrExpired         = errors.New("strategy expired")
	ErrAlreadyConsumed = errors.New("strategy already consumed")
	ErrDuplicateID     = errors.New("strategy id already issued")
)

// Artifact is a computed strategy waiting for execution.
type Artifact struct {
	ID         string     `json:"id"`
	Symbol     string     `json:"symbol"`
	Definition Definition `json:"definition"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Consumed   bool       `json:"consumed"`
	ConsumedAt time.Time  `json:"consumed_at,omitempty"`
}

func (a Artifact) expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Cache holds artifacts for a bounded time. Expiry is checked on every read,
// so a missed sweep never makes a stale artifact executable.
type Cache struct {
	mu      sync.Mutex
	items   map[string]*Artifact
	retired map[string]time.Time

	ttl     time.Duration
	now     func() time.Time
	newID   func() string
	onEvict func(reason string, n int)
}

type CacheOption func(*Cache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIDSource replaces uuid generation, mainly for tests.
func WithIDSource(fn func() string) CacheOption {
	return func(c *Cache) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// WithEvictHook observes removals; reason is "expired" or "discarded".
func WithEvictHook(fn func(reason string, n int)) CacheOption {
	return func(c *Cache) { c.onEvict = fn }
}

func NewCache(opts ...CacheOption) *Cache {
	c := &Cache{
		items:   make(map[string]*Artifact),
		retired: make(map[string]time.Time),
		ttl:     DefaultTTL,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) TTL() time.Duration { return c.ttl }

// Put stores def under a fresh ID that is never handed out again.
func (c *Cache) Put(symbol string, def Definition) (string, error) {
	id := c.newID()
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	if _, ok := c.retired[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	c.items[id] = &Artifact{
		ID:         id,
		Symbol:     symbol,
		Definition: def,
		CreatedAt:  now,
		ExpiresAt:  now.Add(c.ttl),
	}
	return id, nil
}

// Get returns a copy of a live artifact. Expired and unknown IDs both report
// ErrNotFound.
func (c *Cache) Get(id string) (Artifact, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.expired(now) {
		c.removeLocked(id, now, "expired")
		return Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *item, nil
}

// Consume marks the artifact used. At most one caller ever succeeds for a
// given ID.
func (c *Cache) Consume(id string) error {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if item.expired(now) {
		c.removeLocked(id, now, "expired")
		return fmt.Errorf("%w: %s", ErrExpired, id)
	}
	if item.Consumed {
		return fmt.Errorf("%w: %s", ErrAlreadyConsumed, id)
	}
	item.Consumed = true
	item.ConsumedAt = now
	return nil
}

// Discard drops an artifact whose owning session moved on without it.
func (c *Cache) Discard(id string) bool {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[id]; !ok {
		return false
	}
	c.removeLocked(id, now, "discarded")
	return true
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep removes every artifact expired at now, consumed or not, and forgets
// retired IDs older than two TTLs.
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for id, item := range c.items {
		if item.expired(now) {
			delete(c.items, id)
			c.retired[id] = now
			removed++
		}
	}
	cutoff := now.Add(-2 * c.ttl)
	for id, at := range c.retired {
		if at.Before(cutoff) {
			delete(c.retired, id)
		}
	}
	if removed > 0 && c.onEvict != nil {
		c.onEvict("expired", removed)
	}
	return removed
}

// Run sweeps on interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := c.Sweep(c.now()); n > 0 {
				logger.Debugf("[strategy] swept %d expired artifacts", n)
			}
		}
	}
}

func (c *Cache) removeLocked(id string, now time.Time, reason string) {
	delete(c.items, id)
	c.retired[id] = now
	if c.onEvict != nil {
		c.onEvict(reason, 1)
	}
}
