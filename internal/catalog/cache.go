package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/AlfredMungaMbaru/polling-station-sub000/internal/metrics"
)

// Cached wraps a Source with TTL-based in-memory caching. Labels change
// rarely, so even a short TTL removes nearly all database traffic from the
// hot ingest path. Misses are cached too, otherwise an unlabeled option
// would hit the database on every event.
type Cached struct {
	inner Source
	ttl   time.Duration
	clock clockwork.Clock

	mu      sync.RWMutex
	entries map[cacheKey]*cacheEntry
}

type cacheKey struct {
	topicID  string
	optionID string
}

type cacheEntry struct {
	label     string
	missing   bool
	expiresAt time.Time
}

func NewCached(inner Source, ttl time.Duration, clock clockwork.Clock) *Cached {
	return &Cached{
		inner:   inner,
		ttl:     ttl,
		clock:   clock,
		entries: make(map[cacheKey]*cacheEntry),
	}
}

func (c *Cached) OptionLabel(ctx context.Context, topicID, optionID string) (string, error) {
	key := cacheKey{topicID, optionID}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.clock.Now().Before(entry.expiresAt) {
		metrics.CatalogCacheHits.WithLabelValues("hit").Inc()
		if entry.missing {
			return "", ErrNotFound
		}
		return entry.label, nil
	}
	metrics.CatalogCacheHits.WithLabelValues("miss").Inc()

	label, err := c.inner.OptionLabel(ctx, topicID, optionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = &cacheEntry{
		label:     label,
		missing:   errors.Is(err, ErrNotFound),
		expiresAt: c.clock.Now().Add(c.ttl),
	}
	c.mu.Unlock()

	return label, err
}

func (c *Cached) TopicOptions(ctx context.Context, topicID string) ([]Option, error) {
	return c.inner.TopicOptions(ctx, topicID)
}

// StartEvictionTimer periodically removes expired entries so a churn of
// short-lived topics does not grow the cache without bound. Returns a stop
// function.
func (c *Cached) StartEvictionTimer(interval time.Duration) (stop func()) {
	done := make(chan struct{})
	ticker := c.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				c.evictExpired()
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (c *Cached) evictExpired() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
