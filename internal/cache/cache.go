// Package cache keeps short-lived copies of hub listings so repeated API
// calls with the same query do not each hit the hub.
package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/takuphilchan/offgrid-t2i/internal/hub"
)

// Source lists model identifiers.
type Source interface {
	IDs(ctx context.Context, opts hub.ListOptions) ([]string, error)
}

type entry struct {
	ids       []string
	createdAt time.Time
	expiresAt time.Time
	hits      int64
}

// Stats describes cache usage.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	TTLSeconds float64 `json:"ttl_seconds"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// ListCache wraps a Source with a TTL cache keyed by list options. Errors
// are never cached.
type ListCache struct {
	source     Source
	mu         sync.RWMutex
	entries    map[string]*entry
	maxEntries int
	ttl        time.Duration
	hits       atomic.Int64
	misses     atomic.Int64
	now        func() time.Time
}

// NewListCache caches up to maxEntries listings for ttl each.
func NewListCache(source Source, maxEntries int, ttl time.Duration) *ListCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &ListCache{
		source:     source,
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

func key(opts hub.ListOptions) string {
	return strings.Join([]string{opts.Filter, opts.Search, opts.Author, opts.Sort, strconv.Itoa(opts.Limit)}, "\x00")
}

// IDs returns a cached listing or asks the source.
func (c *ListCache) IDs(ctx context.Context, opts hub.ListOptions) ([]string, error) {
	k := key(opts)

	c.mu.RLock()
	e, ok := c.entries[k]
	fresh := ok && c.now().Before(e.expiresAt)
	c.mu.RUnlock()

	if fresh {
		atomic.AddInt64(&e.hits, 1)
		c.hits.Add(1)
		return append([]string(nil), e.ids...), nil
	}
	c.misses.Add(1)

	ids, err := c.source.IDs(ctx, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.maxEntries {
		c.evict()
	}
	now := c.now()
	c.entries[k] = &entry{
		ids:       append([]string(nil), ids...),
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	return ids, nil
}

// evict removes an expired entry if there is one, otherwise the least used,
// oldest first. Must be called with c.mu held.
func (c *ListCache) evict() {
	now := c.now()
	var victim string
	var victimHits int64
	var victimTime time.Time

	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			victim = k
			break
		}
		hits := atomic.LoadInt64(&e.hits)
		if victim == "" || hits < victimHits || (hits == victimHits && e.createdAt.Before(victimTime)) {
			victim, victimHits, victimTime = k, hits, e.createdAt
		}
	}
	delete(c.entries, victim)
}

// CleanExpired removes expired entries and returns how many went.
func (c *ListCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	count := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			count++
		}
	}
	return count
}

// Clear removes all entries and resets the counters.
func (c *ListCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats returns cache statistics
func (c *ListCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	s := Stats{
		Entries:    n,
		MaxEntries: c.maxEntries,
		TTLSeconds: c.ttl.Seconds(),
		Hits:       hits,
		Misses:     misses,
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total) * 100
	}
	return s
}
