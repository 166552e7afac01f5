// Package ratelimit limits requests per client key, either in process or
// shared across instances through Redis.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Maximum number of buckets kept in memory; the least recently used is
// evicted beyond it.
const maxBuckets = 10000

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory is an in-process token bucket limiter.
type Memory struct {
	mu       sync.RWMutex
	buckets  map[string]*tokenBucket
	rate     int           // requests per interval
	interval time.Duration // time window
	burst    int           // max burst size
	now      func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

type tokenBucket struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex

	lastUsed atomic.Int64 // unix nanos, readable without mu
}

// NewMemory allows rate requests per interval with bursts of up to burst.
// A burst below 1 defaults to rate.
func NewMemory(rate int, interval time.Duration, burst int) *Memory {
	if burst < 1 {
		burst = rate
	}
	m := &Memory{
		buckets:  make(map[string]*tokenBucket),
		rate:     rate,
		interval: interval,
		burst:    burst,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go m.cleanup(5 * time.Minute)
	return m
}

// Allow takes a token from the bucket for key.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	return m.bucket(key).take(m.rate, m.interval, m.burst, m.now()), nil
}

func (m *Memory) bucket(key string) *tokenBucket {
	m.mu.RLock()
	b, ok := m.buckets[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.buckets[key]; ok {
		return b
	}
	if len(m.buckets) >= maxBuckets {
		m.evictOldest()
	}
	now := m.now()
	b = &tokenBucket{tokens: m.burst, lastRefill: now}
	b.lastUsed.Store(now.UnixNano())
	m.buckets[key] = b
	return b
}

// evictOldest drops the least recently used bucket. It must be called with
// m.mu held.
func (m *Memory) evictOldest() {
	var oldestKey string
	var oldest int64
	for k, b := range m.buckets {
		if used := b.lastUsed.Load(); oldestKey == "" || used < oldest {
			oldestKey, oldest = k, used
		}
	}
	delete(m.buckets, oldestKey)
}

func (b *tokenBucket) take(rate int, interval time.Duration, burst int, now time.Time) bool {
	b.lastUsed.Store(now.UnixNano())

	b.mu.Lock()
	defer b.mu.Unlock()

	perToken := interval
	if rate > 0 {
		perToken = interval / time.Duration(rate)
	}
	if perToken <= 0 {
		perToken = 1
	}
	if add := int(now.Sub(b.lastRefill) / perToken); add > 0 {
		b.tokens += add
		if b.tokens >= burst {
			b.tokens = burst
			b.lastRefill = now
		} else {
			// keep the partial interval toward the next token
			b.lastRefill = b.lastRefill.Add(time.Duration(add) * perToken)
		}
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.buckets)
}

// Stop ends the background cleanup.
func (m *Memory) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Memory) cleanup(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.prune(10 * time.Minute)
		case <-m.stopCh:
			return
		}
	}
}

// prune drops buckets idle for longer than idle.
func (m *Memory) prune(idle time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for key, b := range m.buckets {
		if now.Sub(time.Unix(0, b.lastUsed.Load())) > idle {
			delete(m.buckets, key)
		}
	}
}
