package ratelimit

import "sync"

// Concurrency caps in-flight work globally and per client key.
type Concurrency struct {
	mu        sync.Mutex
	active    map[string]int
	perKey    int
	semaphore chan struct{}
}

// NewConcurrency allows at most perKey operations per key and global overall.
func NewConcurrency(perKey, global int) *Concurrency {
	if global < 1 {
		global = 1
	}
	if perKey < 1 || perKey > global {
		perKey = global
	}
	return &Concurrency{
		active:    make(map[string]int),
		perKey:    perKey,
		semaphore: make(chan struct{}, global),
	}
}

// Acquire takes a slot for key without blocking. Callers that get true must
// call Release.
func (c *Concurrency) Acquire(key string) bool {
	select {
	case c.semaphore <- struct{}{}:
	default:
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[key] >= c.perKey {
		<-c.semaphore
		return false
	}
	c.active[key]++
	return true
}

// Release frees a slot taken by Acquire.
func (c *Concurrency) Release(key string) {
	c.mu.Lock()
	if n := c.active[key]; n > 0 {
		if n == 1 {
			delete(c.active, key)
		} else {
			c.active[key] = n - 1
		}
	}
	c.mu.Unlock()

	<-c.semaphore
}

// InFlight returns the number of held slots.
func (c *Concurrency) InFlight() int {
	return len(c.semaphore)
}
