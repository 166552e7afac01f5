package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestMemory(rate int, interval time.Duration, burst int) (*Memory, *time.Time) {
	m := NewMemory(rate, interval, burst)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestMemoryAllowAndRefill(t *testing.T) {
	m, now := newTestMemory(2, time.Minute, 2)
	defer m.Stop()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := m.Allow(ctx, "client"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if ok, _ := m.Allow(ctx, "client"); ok {
		t.Fatal("third request should be limited")
	}
	if ok, _ := m.Allow(ctx, "other"); !ok {
		t.Error("other keys have their own bucket")
	}

	*now = now.Add(30 * time.Second)
	if ok, _ := m.Allow(ctx, "client"); !ok {
		t.Error("one token should refill after half the interval")
	}
	if ok, _ := m.Allow(ctx, "client"); ok {
		t.Error("only one token should have refilled")
	}

	*now = now.Add(time.Hour)
	allowed := 0
	for i := 0; i < 5; i++ {
		if ok, _ := m.Allow(ctx, "client"); ok {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("refill should cap at burst, allowed %d", allowed)
	}
}

func TestMemoryDefaultBurst(t *testing.T) {
	m, _ := newTestMemory(3, time.Minute, 0)
	defer m.Stop()
	allowed := 0
	for i := 0; i < 10; i++ {
		if ok, _ := m.Allow(context.Background(), "k"); ok {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("expected burst to default to rate, allowed %d", allowed)
	}
}

func TestMemoryPrune(t *testing.T) {
	m, now := newTestMemory(1, time.Minute, 1)
	defer m.Stop()
	m.Allow(context.Background(), "a")
	*now = now.Add(20 * time.Minute)
	m.Allow(context.Background(), "b")

	m.prune(10 * time.Minute)
	if m.Len() != 1 {
		t.Errorf("expected idle bucket to be pruned, have %d", m.Len())
	}
}

func TestMemoryEvictsOldest(t *testing.T) {
	m, now := newTestMemory(1, time.Minute, 1)
	defer m.Stop()
	for i := 0; i < maxBuckets; i++ {
		m.Allow(context.Background(), fmt.Sprintf("k%d", i))
		*now = now.Add(time.Millisecond)
	}
	m.Allow(context.Background(), "overflow")
	if m.Len() != maxBuckets {
		t.Errorf("bucket count = %d, want %d", m.Len(), maxBuckets)
	}
}

func TestMemoryKeepsPartialRefill(t *testing.T) {
	m, now := newTestMemory(30, time.Minute, 5)
	defer m.Stop()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Allow(ctx, "client")
	}
	if ok, _ := m.Allow(ctx, "client"); ok {
		t.Fatal("bucket should be empty")
	}

	*now = now.Add(3 * time.Second)
	if ok, _ := m.Allow(ctx, "client"); !ok {
		t.Fatal("one token should refill after 3s")
	}
	// 4s in total earns a second token
	*now = now.Add(time.Second)
	if ok, _ := m.Allow(ctx, "client"); !ok {
		t.Error("leftover refill time should count toward the next token")
	}
	if ok, _ := m.Allow(ctx, "client"); ok {
		t.Error("no third token yet")
	}
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	m, now := newTestMemory(1, time.Minute, 1)
	defer m.Stop()
	ctx := context.Background()
	for i := 0; i < maxBuckets; i++ {
		m.Allow(ctx, fmt.Sprintf("k%d", i))
		*now = now.Add(time.Millisecond)
	}
	m.Allow(ctx, "k0")
	*now = now.Add(time.Millisecond)
	m.Allow(ctx, "overflow")

	m.mu.RLock()
	_, hasFirst := m.buckets["k0"]
	_, hasSecond := m.buckets["k1"]
	m.mu.RUnlock()
	if !hasFirst {
		t.Error("recently used k0 should survive eviction")
	}
	if hasSecond {
		t.Error("k1 was the least recently used and should be evicted")
	}
}

func TestMemoryConcurrentAllowAndEvict(t *testing.T) {
	m := NewMemory(1000, time.Second, 1000)
	defer m.Stop()
	ctx := context.Background()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				m.Allow(ctx, "hot")
			}
		}
	}()

	for i := 0; i < maxBuckets+2000; i++ {
		m.Allow(ctx, fmt.Sprintf("key-%d", i))
	}
	close(stop)
	wg.Wait()

	if m.Len() != maxBuckets {
		t.Errorf("bucket count = %d, want %d", m.Len(), maxBuckets)
	}
}

func TestRedisWindowKey(t *testing.T) {
	r := NewRedis(nil, 5, time.Minute)

	key, end := r.windowKey("1.2.3.4", time.Unix(630, 0))
	if !strings.HasPrefix(key, keyPrefix+"1.2.3.4:") || !strings.HasSuffix(key, ":10") {
		t.Errorf("unexpected key %q", key)
	}
	if !end.Equal(time.Unix(660, 0)) {
		t.Errorf("window end = %v, want %v", end, time.Unix(660, 0))
	}
}

// fakeRedis implements the counter commands the limiter uses. Any other
// Cmdable method panics through the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable

	mu       sync.Mutex
	counters map[string]int64
	expiry   map[string]time.Time
	calls    []string
	err      error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{counters: map[string]int64{}, expiry: map[string]time.Time{}}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "SETNX")
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.counters[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.counters[key] = value.(int64)
	f.expiry[key] = time.Unix(0, 0).Add(ttl)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Decr(ctx context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "DECR")
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counters[key]--
	return redis.NewIntResult(f.counters[key], nil)
}

func (f *fakeRedis) ExpireAt(ctx context.Context, key string, tm time.Time) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "EXPIREAT")
	f.expiry[key] = tm
	return redis.NewBoolResult(true, nil)
}

func TestRedisAllowWithFakeClient(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedis(fake, 2, time.Minute)
	r.now = func() time.Time { return time.Unix(630, 0) }
	ctx := context.Background()

	var got []bool
	for i := 0; i < 3; i++ {
		ok, err := r.Allow(ctx, "client")
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		got = append(got, ok)
	}
	if !got[0] || !got[1] || got[2] {
		t.Errorf("results = %v, want [true true false]", got)
	}

	want := []string{"SETNX", "SETNX", "DECR", "SETNX", "DECR", "EXPIREAT"}
	if strings.Join(fake.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", fake.calls, want)
	}

	key, end := r.windowKey("client", r.now())
	if fake.counters[key] != -1 {
		t.Errorf("counter = %d, want -1", fake.counters[key])
	}
	if !fake.expiry[key].Equal(end) {
		t.Errorf("over-limit counter should expire at window end %v, got %v", end, fake.expiry[key])
	}

	if ok, _ := r.Allow(ctx, "other"); !ok {
		t.Error("other keys have their own counter")
	}
}

func TestRedisAllowRecreatedCounterGetsTTL(t *testing.T) {
	fake := newFakeRedis()
	r := NewRedis(fake, 3, time.Minute)
	r.now = func() time.Time { return time.Unix(630, 0) }
	key, end := r.windowKey("client", r.now())

	// counter exists without a TTL, as after an expiry between SETNX and DECR
	fake.counters[key] = 0
	ok, err := r.Allow(context.Background(), "client")
	if err != nil || ok {
		t.Fatalf("Allow = %v, %v; want false, nil", ok, err)
	}
	if !fake.expiry[key].Equal(end) {
		t.Errorf("expiry = %v, want %v", fake.expiry[key], end)
	}
}

func TestRedisAllowError(t *testing.T) {
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	r := NewRedis(fake, 2, time.Minute)

	if _, err := r.Allow(context.Background(), "client"); err == nil {
		t.Error("expected an error when redis fails")
	}
}

// TestRedisAllow runs against a real server when T2I_TEST_REDIS_ADDR is set.
func TestRedisAllow(t *testing.T) {
	addr := os.Getenv("T2I_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("T2I_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	r := NewRedis(client, 2, time.Minute)
	key := fmt.Sprintf("test-%d", time.Now().UnixNano())
	results := make([]bool, 3)
	for i := range results {
		ok, err := r.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow failed: %v", err)
		}
		results[i] = ok
	}
	if !results[0] || !results[1] || results[2] {
		t.Errorf("unexpected results %v", results)
	}
}
