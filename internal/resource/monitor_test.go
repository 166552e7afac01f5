package resource

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitorRefresh(t *testing.T) {
	var calls atomic.Int32
	dir := t.TempDir()
	m := NewMonitor(time.Hour, dir, func(Stats) { calls.Add(1) })

	stats := m.Refresh()
	if stats.LastUpdated.IsZero() {
		t.Error("expected LastUpdated to be set")
	}
	if stats.DiskPath != dir {
		t.Errorf("disk path = %q, want %q", stats.DiskPath, dir)
	}
	if stats.NumGoroutines <= 0 {
		t.Error("expected goroutine count")
	}
	if got := m.GetStats(); !got.LastUpdated.Equal(stats.LastUpdated) {
		t.Error("GetStats should return the latest sample")
	}
	if calls.Load() != 1 {
		t.Errorf("sink called %d times, want 1", calls.Load())
	}
}

func TestMonitorStartStop(t *testing.T) {
	var calls atomic.Int32
	m := NewMonitor(10*time.Millisecond, "", func(Stats) { calls.Add(1) })
	m.Start()

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	m.Stop()

	if calls.Load() < 2 {
		t.Errorf("expected background samples, got %d", calls.Load())
	}
}

func TestCheckAvailableDisk(t *testing.T) {
	dir := t.TempDir()
	if err := CheckAvailableDisk(dir, 0); err != nil {
		t.Errorf("expected no error for 0 MB, got %v", err)
	}
	if err := CheckAvailableDisk(dir, 1<<50); err == nil {
		t.Error("expected error for an impossible requirement")
	}
}
