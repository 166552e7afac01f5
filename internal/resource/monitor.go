// Package resource samples host memory, CPU and disk usage.
package resource

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const mb = 1024 * 1024

// Sink receives every fresh sample.
type Sink func(Stats)

// Monitor tracks system resource usage
type Monitor struct {
	mu             sync.RWMutex
	stats          Stats
	updateInterval time.Duration
	diskPath       string
	sink           Sink
	stopChan       chan struct{}
	stopOnce       sync.Once
}

// Stats represents system resource statistics
type Stats struct {
	CPUUsagePercent    float64   `json:"cpu_usage_percent"`
	MemoryUsedMB       uint64    `json:"memory_used_mb"`
	MemoryTotalMB      uint64    `json:"memory_total_mb"`
	MemoryUsagePercent float64   `json:"memory_usage_percent"`
	DiskPath           string    `json:"disk_path"`
	DiskFreeMB         uint64    `json:"disk_free_mb"`
	DiskUsagePercent   float64   `json:"disk_usage_percent"`
	NumGoroutines      int       `json:"num_goroutines"`
	LastUpdated        time.Time `json:"last_updated"`
}

// NewMonitor creates a monitor that samples every updateInterval and reports
// disk usage for diskPath (the data directory).
func NewMonitor(updateInterval time.Duration, diskPath string, sink Sink) *Monitor {
	if updateInterval <= 0 {
		updateInterval = 5 * time.Second
	}
	if diskPath == "" {
		diskPath = "."
	}
	return &Monitor{
		updateInterval: updateInterval,
		diskPath:       diskPath,
		sink:           sink,
		stopChan:       make(chan struct{}),
	}
}

// Start takes a first sample and then keeps sampling in the background.
func (m *Monitor) Start() {
	m.Refresh()
	go m.monitorLoop()
}

// Stop stops the resource monitor. It is safe to call more than once.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// GetStats returns the latest sample.
func (m *Monitor) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) monitorLoop() {
	ticker := time.NewTicker(m.updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Refresh()
		case <-m.stopChan:
			return
		}
	}
}

// Refresh samples the host now and returns the new stats.
func (m *Monitor) Refresh() Stats {
	stats := sample(m.diskPath)

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()

	if m.sink != nil {
		m.sink(stats)
	}
	return stats
}

func sample(diskPath string) Stats {
	vmStat, err := mem.VirtualMemory()
	if err != nil {
		// Fallback to runtime stats
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		vmStat = &mem.VirtualMemoryStat{
			Total:       memStats.Sys,
			Used:        memStats.Alloc,
			UsedPercent: float64(memStats.Alloc) / float64(memStats.Sys) * 100,
		}
	}

	cpuUsage := 0.0
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		cpuUsage = cpuPercent[0]
	}

	stats := Stats{
		CPUUsagePercent:    cpuUsage,
		MemoryUsedMB:       vmStat.Used / mb,
		MemoryTotalMB:      vmStat.Total / mb,
		MemoryUsagePercent: vmStat.UsedPercent,
		DiskPath:           diskPath,
		NumGoroutines:      runtime.NumGoroutine(),
		LastUpdated:        time.Now(),
	}
	if diskStat, err := disk.Usage(diskPath); err == nil {
		stats.DiskFreeMB = diskStat.Free / mb
		stats.DiskUsagePercent = diskStat.UsedPercent
	}
	return stats
}

// CheckAvailableDisk reports an error when path has less than requiredMB free.
func CheckAvailableDisk(path string, requiredMB uint64) error {
	diskStat, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("failed to check disk usage: %w", err)
	}
	if free := diskStat.Free / mb; free < requiredMB {
		return fmt.Errorf("insufficient disk space: need %d MB, have %d MB available", requiredMB, free)
	}
	return nil
}
