package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitor samples host CPU and memory and derives a concurrency
// ceiling for the refresh workers. Readings feed the health endpoint so
// operators can see why the poller count changed.
type ResourceMonitor struct {
	mu                 sync.RWMutex
	cpuCores           int
	memoryGB           float64
	currentCPUUsage    float64
	currentMemoryUsage float64
	lastSample         time.Time
	logger             *slog.Logger

	minWorkers int
	maxWorkers int

	cancel context.CancelFunc
}

// ResourceMonitorConfig bounds the derived concurrency and sets the sampling
// cadence.
type ResourceMonitorConfig struct {
	SampleInterval time.Duration
	MinWorkers     int
	MaxWorkers     int
}

// NewResourceMonitor creates a monitor seeded with host totals. Call Start to
// begin periodic sampling.
func NewResourceMonitor(cfg ResourceMonitorConfig, logger *slog.Logger) *ResourceMonitor {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 2
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 16
	}

	rm := &ResourceMonitor{
		cpuCores:   runtime.NumCPU(),
		logger:     logger,
		minWorkers: cfg.MinWorkers,
		maxWorkers: cfg.MaxWorkers,
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		rm.memoryGB = float64(memInfo.Total) / (1024 * 1024 * 1024)
	} else {
		rm.logger.Warn("Could not read memory info, assuming 8GB", "error", err)
		rm.memoryGB = 8.0
	}

	rm.logger.Info("Resource monitor initialized",
		"cpu_cores", rm.cpuCores,
		"memory_gb", rm.memoryGB)

	return rm
}

// Start begins periodic sampling until Stop is called.
func (rm *ResourceMonitor) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	rm.mu.Lock()
	rm.cancel = cancel
	rm.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := rm.Sample(ctx); err != nil {
					rm.logger.Warn("Resource sample failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts periodic sampling.
func (rm *ResourceMonitor) Stop() {
	rm.mu.Lock()
	cancel := rm.cancel
	rm.cancel = nil
	rm.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Sample takes one CPU and memory reading. The CPU read blocks for a second
// while gopsutil measures a delta.
func (rm *ResourceMonitor) Sample(ctx context.Context) error {
	cpuPercent, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return fmt.Errorf("failed to read CPU usage: %w", err)
	}
	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to read memory usage: %w", err)
	}

	rm.mu.Lock()
	if len(cpuPercent) > 0 {
		rm.currentCPUUsage = cpuPercent[0]
	}
	rm.currentMemoryUsage = memInfo.UsedPercent
	rm.lastSample = time.Now()
	rm.mu.Unlock()

	return nil
}

// OptimalConcurrency derives how many refresh pollers the host can sustain.
// The base is twice the core count, scaled down on small-memory hosts and
// under load, clamped to the configured bounds.
func (rm *ResourceMonitor) OptimalConcurrency() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.optimalConcurrency()
}

func (rm *ResourceMonitor) optimalConcurrency() int {
	base := rm.cpuCores * 2

	memoryFactor := 1.0
	if rm.memoryGB < 4.0 {
		memoryFactor = 0.5
	} else if rm.memoryGB < 8.0 {
		memoryFactor = 0.75
	}

	loadFactor := 1.0
	if rm.currentCPUUsage > 80.0 {
		loadFactor = 0.7
	} else if rm.currentMemoryUsage > 85.0 {
		loadFactor = 0.8
	}

	workers := int(float64(base) * memoryFactor * loadFactor)
	if workers < rm.minWorkers {
		workers = rm.minWorkers
	}
	if workers > rm.maxWorkers {
		workers = rm.maxWorkers
	}
	return workers
}

// SystemInfo returns the current readings for the health endpoint.
func (rm *ResourceMonitor) SystemInfo() map[string]interface{} {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	return map[string]interface{}{
		"cpu_cores":           rm.cpuCores,
		"memory_gb":           rm.memoryGB,
		"cpu_usage_percent":   rm.currentCPUUsage,
		"memory_used_percent": rm.currentMemoryUsage,
		"goroutines":          runtime.NumGoroutine(),
		"last_sample":         rm.lastSample,
		"optimal_concurrency": rm.optimalConcurrency(),
	}
}
