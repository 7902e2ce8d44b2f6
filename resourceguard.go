package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceGuard is the admission gate ahead of C4: it enforces the connection
// ceiling plus CPU/memory/goroutine emergency brakes before a socket is ever
// upgraded. Adapted from internal/shared/limits/resource_guard.go, simplified
// to drop the Kafka-specific rate limiters (no second broker here) and the
// custom platform.CPUMonitor indirection in favor of gopsutil/v3 directly.
type ResourceGuard struct {
	config *Config
	logger zerolog.Logger

	proc *process.Process

	currentCPU    atomic.Value // float64
	currentMemory atomic.Value // int64 bytes

	currentConns *int64
}

func NewResourceGuard(config *Config, logger zerolog.Logger, currentConns *int64) *ResourceGuard {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("gopsutil process handle unavailable, CPU admission check disabled")
	}

	rg := &ResourceGuard{
		config:       config,
		logger:       logger,
		proc:         proc,
		currentConns: currentConns,
	}
	rg.currentCPU.Store(0.0)
	rg.currentMemory.Store(int64(0))

	// Cap the configured connection ceiling to what the cgroup memory limit
	// can actually sustain; a WS_MAX_CONNECTIONS set too high for a small
	// container would otherwise admit connections until the OOM killer acts
	// instead of the resource guard.
	if memLimit, err := getMemoryLimit(); err == nil && memLimit > 0 {
		if safe := calculateMaxConnections(memLimit); safe < rg.config.MaxConnections {
			logger.Warn().
				Int("configured_max_connections", rg.config.MaxConnections).
				Int("cgroup_safe_max_connections", safe).
				Int64("cgroup_memory_limit", memLimit).
				Msg("capping max connections to cgroup memory limit")
			rg.config.MaxConnections = safe
		}
	}

	logger.Info().
		Float64("cpu_reject_threshold", config.CPURejectThreshold).
		Int64("memory_limit", config.MemoryLimit).
		Int("max_connections", rg.config.MaxConnections).
		Int("max_goroutines", config.MaxGoroutines).
		Msg("resource guard initialized")

	return rg
}

// ShouldAcceptConnection runs the admission checks in order: hard connection
// limit, CPU brake, memory brake, goroutine limit.
func (rg *ResourceGuard) ShouldAcceptConnection() (accept bool, reason string) {
	currentConns := atomic.LoadInt64(rg.currentConns)
	currentCPU := rg.currentCPU.Load().(float64)
	currentMemory := rg.currentMemory.Load().(int64)
	currentGoros := runtime.NumGoroutine()

	if currentConns >= int64(rg.config.MaxConnections) {
		metricConnectionsRejected.WithLabelValues("at_max_connections").Inc()
		return false, fmt.Sprintf("at max connections (%d)", rg.config.MaxConnections)
	}
	if currentCPU > rg.config.CPURejectThreshold {
		metricConnectionsRejected.WithLabelValues("cpu_overload").Inc()
		return false, fmt.Sprintf("CPU %.1f%% > %.1f%%", currentCPU, rg.config.CPURejectThreshold)
	}
	if rg.config.MemoryLimit > 0 && currentMemory > rg.config.MemoryLimit {
		metricConnectionsRejected.WithLabelValues("memory_limit").Inc()
		return false, "memory limit exceeded"
	}
	if currentGoros > rg.config.MaxGoroutines {
		metricConnectionsRejected.WithLabelValues("goroutine_limit").Inc()
		return false, fmt.Sprintf("goroutine limit exceeded (%d > %d)", currentGoros, rg.config.MaxGoroutines)
	}
	return true, "OK"
}

func (rg *ResourceGuard) CurrentCPU() float64 {
	return rg.currentCPU.Load().(float64)
}

// UpdateResources samples process CPU% (gopsutil) and heap allocation
// (runtime.MemStats) into the atomic state ShouldAcceptConnection reads.
func (rg *ResourceGuard) UpdateResources(ctx context.Context) {
	var cpuPercent float64
	if rg.proc != nil {
		if pct, err := rg.proc.CPUPercentWithContext(ctx); err == nil {
			cpuPercent = pct
		}
	}
	rg.currentCPU.Store(cpuPercent)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	rg.currentMemory.Store(int64(mem.Alloc))
}

func (rg *ResourceGuard) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rg.UpdateResources(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (rg *ResourceGuard) GetStats() map[string]any {
	return map[string]any{
		"max_connections":      rg.config.MaxConnections,
		"current_connections":  atomic.LoadInt64(rg.currentConns),
		"cpu_percent":          rg.currentCPU.Load().(float64),
		"cpu_reject_threshold": rg.config.CPURejectThreshold,
		"memory_bytes":         rg.currentMemory.Load().(int64),
		"memory_limit_bytes":   rg.config.MemoryLimit,
		"goroutines_current":   runtime.NumGoroutine(),
		"goroutines_limit":     rg.config.MaxGoroutines,
	}
}
