package main

import (
	"os"
	"strconv"
	"strings"
)

// getMemoryLimit reads the container memory limit from cgroup v2
// (/sys/fs/cgroup/memory.max) falling back to v1
// (/sys/fs/cgroup/memory/memory.limit_in_bytes). Returns 0, nil when no
// limit is detected (bare metal, VMs, unconstrained containers).
func getMemoryLimit() (int64, error) {
	if data, err := os.ReadFile("/sys/fs/cgroup/memory.max"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		if limitStr != "max" {
			return strconv.ParseInt(limitStr, 10, 64)
		}
	}

	if data, err := os.ReadFile("/sys/fs/cgroup/memory/memory.limit_in_bytes"); err == nil {
		limitStr := strings.TrimSpace(string(data))
		return strconv.ParseInt(limitStr, 10, 64)
	}

	return 0, nil
}

// calculateMaxConnections derives a safe connection ceiling from the cgroup
// memory limit: 128MB reserved for runtime overhead, ~180KB budgeted per
// connection (send queue plus bookkeeping), bounded to [100, 50000] and
// defaulting to 10000 when no limit is detected.
func calculateMaxConnections(memoryLimitBytes int64) int {
	if memoryLimitBytes == 0 {
		return 10000
	}

	const runtimeOverheadBytes = 128 * 1024 * 1024
	const bytesPerConnection = 180 * 1024

	availableBytes := memoryLimitBytes - runtimeOverheadBytes
	if availableBytes < 0 {
		availableBytes = memoryLimitBytes / 2
	}

	maxConns := int(availableBytes / bytesPerConnection)
	if maxConns < 100 {
		maxConns = 100
	}
	if maxConns > 50000 {
		maxConns = 50000
	}

	return maxConns
}
