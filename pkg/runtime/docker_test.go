package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/container"
)

func TestFlattenStatsSubtractsInactiveFile(t *testing.T) {
	raw := &container.StatsResponse{}
	raw.MemoryStats.Usage = 100 * 1024 * 1024
	raw.MemoryStats.Limit = 256 * 1024 * 1024
	raw.MemoryStats.Stats = map[string]uint64{"inactive_file": 20 * 1024 * 1024}

	stats := flattenStats("abc", raw)

	if stats.MemUsageBytes != 80*1024*1024 {
		t.Errorf("expected 80MiB usage, got %d", stats.MemUsageBytes)
	}
	if stats.MemLimitBytes != 256*1024*1024 {
		t.Errorf("expected 256MiB limit, got %d", stats.MemLimitBytes)
	}
	if stats.ContainerID != "abc" {
		t.Errorf("expected container id abc, got %s", stats.ContainerID)
	}
}

func TestFlattenStatsZeroPrecpu(t *testing.T) {
	// A zeroed precpu sample must not produce a cumulative CPU figure
	raw := &container.StatsResponse{}
	raw.CPUStats.CPUUsage.TotalUsage = 5_000_000_000
	raw.CPUStats.SystemUsage = 100_000_000_000

	stats := flattenStats("abc", raw)

	if stats.CPUPercent != 0 {
		t.Errorf("expected 0%% with zero precpu, got %f", stats.CPUPercent)
	}
}

func TestFlattenStatsCPUPercent(t *testing.T) {
	raw := &container.StatsResponse{}
	raw.PreCPUStats.CPUUsage.TotalUsage = 1_000_000_000
	raw.PreCPUStats.SystemUsage = 10_000_000_000
	raw.CPUStats.CPUUsage.TotalUsage = 2_000_000_000
	raw.CPUStats.SystemUsage = 20_000_000_000
	raw.CPUStats.OnlineCPUs = 4

	stats := flattenStats("abc", raw)

	// delta 1e9 over system delta 1e10 across 4 cpus = 40%
	if stats.CPUPercent < 39.9 || stats.CPUPercent > 40.1 {
		t.Errorf("expected ~40%%, got %f", stats.CPUPercent)
	}
}

func TestFlattenStatsPercpuFallback(t *testing.T) {
	raw := &container.StatsResponse{}
	raw.PreCPUStats.CPUUsage.TotalUsage = 0
	raw.PreCPUStats.SystemUsage = 10_000_000_000
	raw.CPUStats.CPUUsage.TotalUsage = 1_000_000_000
	raw.CPUStats.SystemUsage = 20_000_000_000
	raw.CPUStats.CPUUsage.PercpuUsage = []uint64{1, 1}

	stats := flattenStats("abc", raw)

	// OnlineCPUs unset, so the percpu slice length (2) is used
	if stats.CPUPercent < 19.9 || stats.CPUPercent > 20.1 {
		t.Errorf("expected ~20%%, got %f", stats.CPUPercent)
	}
}

func TestFakeRuntimeLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFakeRuntime()

	id, err := f.Run(ctx, RunSpec{Image: "web-01", InternalPort: 80, ExternalPort: 31000})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !f.Running(id) {
		t.Fatal("container should be running")
	}

	var buf strings.Builder
	if err := f.Logs(ctx, id, &buf); err != nil {
		t.Fatalf("logs: %v", err)
	}
	if buf.Len() == 0 {
		t.Error("expected log output")
	}

	if err := f.Stop(ctx, id); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if f.Running(id) {
		t.Error("container should be gone after stop")
	}

	err = f.Stop(ctx, id)
	if !errors.Is(err, ErrContainerNotFound) {
		t.Errorf("expected ErrContainerNotFound, got %v", err)
	}
}
