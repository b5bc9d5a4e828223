package runtime

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/burrowctf/burrow/pkg/types"
)

// FakeRuntime is an in-memory Runtime for tests. It hands out
// deterministic container IDs and records build, run, and stop calls.
// Error fields can be set to make the next matching call fail.
type FakeRuntime struct {
	mu     sync.Mutex
	nextID int
	specs  map[string]RunSpec

	// BuildErrs maps image names to forced build errors.
	BuildErrs map[string]error

	// RunErr makes every Run call fail when set.
	RunErr error

	// StopErr makes every Stop call fail when set.
	StopErr error

	// PingErr makes Ping fail when set.
	PingErr error

	// LogOutput is what Logs writes for any container. Defaults to a
	// fixed line when empty.
	LogOutput string

	// Built and Stopped record the order of successful calls.
	Built   []string
	Stopped []string
}

// NewFakeRuntime returns an empty fake.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{
		specs:     make(map[string]RunSpec),
		BuildErrs: make(map[string]error),
	}
}

func (f *FakeRuntime) BuildImage(ctx context.Context, name, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.BuildErrs[name]; err != nil {
		return err
	}
	f.Built = append(f.Built, name)
	return nil
}

func (f *FakeRuntime) Run(ctx context.Context, spec RunSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RunErr != nil {
		return "", f.RunErr
	}
	f.nextID++
	id := fmt.Sprintf("%064x", f.nextID)
	f.specs[id] = spec
	return id, nil
}

func (f *FakeRuntime) Stop(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StopErr != nil {
		return f.StopErr
	}
	if _, ok := f.specs[containerID]; !ok {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
	}
	delete(f.specs, containerID)
	f.Stopped = append(f.Stopped, containerID)
	return nil
}

func (f *FakeRuntime) Stats(ctx context.Context, containerID string) (*types.DockerStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.specs[containerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
	}
	return &types.DockerStats{
		ContainerID:   containerID,
		MemUsageBytes: 1024 * 1024,
		MemLimitBytes: uint64(spec.MemLimitBytes),
		CPUPercent:    1.5,
		PIDs:          3,
	}, nil
}

func (f *FakeRuntime) Logs(ctx context.Context, containerID string, w io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.specs[containerID]; !ok {
		return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
	}
	out := f.LogOutput
	if out == "" {
		out = "listening on 0.0.0.0\n"
	}
	_, err := io.WriteString(w, out)
	return err
}

func (f *FakeRuntime) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]ContainerInfo, 0, len(f.specs))
	for id, spec := range f.specs {
		out = append(out, ContainerInfo{
			ID:     id,
			Image:  spec.Image,
			State:  "running",
			Labels: spec.Labels,
		})
	}
	return out, nil
}

func (f *FakeRuntime) Ping(ctx context.Context) error {
	return f.PingErr
}

func (f *FakeRuntime) Close() error {
	return nil
}

// Running reports whether a container with the given ID exists.
func (f *FakeRuntime) Running(containerID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.specs[containerID]
	return ok
}

// Count returns the number of live fake containers.
func (f *FakeRuntime) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

// SpecFor returns the RunSpec a container was launched with.
func (f *FakeRuntime) SpecFor(containerID string) (RunSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	spec, ok := f.specs[containerID]
	return spec, ok
}

// Inject registers a container that the broker did not launch. Used to
// test orphan handling.
func (f *FakeRuntime) Inject(containerID string, spec RunSpec) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs[containerID] = spec
}
