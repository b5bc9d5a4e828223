package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/rs/zerolog"

	"github.com/burrowctf/burrow/pkg/log"
	"github.com/burrowctf/burrow/pkg/types"
)

const (
	// DefaultStopTimeout is how long a container gets to exit on
	// SIGTERM before the engine sends SIGKILL.
	DefaultStopTimeout = 5 * time.Second

	// LabelChallenge marks a container with the challenge it serves.
	LabelChallenge = "burrow.challenge"

	// LabelManaged marks a container as launched by this broker.
	LabelManaged = "burrow.managed"
)

// DockerRuntime implements Runtime against a Docker engine reachable
// through the standard environment (DOCKER_HOST et al).
type DockerRuntime struct {
	client *dockerclient.Client
	logger zerolog.Logger
}

// NewDockerRuntime creates a runtime from the environment. API version
// negotiation keeps it working across engine releases.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{
		client: cli,
		logger: log.WithComponent("runtime"),
	}, nil
}

// BuildImage tars dir and submits it as the build context, tagging the
// result with name. The build stream is drained so that failures
// surfaced mid-stream are reported.
func (r *DockerRuntime) BuildImage(ctx context.Context, name, dir string) error {
	buildCtx, err := archive.TarWithOptions(dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("%w: %s: tar context: %v", ErrBuildFailed, name, err)
	}
	defer buildCtx.Close()

	resp, err := r.client.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:        []string{name},
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBuildFailed, name, err)
	}
	defer resp.Body.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, io.Discard, 0, false, nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBuildFailed, name, err)
	}

	r.logger.Info().Str("image", name).Msg("image built")
	return nil
}

// Run creates and starts a container. If start fails after create, the
// half-made container is removed before returning the error.
func (r *DockerRuntime) Run(ctx context.Context, spec RunSpec) (string, error) {
	internal, err := nat.NewPort("tcp", strconv.Itoa(spec.InternalPort))
	if err != nil {
		return "", fmt.Errorf("invalid internal port %d: %w", spec.InternalPort, err)
	}

	cfg := &container.Config{
		Image: spec.Image,
		ExposedPorts: nat.PortSet{
			internal: struct{}{},
		},
		Labels: spec.Labels,
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			internal: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.ExternalPort)},
			},
		},
		Resources: container.Resources{
			Memory:     spec.MemLimitBytes,
			MemorySwap: spec.MemLimitBytes,
		},
	}

	resp, err := r.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := r.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := r.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			r.logger.Error().Err(rmErr).Str("container_id", resp.ID).Msg("failed to remove container after start failure")
		}
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	r.logger.Debug().
		Str("container_id", resp.ID).
		Str("image", spec.Image).
		Int("external_port", spec.ExternalPort).
		Msg("container started")
	return resp.ID, nil
}

// Stop stops the container with the default grace period, then removes it.
func (r *DockerRuntime) Stop(ctx context.Context, containerID string) error {
	timeout := int(DefaultStopTimeout.Seconds())
	if err := r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return fmt.Errorf("failed to stop container: %w", err)
	}

	if err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		// Already gone is fine; stopping was the point
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container: %w", err)
	}

	r.logger.Debug().Str("container_id", containerID).Msg("container stopped and removed")
	return nil
}

// Stats reads a single non-streaming sample and flattens it.
func (r *DockerRuntime) Stats(ctx context.Context, containerID string) (*types.DockerStats, error) {
	resp, err := r.client.ContainerStats(ctx, containerID, false)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}

	return flattenStats(containerID, &raw), nil
}

// Logs copies the container's full stdout and stderr into w. Containers
// are created without a TTY, so the multiplexed stream is demuxed.
func (r *DockerRuntime) Logs(ctx context.Context, containerID string, w io.Writer) error {
	rc, err := r.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return fmt.Errorf("failed to read logs: %w", err)
	}
	defer rc.Close()

	if _, err := stdcopy.StdCopy(w, w, rc); err != nil {
		return fmt.Errorf("failed to copy logs: %w", err)
	}
	return nil
}

// ListContainers returns running containers only.
func (r *DockerRuntime) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	containers, err := r.client.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	out := make([]ContainerInfo, 0, len(containers))
	for _, c := range containers {
		out = append(out, ContainerInfo{
			ID:     c.ID,
			Image:  c.Image,
			Names:  c.Names,
			State:  string(c.State),
			Labels: c.Labels,
		})
	}
	return out, nil
}

// Ping verifies the engine is reachable.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
	}
	return nil
}

// Close closes the client connection
func (r *DockerRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// flattenStats reduces the engine's stats payload to the fields the
// API exposes. CPU percent follows the docker CLI calculation; with a
// zeroed precpu sample it reports 0 rather than a bogus cumulative
// figure.
func flattenStats(containerID string, raw *container.StatsResponse) *types.DockerStats {
	mem := raw.MemoryStats.Usage
	if inactive, ok := raw.MemoryStats.Stats["inactive_file"]; ok && inactive < mem {
		mem -= inactive
	}

	var percent float64
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
	if cpuDelta > 0 && sysDelta > 0 && raw.PreCPUStats.SystemUsage > 0 {
		cpus := float64(raw.CPUStats.OnlineCPUs)
		if cpus == 0 {
			cpus = float64(len(raw.CPUStats.CPUUsage.PercpuUsage))
		}
		percent = cpuDelta / sysDelta * cpus * 100.0
	}

	return &types.DockerStats{
		ContainerID:   containerID,
		MemUsageBytes: mem,
		MemLimitBytes: raw.MemoryStats.Limit,
		CPUPercent:    percent,
		PIDs:          raw.PidsStats.Current,
	}
}
