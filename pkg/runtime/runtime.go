package runtime

import (
	"context"
	"errors"
	"io"

	"github.com/burrowctf/burrow/pkg/types"
)

var (
	// ErrBuildFailed wraps image build errors so callers can mark the
	// challenge broken instead of aborting startup.
	ErrBuildFailed = errors.New("image build failed")

	// ErrContainerNotFound is returned when the engine has no container
	// with the given ID.
	ErrContainerNotFound = errors.New("container not found")

	// ErrRuntimeUnavailable is returned when the engine cannot be reached.
	ErrRuntimeUnavailable = errors.New("container runtime unavailable")
)

// RunSpec describes one container launch: which image, the internal
// port to publish, the host port to publish it on, and resource caps.
type RunSpec struct {
	// Image is the image tag to run (the challenge name).
	Image string

	// InternalPort is the TCP port exposed inside the container.
	InternalPort int

	// ExternalPort is the host port the internal port is published on.
	ExternalPort int

	// MemLimitBytes caps both memory and memory+swap. Zero means no cap.
	MemLimitBytes int64

	// Labels are attached to the container for identification.
	Labels map[string]string
}

// ContainerInfo is a minimal view of a container known to the engine.
type ContainerInfo struct {
	ID     string
	Image  string
	Names  []string
	State  string
	Labels map[string]string
}

// Runtime abstracts the container engine. The Docker implementation is
// the only production one; tests substitute fakes.
type Runtime interface {
	// BuildImage builds the image for a challenge from a directory
	// containing a Dockerfile, tagging it with the challenge name.
	// Build failures return an error wrapping ErrBuildFailed.
	BuildImage(ctx context.Context, name, dir string) error

	// Run creates and starts a container from spec and returns its ID.
	// If the container starts but cannot be used it is the caller's
	// job to Stop it; Run itself removes the container when start
	// fails after create.
	Run(ctx context.Context, spec RunSpec) (string, error)

	// Stop stops and removes the container. Missing containers return
	// an error wrapping ErrContainerNotFound.
	Stop(ctx context.Context, containerID string) error

	// Stats returns a one-shot resource sample for the container.
	Stats(ctx context.Context, containerID string) (*types.DockerStats, error)

	// Logs copies the container's stdout and stderr into w.
	Logs(ctx context.Context, containerID string, w io.Writer) error

	// ListContainers returns the containers the engine knows about,
	// running ones only.
	ListContainers(ctx context.Context) ([]ContainerInfo, error)

	// Ping verifies the engine is reachable.
	Ping(ctx context.Context) error

	// Close releases the engine connection.
	Close() error
}
