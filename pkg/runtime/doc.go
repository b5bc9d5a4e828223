// Package runtime abstracts the container engine behind a small
// interface so the scheduler and catalog never talk to Docker
// directly. The production implementation drives a Docker engine
// through the official client; tests use the in-memory fake.
//
// # Architecture
//
//	┌───────────────────────────────┐
//	│   Runtime interface           │
//	│   BuildImage / Run / Stop     │
//	│   Stats / Logs / List / Ping  │
//	└───────┬───────────────┬───────┘
//	        │               │
//	┌───────▼───────┐ ┌─────▼───────┐
//	│ DockerRuntime │ │ FakeRuntime │
//	│ docker client │ │ in-memory   │
//	└───────┬───────┘ └─────────────┘
//	        │
//	┌───────▼───────┐
//	│ Docker engine │
//	└───────────────┘
//
// # Container Lifecycle
//
// Run is create-then-start. When start fails after a successful
// create, the half-made container is force-removed so nothing leaks;
// the caller sees only the start error. Stop is stop-then-remove with
// a grace period (DefaultStopTimeout): the engine sends SIGTERM, waits,
// then SIGKILLs. A container that vanished between stop and remove is
// treated as stopped.
//
// Every container the broker launches carries the LabelManaged and
// LabelChallenge labels. The orphan sweep uses them to distinguish
// broker containers from everything else running on the host.
//
// # Image Builds
//
// BuildImage tars the challenge directory (Dockerfile at its root) and
// submits it as the build context. Docker reports most build failures
// inside the response stream rather than as an HTTP error, so the
// stream is drained through jsonmessage before the build is declared
// successful. All build failures wrap ErrBuildFailed; the catalog uses
// that to mark a challenge broken and carry on.
//
// # Stats and Logs
//
// Stats takes one non-streaming sample and flattens it into
// types.DockerStats. The CPU percentage follows the docker CLI
// calculation from the cpu and precpu deltas; a zeroed precpu sample
// yields 0 rather than a misleading cumulative figure. Memory usage
// subtracts inactive_file when the kernel reports it, matching what
// `docker stats` displays.
//
// Logs copies the container's entire stdout and stderr into the given
// writer. Containers are created without a TTY, so the engine
// multiplexes both streams into one connection; stdcopy demuxes them.
//
// # Error Classification
//
//   - ErrBuildFailed: image build did not produce an image
//   - ErrContainerNotFound: the engine has no such container
//   - ErrRuntimeUnavailable: the engine itself is unreachable
//
// Callers branch on these with errors.Is; everything else is an
// internal engine error passed through wrapped.
package runtime
