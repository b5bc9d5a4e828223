package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrowctf/burrow/pkg/catalog"
	"github.com/burrowctf/burrow/pkg/events"
	"github.com/burrowctf/burrow/pkg/instance"
	"github.com/burrowctf/burrow/pkg/log"
	"github.com/burrowctf/burrow/pkg/metrics"
	"github.com/burrowctf/burrow/pkg/runtime"
	"github.com/burrowctf/burrow/pkg/storage"
	"github.com/burrowctf/burrow/pkg/types"
)

const (
	// PortMin and PortMax bound external port allocation: random draws
	// in [PortMin, PortMax).
	PortMin = 1025
	PortMax = 65535

	// MaxPortAttempts caps the number of draws before giving up.
	MaxPortAttempts = 32

	// prewarmHeadroom is the free-seat threshold: when an attachment
	// leaves fewer free seats than this, a warm-up is queued so the
	// pool never runs out of headroom while a container boots.
	prewarmHeadroom = 2
)

var (
	// ErrAlreadyAssigned is returned when a user who already holds a
	// seat asks for an instance.
	ErrAlreadyAssigned = errors.New("user already has an instance")

	// ErrForbidden is returned when a user references an instance they
	// are not seated on.
	ErrForbidden = errors.New("user is not on that instance")

	// ErrNoPortAvailable is returned when port allocation gives up.
	ErrNoPortAvailable = errors.New("no external port available")
)

// Scheduler is the assignment engine. All mutations of broker state
// run under one exclusive lock, held across runtime calls: container
// boots are seconds, so serialized starts are an accepted throughput
// ceiling in exchange for invariants that are trivially safe.
type Scheduler struct {
	mu      sync.Mutex
	repo    *instance.Repository
	catalog *catalog.Catalog
	runtime runtime.Runtime
	broker  *events.Broker
	logger  zerolog.Logger

	// pickPort draws one candidate port. Tests swap it out.
	pickPort func() int
}

// New creates a scheduler.
func New(repo *instance.Repository, cat *catalog.Catalog, rt runtime.Runtime, broker *events.Broker) *Scheduler {
	return &Scheduler{
		repo:    repo,
		catalog: cat,
		runtime: rt,
		broker:  broker,
		logger:  log.WithComponent("scheduler"),
		pickPort: func() int {
			return PortMin + rand.IntN(PortMax-PortMin)
		},
	}
}

// AssignInstance seats a user on an instance of the challenge, packing
// onto an existing one when possible and launching a fresh one
// otherwise. A user who already holds a seat anywhere gets
// ErrAlreadyAssigned.
func (s *Scheduler) AssignInstance(ctx context.Context, user, challengeName string) (*types.Instance, error) {
	// Mutations run to completion even if the client goes away
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.catalog.Get(challengeName)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.AssignedInstance(ctx, user)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s is on %s", ErrAlreadyAssigned, user, existing.ContainerID)
	}

	return s.assignLocked(ctx, user, ch)
}

// assignLocked walks the challenge's instances oldest first and seats
// the user on the first one with room that they are not avoiding. With
// no candidate it launches a fresh instance and seats them there.
func (s *Scheduler) assignLocked(ctx context.Context, user string, ch *types.Challenge) (*types.Instance, error) {
	candidates, err := s.repo.ListByChallenge(ctx, ch.Name)
	if err != nil {
		return nil, err
	}

	for _, cand := range candidates {
		if cand.IsFull() {
			continue
		}
		avoided, err := s.repo.IsAvoided(ctx, user, cand.ContainerID)
		if err != nil {
			return nil, err
		}
		if avoided {
			continue
		}
		return s.attachLocked(ctx, cand, user, ch)
	}

	inst, err := s.startInstanceLocked(ctx, ch)
	if err != nil {
		return nil, err
	}
	return s.attachLocked(ctx, inst, user, ch)
}

// attachLocked seats the user and persists the record together with
// the assignment. When the seat leaves the instance short on headroom
// and the challenge allows it, a warm-up is queued in the same batch.
func (s *Scheduler) attachLocked(ctx context.Context, inst *types.Instance, user string, ch *types.Challenge) (*types.Instance, error) {
	inst.Attach(user)
	trigger := ch.CanPrestart && len(inst.Users)+prewarmHeadroom > inst.UserLimit

	err := s.repo.Pipelined(ctx, func(p storage.Pipeline) error {
		if err := s.repo.AppendUpdate(p, inst); err != nil {
			return err
		}
		s.repo.AppendAssign(p, user, inst.ContainerID)
		if trigger {
			s.repo.AppendPrewarmAdd(p, ch.Name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist attachment: %w", err)
	}

	s.broker.Publish(events.UserAttached, "seat granted", map[string]string{
		"user":         user,
		"challenge":    inst.Challenge,
		"container_id": inst.ContainerID,
	})
	s.logger.Info().
		Str("user", user).
		Str("challenge", inst.Challenge).
		Str("container_id", inst.ContainerID).
		Int("seats_taken", len(inst.Users)).
		Msg("user attached")
	return inst, nil
}

// StartInstance launches one instance of the challenge with no users.
func (s *Scheduler) StartInstance(ctx context.Context, challengeName string) (*types.Instance, error) {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, err := s.catalog.Get(challengeName)
	if err != nil {
		return nil, err
	}
	return s.startInstanceLocked(ctx, ch)
}

func (s *Scheduler) startInstanceLocked(ctx context.Context, ch *types.Challenge) (*types.Instance, error) {
	port, err := s.allocatePortLocked(ctx)
	if err != nil {
		return nil, err
	}

	containerID, err := s.runtime.Run(ctx, runtime.RunSpec{
		Image:         ch.Name,
		InternalPort:  ch.InternalPort,
		ExternalPort:  port,
		MemLimitBytes: ch.MemLimitBytes(),
		Labels: map[string]string{
			runtime.LabelManaged:   "true",
			runtime.LabelChallenge: ch.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", ch.Name, err)
	}

	inst := &types.Instance{
		ContainerID:  containerID,
		Challenge:    ch.Name,
		ExternalPort: port,
		StartedAt:    time.Now().Unix(),
		Users:        []string{},
		UserLimit:    ch.UserLimit,
	}

	err = s.repo.Pipelined(ctx, func(p storage.Pipeline) error {
		if err := s.repo.AppendSaveNew(p, inst); err != nil {
			return err
		}
		s.repo.AppendPrewarmRemove(p, ch.Name)
		return nil
	})
	if err != nil {
		// The container is running but unrecorded; stop it so it does
		// not leak. The port claim died with the failed batch.
		if stopErr := s.runtime.Stop(ctx, containerID); stopErr != nil {
			s.logger.Error().Err(stopErr).
				Str("container_id", containerID).
				Msg("failed to stop unrecorded container")
		}
		return nil, fmt.Errorf("failed to persist instance: %w", err)
	}

	metrics.InstancesLaunchedTotal.Inc()
	s.broker.Publish(events.InstanceStarted, "instance launched", map[string]string{
		"challenge":    ch.Name,
		"container_id": inst.ContainerID,
	})
	s.logger.Info().
		Str("challenge", ch.Name).
		Str("container_id", inst.ContainerID).
		Int("external_port", port).
		Msg("instance launched")
	return inst, nil
}

// allocatePortLocked draws random ports until one is unclaimed. The
// winning port is not reserved here; it is committed as part of the
// instance save, and the scheduler lock serializes allocators.
func (s *Scheduler) allocatePortLocked(ctx context.Context) (int, error) {
	used, err := s.repo.UsedPorts(ctx)
	if err != nil {
		return 0, err
	}
	for i := 0; i < MaxPortAttempts; i++ {
		port := s.pickPort()
		if !used[port] {
			return port, nil
		}
		metrics.PortAllocationRetriesTotal.Inc()
	}
	return 0, ErrNoPortAvailable
}

// StopInstance stops the container and forgets the instance. Stop
// failures other than an already-missing container are logged, not
// fatal: the record removal is what frees the seat bookkeeping.
func (s *Scheduler) StopInstance(ctx context.Context, inst *types.Instance) error {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopInstanceLocked(ctx, inst)
}

func (s *Scheduler) stopInstanceLocked(ctx context.Context, inst *types.Instance) error {
	if err := s.runtime.Stop(ctx, inst.ContainerID); err != nil {
		if !errors.Is(err, runtime.ErrContainerNotFound) {
			s.logger.Warn().Err(err).
				Str("container_id", inst.ContainerID).
				Msg("container stop failed, forgetting instance anyway")
		}
	}

	if err := s.repo.Delete(ctx, inst); err != nil {
		return fmt.Errorf("failed to forget instance %s: %w", inst.ContainerID, err)
	}

	metrics.InstancesStoppedTotal.Inc()
	s.broker.Publish(events.InstanceStopped, "instance stopped", map[string]string{
		"challenge":    inst.Challenge,
		"container_id": inst.ContainerID,
	})
	s.logger.Info().
		Str("challenge", inst.Challenge).
		Str("container_id", inst.ContainerID).
		Msg("instance stopped")
	return nil
}

// Disconnect releases the user's seat, their assignment, and their
// avoid list. Unknown users are a no-op.
func (s *Scheduler) Disconnect(ctx context.Context, user string) error {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, err := s.repo.AssignedInstance(ctx, user)
	if err != nil {
		return err
	}
	if inst != nil {
		inst.Detach(user)
	}

	err = s.repo.Pipelined(ctx, func(p storage.Pipeline) error {
		if inst != nil {
			if err := s.repo.AppendUpdate(p, inst); err != nil {
				return err
			}
		}
		s.repo.AppendUnassign(p, user)
		s.repo.AppendAvoidClear(p, user)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist disconnect: %w", err)
	}

	if inst != nil {
		s.broker.Publish(events.UserDetached, "seat released", map[string]string{
			"user":         user,
			"challenge":    inst.Challenge,
			"container_id": inst.ContainerID,
		})
		s.logger.Info().
			Str("user", user).
			Str("container_id", inst.ContainerID).
			Msg("user disconnected")
	}
	return nil
}

// Reset moves the user off the given instance: they leave their seat,
// the instance joins their avoid list, and they are seated elsewhere,
// on a fresh instance if nothing else fits. The old instance keeps
// running; the cleanup pass reclaims it once empty.
func (s *Scheduler) Reset(ctx context.Context, user, containerID string) (*types.Instance, error) {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	assigned, err := s.repo.Assignment(ctx, user)
	if err != nil {
		return nil, err
	}
	if assigned == "" || assigned != containerID {
		return nil, fmt.Errorf("%w: %s is not on %s", ErrForbidden, user, containerID)
	}

	inst, err := s.repo.Get(ctx, containerID)
	if err != nil {
		return nil, err
	}

	ch, err := s.catalog.Get(inst.Challenge)
	if err != nil {
		// Challenge was removed; there is nothing to move the user to
		return nil, err
	}

	inst.Detach(user)
	err = s.repo.Pipelined(ctx, func(p storage.Pipeline) error {
		if err := s.repo.AppendUpdate(p, inst); err != nil {
			return err
		}
		s.repo.AppendUnassign(p, user)
		s.repo.AppendAvoid(p, user, containerID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist reset: %w", err)
	}

	metrics.UserResetsTotal.Inc()
	s.broker.Publish(events.UserReset, "user reset", map[string]string{
		"user":         user,
		"challenge":    inst.Challenge,
		"container_id": containerID,
	})
	s.logger.Info().
		Str("user", user).
		Str("old_container_id", containerID).
		Msg("user reset, reseating")

	return s.assignLocked(ctx, user, ch)
}

// GetInstance returns one instance record.
func (s *Scheduler) GetInstance(ctx context.Context, containerID string) (*types.Instance, error) {
	return s.repo.Get(ctx, containerID)
}

// ListInstanceIDs returns the IDs of all live instances, oldest first.
func (s *Scheduler) ListInstanceIDs(ctx context.Context) ([]string, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(all))
	for i, inst := range all {
		ids[i] = inst.ContainerID
	}
	return ids, nil
}

// InstanceForUser returns the instance the user is seated on.
func (s *Scheduler) InstanceForUser(ctx context.Context, user string) (*types.Instance, error) {
	inst, err := s.repo.AssignedInstance(ctx, user)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, fmt.Errorf("%w: no instance for user %s", instance.ErrInstanceNotFound, user)
	}
	return inst, nil
}

// DockerStats returns a resource snapshot for a live instance.
func (s *Scheduler) DockerStats(ctx context.Context, containerID string) (*types.DockerStats, error) {
	if _, err := s.repo.Get(ctx, containerID); err != nil {
		return nil, err
	}
	return s.runtime.Stats(ctx, containerID)
}

// Logs copies a live instance's container log into w.
func (s *Scheduler) Logs(ctx context.Context, containerID string, w io.Writer) error {
	if _, err := s.repo.Get(ctx, containerID); err != nil {
		return err
	}
	return s.runtime.Logs(ctx, containerID, w)
}

// Stats returns the aggregate fleet view.
func (s *Scheduler) Stats(ctx context.Context) (*types.BrokerStats, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountAllTime(ctx)
	if err != nil {
		return nil, err
	}

	distinct := make(map[string]bool)
	for _, inst := range all {
		for _, u := range inst.Users {
			distinct[u] = true
		}
	}

	return &types.BrokerStats{
		CurrentInstances: int64(len(all)),
		TotalInstances:   total,
		CurrentUsers:     len(distinct),
		Challenges:       s.catalog.Len(),
	}, nil
}
