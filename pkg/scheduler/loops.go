package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/burrowctf/burrow/pkg/runtime"
	"github.com/burrowctf/burrow/pkg/types"
)

// Cleanup reclaims surplus instances, one challenge at a time. For each
// challenge with live instances:
//
//  1. Instances are split into empty and occupied.
//  2. Every empty instance except the youngest is stopped, so at most
//     one warm spare survives a pass.
//  3. The surviving spare is stopped too once it outlives the
//     challenge's idle lifetime.
//  4. A challenge left without a free-seat instance is queued for
//     prestart, when it allows prestarting.
//
// Challenges no longer in the catalog drain: no spare is kept for them
// and every empty instance is stopped.
func (s *Scheduler) Cleanup(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.repo.List(ctx)
	if err != nil {
		return err
	}

	byChallenge := make(map[string][]*types.Instance)
	for _, inst := range all {
		byChallenge[inst.Challenge] = append(byChallenge[inst.Challenge], inst)
	}
	names := make([]string, 0, len(byChallenge))
	for name := range byChallenge {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now()
	for _, name := range names {
		s.cleanupChallengeLocked(ctx, name, byChallenge[name], now)
	}
	return nil
}

func (s *Scheduler) cleanupChallengeLocked(ctx context.Context, name string, instances []*types.Instance, now time.Time) {
	ch, err := s.catalog.Get(name)
	inCatalog := err == nil

	// The free-seat check covers the snapshot before any stops: an
	// empty spare about to be kept counts as capacity.
	hasFree := false
	var empties []*types.Instance
	for _, inst := range instances {
		if len(inst.Users)+prewarmHeadroom <= inst.UserLimit {
			hasFree = true
		}
		if inst.IsEmpty() {
			empties = append(empties, inst)
		}
	}

	// instances arrive oldest first, so the youngest empty is last
	for i, inst := range empties {
		keep := inCatalog && i == len(empties)-1
		if keep && ch.LifetimeSeconds > 0 && inst.Age(now) > time.Duration(ch.LifetimeSeconds)*time.Second {
			keep = false
		}
		if keep {
			continue
		}
		if err := s.stopInstanceLocked(ctx, inst); err != nil {
			s.logger.Error().Err(err).
				Str("container_id", inst.ContainerID).
				Msg("cleanup failed to stop instance")
		}
	}

	if inCatalog && ch.CanPrestart && !hasFree {
		if err := s.repo.PrewarmAdd(ctx, name); err != nil {
			s.logger.Error().Err(err).Str("challenge", name).Msg("failed to queue prestart")
		}
	}
}

// Prestart drains the prewarm queue, launching one instance per queued
// challenge. A launch failure leaves the entry for the next pass;
// entries for challenges that are gone or no longer prestartable are
// dropped.
func (s *Scheduler) Prestart(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	queued, err := s.repo.PrewarmList(ctx)
	if err != nil {
		return err
	}
	sort.Strings(queued)

	for _, name := range queued {
		ch, err := s.catalog.Get(name)
		if err != nil || !ch.CanPrestart {
			if rmErr := s.repo.PrewarmRemove(ctx, name); rmErr != nil {
				s.logger.Error().Err(rmErr).Str("challenge", name).Msg("failed to drop stale prestart entry")
			}
			continue
		}
		if _, err := s.startInstanceLocked(ctx, ch); err != nil {
			s.logger.Warn().Err(err).Str("challenge", name).Msg("prestart launch failed, will retry")
		}
	}
	return nil
}

// SweepOrphans stops containers that carry the broker's label but have
// no record, which can happen when a crash lands between a container
// start and its save.
func (s *Scheduler) SweepOrphans(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	containers, err := s.runtime.ListContainers(ctx)
	if err != nil {
		return err
	}

	for _, c := range containers {
		if c.Labels[runtime.LabelManaged] != "true" {
			continue
		}
		known, err := s.repo.Exists(ctx, c.ID)
		if err != nil {
			s.logger.Error().Err(err).Str("container_id", c.ID).Msg("orphan check failed")
			continue
		}
		if known {
			continue
		}
		s.logger.Warn().
			Str("container_id", c.ID).
			Str("challenge", c.Labels[runtime.LabelChallenge]).
			Msg("stopping orphaned container")
		if err := s.runtime.Stop(ctx, c.ID); err != nil {
			s.logger.Error().Err(err).Str("container_id", c.ID).Msg("failed to stop orphan")
		}
	}
	return nil
}

// SeedWarmInstances launches one instance for every prestartable
// challenge that has none. On a fresh boot that warms the whole
// catalog; after a restart, challenges with surviving instances are
// left alone. Launch failures are queued for the prestart pass.
func (s *Scheduler) SeedWarmInstances(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.catalog.Prestartable() {
		existing, err := s.repo.ListByChallenge(ctx, ch.Name)
		if err != nil {
			s.logger.Error().Err(err).Str("challenge", ch.Name).Msg("seed check failed")
			continue
		}
		if len(existing) > 0 {
			continue
		}
		if _, err := s.startInstanceLocked(ctx, ch); err != nil {
			s.logger.Warn().Err(err).Str("challenge", ch.Name).Msg("seed launch failed, queueing prestart")
			if qErr := s.repo.PrewarmAdd(ctx, ch.Name); qErr != nil {
				s.logger.Error().Err(qErr).Str("challenge", ch.Name).Msg("failed to queue prestart")
			}
		}
	}
}
