package instance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/burrowctf/burrow/pkg/storage"
	"github.com/burrowctf/burrow/pkg/types"
)

// ErrInstanceNotFound is returned when no record exists for an ID.
var ErrInstanceNotFound = errors.New("instance not found")

// Store key layout. Instance records live under the bare container ID;
// everything else is a fixed key or a prefixed per-entity key.
const (
	instancesKey = "instances"
	portsKey     = "ports"
	prewarmKey   = "prewarm"
	countKey     = "instance_count"
)

func challengeKey(name string) string { return "challenge:" + name }
func userKey(user string) string      { return "user:" + user }
func avoidKey(user string) string     { return "avoid:" + user }

// Repository persists instance records and keeps their indices in step.
// Every mutation that touches more than one key goes through a single
// store pipeline, so a crash can never leave a record without its
// indices or vice versa. Append* methods queue the same writes on a
// caller-owned pipeline so larger operations stay atomic too.
type Repository struct {
	store storage.Store
}

// NewRepository creates a repository on the given store.
func NewRepository(store storage.Store) *Repository {
	return &Repository{store: store}
}

// Get returns the instance record for a container ID.
func (r *Repository) Get(ctx context.Context, containerID string) (*types.Instance, error) {
	data, err := r.store.Get(ctx, containerID)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, containerID)
	}
	if err != nil {
		return nil, err
	}
	var inst types.Instance
	if err := json.Unmarshal([]byte(data), &inst); err != nil {
		return nil, fmt.Errorf("corrupt record %s: %w", containerID, err)
	}
	return &inst, nil
}

// List returns all live instances ordered by start time, then ID, so
// callers that pick "the oldest" or "the youngest" get a stable answer.
func (r *Repository) List(ctx context.Context) ([]*types.Instance, error) {
	ids, err := r.store.SMembers(ctx, instancesKey)
	if err != nil {
		return nil, err
	}
	return r.getAll(ctx, ids)
}

// ListByChallenge returns the live instances of one challenge, ordered
// by start time, then ID.
func (r *Repository) ListByChallenge(ctx context.Context, challenge string) ([]*types.Instance, error) {
	ids, err := r.store.SMembers(ctx, challengeKey(challenge))
	if err != nil {
		return nil, err
	}
	return r.getAll(ctx, ids)
}

func (r *Repository) getAll(ctx context.Context, ids []string) ([]*types.Instance, error) {
	out := make([]*types.Instance, 0, len(ids))
	for _, id := range ids {
		inst, err := r.Get(ctx, id)
		if errors.Is(err, ErrInstanceNotFound) {
			// Index entry without a record; skip rather than fail the listing
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt < out[j].StartedAt
		}
		return out[i].ContainerID < out[j].ContainerID
	})
	return out, nil
}

// Exists reports whether the ID is in the live-instance index.
func (r *Repository) Exists(ctx context.Context, containerID string) (bool, error) {
	return r.store.SIsMember(ctx, instancesKey, containerID)
}

// Assignment returns the container ID the user is assigned to, or ""
// when the user has no seat.
func (r *Repository) Assignment(ctx context.Context, user string) (string, error) {
	id, err := r.store.Get(ctx, userKey(user))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// AssignedInstance resolves the user's assignment to a full record.
// Returns nil without error when the user has no seat.
func (r *Repository) AssignedInstance(ctx context.Context, user string) (*types.Instance, error) {
	id, err := r.Assignment(ctx, user)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, nil
	}
	inst, err := r.Get(ctx, id)
	if errors.Is(err, ErrInstanceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inst, nil
}

// IsAvoided reports whether the user has been reset off this instance
// and must not be seated on it again.
func (r *Repository) IsAvoided(ctx context.Context, user, containerID string) (bool, error) {
	return r.store.SIsMember(ctx, avoidKey(user), containerID)
}

// UsedPorts returns the set of external ports currently claimed.
func (r *Repository) UsedPorts(ctx context.Context) (map[int]bool, error) {
	members, err := r.store.SMembers(ctx, portsKey)
	if err != nil {
		return nil, err
	}
	used := make(map[int]bool, len(members))
	for _, m := range members {
		port, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		used[port] = true
	}
	return used, nil
}

// CountLive returns the number of live instances.
func (r *Repository) CountLive(ctx context.Context) (int64, error) {
	return r.store.SCard(ctx, instancesKey)
}

// CountAllTime returns the all-time launch counter.
func (r *Repository) CountAllTime(ctx context.Context) (int64, error) {
	data, err := r.store.Get(ctx, countKey)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter: %w", err)
	}
	return n, nil
}

// PrewarmList returns the challenges queued for prestart.
func (r *Repository) PrewarmList(ctx context.Context) ([]string, error) {
	return r.store.SMembers(ctx, prewarmKey)
}

// PrewarmAdd queues challenges for the prestart pass.
func (r *Repository) PrewarmAdd(ctx context.Context, names ...string) error {
	return r.store.SAdd(ctx, prewarmKey, names...)
}

// PrewarmRemove drops challenges from the prestart queue.
func (r *Repository) PrewarmRemove(ctx context.Context, names ...string) error {
	return r.store.SRem(ctx, prewarmKey, names...)
}

// SaveNew writes a freshly launched instance: the record, the
// live-instance and per-challenge indices, the port claim, the launch
// counter, and the seat assignment of any user already on board.
func (r *Repository) SaveNew(ctx context.Context, inst *types.Instance) error {
	return r.store.Pipelined(ctx, func(p storage.Pipeline) error {
		return r.AppendSaveNew(p, inst)
	})
}

// Update rewrites the record only. Indices are untouched.
func (r *Repository) Update(ctx context.Context, inst *types.Instance) error {
	data, err := marshalRecord(inst)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, inst.ContainerID, data)
}

// Delete removes the record, its index entries, its port claim, and
// the assignments of every seated user, atomically.
func (r *Repository) Delete(ctx context.Context, inst *types.Instance) error {
	return r.store.Pipelined(ctx, func(p storage.Pipeline) error {
		r.AppendDelete(p, inst)
		return nil
	})
}

// Attach persists a seat grant: the updated record plus the user's
// assignment, atomically. The caller has already seated the user on
// the in-memory record.
func (r *Repository) Attach(ctx context.Context, inst *types.Instance, user string) error {
	return r.store.Pipelined(ctx, func(p storage.Pipeline) error {
		if err := r.AppendUpdate(p, inst); err != nil {
			return err
		}
		r.AppendAssign(p, user, inst.ContainerID)
		return nil
	})
}

// Detach persists a seat release. With avoid set, the instance joins
// the user's avoid list so a later request cannot seat them there again.
func (r *Repository) Detach(ctx context.Context, inst *types.Instance, user string, avoid bool) error {
	return r.store.Pipelined(ctx, func(p storage.Pipeline) error {
		if err := r.AppendUpdate(p, inst); err != nil {
			return err
		}
		r.AppendUnassign(p, user)
		if avoid {
			r.AppendAvoid(p, user, inst.ContainerID)
		}
		return nil
	})
}

// AppendSaveNew queues the writes of SaveNew on p.
func (r *Repository) AppendSaveNew(p storage.Pipeline, inst *types.Instance) error {
	data, err := marshalRecord(inst)
	if err != nil {
		return err
	}
	p.Set(inst.ContainerID, data)
	p.SAdd(instancesKey, inst.ContainerID)
	p.SAdd(challengeKey(inst.Challenge), inst.ContainerID)
	p.SAdd(portsKey, strconv.Itoa(inst.ExternalPort))
	p.Incr(countKey)
	for _, u := range inst.Users {
		p.Set(userKey(u), inst.ContainerID)
	}
	return nil
}

// AppendUpdate queues a record rewrite on p.
func (r *Repository) AppendUpdate(p storage.Pipeline, inst *types.Instance) error {
	data, err := marshalRecord(inst)
	if err != nil {
		return err
	}
	p.Set(inst.ContainerID, data)
	return nil
}

// AppendDelete queues the writes of Delete on p.
func (r *Repository) AppendDelete(p storage.Pipeline, inst *types.Instance) {
	p.Del(inst.ContainerID)
	p.SRem(instancesKey, inst.ContainerID)
	p.SRem(challengeKey(inst.Challenge), inst.ContainerID)
	p.SRem(portsKey, strconv.Itoa(inst.ExternalPort))
	for _, u := range inst.Users {
		p.Del(userKey(u))
	}
}

// AppendAssign queues the user's seat assignment on p.
func (r *Repository) AppendAssign(p storage.Pipeline, user, containerID string) {
	p.Set(userKey(user), containerID)
}

// AppendUnassign queues removal of the user's seat assignment on p.
func (r *Repository) AppendUnassign(p storage.Pipeline, user string) {
	p.Del(userKey(user))
}

// AppendAvoid queues an avoid-list entry on p.
func (r *Repository) AppendAvoid(p storage.Pipeline, user, containerID string) {
	p.SAdd(avoidKey(user), containerID)
}

// AppendAvoidClear queues removal of the user's entire avoid list on p.
func (r *Repository) AppendAvoidClear(p storage.Pipeline, user string) {
	p.Del(avoidKey(user))
}

// AppendPrewarmAdd queues a prestart request on p.
func (r *Repository) AppendPrewarmAdd(p storage.Pipeline, name string) {
	p.SAdd(prewarmKey, name)
}

// AppendPrewarmRemove queues removal of a prestart request on p.
func (r *Repository) AppendPrewarmRemove(p storage.Pipeline, name string) {
	p.SRem(prewarmKey, name)
}

// Pipelined exposes the underlying store's pipeline so the scheduler
// can compose multi-step mutations into one atomic batch.
func (r *Repository) Pipelined(ctx context.Context, fn func(storage.Pipeline) error) error {
	return r.store.Pipelined(ctx, fn)
}

func marshalRecord(inst *types.Instance) (string, error) {
	if inst.Users == nil {
		inst.Users = []string{}
	}
	data, err := json.Marshal(inst)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return string(data), nil
}
