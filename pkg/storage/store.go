package storage

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by Get when the key has no value.
var ErrKeyNotFound = errors.New("key not found")

// Store is the persistence interface for broker state. It is a small
// string-keyed KV surface plus set operations, matching what the broker
// actually uses: instance records and indices. Implementations must
// make Pipelined apply all queued writes atomically so that a record
// and its indices never diverge.
type Store interface {
	// Get returns the value stored at key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// Incr atomically increments the integer at key and returns the
	// new value. A missing key counts as zero.
	Incr(ctx context.Context, key string) (int64, error)

	// SAdd adds members to the set at key, creating it if needed.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error

	// SMembers returns all members of the set at key. A missing set
	// yields an empty slice, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// SIsMember reports whether member is in the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// SCard returns the cardinality of the set at key.
	SCard(ctx context.Context, key string) (int64, error)

	// Pipelined runs fn to queue writes on a Pipeline, then applies
	// them atomically. If fn returns an error nothing is applied.
	Pipelined(ctx context.Context, fn func(Pipeline) error) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// FlushAll removes every key. Used by tests and the migration tool.
	FlushAll(ctx context.Context) error

	// Close releases the underlying connection or file handle.
	Close() error
}

// Pipeline queues writes for atomic application. Methods mirror the
// write half of Store but do not return errors; failures surface from
// Pipelined when the batch is applied.
type Pipeline interface {
	Set(key, value string)
	Del(keys ...string)
	Incr(key string)
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
}
