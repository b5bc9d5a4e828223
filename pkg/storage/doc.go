// Package storage provides persistence for broker state with a small
// string-keyed interface: values, counters, and sets. Two backends
// implement it, Redis for the normal deployment and BoltDB for
// single-node setups with nothing else running.
//
// # Architecture
//
//	┌──────────────────────────┐
//	│    Store interface       │
//	│  Get/Set/Del/Incr        │
//	│  SAdd/SRem/SMembers/...  │
//	│  Pipelined (atomic)      │
//	└──────┬────────────┬──────┘
//	       │            │
//	┌──────▼─────┐ ┌────▼───────┐
//	│ RedisStore │ │ BoltStore  │
//	│ go-redis   │ │ bbolt      │
//	│ MULTI/EXEC │ │ one Update │
//	└────────────┘ └────────────┘
//
// # Storage Schema
//
// The broker keeps every piece of state under a flat key space; callers
// (pkg/instance) own the layout:
//
//	<container_id>      kv    instance record, JSON
//	instances           set   all live container IDs
//	ports               set   external ports in use, decimal strings
//	challenge:<name>    set   container IDs for one challenge
//	user:<user>         kv    container ID the user is assigned to
//	avoid:<user>        set   container IDs the user must not rejoin
//	prewarm             set   challenge names queued for prestart
//	instance_count      kv    all-time launch counter, decimal string
//
// # Transaction Model
//
// Mutations that touch a record and its indices must land together, or
// the indices lie. Pipelined collects writes through the Pipeline
// interface and applies them atomically:
//
//	err := store.Pipelined(ctx, func(p storage.Pipeline) error {
//		p.Set(id, record)
//		p.SAdd("instances", id)
//		p.Incr("instance_count")
//		return nil
//	})
//
// RedisStore wraps the batch in MULTI/EXEC via go-redis TxPipelined.
// BoltStore replays the queued writes inside a single Update
// transaction; bolt admits one writer at a time, so the batch is
// serialized and all-or-nothing. If the queue function returns an
// error, nothing is applied on either backend.
//
// # Backend Differences
//
// Redis sets are unordered; bolt sets are JSON arrays and keep
// insertion order. Callers that need a stable order sort for
// themselves. Counter values are decimal strings on both backends so
// Get on a counter key behaves identically.
//
// Missing keys: Get returns ErrKeyNotFound; set reads on missing keys
// return empty results, mirroring Redis semantics.
//
// # Limitations
//
//   - No TTLs; the broker reclaims state through its cleanup pass,
//     not through key expiry.
//   - BoltStore ignores the context on individual operations; bolt's
//     transactions are not cancelable midway.
//   - FlushAll exists for tests and the migration tool. Nothing in the
//     serving path calls it.
//
// # See Also
//
//   - pkg/instance: the repository that owns the key layout
//   - cmd/burrow-migrate: copies a bolt file into a Redis server
package storage
