// Package instance persists running-instance records and the indices
// that make them queryable. It is the only package that knows the
// store's key layout; everything above it deals in types.Instance.
//
// # Key Layout
//
//	<container_id>      instance record, JSON
//	instances           set of all live container IDs
//	ports               set of claimed external ports
//	challenge:<name>    set of container IDs per challenge
//	user:<user>         the container ID a user is assigned to
//	avoid:<user>        set of container IDs the user was reset off
//	prewarm             set of challenge names queued for prestart
//	instance_count      all-time launch counter
//
// The container ID doubles as the record key. IDs are engine-generated
// hex strings, so they cannot collide with the fixed keys above.
//
// # Atomicity
//
// A record and its indices must move together: an instance without its
// port claim leaks the port to double allocation, an assignment without
// a seat strands the user. Every Repository mutation therefore queues
// all of its writes on one storage.Pipeline and commits them as a unit.
//
// For operations that span records (the reset swap tears one instance
// down and launches its replacement), Append* variants queue the same
// writes on a caller-owned pipeline:
//
//	err := repo.Pipelined(ctx, func(p storage.Pipeline) error {
//		repo.AppendDelete(p, old)
//		repo.AppendAvoid(p, user, old.ContainerID)
//		return repo.AppendSaveNew(p, fresh)
//	})
//
// # Ordering
//
// Redis sets come back in arbitrary order, so List and ListByChallenge
// sort by start time with the container ID as tiebreaker. Cleanup's
// "keep the youngest" and packing's "oldest first" decisions are
// deterministic because of this.
//
// # Degraded Data
//
// An index entry whose record is gone (possible if keys are touched by
// hand) is skipped by listings and resolves to "no assignment" rather
// than an error. Avoid-list entries for dead instances are left in
// place; container IDs are never reused, so they are inert.
package instance
