// Package scheduler owns the life of an instance: who gets seated
// where, when a container launches, and when it is reclaimed. It is
// the only package that mutates broker state.
//
// # Packing
//
// A challenge's instances are filled oldest first. A user asking for a
// challenge is seated on the first instance with a free seat that is
// not on their avoid list; only when none qualifies does a fresh
// container launch. The packing walk:
//
//	instances of challenge, oldest first
//	    │
//	    ├─ full? ──────────── skip
//	    ├─ on avoid list? ─── skip
//	    └─ seat user, persist seat + assignment
//	                │
//	          no candidate
//	                │
//	    launch container, then seat
//
// # Locking
//
// One mutex serializes every mutation, and it stays held across
// container starts and stops. That makes the check-then-act sequences
// (free seat found, port unclaimed, user unassigned) atomic without
// any store-side locking. Container boots take seconds, so the lock
// caps mutation throughput; reads (instance lookups, stats, logs) do
// not take it.
//
// Mutations run under context.WithoutCancel: once a state change
// starts, a disconnecting client must not leave a container half
// recorded.
//
// # Ports
//
// External ports are drawn at random from [1025, 65535) and checked
// against the claimed-port set, up to 32 draws. The winning port is
// only reserved when the instance record commits, which is safe under
// the scheduler lock. Random draws keep recycled ports out of OS
// TIME_WAIT collisions that sequential allocation would hit.
//
// # Reset and Avoid Lists
//
// A reset frees the user's seat, adds the instance to their avoid
// list, and reseats them as if they had just asked for the challenge.
// The avoid list grows for the life of the session and is cleared on
// disconnect. A reset off a full avoid set therefore always escalates
// to a fresh container.
//
// # Background Passes
//
// Cleanup reclaims empty instances, keeping the youngest empty one per
// challenge as a warm spare unless the challenge left the catalog or
// the spare outlived the challenge's idle lifetime. Prestart drains
// the prewarm queue. SweepOrphans stops labeled containers that have
// no record, which a crash between container start and save can leave
// behind. The passes take the same mutex as user-facing mutations.
//
// # Failure Handling
//
// If a container starts but its record fails to commit, the container
// is stopped again; nothing else references it. If a stop fails for
// any reason other than the container already being gone, the record
// is removed anyway and the sweep catches the remains.
package scheduler
