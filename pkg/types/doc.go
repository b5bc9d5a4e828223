// Package types defines the core data structures shared by all burrow
// components. It contains the domain model for the challenge broker:
// challenge templates, running instances, and aggregate statistics.
//
// This package has no dependencies on other burrow packages and can be
// imported by any component without creating import cycles.
//
// # Core Types
//
// Challenge: the static template for one CTF challenge. Loaded from the
// challenge directory at startup, it names the Docker image to build and
// run, the TCP port the service listens on inside the container, the
// memory cap, and the packing limit (how many users share one container).
// A challenge whose image fails to build is excluded from deployment and
// surfaces in the broken list; the Name doubles as the image tag.
//
// Instance: one running container. The Docker container ID is the
// instance ID everywhere in the system. An instance carries the seat
// list (Users) and its packing limit, copied from the challenge at
// launch time so that later manifest edits do not resize running
// containers. Helper methods (IsFull, HasUser, Attach, Detach) keep the
// seat-list manipulation in one place.
//
// BrokerStats: the fleet-level aggregate served to operators: live
// instance count, all-time launch counter, distinct seated users, and
// deployable challenge count.
//
// DockerStats: a one-shot resource sample (memory, CPU, pids) for a
// single container, flattened from the runtime's raw stats stream into
// a stable shape.
//
// # Serialization
//
// All types marshal to JSON. Instance is the wire format stored in the
// backing store and returned by the HTTP API, so its field set and tags
// are a compatibility contract:
//
//	{
//	  "container_id":  "3f2a...",
//	  "challenge":     "pwn-heap-01",
//	  "external_port": 31337,
//	  "started_at":    1758012345,
//	  "users":         ["alice", "bob"],
//	  "user_limit":    4
//	}
//
// StartedAt is Unix seconds. Durations derived from it (Age) are
// computed, never stored.
//
// Challenge uses the manifest field names (port, mem_limit, lifetime)
// so a challenge.json file on disk unmarshals directly into it.
//
// # Usage Example
//
//	inst := &types.Instance{
//		ContainerID:  id,
//		Challenge:    ch.Name,
//		ExternalPort: port,
//		StartedAt:    time.Now().Unix(),
//		Users:        []string{},
//		UserLimit:    ch.UserLimit,
//	}
//	if !inst.IsFull() {
//		inst.Attach("alice")
//	}
//
// # See Also
//
//   - pkg/instance: persistence and indexing of Instance records
//   - pkg/catalog: loading and building Challenge templates
//   - pkg/scheduler: packing users onto instances
package types
