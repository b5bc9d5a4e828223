// Package catalog loads challenge definitions from disk and keeps the
// set of deployable challenges. Each challenge lives in its own
// directory under the configured root:
//
//	challenges/
//	├── web-01/
//	│   ├── challenge.json
//	│   ├── Dockerfile
//	│   └── ... build context ...
//	└── pwn-01/
//	    ├── challenge.json
//	    └── Dockerfile
//
// # Manifest Format
//
// challenge.json describes one challenge:
//
//	{
//	  "name":         "web-01",   // identifier and image tag
//	  "port":         80,         // port the service listens on
//	  "mem_limit":    128,        // MiB, memory and swap cap
//	  "user_limit":   4,          // users packed per instance
//	  "lifetime":     3600,       // idle seconds before reclaim, 0 = never
//	  "can_prestart": true        // safe to launch ahead of demand
//	}
//
// The manifest name is authoritative; the directory name only locates
// the build context. Validation requires a name, a port in range, and
// a user_limit of at least one, and the directory must contain a
// Dockerfile.
//
// # Build-or-Drop
//
// Loading a challenge always builds its image. A challenge whose
// manifest is unreadable or whose image fails to build is moved to the
// broken list with the failure reason and excluded from Get, List, and
// deployment. Startup keeps going: one broken challenge never blocks
// the rest of the event. A later Add of the same challenge clears its
// broken entry when it succeeds.
//
// # Concurrency
//
// Lookups take a read lock. Add builds the image before taking the
// write lock, so a slow build does not stall the serving path.
// Removing a challenge only unlists it; tearing down its running
// instances is the scheduler's job.
package catalog
