// Package events provides pub/sub event distribution for broker
// lifecycle changes: instances starting and stopping, users attaching,
// detaching, and resetting, and challenges entering or leaving the
// catalog.
//
// # Architecture
//
//	Publishers                Broker                 Subscribers
//	(api, scheduler) ──► eventCh (buffered) ──► per-sub channels
//	                          │                        │
//	                          └── run() broadcast ─────┘
//
// Publish is non-blocking: if the broker's intake channel is full the
// event is dropped, and a subscriber that cannot keep up misses events
// rather than stalling the broadcast. Event delivery is best-effort by
// design; the store, not the event stream, is the source of truth.
//
// # Event Types
//
//	instance.started         a container was launched
//	instance.stopped         a container was stopped and removed
//	user.attached            a user got a seat
//	user.detached            a user released a seat
//	user.reset               a user was moved off an instance
//	challenge.added          a challenge entered the catalog
//	challenge.removed        a challenge left the catalog
//	challenge.build_failed   an image build failed
//
// # Audit Trail
//
// AuditLogger is the standing subscriber: it drains events into the
// structured log, giving operators a single place to see who touched
// what. Components publish once and never log the same change twice.
//
//	broker := events.NewBroker()
//	broker.Start()
//	audit := events.NewAuditLogger(broker)
//	audit.Start()
//	...
//	broker.Publish(events.UserAttached, "seat granted", map[string]string{
//		"user": user, "container_id": id,
//	})
package events
