/*
Package reconciler runs the broker's background passes on timers. It
owns no policy: the scheduler decides what to stop or launch, the
reconciler decides when to ask.

# Architecture

Two tickers drive the scheduler from one goroutine:

	┌──────────────────────────────────────────────┐
	│                Reconciler                    │
	│                                              │
	│   cleanup ticker ──────► CleanupPass         │
	│   (default 30s)          ├─ Cleanup          │
	│                          └─ SweepOrphans     │
	│                                              │
	│   prestart ticker ─────► PrestartPass        │
	│   (default 5s)           └─ Prestart         │
	└──────────────────────────────────────────────┘

The prestart interval is deliberately short: a queued warm-up should
turn into a running container before the instance that triggered it
fills. Cleanup is slower because reclaiming idle containers is not
urgent and each pass walks the whole fleet.

# Level-Triggered

Passes are level-triggered: each one recomputes what to do from the
store and the container list, never from remembered deltas. A missed
tick or a crash mid-pass costs latency, not correctness, and the next
tick converges.

# Coordination

Both passes go through the scheduler and therefore take its mutation
lock. A pass that collides with a burst of user traffic just waits;
pass work is skipped, never queued, so backlog cannot build up.

Stop waits for an in-flight pass to return, so a shutdown never
interleaves with a half-finished reclaim.
*/
package reconciler
