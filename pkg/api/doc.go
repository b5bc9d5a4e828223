/*
Package api implements the broker's HTTP JSON interface.

Every player-facing and admin route requires the pre-shared API key in
the Authorization header (the bare key, no scheme). The operational
routes, healthz, readyz, and metrics, are open so orchestrators and
Prometheus need no credentials.

# Routes

	POST   /                      seat a user on a challenge instance
	GET    /                      list live container IDs
	GET    /{id}                  one instance record
	GET    /{id}/docker_stats     container resource snapshot
	GET    /user/{user}           the instance a user is seated on
	POST   /reset/{id}            move a user off an instance
	POST   /disconnect/{user}     release a user's seat and avoid list
	POST   /challenges            deploy a challenge (manifest in body)
	DELETE /challenges/{name}     retire a challenge
	GET    /stats                 fleet aggregates
	GET    /log/{id}              container log, text/plain

	GET    /healthz               liveness (open)
	GET    /readyz                store + runtime readiness (open)
	GET    /metrics               Prometheus exposition (open)

# Middleware

Requests pass through, in order: request logging with per-route
Prometheus counters and latency histograms, panic recovery, per-IP
token-bucket rate limiting (authenticated routes only, 429 when a
client exhausts its bucket), and API-key auth.

# Error Mapping

Handlers return domain sentinels and the server maps them with
errors.Is: unknown challenge and missed lookups → 404, a second
assignment or a reset of someone else's instance → 403, malformed or
incomplete bodies → 400, no free port or an unreachable runtime → 503,
anything unrecognized → 500. Error payloads are {"error": "..."}.

# Deploys

POST /challenges answers "ok" as soon as the manifest parses; the
image build, catalog insert, and optional warm start run on a single
background worker. Build failures surface in the event stream and the
log, not in the request that queued them.
*/
package api
