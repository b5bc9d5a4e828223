package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/burrowctf/burrow/pkg/catalog"
	"github.com/burrowctf/burrow/pkg/events"
	"github.com/burrowctf/burrow/pkg/log"
	"github.com/burrowctf/burrow/pkg/metrics"
	"github.com/burrowctf/burrow/pkg/runtime"
	"github.com/burrowctf/burrow/pkg/scheduler"
	"github.com/burrowctf/burrow/pkg/storage"
	"github.com/burrowctf/burrow/pkg/types"
)

// deployQueueDepth bounds pending challenge deployments. Image builds
// are slow, so extra requests are refused instead of queued without
// limit.
const deployQueueDepth = 8

// Options carries the server's dependencies.
type Options struct {
	Scheduler *scheduler.Scheduler
	Catalog   *catalog.Catalog
	Store     storage.Store
	Runtime   runtime.Runtime
	Broker    *events.Broker

	// APIKey is the pre-shared key every non-operational request must
	// present in the Authorization header.
	APIKey string

	// Version is reported by the liveness endpoint.
	Version string
}

// Server is the broker's HTTP front. Player-facing and admin routes
// sit behind API-key auth; the health and metrics routes do not.
type Server struct {
	sched   *scheduler.Scheduler
	cat     *catalog.Catalog
	store   storage.Store
	rt      runtime.Runtime
	broker  *events.Broker
	apiKey  string
	version string
	logger  zerolog.Logger
	started time.Time
	limiter *ipLimiter

	router  chi.Router
	httpSrv *http.Server

	deploys chan types.Challenge
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates the server and starts its deploy worker. Callers must
// Stop it even when Start is never reached.
func New(opts Options) *Server {
	s := &Server{
		sched:   opts.Scheduler,
		cat:     opts.Catalog,
		store:   opts.Store,
		rt:      opts.Runtime,
		broker:  opts.Broker,
		apiKey:  opts.APIKey,
		version: opts.Version,
		logger:  log.WithComponent("api"),
		started: time.Now(),
		limiter: newIPLimiter(defaultRequestsPerSecond, defaultBurst),
		deploys: make(chan types.Challenge, deployQueueDepth),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	s.router = s.routes()
	go s.runDeploys()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.logRequests)
	r.Use(s.recovery)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.requireAPIKey)

		r.Post("/", s.handleAssign)
		r.Get("/", s.handleListInstances)
		r.Get("/stats", s.handleStats)

		r.Post("/challenges", s.handleDeployChallenge)
		r.Delete("/challenges/{name}", s.handleRemoveChallenge)

		r.Get("/user/{user}", s.handleUserInstance)
		r.Post("/reset/{id}", s.handleReset)
		r.Post("/disconnect/{user}", s.handleDisconnect)

		r.Get("/log/{id}", s.handleLog)
		r.Get("/{id}", s.handleGetInstance)
		r.Get("/{id}/docker_stats", s.handleDockerStats)
	})

	return r
}

// Handler exposes the routed handler for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP on addr. It blocks until the listener fails or
// Stop shuts it down, in which case it returns http.ErrServerClosed.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("http api listening")
	return s.httpSrv.ListenAndServe()
}

// Stop drains the deploy worker and shuts the listener down
// gracefully, letting in-flight requests finish until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	close(s.stopCh)
	<-s.doneCh

	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// runDeploys executes challenge deployments one at a time. Builds
// happen off the request path; the handler has already answered "ok"
// by the time the image builds.
func (s *Server) runDeploys() {
	defer close(s.doneCh)
	for {
		select {
		case ch := <-s.deploys:
			s.deploy(ch)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) deploy(ch types.Challenge) {
	ctx := context.Background()

	if err := s.cat.Register(ctx, &ch); err != nil {
		s.logger.Error().Err(err).Str("challenge", ch.Name).Msg("challenge deploy failed")
		s.broker.Publish(events.ChallengeBuildFailed, "challenge deploy failed", map[string]string{
			"challenge": ch.Name,
			"error":     err.Error(),
		})
		return
	}

	s.broker.Publish(events.ChallengeAdded, "challenge deployed", map[string]string{
		"challenge": ch.Name,
	})

	if ch.CanPrestart {
		if _, err := s.sched.StartInstance(ctx, ch.Name); err != nil {
			s.logger.Warn().Err(err).Str("challenge", ch.Name).Msg("warm start after deploy failed")
		}
	}
}
