package api

import (
	"fmt"
	"net/http"
	"time"
)

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	UptimeSec int64     `json:"uptime_sec"`
}

// ReadyResponse is the readiness payload, one entry per dependency.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

// handleHealthz answers liveness: the process is up. It checks nothing
// downstream, so an unhealthy store never makes an orchestrator
// restart loop the broker.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
		UptimeSec: int64(time.Since(s.started).Seconds()),
	})
}

// handleReadyz answers readiness: the store and the container runtime
// both respond. Either failing means assignments would fail, so the
// broker should be pulled from rotation.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := make(map[string]string)
	ready := true

	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = fmt.Sprintf("error: %v", err)
		ready = false
	} else {
		checks["store"] = "ok"
	}

	if err := s.rt.Ping(ctx); err != nil {
		checks["runtime"] = fmt.Sprintf("error: %v", err)
		ready = false
	} else {
		checks["runtime"] = "ok"
	}

	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not ready"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	})
}
