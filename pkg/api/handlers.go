package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/burrowctf/burrow/pkg/catalog"
	"github.com/burrowctf/burrow/pkg/events"
	"github.com/burrowctf/burrow/pkg/instance"
	"github.com/burrowctf/burrow/pkg/runtime"
	"github.com/burrowctf/burrow/pkg/scheduler"
	"github.com/burrowctf/burrow/pkg/storage"
	"github.com/burrowctf/burrow/pkg/types"
)

type assignRequest struct {
	Challenge string `json:"challenge"`
	User      string `json:"user"`
}

type resetRequest struct {
	User string `json:"user"`
}

// deployRequest uses pointers so an absent field is distinguishable
// from a zero value: can_prestart=false and lifetime=0 are both legal.
type deployRequest struct {
	Name        *string `json:"name"`
	Port        *int    `json:"port"`
	Lifetime    *int64  `json:"lifetime"`
	MemLimit    *int64  `json:"mem_limit"`
	UserLimit   *int    `json:"user_limit"`
	CanPrestart *bool   `json:"can_prestart"`
}

func (r *deployRequest) missing() []string {
	var out []string
	if r.Name == nil {
		out = append(out, "name")
	}
	if r.Port == nil {
		out = append(out, "port")
	}
	if r.Lifetime == nil {
		out = append(out, "lifetime")
	}
	if r.MemLimit == nil {
		out = append(out, "mem_limit")
	}
	if r.UserLimit == nil {
		out = append(out, "user_limit")
	}
	if r.CanPrestart == nil {
		out = append(out, "can_prestart")
	}
	return out
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Challenge == "" || req.User == "" {
		s.writeBadRequest(w, "challenge and user are required")
		return
	}

	inst, err := s.sched.AssignInstance(r.Context(), req.User, req.Challenge)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	ids, err := s.sched.ListInstanceIDs(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.sched.GetInstance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDockerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sched.DockerStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleUserInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.sched.InstanceForUser(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.User == "" {
		s.writeBadRequest(w, "user is required")
		return
	}

	inst, err := s.sched.Reset(r.Context(), req.User, chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.sched.Disconnect(r.Context(), chi.URLParam(r, "user")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, "disconnected")
}

func (s *Server) handleDeployChallenge(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "invalid JSON body")
		return
	}
	if missing := req.missing(); len(missing) > 0 {
		s.writeBadRequest(w, "missing fields: "+strings.Join(missing, ", "))
		return
	}

	ch := types.Challenge{
		Name:            *req.Name,
		InternalPort:    *req.Port,
		MemLimitMB:      *req.MemLimit,
		UserLimit:       *req.UserLimit,
		LifetimeSeconds: *req.Lifetime,
		CanPrestart:     *req.CanPrestart,
	}

	select {
	case s.deploys <- ch:
		s.writeJSON(w, http.StatusOK, "ok")
	default:
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "deploy queue full"})
	}
}

func (s *Server) handleRemoveChallenge(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.cat.Remove(name) {
		s.broker.Publish(events.ChallengeRemoved, "challenge removed", map[string]string{
			"challenge": name,
		})
	}
	// Instances of the removed challenge drain through cleanup
	s.writeJSON(w, http.StatusOK, "deleted")
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.sched.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	// Buffered so a failed read never sends a half body after a 200
	var buf bytes.Buffer
	if err := s.sched.Logs(r.Context(), chi.URLParam(r, "id"), &buf); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	s.writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	s.writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrUnknownChallenge),
		errors.Is(err, instance.ErrInstanceNotFound),
		errors.Is(err, storage.ErrKeyNotFound),
		errors.Is(err, runtime.ErrContainerNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrAlreadyAssigned),
		errors.Is(err, scheduler.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, catalog.ErrInvalidManifest):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrNoPortAvailable),
		errors.Is(err, runtime.ErrRuntimeUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
