package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/isometry/adbridge/internal/auth"
	"github.com/isometry/adbridge/internal/dirsync"
	"github.com/isometry/adbridge/internal/ldap"
)

const maxBodyBytes = 64 << 10

type authenticateRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type authenticateResponse struct {
	Authenticated bool        `json:"authenticated"`
	Reason        auth.Reason `json:"reason"`
	AccountID     int64       `json:"account_id,omitempty"`
}

type syncErrorResponse struct {
	Error   string          `json:"error"`
	Summary dirsync.Summary `json:"summary"`
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	start := time.Now()
	res := s.deps.Authenticator.Authenticate(r.Context(), req.Login, req.Password)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordAuthentication(string(res.Reason), time.Since(start))
	}

	resp := authenticateResponse{
		Authenticated: res.Authenticated,
		Reason:        res.Reason,
	}
	if res.Account != nil {
		resp.AccountID = res.Account.ID
	}

	status := http.StatusOK
	switch {
	case res.Authenticated:
	case res.Reason == auth.ReasonDirectoryUnreachable:
		status = http.StatusServiceUnavailable
	case res.Reason == auth.ReasonReconciliationFailed:
		status = http.StatusInternalServerError
	case res.Reason == auth.ReasonUnauthorized || res.Reason == auth.ReasonAccountDisabled:
		status = http.StatusForbidden
	default:
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, resp)
}

// syncHandler runs one pass at a time per direction. The run is detached
// from the request so a disconnecting client does not abort it.
func (s *Server) syncHandler(direction string, runner Runner, mu *sync.Mutex) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !mu.TryLock() {
			writeError(w, http.StatusConflict, "synchronization already running")
			return
		}
		defer mu.Unlock()

		logger := s.logger.With("direction", direction)
		logger.Info("synchronization triggered", "remote", r.RemoteAddr)

		summary, err := runner.Run(context.WithoutCancel(r.Context()))
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordSync(direction, summary, err)
		}
		if err != nil {
			logger.Error("synchronization failed", "error", err)
			writeJSON(w, syncStatus(err), syncErrorResponse{Error: err.Error(), Summary: summary})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func syncStatus(err error) int {
	switch {
	case errors.Is(err, ldap.ErrNoServiceCredentials):
		return http.StatusPreconditionFailed
	case errors.Is(err, ldap.ErrUnreachable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}
