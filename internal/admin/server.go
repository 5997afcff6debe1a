package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/cmsadmin/internal/journal"
	"github.com/3cpo-dev/cmsadmin/internal/reorder"
	"github.com/3cpo-dev/cmsadmin/internal/telemetry"
	"github.com/3cpo-dev/cmsadmin/pkg/api"
)

const maxBodyBytes = 1 << 20

// Reorderer runs reorder batches and manual restores.
type Reorderer interface {
	Reorder(ctx context.Context, ids []string) (*reorder.Outcome, error)
	Restore(ctx context.Context, backup []reorder.BackupRecord) ([]reorder.RollbackResult, error)
}

// History is the journal of past runs. It is optional.
type History interface {
	GetRun(ctx context.Context, id string) (*reorder.Outcome, error)
	ListRuns(ctx context.Context, limit int) ([]journal.RunSummary, error)
	SaveRestore(ctx context.Context, runID string, results []reorder.RollbackResult) error
}

type Server struct {
	Version string

	reorderer Reorderer
	history   History
	monitor   *telemetry.Monitor
	auth      *Authenticator
	srv       *http.Server
}

func NewServer(version string, auth *Authenticator, r Reorderer, h History, m *telemetry.Monitor) *Server {
	return &Server{Version: version, reorderer: r, history: h, monitor: m, auth: auth}
}

// Handler builds the admin router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestMetrics)

	if s.monitor != nil {
		r.Get("/health", s.monitor.HealthHandler)
		r.Get("/metrics", s.monitor.MetricsHandler)
	}
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": s.Version})
	})
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)
		r.Post("/reorder", s.handleReorder)
		r.Get("/reorder/runs", s.handleListRuns)
		r.Get("/reorder/runs/{id}", s.handleGetRun)
		r.Post("/reorder/runs/{id}/restore", s.handleRestoreRun)
		if s.monitor != nil {
			r.Get("/api/metrics", s.monitor.APIMetricsHandler)
		}
	})
	return r
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.LoginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if !s.auth.CheckPassword(req.Username, req.Password) {
		log.Warn().Str("username", req.Username).Str("remote", r.RemoteAddr).Msg("Login rejected")
		writeError(w, http.StatusUnauthorized, "invalid credentials", "")
		return
	}
	http.SetCookie(w, s.auth.Issue(req.Username))
	log.Info().Str("username", req.Username).Msg("Admin logged in")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.auth.Clear())
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemIDs json.RawMessage `json:"itemIds"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	var ids []string
	if err := json.Unmarshal(body.ItemIDs, &ids); err != nil || ids == nil {
		writeError(w, http.StatusBadRequest, "itemIds must be an array of entry ids", "itemIds")
		return
	}

	out, err := s.reorderer.Reorder(r.Context(), ids)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, api.ReorderResponse{
			Success:  true,
			RunID:    out.RunID,
			Backup:   out.Backup,
			Unbacked: nonNilIDs(out.Unbacked),
			Progress: api.ProgressComplete,
		})
	case errors.Is(err, reorder.ErrPartialFailure):
		writeJSON(w, http.StatusInternalServerError, api.ReorderFailure{
			Error:         "Failed to update some items",
			RunID:         out.RunID,
			FailedUpdates: out.FailedUpdates(),
			Backup:        out.Backup,
			Rollback:      nonNilRollback(out.Rollback),
			Unbacked:      nonNilIDs(out.Unbacked),
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled before the batch started", "")
	default:
		log.Error().Err(err).Msg("Reorder failed")
		writeError(w, http.StatusInternalServerError, err.Error(), "")
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run journal disabled", "")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "limit")
			return
		}
		limit = n
	}
	runs, err := s.history.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	out, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRestoreRun(w http.ResponseWriter, r *http.Request) {
	out, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	results, err := s.reorderer.Restore(r.Context(), out.Backup)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error(), "")
		return
	}
	if err := s.history.SaveRestore(context.WithoutCancel(r.Context()), out.RunID, results); err != nil {
		log.Error().Err(err).Str("run_id", out.RunID).Msg("Failed to journal restore")
	}
	resp := api.RestoreResponse{RunID: out.RunID, Success: true, Rollback: results}
	status := http.StatusOK
	for _, res := range results {
		if res.Status != reorder.RollbackRestored {
			resp.Success = false
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*reorder.Outcome, bool) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "run journal disabled", "")
		return nil, false
	}
	out, err := s.history.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, journal.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error(), "")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "")
		return nil, false
	}
	return out, true
}

func requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		labels := map[string]string{
			"component": "admin",
			"route":     route,
			"status":    strconv.Itoa(ww.Status()),
		}
		telemetry.CounterGlobal("cmsadmin_http_requests", 1, labels)
		telemetry.TimerGlobal("cmsadmin_http_request_duration", time.Since(start), labels)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, field string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg, Field: field})
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nonNilRollback(r []reorder.RollbackResult) []reorder.RollbackResult {
	if r == nil {
		return []reorder.RollbackResult{}
	}
	return r
}

// ListenAndServe starts the server
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	log.Info().Str("addr", addr).Msg("Starting admin server")
	return s.srv.ListenAndServe()
}

// Shutdown the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return fmt.Errorf("server not running")
	}
	return s.srv.Shutdown(ctx)
}
