// Package api serves the local control surface: manual sync trigger and
// read-only status, log and buffer queries.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/sitesync/internal/engine"
	"github.com/roach88/sitesync/internal/model"
	"github.com/roach88/sitesync/internal/scheduler"
	"github.com/roach88/sitesync/internal/store"
)

const (
	defaultLogLimit = 20
	maxListLimit    = 500
	shutdownTimeout = 10 * time.Second
)

// Trigger requests cycles. *scheduler.Scheduler satisfies it.
type Trigger interface {
	RequestSync() scheduler.TriggerResult
	Busy() bool
}

// StatusSource reports the synchroniser's phase. *engine.Synchroniser
// satisfies it.
type StatusSource interface {
	Status() engine.Status
	Blocked() error
}

// Server is the control API.
type Server struct {
	trigger Trigger
	status  StatusSource
	store   *store.Store
	logger  *slog.Logger
	router  chi.Router
}

// New wires the routes.
func New(trigger Trigger, status StatusSource, s *store.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{trigger: trigger, status: status, store: s, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(srv.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Route("/sync", func(r chi.Router) {
		r.Post("/trigger", srv.handleTrigger)
		r.Get("/status", srv.handleStatus)
		r.Get("/logs", srv.handleLogs)
		r.Get("/buffer", srv.handleBuffer)
	})
	srv.router = r
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control API listening", "addr", ln.Addr().String())
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("control API stopped")
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	res := s.trigger.RequestSync()
	switch res.Kind {
	case scheduler.Accepted:
		writeJSON(w, http.StatusAccepted, res)
	case scheduler.AlreadyInProgress:
		writeJSON(w, http.StatusConflict, res)
	default:
		writeJSON(w, http.StatusServiceUnavailable, res)
	}
}

// StatusResponse is the body of GET /sync/status.
type StatusResponse struct {
	Engine         engine.Status     `json:"engine"`
	Busy           bool              `json:"busy"`
	BlockedReason  string            `json:"blocked_reason,omitempty"`
	SyncState      model.SyncState   `json:"sync_state"`
	SiteID         *int64            `json:"site_id,omitempty"`
	Buffer         store.BufferStats `json:"buffer"`
	PendingPush    int64             `json:"pending_push"`
	PushErrors     int64             `json:"push_errors"`
	LatestLog      *model.SyncLog    `json:"latest_log,omitempty"`
	LastSuccessLog *model.SyncLog    `json:"last_success_log,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := BuildStatus(r.Context(), s.store, s.status, s.trigger)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// BuildStatus gathers a status snapshot. status and trigger may be nil
// when no engine is running in this process.
func BuildStatus(ctx context.Context, s *store.Store, status StatusSource, trigger Trigger) (StatusResponse, error) {
	var resp StatusResponse
	if status != nil {
		resp.Engine = status.Status()
		if err := status.Blocked(); err != nil {
			resp.BlockedReason = err.Error()
		}
	}
	if trigger != nil {
		resp.Busy = trigger.Busy()
	}

	var err error
	if resp.SyncState, err = s.SyncState(ctx); err != nil {
		return resp, err
	}
	siteID, ok, err := s.SiteID(ctx)
	if err != nil {
		return resp, err
	}
	if ok {
		resp.SiteID = &siteID

		after, err := s.GetCursor(ctx, siteID, model.DirectionPush)
		if err != nil {
			return resp, err
		}
		latest, err := s.LatestChangelogCursor(ctx)
		if err != nil {
			return resp, err
		}
		if resp.PendingPush, err = s.CountDedupWindow(ctx, after, latest); err != nil {
			return resp, err
		}
	}
	if resp.PushErrors, err = s.CountPushErrors(ctx); err != nil {
		return resp, err
	}
	if resp.Buffer, err = s.BufferStats(ctx); err != nil {
		return resp, err
	}
	if resp.LatestLog, err = optional(s.LatestSyncLog(ctx)); err != nil {
		return resp, err
	}
	if resp.LastSuccessLog, err = optional(s.LatestSuccessfulSyncLog(ctx)); err != nil {
		return resp, err
	}
	return resp, nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, defaultLogLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	logs, err := s.store.ListSyncLogs(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if logs == nil {
		logs = []model.SyncLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, store.DefaultBatchSize)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
		return
	}
	q := r.URL.Query()
	filter := store.BufferFilter{
		PendingOnly: q.Get("pending") == "true",
		ErrorsOnly:  q.Get("errors") == "true",
		Limit:       limit,
	}
	if t := q.Get("table"); t != "" {
		tbl, err := model.ParseTable(t)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: err.Error()})
			return
		}
		filter.Table = tbl
	}

	recs, err := s.store.ListBuffer(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []model.SyncBufferRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Error("api query failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "STORAGE_ERROR", Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}

// optional turns ErrNotFound into a nil result.
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return v, err
}
