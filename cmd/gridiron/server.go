package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/haasonsaas/gridiron/internal/agent"
	"github.com/haasonsaas/gridiron/internal/checkpoint"
	"github.com/haasonsaas/gridiron/internal/observability"
	"github.com/haasonsaas/gridiron/internal/tools/browser"
)

type turnRequest struct {
	ThreadID string         `json:"thread_id,omitempty"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

type sessionStatus = browser.Status

type sweepResponse struct {
	Closed int `json:"closed"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func runServe(ctx context.Context, addr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, appOptions{withEngine: true})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := a.Close(shutdownCtx); err != nil {
			a.logger.Warn("shutdown incomplete", "error", err)
		}
	}()
	if err := a.startSweeper(); err != nil {
		return err
	}

	if addr == "" {
		addr = firstNonEmpty(cfg.Observability.MetricsAddr, ":8080")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServer(a).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info("gridiron server started",
		"addr", addr,
		"version", version,
		"llm_provider", cfg.LLM.Provider,
		"checkpoint_backend", cfg.Checkpoint.Backend,
		"browser", cfg.Browser.Enabled,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}
	a.logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

type server struct {
	engine  *agent.Engine
	store   checkpoint.Store
	pool    *browser.Pool
	metrics *observability.Metrics
	logger  *slog.Logger
}

func newServer(a *app) *server {
	return &server{
		engine:  a.engine,
		store:   a.store,
		pool:    a.pool,
		metrics: a.metrics,
		logger:  a.logger.With("component", "http"),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/turns", s.handleTurn)
	mux.HandleFunc("GET /v1/threads", s.handleListThreads)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleGetThread)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /v1/sessions/sweep", s.handleSweep)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionStatus)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleCloseSession)
	return mux
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "version": version}
	if s.pool != nil {
		body["browser"] = s.pool.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleTurn streams the turn's events as newline-delimited JSON. The turn
// is cancelled when the client disconnects.
func (s *server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "engine not configured")
		return
	}
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	events := s.engine.RunTurn(r.Context(), agent.TurnRequest{
		ThreadID: req.ThreadID,
		Message:  req.Message,
		Context:  req.Context,
	})
	for event := range events {
		if err := enc.Encode(event); err != nil {
			s.logger.Debug("turn stream write failed", "error", err)
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.List(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	cp, err := s.store.Load(r.Context(), r.PathValue("id"))
	if errors.Is(err, checkpoint.ErrNotFound) {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.requirePool(w) {
		return
	}
	var req struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	id, err := s.pool.Create(r.Context(), req.OwnerID)
	if err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{SessionID: id})
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requirePool(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.pool.List())
}

func (s *server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requirePool(w) {
		return
	}
	status, err := s.pool.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.requirePool(w) {
		return
	}
	if err := s.pool.Close(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, sessionErrorStatus(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if !s.requirePool(w) {
		return
	}
	var idle time.Duration
	if raw := r.URL.Query().Get("idle"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid idle duration")
			return
		}
		idle = d
	}
	closed, err := s.pool.Sweep(r.Context(), idle)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Closed: closed})
}

func (s *server) requirePool(w http.ResponseWriter) bool {
	if s.pool == nil {
		writeError(w, http.StatusServiceUnavailable, "browser automation is disabled")
		return false
	}
	return true
}

func sessionErrorStatus(err error) int {
	switch {
	case errors.Is(err, browser.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, browser.ErrPoolFull):
		return http.StatusTooManyRequests
	case errors.Is(err, browser.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
