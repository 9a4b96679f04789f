// Package server exposes the HTTP trigger for notification runs.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"ticket_bot/internal/fetcher"
	"ticket_bot/internal/pipeline"
	"ticket_bot/internal/storage"
)

// Runner triggers a notification pass.
type Runner interface {
	Run(ctx context.Context) (pipeline.Result, error)
}

// Server serves /send_notifications, /health and /metrics.
type Server struct {
	runner Runner
	log    *slog.Logger
	mux    *http.ServeMux
	server *http.Server
}

// New creates a Server listening on addr. metrics may be nil.
func New(addr string, runner Runner, metrics http.Handler, log *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		runner: runner,
		log:    log,
		mux:    mux,
	}

	mux.HandleFunc("GET /send_notifications", s.handleSend)
	mux.HandleFunc("POST /send_notifications", s.handleSend)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.server.Addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.Run(r.Context())
	if err == nil {
		writeText(w, http.StatusOK, res.Summary())
		return
	}

	status, msg := errorStatus(err)
	if status != http.StatusConflict {
		s.log.Error("send notifications", "state", res.State, "error", err)
	}
	writeText(w, status, msg)
}

func errorStatus(err error) (int, string) {
	var fe *fetcher.FetchError
	var pe *storage.PersistenceError
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict, "A run is already in progress"
	case errors.As(err, &fe):
		return http.StatusBadGateway, "Failed to fetch events"
	case errors.As(err, &pe):
		return http.StatusInternalServerError, "Storage unavailable"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
