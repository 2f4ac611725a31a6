package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/map-session/internal/command"
	"github.com/mohammed-shakir/map-session/internal/core/health"
	middleware "github.com/mohammed-shakir/map-session/internal/core/middleware"
	"github.com/mohammed-shakir/map-session/internal/eventloop"
)

// maxCommandBytes bounds one POSTed command.
const maxCommandBytes = 1 << 20

// Controller is what the HTTP surface drives.
type Controller interface {
	health.ReadinessReporter
	Apply(ctx context.Context, c command.Command) ([]command.Result, error)
	State(ctx context.Context) (any, error)
}

// NewRouter builds the HTTP surface for one session.
func NewRouter(logger *slog.Logger, ctl Controller, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(ctl))
	if metrics != nil {
		r.Get("/metrics", metrics.ServeHTTP)
	}
	r.Get("/session", handleState(logger, ctl))
	r.Post("/session/commands", handleCommand(logger, ctl))
	return r
}

func handleState(logger *slog.Logger, ctl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := ctl.State(r.Context())
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleCommand(logger *slog.Logger, ctl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := command.Decode(http.MaxBytesReader(w, r.Body, maxCommandBytes))
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		results, err := ctl.Apply(r.Context(), c)
		if err != nil {
			writeError(w, logger, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, command.ErrInvalid):
		code = http.StatusBadRequest
	case errors.Is(err, eventloop.ErrBusy), errors.Is(err, eventloop.ErrStopped):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code >= 500 {
		logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Run serves h on addr until ctx is done.
func Run(ctx context.Context, addr string, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
