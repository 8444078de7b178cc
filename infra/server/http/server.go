// Package http wires the client protocol's chi.Mux (internal/handler/http)
// into a net/http.Server with an fx-lifecycle-managed listen/shutdown pair,
// the same OnStart/OnStop shape the teacher uses for every long-running
// listener in this codebase.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
)

// Config is the subset of the process config this server needs.
type Config struct {
	Addr string
}

// NewServer builds (but does not start) the HTTP server for routes.
func NewServer(cfg Config, routes *chi.Mux, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           routes,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// RegisterLifecycle attaches srv's start/stop to fx's lifecycle: listen in a
// background goroutine on OnStart, graceful Shutdown on OnStop.
func RegisterLifecycle(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP_SERVER_FAILED", "addr", srv.Addr, "err", err)
				}
			}()
			logger.Info("HTTP_SERVER_LISTENING", "addr", srv.Addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
