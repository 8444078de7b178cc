// Package ws wires the watch-stream handler (internal/handler/ws) into a
// net/http.Server of its own, mirroring infra/server/http's lifecycle shape
// but on a separate bind address so the dev channel can be firewalled off
// from the client-facing one in deployment.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.uber.org/fx"

	wshandler "github.com/reactorlang/runtime/internal/handler/ws"
)

type Config struct {
	Addr string
}

func NewServer(cfg Config, h *wshandler.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/watch", h)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func RegisterLifecycle(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("WS_SERVER_FAILED", "addr", srv.Addr, "err", err)
				}
			}()
			logger.Info("WS_SERVER_LISTENING", "addr", srv.Addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
