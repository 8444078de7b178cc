package http

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/fx"
)

// newShutdownSignal provides the process-wide shutdown channel: Exit closes
// it, and cmd.Run's top-level select reacts alongside OS signals. fx caches
// constructor results as singletons, so every consumer shares one channel.
func newShutdownSignal() chan struct{} { return make(chan struct{}) }

// Module provides the Handler and its chi.Mux to the fx graph; infra/server/http
// consumes the *chi.Mux to build the actual net/http.Server.
var Module = fx.Module("http-handler",
	fx.Provide(
		newShutdownSignal,
		NewHandler,
		func(h *Handler) *chi.Mux { return h.Routes() },
	),
)
