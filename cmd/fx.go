package cmd

import (
	"context"
	"log/slog"

	wmmessage "github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/reactorlang/runtime/config"
	httpserver "github.com/reactorlang/runtime/infra/server/http"
	wsserver "github.com/reactorlang/runtime/infra/server/ws"
	httphandler "github.com/reactorlang/runtime/internal/handler/http"
	wshandler "github.com/reactorlang/runtime/internal/handler/ws"
	"github.com/reactorlang/runtime/internal/program"
	"github.com/reactorlang/runtime/internal/reactive/remote"
	"github.com/reactorlang/runtime/internal/reactive/svc"
)

// NewApp builds the fx dependency graph for one service node: the reactive
// runtime core (program.Load, svc.Coordinator), the cross-service transport
// (internal/reactive/remote over infra/pubsub), and the two client-facing
// surfaces (internal/handler/http, internal/handler/ws), each with its own
// fx.Module the way the teacher composes amqp/grpc/http vertical slices.
// NewApp builds the fx graph. exitSignal receives the process's shutdown
// channel (internal/handler/http's Exit operation closes it) via
// fx.Populate, so cmd.Run's top-level select can react to it alongside OS
// signals without the fx graph itself knowing about the CLI layer.
func NewApp(cfg *config.Config, exitSignal *chan struct{}) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideEvaluator,
			ProvideServiceDecl,
			ProvideLoaded,
			ProvideRegistry,
			ProvideCoordinator,
			ProvidePubSubProvider,
			ProvidePublisher,
			ProvideSubscriber,
			ProvideRouter,
			ProvideHTTPServerConfig,
			ProvideWSServerConfig,
		),

		httphandler.Module,
		httpserver.Module,
		wshandler.Module,
		wsserver.Module,

		fx.Invoke(WireRemote, RunRouter),
		fx.Populate(exitSignal),
	)
}

// WireRemote connects the service's local cells and imports into the
// watermill router, exposing every local Src cell to other services and
// consuming every imported one (internal/reactive/remote.Wire).
func WireRemote(router *wmmessage.Router, subscriber wmmessage.Subscriber, publisher wmmessage.Publisher, decl program.ServiceDecl, loaded *program.Loaded, registry *svc.Registry, logger *slog.Logger) {
	remote.Wire(router, subscriber, publisher, decl, loaded, registry, logger)
}

// RunRouter starts the shared watermill router on fx's OnStart and closes it
// on OnStop, the same background-goroutine-plus-lifecycle-hook shape the
// teacher's NewWatermillRouter uses.
func RunRouter(lc fx.Lifecycle, router *wmmessage.Router, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := router.Run(context.Background()); err != nil {
					logger.Error("ROUTER_RUN_FAILED", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return router.Close()
		},
	})
}
