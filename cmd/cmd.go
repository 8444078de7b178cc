package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"github.com/reactorlang/runtime/config"
)

const (
	ServiceName      = "reactor-runtime"
	ServiceNamespace = "reactorlang"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run is the CLI entrypoint: one "server" command that loads config, wires
// the fx graph and blocks until an OS signal or the client protocol's Exit
// operation (§6) requests a graceful stop.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Distributed reactive cell runtime",
		Commands: []*cli.Command{
			serverCmd(),
			statusCmd(),
		},
	}
	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run a service node",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "path to the configuration file",
			},
		},
		Action: func(c *cli.Context) error {
			logger := ProvideLogger()

			fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
			config.BindFlags(fs)
			if err := fs.Parse(c.Args().Slice()); err != nil {
				return err
			}

			cfg, err := config.Load(c.String("config_file"), fs, logger, nil)
			if err != nil {
				return err
			}

			var exitSignal chan struct{}
			application := NewApp(cfg, &exitSignal)
			if err := application.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case <-stop:
				slog.Info("SERVER_SHUTTING_DOWN", "cause", "signal")
			case <-exitSignal:
				slog.Info("SERVER_SHUTTING_DOWN", "cause", "exit_request")
			}
			return application.Stop(context.Background())
		},
	}
}
