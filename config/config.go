// Package config loads and hot-reloads this process's tuning parameters:
// which service this node runs, its HTTP/WS bind addresses, the AMQP DSN for
// cross-service transport, and the coordinator's retry/backoff/mailbox
// knobs — the ambient configuration layer the teacher builds with
// spf13/viper + spf13/pflag + fsnotify. The runtime knobs are loaded and
// reloaded here, but the coordinator and cell actors do not read them.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the process-wide configuration tree.
type Config struct {
	Service ServiceConfig `mapstructure:"service"`
	HTTP    ListenConfig  `mapstructure:"http"`
	WS      ListenConfig  `mapstructure:"ws"`
	AMQP    AMQPConfig    `mapstructure:"amqp"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
}

// ServiceConfig names the service this node serves (§9 "Remote cells" — a
// deployment is one process per service, meshed over AMQP).
type ServiceConfig struct {
	Name string `mapstructure:"name"`
}

// ListenConfig is a plain host:port bind address.
type ListenConfig struct {
	Addr string `mapstructure:"addr"`
}

// AMQPConfig configures the cross-process transport (infra/pubsub). Empty
// URI means "use the in-process gochannel transport" — the default for a
// single-node or test deployment.
type AMQPConfig struct {
	URI string `mapstructure:"uri"`
}

// RuntimeConfig holds the coordinator and cell-actor tuning values (§9 Open
// Questions, made concrete by SPEC_FULL's resolutions). Nothing outside this
// package reads them: svc.Coordinator, program.Load and drv.Cell use their
// own built-in constants (8 retries, 2ms backoff base, queue depth 128,
// mailbox 256, Drv buffer 64), which match the defaults below.
type RuntimeConfig struct {
	MaxRetries        int           `mapstructure:"max_retries"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	OverloadThreshold int           `mapstructure:"overload_threshold"`
	MailboxSize       int           `mapstructure:"mailbox_size"`
	DrvBufferSize     int           `mapstructure:"drv_buffer_size"`
}

func defaults() Config {
	return Config{
		Service: ServiceConfig{Name: "default"},
		HTTP:    ListenConfig{Addr: ":8080"},
		WS:      ListenConfig{Addr: ":8081"},
		Runtime: RuntimeConfig{
			MaxRetries:        8,
			BackoffBase:       2 * time.Millisecond,
			OverloadThreshold: 128,
			MailboxSize:       256,
			DrvBufferSize:     64,
		},
	}
}

// Load reads configFile (if non-empty) plus environment variables prefixed
// REACTOR_ plus flags bound via BindFlags, falling back to defaults() for
// anything unset. It also watches configFile for changes, invoking onChange
// with the freshly reloaded Config whenever it's modified on disk.
func Load(configFile string, flags *pflag.FlagSet, logger *slog.Logger, onChange func(Config)) (*Config, error) {
	v := viper.New()
	def := defaults()
	v.SetDefault("service.name", def.Service.Name)
	v.SetDefault("http.addr", def.HTTP.Addr)
	v.SetDefault("ws.addr", def.WS.Addr)
	v.SetDefault("runtime.max_retries", def.Runtime.MaxRetries)
	v.SetDefault("runtime.backoff_base", def.Runtime.BackoffBase)
	v.SetDefault("runtime.overload_threshold", def.Runtime.OverloadThreshold)
	v.SetDefault("runtime.mailbox_size", def.Runtime.MailboxSize)
	v.SetDefault("runtime.drv_buffer_size", def.Runtime.DrvBufferSize)

	v.SetEnvPrefix("REACTOR")
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if configFile != "" && onChange != nil {
		v.OnConfigChange(func(e fsnotify.Event) {
			var reloaded Config
			if err := v.Unmarshal(&reloaded); err != nil {
				logger.Error("CONFIG_RELOAD_FAILED", "err", err)
				return
			}
			logger.Info("CONFIG_RELOADED", "file", e.Name)
			onChange(reloaded)
		})
		v.WatchConfig()
	}

	return &cfg, nil
}

// BindFlags registers the runtime-tuning overrides cmd.go's server command
// exposes on top of the config file (spf13/pflag, the teacher's flag layer
// underneath urfave/cli's own flag set). Values are bound by viper under the
// same keys as the file's mapstructure tags, so an explicit flag always
// wins over the file.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("service.name", "", "name of the service this node serves")
	fs.String("http.addr", "", "client-protocol HTTP bind address")
	fs.String("ws.addr", "", "watch-stream websocket bind address")
	fs.String("amqp.uri", "", "AMQP URI for cross-service transport (empty: in-process transport)")
	fs.Int("runtime.max_retries", 0, "wait-die retry budget before ActionAborted(Conflict)")
}
