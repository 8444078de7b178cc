package config_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/reactorlang/runtime/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load("", nil, testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.Name != "default" {
		t.Fatalf("want default service name, got %q", cfg.Service.Name)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("want default http addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Runtime.MaxRetries != 8 {
		t.Fatalf("want default max_retries=8, got %d", cfg.Runtime.MaxRetries)
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "service:\n  name: billing\nhttp:\n  addr: :9000\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path, nil, testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.Name != "billing" {
		t.Fatalf("want service name from file, got %q", cfg.Service.Name)
	}
	if cfg.HTTP.Addr != ":9000" {
		t.Fatalf("want http addr from file, got %q", cfg.HTTP.Addr)
	}
	// Untouched by the file, so the default still applies.
	if cfg.WS.Addr != ":8081" {
		t.Fatalf("want default ws addr, got %q", cfg.WS.Addr)
	}
}

func TestLoadExplicitFlagOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "service:\n  name: billing\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs)
	if err := fs.Parse([]string{"--service.name=payments"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path, fs, testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.Name != "payments" {
		t.Fatalf("want the explicit flag to win over the config file, got %q", cfg.Service.Name)
	}
}

func TestLoadUnsetFlagDoesNotOverrideConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := "service:\n  name: billing\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path, fs, testLogger(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Service.Name != "billing" {
		t.Fatalf("want the config file value preserved when the flag is unset, got %q", cfg.Service.Name)
	}
}
