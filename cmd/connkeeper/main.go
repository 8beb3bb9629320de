package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"connkeeper/internal/config"
	"connkeeper/internal/storage"
)

// errUnreachable makes the process exit with status 1 without extra output.
var errUnreachable = errors.New("backend unreachable")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errUnreachable) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		stop()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "connkeeper",
		Short:         "Connectivity and offline-resilience manager",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to configuration file (YAML)")

	root.AddCommand(
		newServeCommand(&configPath),
		newProbeCommand(&configPath),
		newCacheCommand(&configPath),
	)
	return root
}

func loadConfig(path string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat), nil
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func openBackend(cfg config.Config) (storage.Backend, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendFile:
		return storage.NewFileBackend(cfg.CachePath())
	default:
		return storage.NewBoltBackend(cfg.CachePath())
	}
}
