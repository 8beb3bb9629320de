package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"connkeeper/internal/config"
	"connkeeper/internal/connectivity"
	"connkeeper/internal/metrics"
	"connkeeper/internal/monitor"
	"connkeeper/internal/server"
	"connkeeper/internal/storage"
	"connkeeper/internal/timers"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the connectivity manager and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "address for the API server (overrides listen_addr)")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	backend, err := openBackend(cfg)
	if err != nil {
		return fmt.Errorf("open state cache: %w", err)
	}
	cache := storage.NewCache(backend, nil, logger)
	defer func() {
		if err := cache.Close(); err != nil {
			logger.Warn("close state cache", "error", err)
		}
	}()

	probeLog, err := storage.NewProbeLog(cfg.ProbeLogPath())
	if err != nil {
		return fmt.Errorf("open probe history: %w", err)
	}
	recorder := monitor.NewRecorder(
		monitor.NewProbeClient(cfg, nil, logger),
		monitor.NewHistory(cfg.Probe.HistorySize),
		probeLog,
		logger,
	)

	pollTimers := timers.New(nil)
	defer pollTimers.StopAll()
	watcher := monitor.NewInterfaceWatcher(monitor.NewInterfaceProbe(), cfg.Probe.InterfacePollInterval(), pollTimers, logger)
	watcher.Start()

	collector := metrics.NewCollector()
	manager, err := connectivity.New(cfg, connectivity.Options{
		Prober:   recorder,
		Signals:  watcher,
		Cache:    cache,
		Logger:   logger,
		Observer: collector,
	})
	if err != nil {
		return err
	}
	events, cancelEvents := manager.Subscribe(16)
	defer cancelEvents()
	manager.Start()
	defer manager.Dispose()

	srv := server.New(cfg.ListenAddr, server.Options{
		Manager:            manager,
		Probes:             recorder.History(),
		Cache:              cache,
		Gatherer:           collector.Registry(),
		ReconnectPerMinute: cfg.API.ReconnectRatePerMinute,
		Logger:             logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logEvents(gctx, logger, events)
		return nil
	})
	g.Go(func() error {
		return recorder.Run(gctx)
	})

	logger.Info("connkeeper running",
		"addr", cfg.ListenAddr,
		"server_url", cfg.ServerURL,
		"cache_backend", cfg.Cache.Backend)
	return g.Wait()
}

func logEvents(ctx context.Context, logger *slog.Logger, events <-chan connectivity.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case connectivity.EventNetworkRestored, connectivity.EventSchedulerIdle, connectivity.EventDegradationChanged:
				logger.Info("connectivity event", "type", ev.Type, "status", ev.Snapshot.Status, "level", ev.Level)
			case connectivity.EventSyncOfflineData:
				logger.Info("offline data ready to sync", "last_sync_at", ev.LastSyncAt)
			}
		}
	}
}
