// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 plugscan Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/plugscan/plugscan/internal/config"
	"github.com/plugscan/plugscan/internal/observability"
	plugins "github.com/plugscan/plugscan/internal/plugin"
)

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
	RegisterStats(mgr *plugins.Manager)
}

// WatchDeps contains injectable dependencies for the watch command.
// All fields with nil values will use their default implementations.
type WatchDeps struct {
	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer
}

// obsServer adapts observability.Server to ObservabilityServer.
type obsServer struct {
	*observability.Server
}

func (s obsServer) RegisterStats(mgr *plugins.Manager) {
	observability.RegisterRepositoryGauges(s.Registry(), mgr.Repository().Stats)
}

const shutdownTimeout = 5 * time.Second

// NewWatchCmd creates the watch subcommand.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch plugin directories and keep the repository current",
		Long: `Watch scans the configured search directories, then follows file changes
until interrupted. Metrics and health probes are served on --metrics-addr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatchWithDeps(cmd, nil)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// runWatchWithDeps runs the watch command with injectable dependencies.
// If deps is nil, default implementations are used.
func runWatchWithDeps(cmd *cobra.Command, deps *WatchDeps) error {
	if deps == nil {
		deps = &WatchDeps{}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return obsServer{observability.NewServer(addr, ready, logger)}
		}
	}

	cfg, logger, err := loadConfig(cmd, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []plugins.ManagerOption{
		plugins.WithLogger(logger),
		plugins.WithScannerOptions(cfg.ScannerOptions()...),
	}

	var mgr *plugins.Manager
	var srv ObservabilityServer
	if cfg.MetricsAddr != "" {
		srv = deps.ObservabilityServerFactory(cfg.MetricsAddr, func() bool { return mgr.Ready() }, logger)
		opts = append(opts, plugins.WithMetrics(srv.Metrics()))
	}
	mgr = plugins.NewManager(cfg.ListenerConfig(logger), opts...)

	if srv != nil {
		srv.RegisterStats(mgr)
		errCh, err := srv.Start()
		if err != nil {
			return fmt.Errorf("failed to start observability server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
		// Monitor observability server errors - cancel context on error
		go monitorServerErrors(ctx, cancel, errCh, logger)
		logger.Info("observability server started", "addr", srv.Addr())
	}

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Warn("error stopping listener", "error", err)
		}
	}()

	logger.Info("watching plugin directories", "search_dirs", cfg.SearchDirs)
	<-ctx.Done()
	logger.Info("shutting down...")
	return nil
}

// monitorServerErrors cancels ctx when the server reports an error.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			// Channel closed, server stopped gracefully
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown", "server", "observability", "error", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
