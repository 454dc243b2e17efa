// Copyright 2026 © The Perpetua Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jllopis/perpetua/pkg/agent"
	"github.com/jllopis/perpetua/pkg/config"
	"github.com/jllopis/perpetua/pkg/contextstore"
	"github.com/jllopis/perpetua/pkg/purpose"
	"github.com/jllopis/perpetua/pkg/runtime"
	"github.com/jllopis/perpetua/pkg/server"
	"github.com/jllopis/perpetua/pkg/telemetry"
	"github.com/spf13/cobra"
)

func newServeCmd(root *rootCmd) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run every agent in the manifest and serve the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), root)
		},
	}
}

func runServe(ctx context.Context, root *rootCmd) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	watcher, cfg, err := config.WatchConfig(ctx, root.configPath,
		config.WithOverrides(root.sets),
		config.WithWatchLogger(logger),
	)
	if err != nil {
		return wrapConfigError(err, root.configPath)
	}
	defer watcher.Stop()
	watcher.OnChange(func(c *config.Config) {
		telemetry.SetLogLevel(c.Log.Level)
		logger.Info("config.log_level", slog.String("level", c.Log.Level))
	})

	providers, err := telemetry.InitWithConfig("perpetua", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return withHint(err, "check telemetry.exporter and telemetry.otlp_endpoint")
	}
	defer func() {
		if err := providers.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("telemetry.shutdown", slog.String("error", err.Error()))
		}
	}()

	fleet, err := buildFleet(cfg, logger)
	if err != nil {
		return err
	}
	if err := fleet.InitializeAll(ctx); err != nil {
		_ = fleet.CloseAll(context.WithoutCancel(ctx))
		return err
	}
	if err := fleet.StartAll(ctx); err != nil {
		_ = fleet.CloseAll(context.WithoutCancel(ctx))
		return err
	}
	logger.Info("perpetua.started",
		slog.Int("agents", fleet.Len()),
		slog.String("version", version),
		slog.String("store", cfg.Store.Backend),
	)

	srv := server.New(fleet,
		server.WithLogger(logger),
		server.WithMetricsHandler(providers.MetricsHandler),
		server.WithShutdownTimeout(cfg.Runtime.StopTimeout),
	)
	runErr := srv.Run(ctx, cfg.Server.HTTPAddr, cfg.Server.GRPCAddr)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*cfg.Runtime.StopTimeout)
	defer cancel()
	if err := fleet.CloseAll(stopCtx); err != nil {
		logger.Error("perpetua.stop", slog.String("error", err.Error()))
		if runErr == nil {
			runErr = err
		}
	}
	logger.Info("perpetua.stopped")
	return runErr
}

// buildFleet loads the manifest and gives each agent its own store.
func buildFleet(cfg *config.Config, logger *slog.Logger) (*agent.Fleet, error) {
	manifest, err := agent.LoadManifest(cfg.Agents.Manifest)
	if err != nil {
		return nil, wrapManifestError(err, cfg.Agents.Manifest)
	}
	stores := func(id string) (contextstore.Store, error) {
		return contextstore.Open(cfg.Store.ContextStore(), id)
	}
	fleet, err := agent.FromManifest(manifest, stores, runtimeOptions(cfg, logger), agent.WithFleetLogger(logger))
	if err != nil {
		return nil, wrapManifestError(err, cfg.Agents.Manifest)
	}
	return fleet, nil
}

func runtimeOptions(cfg *config.Config, logger *slog.Logger) []runtime.Option {
	opts := []runtime.Option{
		runtime.WithLogger(logger),
		runtime.WithHeartbeatInterval(cfg.Runtime.HeartbeatInterval),
		runtime.WithStopTimeout(cfg.Runtime.StopTimeout),
		runtime.WithThreshold(cfg.Runtime.AlignmentThreshold),
		runtime.WithMaxBackoff(cfg.Runtime.MaxBackoff),
		runtime.WithScoreTimeout(cfg.Runtime.ScoreTimeout),
	}
	if cfg.Runtime.Scorer == "static" {
		opts = append(opts, runtime.WithScorer(purpose.NewStaticScorer()))
	}
	return opts
}
