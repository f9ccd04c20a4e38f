package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ekisa-team/modelport/internal/config"
	grpcserver "github.com/ekisa-team/modelport/internal/server/grpc"
)

func newWatchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Export on start and whenever the config file changes",
		Long: "Export on start and whenever the config file changes.\n\n" +
			"The outcome of the latest export is reported through the gRPC health\n" +
			"service modelport.Export until the process receives SIGINT or SIGTERM.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), *configPath)
		},
	}
}

func runWatch(ctx context.Context, configPath string) error {
	reloads := make(chan *config.Config, 1)

	watcher, err := config.NewWatcher(configPath, func(cfg *config.Config, err error) {
		if err != nil {
			slog.Error("Failed to reload config", "error", err)
			return
		}
		// Keep only the newest pending config.
		select {
		case <-reloads:
		default:
		}
		reloads <- cfg
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	cfg := watcher.Snapshot()
	health := grpcserver.NewServer()

	serveErr := make(chan error, 1)
	go func() { serveErr <- health.ListenAndServe(ctx, cfg.Server.GRPCAddr) }()

	slog.Info("Watching config", "config", configPath)
	health.SetServing(exportOnce(ctx, cfg))

	for {
		select {
		case <-ctx.Done():
			return <-serveErr
		case err := <-serveErr:
			return err
		case cfg := <-reloads:
			slog.Info("Config changed, exporting", "reloads", watcher.ReloadCount())
			health.SetServing(exportOnce(ctx, cfg))
		}
	}
}

// exportOnce runs one export and reports whether it succeeded.
func exportOnce(ctx context.Context, cfg *config.Config) bool {
	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("Failed to prepare export", "error", err)
		return false
	}
	defer a.close()

	if _, err := a.export.Run(ctx, jobFromConfig(cfg)); err != nil {
		slog.Error("Export failed", "error", err)
		return false
	}
	return true
}
