package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/ekisa-team/modelport/internal/backend"
	"github.com/ekisa-team/modelport/internal/backend/ultralytics"
	"github.com/ekisa-team/modelport/internal/config"
	"github.com/ekisa-team/modelport/internal/config/source"
	"github.com/ekisa-team/modelport/internal/driver"
	"github.com/ekisa-team/modelport/internal/history"
	"github.com/ekisa-team/modelport/internal/model"
	"github.com/ekisa-team/modelport/internal/onnx/ort"
	"github.com/ekisa-team/modelport/internal/service"
)

func defaultConfigFile() string {
	return filepath.Join(config.DefaultConfigPath(), "config.yaml")
}

// app holds everything one export run needs; close releases it.
type app struct {
	backends *backend.Registry
	export   *service.Export
	closers  []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{backends: backend.NewRegistry()}

	if err := source.EnsureModelsDirectory(config.ResolveModelsPath(cfg)); err != nil {
		return nil, err
	}

	exporter, err := ultralytics.NewBackend(
		config.ResolveBinary(cfg),
		time.Duration(cfg.Export.Timeout),
		model.NewManager(cfg),
		cfg.Collaborator.MaxOpset,
	)
	if err != nil {
		return nil, fmt.Errorf("%s collaborator unavailable: %w", cfg.Collaborator.Provider, err)
	}
	version, err := exporter.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s collaborator unavailable: %w", cfg.Collaborator.Provider, err)
	}
	slog.Debug("Collaborator ready", "provider", exporter.Provider(), "version", version)

	if err := a.backends.Register(exporter); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.backends.Close)

	selected, err := a.backends.Get(backend.Provider(cfg.Collaborator.Provider))
	if err != nil {
		a.close()
		return nil, err
	}

	var opts []service.Option

	if cfg.History.IsEnabled() {
		store, err := history.Open(config.ResolveHistoryPath(cfg))
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		opts = append(opts, service.WithHistory(store))
	}

	prober, err := ort.New(config.ResolveRuntimeLibrary(cfg))
	switch {
	case err == nil:
		a.closers = append(a.closers, prober.Close)
		opts = append(opts, service.WithProber(prober))
	case errors.Is(err, ort.ErrDisabled):
		slog.Debug("onnxruntime probe disabled")
	default:
		a.close()
		return nil, err
	}

	a.export = service.NewExport(selected, opts...)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("Failed to release resource", "error", err)
		}
	}
	a.closers = nil
}

// jobFromConfig builds the service job described by cfg.
func jobFromConfig(cfg *config.Config) service.Job {
	job := service.Job{
		Request: driver.RequestFromConfig(cfg),
		Verify:  cfg.Export.VerifyEnabled(),
	}
	for _, p := range cfg.Export.Publish {
		job.Publish = append(job.Publish, p.Path)
	}
	return job
}
