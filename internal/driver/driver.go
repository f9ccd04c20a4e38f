// Package driver loads a checkpoint through an export collaborator and
// asks it to convert the model into an interchange format.
package driver

import (
	"context"

	"github.com/ekisa-team/modelport/internal/backend"
	"github.com/ekisa-team/modelport/internal/config"
)

// Request is the input of a single export.
type Request struct {
	Checkpoint string
	Format     string
	Opset      int
	OutputDir  string
	Args       map[string]any
}

// DefaultRequest exports yolov8n.pt to ONNX with opset 12.
func DefaultRequest() Request {
	return Request{
		Checkpoint: config.DefaultCheckpoint,
		Format:     config.DefaultFormat,
		Opset:      config.DefaultOpset,
	}
}

// RequestFromConfig builds the request described by cfg.
func RequestFromConfig(cfg *config.Config) Request {
	return Request{
		Checkpoint: cfg.Checkpoint.Ref,
		Format:     cfg.Export.Format,
		Opset:      cfg.Export.Opset,
		OutputDir:  cfg.Export.OutputDir,
		Args:       cfg.Export.Args,
	}
}

// Run loads req.Checkpoint and exports it. Collaborator errors are
// returned as they are, so callers can match them with errors.Is.
func Run(ctx context.Context, exporter backend.Exporter, req Request) (*backend.Artifact, error) {
	handle, err := exporter.Load(ctx, req.Checkpoint)
	if err != nil {
		return nil, err
	}

	return exporter.Export(ctx, handle, backend.Options{
		Format:    req.Format,
		Opset:     req.Opset,
		OutputDir: req.OutputDir,
		Args:      req.Args,
	})
}
