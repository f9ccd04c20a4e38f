package backend

import (
	"context"
	"time"
)

// Provider is a string identifier for an export collaborator.
type Provider string

const (
	// ProviderUltralytics exports through the Ultralytics yolo CLI.
	ProviderUltralytics Provider = "ultralytics"
)

// Exporter is the model-loading-and-export collaborator.
type Exporter interface {
	// Provider returns the collaborator identifier.
	Provider() Provider

	// Load materializes a model handle for a checkpoint reference.
	// It fails with ErrCheckpointNotFound or ErrIncompatibleFormat.
	Load(ctx context.Context, checkpoint string) (*Handle, error)

	// Export converts the loaded model into the requested format.
	// It fails with ErrUnsupportedFormat or ErrUnsupportedOpset.
	Export(ctx context.Context, h *Handle, opts Options) (*Artifact, error)

	// Close cleans up resources.
	Close() error
}

// Handle is a loaded checkpoint, owned by the collaborator that created it.
type Handle struct {
	// Checkpoint is the reference the handle was loaded from.
	Checkpoint string

	// Path is the local checkpoint file.
	Path string

	// Provider is the collaborator that loaded the checkpoint.
	Provider Provider

	LoadedAt time.Time
}

// Options are the export settings handed to the collaborator unchanged.
type Options struct {
	// Format is the target format name, e.g. "onnx".
	Format string

	// Opset is the operator-set version; 0 leaves the choice to the collaborator.
	Opset int

	// OutputDir receives the artifact; empty means the working directory.
	OutputDir string

	// Args carries collaborator-specific settings such as imgsz or half.
	Args map[string]any
}

// Artifact is the collaborator's reference to what it wrote.
type Artifact struct {
	Path       string        `json:"path"`
	Format     string        `json:"format"`
	Opset      int           `json:"opset,omitempty"`
	Checkpoint string        `json:"checkpoint"`
	Provider   Provider      `json:"provider"`
	IsDir      bool          `json:"is_dir,omitempty"`
	SizeBytes  int64         `json:"size_bytes"`
	Duration   time.Duration `json:"duration"`
	Log        string        `json:"-"`
}
