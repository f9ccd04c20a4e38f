package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const (
	// DefaultCheckpoint is the pretrained checkpoint exported when nothing else is configured.
	DefaultCheckpoint = "yolov8n.pt"

	// DefaultFormat is the default interchange format.
	DefaultFormat = "onnx"

	// DefaultOpset is the default ONNX operator-set version.
	DefaultOpset = 12

	// DefaultProvider is the default export collaborator.
	DefaultProvider = "ultralytics"

	// DefaultBinary is the collaborator executable looked up on PATH.
	DefaultBinary = "yolo"

	// DefaultMaxOpset is the newest opset the collaborator is trusted to emit.
	DefaultMaxOpset = 20

	// DefaultReleaseBaseURL hosts the pretrained Ultralytics checkpoints.
	DefaultReleaseBaseURL = "https://github.com/ultralytics/assets/releases/download"

	// DefaultReleaseTag is the asset release checkpoints are fetched from.
	DefaultReleaseTag = "v8.3.0"

	// DefaultExportTimeout bounds a single collaborator run.
	DefaultExportTimeout = 10 * time.Minute

	// DefaultGRPCAddr is the watch mode health server address.
	DefaultGRPCAddr = ":50061"
)

// DefaultConfigPath returns the default path for modelport config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "modelport", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "modelport")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "modelport")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "modelport")
		}
		return filepath.Join(home, ".config", "modelport")
	}
}

// DefaultModelsPath returns the default path for the checkpoint cache.
func DefaultModelsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "modelport", "models")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "modelport", "models")
	case "darwin":
		return filepath.Join(home, "Library", "Caches", "modelport", "models")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CACHE_HOME"); xdg != "" {
			return filepath.Join(xdg, "modelport", "models")
		}
		return filepath.Join(home, ".cache", "modelport", "models")
	}
}

// DefaultHistoryPath returns the default path for the export history database.
func DefaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "modelport", "history.db")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Local", "modelport", "history.db")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "modelport", "history.db")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "modelport", "history.db")
		}
		return filepath.Join(home, ".local", "share", "modelport", "history.db")
	}
}

// Default returns the configuration equivalent to exporting yolov8n.pt to ONNX opset 12.
func Default() *Config {
	cfg := &Config{
		Version: "1",
		Checkpoint: CheckpointConfig{
			Ref: DefaultCheckpoint,
		},
		Export: ExportConfig{
			Format: DefaultFormat,
			Opset:  DefaultOpset,
		},
	}
	cfg.ApplyDefaults()

	return cfg
}

// ApplyDefaults fills every unset optional field.
// An explicit format without an opset keeps opset 0, the collaborator's own default.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "1"
	}
	if c.Checkpoint.Ref == "" {
		switch hf, rel := c.Checkpoint.HuggingFace, c.Checkpoint.Release; {
		case hf != nil && len(hf.Include) == 1:
			c.Checkpoint.Ref = "hf://" + hf.Repo + "/" + hf.Include[0]
		case hf != nil:
			c.Checkpoint.Ref = "hf://" + hf.Repo
		case rel != nil && rel.Asset != "":
			c.Checkpoint.Ref = rel.Asset
		default:
			c.Checkpoint.Ref = DefaultCheckpoint
		}
	}
	if c.Checkpoint.Release != nil {
		if c.Checkpoint.Release.BaseURL == "" {
			c.Checkpoint.Release.BaseURL = DefaultReleaseBaseURL
		}
		if c.Checkpoint.Release.Tag == "" {
			c.Checkpoint.Release.Tag = DefaultReleaseTag
		}
	}
	if c.Export.Format == "" {
		c.Export.Format = DefaultFormat
		if c.Export.Opset == 0 {
			c.Export.Opset = DefaultOpset
		}
	}
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = "."
	}
	if c.Export.Timeout == 0 {
		c.Export.Timeout = Duration(DefaultExportTimeout)
	}
	if c.Collaborator.Provider == "" {
		c.Collaborator.Provider = DefaultProvider
	}
	if c.Collaborator.Binary == "" {
		c.Collaborator.Binary = DefaultBinary
	}
	if c.Collaborator.MaxOpset == 0 {
		c.Collaborator.MaxOpset = DefaultMaxOpset
	}
	if c.Server.GRPCAddr == "" {
		c.Server.GRPCAddr = DefaultGRPCAddr
	}
}
