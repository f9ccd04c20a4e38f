package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// SourceType represents the type of checkpoint source.
type SourceType string

const (
	// SourceTypeLocal is a checkpoint file already on disk.
	SourceTypeLocal SourceType = "local"

	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"

	// SourceTypeRelease is a named asset published on a release page.
	SourceTypeRelease SourceType = "release"

	// SourceTypeURL is a checkpoint fetched from an arbitrary http(s) URL.
	SourceTypeURL SourceType = "url"
)

// Config holds the main configuration for the application.
type Config struct {
	Version      string             `json:"version"                yaml:"version"`
	Checkpoint   CheckpointConfig   `json:"checkpoint"             yaml:"checkpoint"`
	Export       ExportConfig       `json:"export"                 yaml:"export"`
	Collaborator CollaboratorConfig `json:"collaborator,omitempty" yaml:"collaborator,omitempty"`
	Storage      StorageConfig      `json:"storage,omitempty"      yaml:"storage,omitempty"`
	History      HistoryConfig      `json:"history,omitempty"      yaml:"history,omitempty"`
	Runtime      RuntimeConfig      `json:"runtime,omitempty"      yaml:"runtime,omitempty"`
	Server       ServerConfig       `json:"server,omitempty"       yaml:"server,omitempty"`
}

// CheckpointConfig identifies the pretrained weights to export.
// Ref alone is enough for local files, URLs and release assets; the
// source blocks pin a specific origin.
type CheckpointConfig struct {
	Ref         string             `json:"ref"                   yaml:"ref"`
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
	Release     *ReleaseSource     `json:"release,omitempty"     yaml:"release,omitempty"`
}

// ExportConfig holds the conversion options handed to the collaborator.
type ExportConfig struct {
	Format    string          `json:"format"               yaml:"format"`
	Opset     int             `json:"opset"                yaml:"opset"`
	OutputDir string          `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	Args      map[string]any  `json:"args,omitempty"       yaml:"args,omitempty"`
	Timeout   Duration        `json:"timeout,omitempty"    yaml:"timeout,omitempty"`
	Verify    *bool           `json:"verify,omitempty"     yaml:"verify,omitempty"`
	Publish   []PublishTarget `json:"publish,omitempty"    yaml:"publish,omitempty"`
}

// PublishTarget is an extra location the artifact is copied to after export.
type PublishTarget struct {
	Path string `json:"path" yaml:"path"`
}

// CollaboratorConfig selects and configures the export collaborator.
type CollaboratorConfig struct {
	Provider string `json:"provider,omitempty"  yaml:"provider,omitempty"`
	Binary   string `json:"binary,omitempty"    yaml:"binary,omitempty"`
	MaxOpset int    `json:"max_opset,omitempty" yaml:"max_opset,omitempty"`
}

// StorageConfig holds configuration for the checkpoint cache.
type StorageConfig struct {
	ModelsDir string `json:"models_dir,omitempty" yaml:"models_dir,omitempty"`
}

// HistoryConfig holds configuration for the export ledger.
type HistoryConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Path    string `json:"path,omitempty"    yaml:"path,omitempty"`
}

// RuntimeConfig points at the onnxruntime shared library used to probe artifacts.
type RuntimeConfig struct {
	Library string `json:"library,omitempty" yaml:"library,omitempty"`
}

// ServerConfig holds configuration for the watch mode health server.
type ServerConfig struct {
	GRPCAddr string `json:"grpc_addr,omitempty" yaml:"grpc_addr,omitempty"`
}

// -------------------------
// Source definitions
// -------------------------

// CheckpointSource represents a source for a checkpoint.
type CheckpointSource interface {
	Type() SourceType
}

// LocalSource is a checkpoint file on disk.
type LocalSource struct {
	Path string
}

// Type returns the local source type.
func (LocalSource) Type() SourceType {
	return SourceTypeLocal
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string   `json:"repo"                     yaml:"repo"`
	Revision      string   `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string   `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string   `json:"token,omitempty"          yaml:"token,omitempty"`
	Include       []string `json:"include,omitempty"        yaml:"include,omitempty"`
	Exclude       []string `json:"exclude,omitempty"        yaml:"exclude,omitempty"`
	MaxWorkers    int      `json:"max_workers,omitempty"    yaml:"max_workers,omitempty"`
	ForceDownload bool     `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// ReleaseSource is a named asset attached to a release, e.g. the
// Ultralytics assets repository that hosts yolov8n.pt.
type ReleaseSource struct {
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Tag     string `json:"tag,omitempty"      yaml:"tag,omitempty"`
	Asset   string `json:"asset,omitempty"    yaml:"asset,omitempty"`
}

// Type returns the release source type.
func (ReleaseSource) Type() SourceType {
	return SourceTypeRelease
}

// URL returns the download URL of the asset.
func (r ReleaseSource) URL() string {
	return strings.TrimRight(r.BaseURL, "/") + "/" + url.PathEscape(r.Tag) + "/" + url.PathEscape(r.Asset)
}

// URLSource is a checkpoint downloaded from an arbitrary URL.
type URLSource struct {
	URL string
}

// Type returns the URL source type.
func (URLSource) Type() SourceType {
	return SourceTypeURL
}

// ErrNoSource is returned when a checkpoint reference maps to no source.
var ErrNoSource = errors.New("no source configured for checkpoint")

// GetSource returns the explicitly configured source for the checkpoint.
// References without an explicit block are classified by the model manager.
func (c *CheckpointConfig) GetSource() (CheckpointSource, error) {
	switch {
	case c.HuggingFace != nil:
		return *c.HuggingFace, nil
	case c.Release != nil:
		rel := *c.Release
		if rel.Asset == "" {
			rel.Asset = c.Ref
		}
		if rel.Asset == "" {
			return nil, fmt.Errorf("release source without asset: %w", ErrNoSource)
		}
		return rel, nil
	}

	return nil, ErrNoSource
}

// SetHuggingFaceSource sets the Hugging Face source.
func (c *CheckpointConfig) SetHuggingFaceSource(source HuggingFaceSource) {
	c.HuggingFace = &source
}

// VerifyEnabled reports whether the artifact should be inspected after export.
func (e ExportConfig) VerifyEnabled() bool {
	return e.Verify == nil || *e.Verify
}

// IsEnabled reports whether runs are recorded in the ledger. The ledger is
// opt-in, so a plain export leaves no state behind.
func (h HistoryConfig) IsEnabled() bool {
	return h.Enabled != nil && *h.Enabled
}

// Duration is a time.Duration that decodes from strings like "10m".
type Duration time.Duration

// UnmarshalYAML decodes a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)

	return nil
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
