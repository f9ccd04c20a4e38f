// Package source materializes checkpoints from their origin into the local cache.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ekisa-team/modelport/internal/config"
)

const (
	defaultRetryDelay = 2 * time.Second
	defaultMaxRetries = 3
	defaultTimeout    = 5 * time.Minute
	markerFilename    = ".modelport-downloaded"
)

// ErrNotFound is returned when the origin reports the checkpoint does not exist.
var ErrNotFound = errors.New("checkpoint not found at source")

// Downloader fetches a checkpoint into targetDir and returns the local file path.
// cached reports whether an earlier download was reused.
type Downloader interface {
	Download(ctx context.Context, src config.CheckpointSource, targetDir string) (path string, cached bool, err error)
}

// GetDownloader returns the downloader for a source type.
func GetDownloader(_ context.Context, sourceType config.SourceType) (Downloader, error) {
	switch sourceType {
	case config.SourceTypeLocal:
		return &LocalResolver{}, nil
	case config.SourceTypeHuggingFace:
		return &HuggingFaceDownloader{}, nil
	case config.SourceTypeRelease, config.SourceTypeURL:
		return NewHTTPDownloader(nil), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", sourceType)
	}
}

// EnsureModelsDirectory creates the checkpoint cache directory when missing.
func EnsureModelsDirectory(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return os.MkdirAll(path, 0o755)
}

// LocalResolver accepts checkpoints that already exist on disk.
type LocalResolver struct{}

// Download checks the file exists; nothing is copied.
func (LocalResolver) Download(_ context.Context, src config.CheckpointSource, _ string) (string, bool, error) {
	local, ok := src.(config.LocalSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", src)
	}

	info, err := os.Stat(local.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("%s: %w", local.Path, ErrNotFound)
		}
		return "", false, err
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("%s is a directory: %w", local.Path, ErrNotFound)
	}

	return local.Path, true, nil
}
