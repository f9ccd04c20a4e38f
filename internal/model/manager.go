package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/ekisa-team/modelport/internal/config"
	"github.com/ekisa-team/modelport/internal/config/source"
	"github.com/ekisa-team/modelport/internal/xfs"
)

// assetPattern matches the pretrained checkpoint names published with
// Ultralytics releases, e.g. yolov8n.pt, yolo11s-seg.pt, rtdetr-l.pt.
var assetPattern = regexp.MustCompile(`^(yolo|rtdetr|sam|mobile_sam|FastSAM)[A-Za-z0-9_.-]*\.pt$`)

// DownloaderFunc returns the downloader for a source type.
type DownloaderFunc func(ctx context.Context, sourceType config.SourceType) (source.Downloader, error)

// Manager turns checkpoint references into local files.
type Manager struct {
	registry      *Registry
	checkpoint    config.CheckpointConfig
	modelsPath    string
	getDownloader DownloaderFunc
	mu            sync.Mutex
}

// NewManager creates a manager for the given configuration.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		registry:      NewRegistry(),
		checkpoint:    cfg.Checkpoint,
		modelsPath:    config.ResolveModelsPath(cfg),
		getDownloader: source.GetDownloader,
	}
}

// WithDownloaders replaces the downloader lookup.
func (m *Manager) WithDownloaders(fn DownloaderFunc) *Manager {
	m.getDownloader = fn
	return m
}

// Registry returns the checkpoint registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// ModelsPath returns the checkpoint cache directory.
func (m *Manager) ModelsPath() string {
	return m.modelsPath
}

// Resolve returns the local path of ref, downloading it when needed.
// Lookup order: existing file, configured source block, hf:// reference,
// http(s) URL, known release asset name.
func (m *Manager) Resolve(ctx context.Context, ref string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("empty checkpoint reference: %w", ErrNotFound)
	}

	if c, ok := m.registry.Get(ref); ok && c.Status == CheckpointStatusResolved && xfs.Exists(c.Path) {
		return c, nil
	}

	src, err := m.classify(ref)
	if err != nil {
		return nil, err
	}

	checkpoint := NewCheckpoint(ref, src.Type())
	m.registry.Set(checkpoint)

	if src.Type() != config.SourceTypeLocal {
		if err := source.EnsureModelsDirectory(m.modelsPath); err != nil {
			checkpoint.SetError(err)
			return nil, fmt.Errorf("failed to prepare models directory %s: %w", m.modelsPath, err)
		}
	}

	downloader, err := m.getDownloader(ctx, src.Type())
	if err != nil {
		checkpoint.SetError(err)
		return nil, fmt.Errorf("failed to get downloader for %s: %w", ref, err)
	}

	path, cached, err := downloader.Download(ctx, src, m.modelsPath)
	if err != nil {
		checkpoint.SetError(err)
		if errors.Is(err, source.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w: %w", ref, ErrNotFound, err)
		}
		return nil, fmt.Errorf("failed to fetch checkpoint %s: %w", ref, err)
	}

	checkpoint.Path = path
	checkpoint.Cached = cached
	checkpoint.SetStatus(CheckpointStatusResolved)

	slog.Info("Checkpoint resolved", "ref", ref, "source", src.Type(), "path", path, "cached", cached)

	return checkpoint, nil
}

// classify decides where ref comes from.
func (m *Manager) classify(ref string) (config.CheckpointSource, error) {
	local := xfs.ExpandTilde(ref)
	if xfs.Exists(local) {
		return config.LocalSource{Path: local}, nil
	}

	if ref == m.checkpoint.Ref {
		if src, err := m.checkpoint.GetSource(); err == nil {
			return src, nil
		}
	}

	if strings.HasPrefix(ref, "hf://") {
		return parseHuggingFaceRef(ref)
	}

	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return config.URLSource{URL: ref}, nil
	}

	if assetPattern.MatchString(ref) {
		rel := config.ReleaseSource{
			BaseURL: config.DefaultReleaseBaseURL,
			Tag:     config.DefaultReleaseTag,
			Asset:   ref,
		}
		if r := m.checkpoint.Release; r != nil {
			rel.BaseURL, rel.Tag = r.BaseURL, r.Tag
		}
		return rel, nil
	}

	return nil, fmt.Errorf("%s: no such file and not a known checkpoint: %w", ref, ErrNotFound)
}

// parseHuggingFaceRef parses hf://org/repo/path/to/file.pt.
func parseHuggingFaceRef(ref string) (config.CheckpointSource, error) {
	parts := strings.SplitN(strings.TrimPrefix(ref, "hf://"), "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, fmt.Errorf("invalid hugging face reference %q, want hf://org/repo/file.pt: %w", ref, ErrNotFound)
	}

	return config.HuggingFaceSource{
		Repo:    parts[0] + "/" + parts[1],
		Include: []string{parts[2]},
	}, nil
}
