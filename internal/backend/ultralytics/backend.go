// Package ultralytics exports checkpoints through the Ultralytics yolo CLI.
package ultralytics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekisa-team/modelport/internal/backend"
	"github.com/ekisa-team/modelport/internal/mapsafe"
	"github.com/ekisa-team/modelport/internal/model"
	"github.com/ekisa-team/modelport/internal/xfs"
)

const (
	// MinOpset is the oldest ONNX opset the torch exporter emits.
	MinOpset = 7

	stagingPrefix = ".modelport-staging-"
)

// reservedArgs are set by the backend itself and cannot be overridden through Options.Args.
var reservedArgs = map[string]bool{
	"model":   true,
	"format":  true,
	"opset":   true,
	"project": true,
	"name":    true,
}

// Resolver turns checkpoint references into local files.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*model.Checkpoint, error)
}

// Backend implements backend.Exporter for Ultralytics.
type Backend struct {
	executor *backend.Executor
	resolver Resolver
	maxOpset int
}

// NewBackend creates a new Ultralytics backend running binary (usually "yolo").
func NewBackend(binary string, timeout time.Duration, resolver Resolver, maxOpset int) (*Backend, error) {
	executor, err := backend.NewExecutor(binary, timeout)
	if err != nil {
		return nil, err
	}

	return NewBackendWithExecutor(executor, resolver, maxOpset), nil
}

// NewBackendWithExecutor creates a backend around an existing executor.
func NewBackendWithExecutor(executor *backend.Executor, resolver Resolver, maxOpset int) *Backend {
	return &Backend{
		executor: executor,
		resolver: resolver,
		maxOpset: maxOpset,
	}
}

// Provider returns the backend provider.
func (b *Backend) Provider() backend.Provider {
	return backend.ProviderUltralytics
}

// Load resolves the checkpoint and checks it is a PyTorch archive.
func (b *Backend) Load(ctx context.Context, checkpoint string) (*backend.Handle, error) {
	c, err := b.resolver.Resolve(ctx, checkpoint)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", backend.ErrCheckpointNotFound, err)
		}
		return nil, fmt.Errorf("failed to load %s: %w", checkpoint, err)
	}

	if err := checkCheckpoint(c.Path); err != nil {
		return nil, err
	}

	return &backend.Handle{
		Checkpoint: checkpoint,
		Path:       c.Path,
		Provider:   b.Provider(),
		LoadedAt:   time.Now(),
	}, nil
}

// Export runs yolo export in a private staging directory and moves the
// artifact into opts.OutputDir once the process succeeds. A failed run
// leaves the output directory untouched.
func (b *Backend) Export(ctx context.Context, h *backend.Handle, opts backend.Options) (*backend.Artifact, error) {
	if h == nil {
		return nil, errors.New("export: nil model handle")
	}

	format, err := backend.LookupFormat(opts.Format)
	if err != nil {
		return nil, err
	}

	if err := b.checkOpset(format, opts.Opset); err != nil {
		return nil, err
	}

	outputDir := opts.OutputDir
	if outputDir == "" {
		outputDir = "."
	}
	outputDir, err = filepath.Abs(xfs.ExpandTilde(outputDir))
	if err != nil {
		return nil, fmt.Errorf("invalid output directory: %w", err)
	}

	staging := filepath.Join(outputDir, stagingPrefix+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			slog.Warn("Failed to remove staging directory", "path", staging, "error", err)
		}
	}()

	staged, err := stageCheckpoint(h.Path, staging)
	if err != nil {
		return nil, err
	}

	args := b.buildArgs(staged, format, opts)
	slog.Info("Exporting checkpoint",
		"provider", b.Provider(),
		"checkpoint", h.Checkpoint,
		"format", format.Name,
		"opset", opts.Opset,
		"args", strings.Join(args, " "))

	start := time.Now()
	output, err := b.executor.Stream(ctx, staging, args, func(line string) {
		slog.Debug("Exporter output", "provider", b.Provider(), "line", line)
	})
	if err != nil {
		return nil, classifyFailure(err, output)
	}

	produced := filepath.Join(staging, format.ArtifactName(staged))
	if !xfs.Exists(produced) {
		return nil, fmt.Errorf("export: %s reported success but did not write %s\n%s",
			b.executor.BinaryPath(), filepath.Base(produced), tail(output, 20))
	}

	final := filepath.Join(outputDir, format.ArtifactName(h.Path))
	if err := xfs.Replace(produced, final); err != nil {
		return nil, fmt.Errorf("failed to move artifact into %s: %w", outputDir, err)
	}

	size, err := artifactSize(final)
	if err != nil {
		return nil, err
	}

	return &backend.Artifact{
		Path:       final,
		Format:     format.Name,
		Opset:      opts.Opset,
		Checkpoint: h.Checkpoint,
		Provider:   b.Provider(),
		IsDir:      format.Dir,
		SizeBytes:  size,
		Duration:   time.Since(start),
		Log:        output,
	}, nil
}

// Version runs `yolo version`, failing early when the installation is broken.
func (b *Backend) Version(ctx context.Context) (string, error) {
	stdout, stderr, err := b.executor.Execute(ctx, "", []string{"version"}, nil)
	if err != nil {
		return "", fmt.Errorf("%s version failed: %w\n%s", b.executor.BinaryPath(), err, tail(string(stderr), 20))
	}

	version := strings.TrimSpace(string(stdout))
	if version == "" {
		return "", fmt.Errorf("%s version printed nothing", b.executor.BinaryPath())
	}
	return version, nil
}

// Close cleans up resources. The CLI backend holds none.
func (b *Backend) Close() error {
	return nil
}

// checkOpset rejects an opset the format cannot honour.
func (b *Backend) checkOpset(format backend.Format, opset int) error {
	switch {
	case opset == 0:
		return nil
	case !format.TakesOpset:
		return fmt.Errorf("%w: format %s does not take an opset (got %d)", backend.ErrUnsupportedOpset, format.Name, opset)
	case opset < MinOpset || opset > b.maxOpset:
		return fmt.Errorf("%w: %d is outside %d..%d for %s", backend.ErrUnsupportedOpset, opset, MinOpset, b.maxOpset, format.Name)
	}

	return nil
}

// buildArgs builds the yolo command line.
func (b *Backend) buildArgs(staged string, format backend.Format, opts backend.Options) []string {
	args := []string{
		"export",
		"model=" + filepath.Base(staged),
		"format=" + format.Name,
	}

	if opts.Opset > 0 {
		args = append(args, fmt.Sprintf("opset=%d", opts.Opset))
	}

	for _, key := range mapsafe.Keys(opts.Args) {
		if reservedArgs[key] {
			slog.Warn("Ignoring reserved export argument", "key", key)
			continue
		}
		args = append(args, key+"="+mapsafe.Format(opts.Args[key]))
	}

	return args
}

// checkCheckpoint verifies path looks like a PyTorch checkpoint: a .pt or
// .pth file holding either a zip archive (torch >= 1.6) or a raw pickle.
func checkCheckpoint(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pt" && ext != ".pth" {
		return fmt.Errorf("%w: %s is not a .pt checkpoint", backend.ErrIncompatibleFormat, filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %w", backend.ErrCheckpointNotFound, err)
	}
	defer f.Close()

	header := make([]byte, 4)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read checkpoint: %w", err)
	}
	header = header[:n]

	switch {
	case bytes.HasPrefix(header, []byte("PK\x03\x04")):
		return nil
	case len(header) > 0 && header[0] == 0x80:
		return nil
	default:
		return fmt.Errorf("%w: %s is neither a torch zip archive nor a pickle", backend.ErrIncompatibleFormat, filepath.Base(path))
	}
}

// stageCheckpoint links the checkpoint into the staging directory,
// copying when symlinks are unavailable.
func stageCheckpoint(path, staging string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	staged := filepath.Join(staging, filepath.Base(path))
	if err := os.Symlink(abs, staged); err == nil {
		return staged, nil
	}

	if err := xfs.CopyFile(abs, staged); err != nil {
		return "", fmt.Errorf("failed to stage checkpoint: %w", err)
	}

	return staged, nil
}

// failureKinds maps collaborator messages to error kinds.
var failureKinds = []struct {
	needle string
	kind   error
}{
	{"Invalid export format", backend.ErrUnsupportedFormat},
	{"Unsupported ONNX opset", backend.ErrUnsupportedOpset},
	{"Unsupported opset", backend.ErrUnsupportedOpset},
	{"opset version", backend.ErrUnsupportedOpset},
	{"FileNotFoundError", backend.ErrCheckpointNotFound},
	{"PytorchStreamReader failed", backend.ErrIncompatibleFormat},
	{"UnpicklingError", backend.ErrIncompatibleFormat},
}

// classifyFailure turns a failed run into an error carrying the matching kind.
func classifyFailure(err error, output string) error {
	for _, fk := range failureKinds {
		if strings.Contains(output, fk.needle) {
			return fmt.Errorf("%w: %w\n%s", fk.kind, err, tail(output, 20))
		}
	}

	return fmt.Errorf("yolo export failed: %w\n%s", err, tail(output, 20))
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// artifactSize returns the size of a file or the total size of a directory.
func artifactSize(path string) (int64, error) {
	var total int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to stat artifact: %w", err)
	}

	return total, nil
}
