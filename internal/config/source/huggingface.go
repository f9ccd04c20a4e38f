package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ekisa-team/modelport/internal/config"
)

// checkpointExts are the file extensions accepted as PyTorch checkpoints.
var checkpointExts = []string{".pt", ".pth"}

// HuggingFaceDownloader downloads a checkpoint from a Hugging Face repository
// through the hf CLI.
type HuggingFaceDownloader struct {
	// Binary overrides the hf executable; empty means "hf" on PATH.
	Binary string
}

// Download downloads a Hugging Face repository snapshot to the local cache
// and returns the checkpoint file inside it.
func (d *HuggingFaceDownloader) Download(ctx context.Context, src config.CheckpointSource, targetDir string) (string, bool, error) {
	hfSource, ok := src.(config.HuggingFaceSource)
	if !ok {
		return "", false, fmt.Errorf("invalid source type: %T", src)
	}

	repo := strings.TrimSpace(hfSource.Repo)
	if repo == "" {
		return "", false, fmt.Errorf("invalid repo name: %q", hfSource.Repo)
	}

	fullPath := filepath.Join(targetDir, "huggingface", repo)
	markerPath := filepath.Join(fullPath, markerFilename)
	markerContent := d.markerContent(hfSource)

	if _, err := os.Stat(markerPath); err == nil && !hfSource.ForceDownload {
		if !d.shouldRedownload(markerPath, markerContent) {
			slog.Info("Checkpoint already downloaded and up-to-date (marker match), skipping", "repo", repo, "path", fullPath)
			path, err := findCheckpoint(fullPath, hfSource.Include)
			return path, true, err
		}
	}

	if err := os.MkdirAll(fullPath, 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}

	args := d.buildArgs(hfSource, fullPath)

	bin := d.Binary
	if bin == "" {
		bin = "hf"
	}

	var lastErr error
	for attempt := range defaultMaxRetries {
		if attempt > 0 {
			slog.Info("Retrying download", "repo", repo, "attempt", attempt+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", false, fmt.Errorf("download canceled: %w", ctx.Err())
			case <-time.After(defaultRetryDelay):
			}
		} else {
			slog.Info("Downloading checkpoint", "repo", repo, "path", fullPath)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		output, err := exec.CommandContext(attemptCtx, bin, args...).CombinedOutput()
		attemptErr := attemptCtx.Err()
		cancel()

		if err == nil {
			if err := os.WriteFile(markerPath, []byte(markerContent), 0o644); err != nil {
				slog.Warn("Failed to write download marker", "path", markerPath, "error", err)
			}

			slog.Info("Checkpoint downloaded successfully", "repo", repo, "path", fullPath, "attempt", attempt+1)
			path, err := findCheckpoint(fullPath, hfSource.Include)
			return path, false, err
		}

		lastErr = err
		slog.Error("Failed to download checkpoint", "repo", repo, "attempt", attempt+1, "error", err, "output", string(output))

		if isNotFound(string(output)) {
			return "", false, fmt.Errorf("%s: %w", repo, ErrNotFound)
		}

		switch {
		case errors.Is(attemptErr, context.DeadlineExceeded) && ctx.Err() == nil:
			slog.Warn("Download timed out", "repo", repo, "attempt", attempt+1)
		case ctx.Err() != nil:
			return "", false, fmt.Errorf("download canceled: %w", ctx.Err())
		}
	}

	return "", false, lastErr
}

// buildArgs builds the hf download command line.
func (d *HuggingFaceDownloader) buildArgs(src config.HuggingFaceSource, localDir string) []string {
	args := []string{
		"download",
		strings.TrimSpace(src.Repo),
		"--local-dir", localDir,
	}

	if src.Revision != "" {
		args = append(args, "--revision", src.Revision)
	}
	if src.RepoType != "" {
		args = append(args, "--repo-type", src.RepoType)
	}
	for _, inc := range src.Include {
		args = append(args, "--include", inc)
	}
	for _, exc := range src.Exclude {
		args = append(args, "--exclude", exc)
	}
	if src.ForceDownload {
		args = append(args, "--force-download")
	}
	if src.Token != "" {
		args = append(args, "--token", src.Token)
	}
	if src.MaxWorkers > 0 {
		args = append(args, "--max-workers", fmt.Sprintf("%d", src.MaxWorkers))
	}

	return args
}

// markerContent generates the expected content of the marker file.
// Used to detect if we need to redownload due to config change.
func (d *HuggingFaceDownloader) markerContent(src config.HuggingFaceSource) string {
	return fmt.Sprintf("repo: %s\nrepo_type: %s\nrevision: %s\ninclude: %s\nexclude: %s\n",
		src.Repo, src.RepoType, src.Revision, strings.Join(src.Include, ","), strings.Join(src.Exclude, ","))
}

// notFoundMarkers are hf CLI messages for a missing repository, revision or file.
var notFoundMarkers = []string{
	"RepositoryNotFoundError",
	"RevisionNotFoundError",
	"EntryNotFoundError",
	"404 Client Error",
}

// isNotFound reports whether hf output names a missing repository or file.
// Progress output such as "4040kB" does not count.
func isNotFound(output string) bool {
	for _, m := range notFoundMarkers {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

// shouldRedownload checks if the checkpoint should be redownloaded by comparing marker content.
func (d *HuggingFaceDownloader) shouldRedownload(markerPath, expectedContent string) bool {
	content, err := os.ReadFile(markerPath)
	if err != nil {
		slog.Debug("Marker file missing or unreadable", "path", markerPath, "error", err)
		return true
	}

	if string(content) != expectedContent {
		slog.Info("Checkpoint config changed (marker mismatch), will redownload", "marker_path", markerPath)
		return true
	}

	return false
}

// findCheckpoint picks the single checkpoint file in baseDir matching the
// include patterns, or the only checkpoint file when there are none.
func findCheckpoint(baseDir string, includePatterns []string) (string, error) {
	var candidates []string

	if len(includePatterns) > 0 {
		for _, pattern := range includePatterns {
			matches, err := filepath.Glob(filepath.Join(baseDir, pattern))
			if err != nil {
				slog.Warn("Invalid glob pattern", "pattern", pattern, "error", err)
				continue
			}
			for _, m := range matches {
				if isCheckpointFile(m) {
					candidates = append(candidates, m)
				}
			}
		}
	} else {
		err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && d.Name() == ".cache" {
				return filepath.SkipDir
			}
			if !d.IsDir() && isCheckpointFile(path) {
				candidates = append(candidates, path)
			}
			return nil
		})
		if err != nil {
			return "", fmt.Errorf("failed to scan %s: %w", baseDir, err)
		}
	}

	sort.Strings(candidates)
	candidates = dedupe(candidates)

	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("no checkpoint file in %s: %w", baseDir, ErrNotFound)
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("ambiguous checkpoint in %s (%d candidates), narrow it with include patterns", baseDir, len(candidates))
	}
}

func isCheckpointFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range checkpointExts {
		if ext == e {
			return true
		}
	}
	return false
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
