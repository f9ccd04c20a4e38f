package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ekisa-team/modelport/internal/config"
)

// HTTPDownloader fetches release assets and plain URLs.
type HTTPDownloader struct {
	client     *http.Client
	retryDelay time.Duration
}

// NewHTTPDownloader creates a downloader; a nil client uses a client
// bounded by the per-attempt timeout.
func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}

	return &HTTPDownloader{
		client:     client,
		retryDelay: defaultRetryDelay,
	}
}

// Download fetches the checkpoint unless a previous download is already cached.
func (d *HTTPDownloader) Download(ctx context.Context, src config.CheckpointSource, targetDir string) (string, bool, error) {
	rawURL, dest, err := d.destination(src, targetDir)
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		slog.Info("Checkpoint already downloaded, skipping", "url", rawURL, "path", dest)
		return dest, true, nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create directory: %w", err)
	}

	var lastErr error
	for attempt := range defaultMaxRetries {
		if attempt > 0 {
			slog.Info("Retrying download", "url", rawURL, "attempt", attempt+1, "last_error", lastErr)
			select {
			case <-ctx.Done():
				return "", false, fmt.Errorf("download canceled: %w", ctx.Err())
			case <-time.After(d.retryDelay):
			}
		} else {
			slog.Info("Downloading checkpoint", "url", rawURL, "path", dest)
		}

		n, err := d.fetch(ctx, rawURL, dest)
		if err == nil {
			slog.Info("Checkpoint downloaded successfully", "url", rawURL, "path", dest, "size", humanize.Bytes(uint64(n)), "attempt", attempt+1)
			return dest, false, nil
		}

		if errors.Is(err, ErrNotFound) {
			return "", false, err
		}
		if ctx.Err() != nil {
			return "", false, fmt.Errorf("download canceled: %w", ctx.Err())
		}

		lastErr = err
		slog.Error("Failed to download checkpoint", "url", rawURL, "attempt", attempt+1, "error", err)
	}

	return "", false, lastErr
}

// destination maps a source to its URL and cache path.
func (d *HTTPDownloader) destination(src config.CheckpointSource, targetDir string) (string, string, error) {
	switch s := src.(type) {
	case config.ReleaseSource:
		if s.Asset == "" || s.Tag == "" {
			return "", "", fmt.Errorf("release source needs tag and asset: %+v", s)
		}
		return s.URL(), filepath.Join(targetDir, "release", s.Tag, filepath.Base(s.Asset)), nil
	case config.URLSource:
		u, err := url.Parse(s.URL)
		if err != nil {
			return "", "", fmt.Errorf("invalid checkpoint url: %w", err)
		}
		name := path.Base(u.Path)
		if name == "" || name == "/" || name == "." {
			return "", "", fmt.Errorf("checkpoint url has no file name: %s", s.URL)
		}
		return s.URL, filepath.Join(targetDir, "url", cacheHost(u.Host), urlKey(s.URL), name), nil
	default:
		return "", "", fmt.Errorf("invalid source type: %T", src)
	}
}

// urlKey keeps URLs that share a host and file name in separate cache entries.
func urlKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:])[:12]
}

// cacheHost makes host:port usable as a directory name on every platform.
func cacheHost(host string) string {
	return strings.ReplaceAll(host, ":", "_")
}

// fetch streams the body into a temporary file renamed over dest on success.
func (d *HTTPDownloader) fetch(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%s: %w", rawURL, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("unexpected status %s from %s", resp.Status, rawURL)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return 0, fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return 0, fmt.Errorf("failed to move checkpoint into cache: %w", err)
	}

	return n, nil
}
