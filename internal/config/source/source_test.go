package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelport/internal/config"
)

func TestGetDownloader(t *testing.T) {
	ctx := context.Background()

	d, err := GetDownloader(ctx, config.SourceTypeHuggingFace)
	require.NoError(t, err)
	assert.IsType(t, &HuggingFaceDownloader{}, d)

	d, err = GetDownloader(ctx, config.SourceTypeRelease)
	require.NoError(t, err)
	assert.IsType(t, &HTTPDownloader{}, d)

	d, err = GetDownloader(ctx, config.SourceTypeLocal)
	require.NoError(t, err)
	assert.IsType(t, &LocalResolver{}, d)

	_, err = GetDownloader(ctx, config.SourceType("s3"))
	assert.Error(t, err)
}

func TestEnsureModelsDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureModelsDirectory(dir))
	require.NoError(t, EnsureModelsDirectory(dir))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Error(t, EnsureModelsDirectory(file))
}

func TestLocalResolver(t *testing.T) {
	dir := t.TempDir()
	ckpt := filepath.Join(dir, "best.pt")
	require.NoError(t, os.WriteFile(ckpt, []byte("PK"), 0o644))

	path, cached, err := LocalResolver{}.Download(context.Background(), config.LocalSource{Path: ckpt}, "")
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, ckpt, path)

	_, _, err = LocalResolver{}.Download(context.Background(), config.LocalSource{Path: filepath.Join(dir, "nope.pt")}, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, _, err = LocalResolver{}.Download(context.Background(), config.LocalSource{Path: dir}, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTPDownloader_Release(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/v8.3.0/yolov8n.pt" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("PK\x03\x04weights"))
	}))
	defer srv.Close()

	target := t.TempDir()
	src := config.ReleaseSource{BaseURL: srv.URL, Tag: "v8.3.0", Asset: "yolov8n.pt"}
	d := NewHTTPDownloader(srv.Client())

	path, cached, err := d.Download(context.Background(), src, target)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, filepath.Join(target, "release", "v8.3.0", "yolov8n.pt"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "PK\x03\x04weights", string(data))

	// Second call is served from the cache.
	path2, cached, err := d.Download(context.Background(), src, target)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, path, path2)
	assert.Equal(t, int32(1), hits.Load())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestHTTPDownloader_NotFoundIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	d := NewHTTPDownloader(srv.Client())
	_, _, err := d.Download(context.Background(),
		config.ReleaseSource{BaseURL: srv.URL, Tag: "v8.3.0", Asset: "yolov99z.pt"}, t.TempDir())

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), hits.Load())
}

func TestHTTPDownloader_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("PK\x03\x04"))
	}))
	defer srv.Close()

	d := NewHTTPDownloader(srv.Client())
	d.retryDelay = time.Millisecond

	path, _, err := d.Download(context.Background(), config.URLSource{URL: srv.URL + "/weights/best.pt"}, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "best.pt", filepath.Base(path))
	assert.Equal(t, int32(3), hits.Load())
}

func TestHTTPDownloader_SameNameDifferentPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("PK\x03\x04weights from " + r.URL.Path))
	}))
	defer srv.Close()

	target := t.TempDir()
	d := NewHTTPDownloader(srv.Client())

	p1, cached, err := d.Download(context.Background(), config.URLSource{URL: srv.URL + "/v1/best.pt"}, target)
	require.NoError(t, err)
	assert.False(t, cached)

	p2, cached, err := d.Download(context.Background(), config.URLSource{URL: srv.URL + "/v2/best.pt"}, target)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, "best.pt", filepath.Base(p2))
	assert.NotContains(t, p2[len(target):], ":")

	data, err := os.ReadFile(p2)
	require.NoError(t, err)
	assert.Equal(t, "PK\x03\x04weights from /v2/best.pt", string(data))

	again, cached, err := d.Download(context.Background(), config.URLSource{URL: srv.URL + "/v1/best.pt"}, target)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, p1, again)
}

func TestHTTPDownloader_InvalidURL(t *testing.T) {
	d := NewHTTPDownloader(nil)
	_, _, err := d.Download(context.Background(), config.URLSource{URL: "https://example.com/"}, t.TempDir())
	assert.ErrorContains(t, err, "no file name")
}

func TestHuggingFaceDownloader_BuildArgs(t *testing.T) {
	d := &HuggingFaceDownloader{}
	args := d.buildArgs(config.HuggingFaceSource{
		Repo:       " Ultralytics/YOLOv8 ",
		Revision:   "main",
		Include:    []string{"yolov8n.pt"},
		MaxWorkers: 4,
	}, "/cache/hf")

	assert.Equal(t, []string{
		"download", "Ultralytics/YOLOv8",
		"--local-dir", "/cache/hf",
		"--revision", "main",
		"--include", "yolov8n.pt",
		"--max-workers", "4",
	}, args)
}

func TestHuggingFaceDownloader_IsNotFound(t *testing.T) {
	assert.True(t, isNotFound("huggingface_hub.errors.RepositoryNotFoundError: 401 Client Error"))
	assert.True(t, isNotFound("EntryNotFoundError: 404 Client Error. Entry Not Found for url"))
	assert.True(t, isNotFound("requests.exceptions.HTTPError: 404 Client Error: Not Found"))
	assert.False(t, isNotFound("yolov8n.pt: 4040kB [00:02, 1.9MB/s]\nConnectionError: read timed out"))
	assert.False(t, isNotFound(""))
}

func TestHuggingFaceDownloader_MarkerTracksAllFilters(t *testing.T) {
	d := &HuggingFaceDownloader{}
	base := config.HuggingFaceSource{Repo: "Ultralytics/YOLOv8", Include: []string{"*.pt"}}

	withExclude := base
	withExclude.Exclude = []string{"yolov8x.pt"}
	assert.NotEqual(t, d.markerContent(base), d.markerContent(withExclude))

	withType := base
	withType.RepoType = "dataset"
	assert.NotEqual(t, d.markerContent(base), d.markerContent(withType))

	withToken := base
	withToken.Token = "hf_secret"
	assert.Equal(t, d.markerContent(base), d.markerContent(withToken))
}

func TestHuggingFaceDownloader_UsesMarker(t *testing.T) {
	target := t.TempDir()
	src := config.HuggingFaceSource{Repo: "Ultralytics/YOLOv8", Include: []string{"yolov8n.pt"}}
	d := &HuggingFaceDownloader{Binary: filepath.Join(target, "missing-hf")}

	repoDir := filepath.Join(target, "huggingface", "Ultralytics/YOLOv8")
	require.NoError(t, os.MkdirAll(repoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "yolov8n.pt"), []byte("PK"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, markerFilename), []byte(d.markerContent(src)), 0o644))

	path, cached, err := d.Download(context.Background(), src, target)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, filepath.Join(repoDir, "yolov8n.pt"), path)
}

func TestFindCheckpoint(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yolov8n.pt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), nil, 0o644))

	path, err := findCheckpoint(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "yolov8n.pt"), path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "yolov8s.pt"), nil, 0o644))
	_, err = findCheckpoint(dir, nil)
	assert.ErrorContains(t, err, "ambiguous")

	path, err = findCheckpoint(dir, []string{"yolov8s.*"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "yolov8s.pt"), path)

	_, err = findCheckpoint(dir, []string{"*.onnx"})
	assert.ErrorIs(t, err, ErrNotFound)
}
