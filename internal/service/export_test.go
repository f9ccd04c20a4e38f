package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ekisa-team/modelport/internal/backend"
	"github.com/ekisa-team/modelport/internal/driver"
	"github.com/ekisa-team/modelport/internal/history"
	"github.com/ekisa-team/modelport/internal/onnx"
	"github.com/ekisa-team/modelport/internal/onnx/onnxtest"
	"github.com/ekisa-team/modelport/internal/onnx/ort"
)

type MockExporter struct {
	mock.Mock
}

func (m *MockExporter) Provider() backend.Provider {
	return backend.ProviderUltralytics
}

func (m *MockExporter) Load(ctx context.Context, checkpoint string) (*backend.Handle, error) {
	args := m.Called(ctx, checkpoint)
	if h, ok := args.Get(0).(*backend.Handle); ok {
		return h, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockExporter) Export(ctx context.Context, h *backend.Handle, opts backend.Options) (*backend.Artifact, error) {
	args := m.Called(ctx, h, opts)
	if a, ok := args.Get(0).(*backend.Artifact); ok {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockExporter) Close() error {
	return nil
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) Record(ctx context.Context, e *history.Entry) error {
	return m.Called(ctx, e).Error(0)
}

type fakeProber struct {
	report *ort.Report
	err    error
	calls  int
}

func (p *fakeProber) Probe(string) (*ort.Report, error) {
	p.calls++
	return p.report, p.err
}

// writeArtifact writes an ONNX detector with the given opset and returns its artifact.
func writeArtifact(t *testing.T, dir string, opset int64) *backend.Artifact {
	t.Helper()
	path := filepath.Join(dir, "yolov8n.onnx")
	data := onnxtest.Detector(onnxtest.Options{Opset: opset, ImageSize: 640, Classes: 80, Anchors: 8400})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return &backend.Artifact{
		Path:       path,
		Format:     "onnx",
		Opset:      int(opset),
		Checkpoint: "yolov8n.pt",
		Provider:   backend.ProviderUltralytics,
		SizeBytes:  int64(len(data)),
	}
}

func defaultJob(outputDir string) Job {
	req := driver.DefaultRequest()
	req.OutputDir = outputDir
	return Job{Request: req, Verify: true}
}

func expectExport(exporter *MockExporter, job Job, artifact *backend.Artifact, err error) {
	handle := &backend.Handle{Checkpoint: job.Checkpoint, Path: "/cache/" + job.Checkpoint}
	exporter.On("Load", mock.Anything, job.Checkpoint).Return(handle, nil).Once()
	exporter.On("Export", mock.Anything, handle, backend.Options{
		Format:    job.Format,
		Opset:     job.Opset,
		OutputDir: job.OutputDir,
		Args:      job.Args,
	}).Return(artifact, err).Once()
}

func TestExport_Run(t *testing.T) {
	dir := t.TempDir()
	job := defaultJob(dir)
	artifact := writeArtifact(t, dir, 12)

	exporter := new(MockExporter)
	expectExport(exporter, job, artifact, nil)

	recorder := new(MockRecorder)
	recorder.On("Record", mock.Anything, mock.MatchedBy(func(e *history.Entry) bool {
		e.ID = "run-1"
		return e.Status == history.StatusSucceeded &&
			e.Checkpoint == "yolov8n.pt" &&
			e.Format == "onnx" &&
			e.Opset == 12 &&
			e.Artifact == artifact.Path &&
			len(e.SHA256) == 64
	})).Return(nil).Once()

	prober := &fakeProber{report: &ort.Report{Inputs: []ort.Tensor{{Name: "images"}}}}

	svc := NewExport(exporter, WithHistory(recorder), WithProber(prober))
	res, err := svc.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Same(t, artifact, res.Artifact)
	require.NotNil(t, res.Model)
	assert.Equal(t, "detect", res.Model.Task())
	assert.Equal(t, 1, prober.calls)
	assert.Same(t, prober.report, res.Runtime)
	assert.Len(t, res.SHA256, 64)
	assert.Equal(t, "run-1", res.HistoryID)

	exporter.AssertExpectations(t)
	recorder.AssertExpectations(t)
}

func TestExport_DriverErrorIsReturnedUnchanged(t *testing.T) {
	job := defaultJob(t.TempDir())
	exporter := new(MockExporter)
	cause := errors.New("yolov8n.pt: no such file")
	loadErr := errors.Join(backend.ErrCheckpointNotFound, cause)
	exporter.On("Load", mock.Anything, "yolov8n.pt").Return(nil, loadErr).Once()

	recorder := new(MockRecorder)
	recorder.On("Record", mock.Anything, mock.MatchedBy(func(e *history.Entry) bool {
		return e.Status == history.StatusFailed && e.Error == loadErr.Error() && e.Artifact == ""
	})).Return(nil).Once()

	_, err := NewExport(exporter, WithHistory(recorder)).Run(context.Background(), job)
	assert.Same(t, loadErr, err)
	assert.ErrorIs(t, err, backend.ErrCheckpointNotFound)

	exporter.AssertNotCalled(t, "Export", mock.Anything, mock.Anything, mock.Anything)
	recorder.AssertExpectations(t)
}

func TestExport_UnsupportedOpset(t *testing.T) {
	job := defaultJob(t.TempDir())
	job.Opset = 99

	exporter := new(MockExporter)
	exportErr := errors.Join(backend.ErrUnsupportedOpset, errors.New("opset 99"))
	expectExport(exporter, job, nil, exportErr)

	_, err := NewExport(exporter).Run(context.Background(), job)
	assert.Same(t, exportErr, err)
	assert.ErrorIs(t, err, backend.ErrUnsupportedOpset)
}

func TestExport_VerificationFailure(t *testing.T) {
	dir := t.TempDir()
	job := defaultJob(dir)
	// The collaborator ignored the requested opset.
	artifact := writeArtifact(t, dir, 17)

	exporter := new(MockExporter)
	expectExport(exporter, job, artifact, nil)

	recorder := new(MockRecorder)
	recorder.On("Record", mock.Anything, mock.MatchedBy(func(e *history.Entry) bool {
		return e.Status == history.StatusFailed && e.SHA256 != ""
	})).Return(nil).Once()

	_, err := NewExport(exporter, WithHistory(recorder)).Run(context.Background(), job)
	assert.ErrorIs(t, err, onnx.ErrVerification)
	assert.Contains(t, err.Error(), "opset is 17, requested 12")
	recorder.AssertExpectations(t)
}

func TestExport_ProbeFailure(t *testing.T) {
	dir := t.TempDir()
	job := defaultJob(dir)
	artifact := writeArtifact(t, dir, 12)

	exporter := new(MockExporter)
	expectExport(exporter, job, artifact, nil)

	prober := &fakeProber{err: errors.New("invalid graph")}
	_, err := NewExport(exporter, WithProber(prober)).Run(context.Background(), job)
	assert.ErrorIs(t, err, onnx.ErrVerification)
}

func TestExport_SkipVerification(t *testing.T) {
	dir := t.TempDir()
	job := defaultJob(dir)
	job.Verify = false
	artifact := writeArtifact(t, dir, 17)

	exporter := new(MockExporter)
	expectExport(exporter, job, artifact, nil)

	prober := &fakeProber{}
	res, err := NewExport(exporter, WithProber(prober)).Run(context.Background(), job)
	require.NoError(t, err)
	assert.Nil(t, res.Model)
	assert.Zero(t, prober.calls)
}

func TestExport_ImageSizeFromArgs(t *testing.T) {
	dir := t.TempDir()
	job := defaultJob(dir)
	job.Args = map[string]any{"imgsz": 320}
	artifact := writeArtifact(t, dir, 12)

	exporter := new(MockExporter)
	expectExport(exporter, job, artifact, nil)

	_, err := NewExport(exporter).Run(context.Background(), job)
	assert.ErrorIs(t, err, onnx.ErrVerification)

	job.Args = map[string]any{"imgsz": 320, "dynamic": true}
	expectExport(exporter, job, artifact, nil)
	_, err = NewExport(exporter).Run(context.Background(), job)
	assert.NoError(t, err)
}

func TestExport_Publish(t *testing.T) {
	dir := t.TempDir()
	job := defaultJob(dir)
	assets := filepath.Join(t.TempDir(), "android", "app", "src", "main", "assets", "models")
	job.Publish = []string{
		filepath.Join(assets, "model.onnx"),
		assets + "/",
	}
	artifact := writeArtifact(t, dir, 12)

	exporter := new(MockExporter)
	expectExport(exporter, job, artifact, nil)

	res, err := NewExport(exporter).Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, []string{
		filepath.Join(assets, "model.onnx"),
		filepath.Join(assets, "yolov8n.onnx"),
	}, res.Published)

	want, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	for _, p := range res.Published {
		got, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestExport_PublishDirectoryArtifact(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "yolov8n_openvino_model")
	require.NoError(t, os.MkdirAll(model, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(model, "yolov8n.xml"), []byte("<net/>"), 0o644))

	job := defaultJob(dir)
	job.Format = "openvino"
	job.Opset = 0
	job.Publish = []string{filepath.Join(dir, "published")}
	artifact := &backend.Artifact{Path: model, Format: "openvino", IsDir: true}

	exporter := new(MockExporter)
	expectExport(exporter, job, artifact, nil)

	_, err := NewExport(exporter).Run(context.Background(), job)
	assert.ErrorIs(t, err, ErrPublish)
}

func TestExport_HistoryFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	job := defaultJob(dir)
	artifact := writeArtifact(t, dir, 12)

	exporter := new(MockExporter)
	expectExport(exporter, job, artifact, nil)

	recorder := new(MockRecorder)
	recorder.On("Record", mock.Anything, mock.Anything).Return(errors.New("disk full")).Once()

	res, err := NewExport(exporter, WithHistory(recorder)).Run(context.Background(), job)
	require.NoError(t, err)
	assert.Empty(t, res.HistoryID)
}

func TestExport_RecordsTimestamps(t *testing.T) {
	dir := t.TempDir()
	job := defaultJob(dir)
	artifact := writeArtifact(t, dir, 12)

	exporter := new(MockExporter)
	expectExport(exporter, job, artifact, nil)

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	svc := NewExport(exporter, WithHistory(store))
	tick := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}

	res, err := svc.Run(context.Background(), job)
	require.NoError(t, err)

	last, err := store.Last(context.Background(), "yolov8n.pt", "onnx")
	require.NoError(t, err)
	assert.Equal(t, res.HistoryID, last.ID)
	assert.Equal(t, res.SHA256, last.SHA256)
	assert.Equal(t, time.Second, last.Duration())
}
