// Package service runs exports end to end: the driver, artifact checks,
// publishing and the history ledger.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ekisa-team/modelport/internal/backend"
	"github.com/ekisa-team/modelport/internal/driver"
	"github.com/ekisa-team/modelport/internal/history"
	"github.com/ekisa-team/modelport/internal/mapsafe"
	"github.com/ekisa-team/modelport/internal/onnx"
	"github.com/ekisa-team/modelport/internal/onnx/ort"
	"github.com/ekisa-team/modelport/internal/xfs"
)

// ErrPublish is returned when an artifact could not be copied to a publish target.
var ErrPublish = errors.New("failed to publish artifact")

// Prober loads an artifact with a runtime.
type Prober interface {
	Probe(path string) (*ort.Report, error)
}

// Recorder stores export runs.
type Recorder interface {
	Record(ctx context.Context, e *history.Entry) error
}

// Job is one export plus what to do with the artifact afterwards.
type Job struct {
	driver.Request

	// Verify inspects ONNX artifacts before they are published.
	Verify bool

	// Publish lists extra paths that receive a copy of the artifact.
	Publish []string
}

// Result is the outcome of a successful job.
type Result struct {
	Artifact  *backend.Artifact `json:"artifact"`
	Model     *onnx.Model       `json:"model,omitempty"`
	Runtime   *ort.Report       `json:"runtime,omitempty"`
	SHA256    string            `json:"sha256"`
	Published []string          `json:"published,omitempty"`
	HistoryID string            `json:"history_id,omitempty"`
}

// Export is the export service.
type Export struct {
	exporter backend.Exporter
	prober   Prober
	history  Recorder
	now      func() time.Time
}

// Option configures Export.
type Option func(*Export)

// WithProber loads verified artifacts with a runtime as well.
func WithProber(p Prober) Option {
	return func(e *Export) {
		e.prober = p
	}
}

// WithHistory records every run.
func WithHistory(r Recorder) Option {
	return func(e *Export) {
		e.history = r
	}
}

// NewExport creates a new export service.
func NewExport(exporter backend.Exporter, opts ...Option) *Export {
	e := &Export{
		exporter: exporter,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run exports job.Request and post-processes the artifact. Errors from the
// driver are returned unchanged after the run has been recorded.
func (e *Export) Run(ctx context.Context, job Job) (*Result, error) {
	started := e.now()
	slog.Info("Starting export",
		"checkpoint", job.Checkpoint,
		"format", job.Format,
		"opset", job.Opset,
		"provider", e.exporter.Provider())

	artifact, err := driver.Run(ctx, e.exporter, job.Request)
	if err != nil {
		e.record(ctx, job, started, nil, err)
		return nil, err
	}

	res, err := e.finish(job, artifact)
	e.record(ctx, job, started, res, err)
	if err != nil {
		return nil, err
	}

	slog.Info("Export completed",
		"artifact", artifact.Path,
		"size", humanize.Bytes(uint64(artifact.SizeBytes)),
		"duration", artifact.Duration,
		"sha256", res.SHA256)

	return res, nil
}

func (e *Export) finish(job Job, artifact *backend.Artifact) (*Result, error) {
	res := &Result{Artifact: artifact}

	sum, err := history.Digest(artifact.Path)
	if err != nil {
		return res, fmt.Errorf("failed to hash artifact: %w", err)
	}
	res.SHA256 = sum

	if job.Verify && artifact.Format == "onnx" {
		if err := e.verify(job, res); err != nil {
			return res, err
		}
	}

	for _, target := range job.Publish {
		dst, err := publish(artifact, target)
		if err != nil {
			return res, err
		}
		res.Published = append(res.Published, dst)
		slog.Info("Published artifact", "path", dst)
	}

	return res, nil
}

func (e *Export) verify(job Job, res *Result) error {
	m, err := onnx.ParseFile(res.Artifact.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", onnx.ErrVerification, err)
	}
	res.Model = m

	exp := onnx.Expectation{
		Opset:     job.Opset,
		ImageSize: mapsafe.Get(job.Args, "imgsz", 0),
	}
	if mapsafe.Get(job.Args, "dynamic", false) {
		exp.ImageSize = 0
	}
	if err := onnx.Verify(m, exp); err != nil {
		return err
	}

	if e.prober != nil {
		report, err := e.prober.Probe(res.Artifact.Path)
		if err != nil {
			return fmt.Errorf("%w: %w", onnx.ErrVerification, err)
		}
		res.Runtime = report
	}

	slog.Debug("Artifact verified",
		"ir_version", m.IRVersion,
		"inputs", len(m.Graph.RealInputs()),
		"outputs", len(m.Graph.Outputs))

	return nil
}

// publish copies a file artifact to target. A target ending in a path
// separator, or naming an existing directory, receives the artifact's base name.
func publish(artifact *backend.Artifact, target string) (string, error) {
	if artifact.IsDir {
		return "", fmt.Errorf("%w: %s is a directory", ErrPublish, artifact.Path)
	}

	dst := xfs.ExpandTilde(target)
	if isDirTarget(target, dst) {
		dst = filepath.Join(dst, filepath.Base(artifact.Path))
	}

	if err := xfs.CopyFile(artifact.Path, dst); err != nil {
		return "", fmt.Errorf("%w to %s: %w", ErrPublish, dst, err)
	}
	return dst, nil
}

func isDirTarget(raw, expanded string) bool {
	if len(raw) > 0 && (raw[len(raw)-1] == '/' || raw[len(raw)-1] == filepath.Separator) {
		return true
	}
	return xfs.IsDir(expanded)
}

func (e *Export) record(ctx context.Context, job Job, started time.Time, res *Result, runErr error) {
	if e.history == nil {
		return
	}

	entry := &history.Entry{
		StartedAt:  started,
		FinishedAt: e.now(),
		Checkpoint: job.Checkpoint,
		Format:     job.Format,
		Opset:      job.Opset,
		Status:     history.StatusSucceeded,
	}
	if res != nil && res.Artifact != nil {
		entry.Artifact = res.Artifact.Path
		entry.SizeBytes = res.Artifact.SizeBytes
		entry.SHA256 = res.SHA256
	}
	if runErr != nil {
		entry.Status = history.StatusFailed
		entry.Error = runErr.Error()
	}

	if err := e.history.Record(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("Failed to record export", "error", err)
		return
	}
	if res != nil {
		res.HistoryID = entry.ID
	}
}
