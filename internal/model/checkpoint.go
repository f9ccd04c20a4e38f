package model

import (
	"time"

	"github.com/ekisa-team/modelport/internal/config"
)

// CheckpointStatus is the resolution state of a checkpoint.
type CheckpointStatus string

const (
	// CheckpointStatusPending indicates the checkpoint has not been resolved yet.
	CheckpointStatusPending CheckpointStatus = "pending"

	// CheckpointStatusResolved indicates the checkpoint is available on disk.
	CheckpointStatusResolved CheckpointStatus = "resolved"

	// CheckpointStatusFailed indicates the checkpoint could not be resolved.
	CheckpointStatusFailed CheckpointStatus = "failed"
)

// Checkpoint is a checkpoint reference together with where it lives on disk.
type Checkpoint struct {
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
	Ref        string            `json:"ref"`
	Path       string            `json:"path"`
	Source     config.SourceType `json:"source"`
	Status     CheckpointStatus  `json:"status"`
	Cached     bool              `json:"cached"`
	Error      string            `json:"error,omitempty"`
}

// NewCheckpoint creates a pending checkpoint for ref.
func NewCheckpoint(ref string, sourceType config.SourceType) *Checkpoint {
	return &Checkpoint{
		Ref:    ref,
		Source: sourceType,
		Status: CheckpointStatusPending,
	}
}

// SetStatus sets the status of the checkpoint.
func (c *Checkpoint) SetStatus(status CheckpointStatus) {
	c.Status = status
	if status == CheckpointStatusResolved {
		now := time.Now()
		c.ResolvedAt = &now
	}
}

// SetError marks the checkpoint failed.
func (c *Checkpoint) SetError(err error) {
	c.Status = CheckpointStatusFailed
	c.Error = err.Error()
}
