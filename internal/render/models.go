// Package render owns the render job lifecycle: fingerprint-idempotent
// submission, a bounded worker pool dispatching to the compositor, monotonic
// status transitions, and best-effort cancellation.
package render

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/timeline"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRendering Status = "rendering"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Job tracks one timeline through composition. Terminal states are
// succeeded, failed, and cancelled; no transition leaves a terminal state.
type Job struct {
	ID          string                  `json:"id"`
	Fingerprint string                  `json:"fingerprint"`
	Timeline    *timeline.Timeline      `json:"timeline,omitempty"`
	Status      Status                  `json:"status"`
	Progress    float64                 `json:"progress"`
	Artifact    *compositor.ArtifactRef `json:"artifact,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Revision    int64                   `json:"revision"`
	CreatedAt   time.Time               `json:"created_at"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

func (j *Job) IsTerminal() bool {
	switch j.Status {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ErrNotFound reports that no render job exists for the given id.
var ErrNotFound = errors.New("render job not found")

func NewID() string {
	return uuid.NewString()
}
