// Package export coordinates publishing a rendered artifact to social
// platforms. Each platform is an isolated target with its own retry ladder;
// the export's aggregate status is derived from the targets, never stored.
package export

import (
	"errors"
	"time"

	"github.com/clipforge/clipforge/internal/platform"
)

type TargetStatus string

const (
	TargetPending   TargetStatus = "pending"
	TargetUploading TargetStatus = "uploading"
	TargetSucceeded TargetStatus = "succeeded"
	TargetFailed    TargetStatus = "failed"
)

// AggregateStatus values derived from a target set.
const (
	AggregateInProgress = "in_progress"
	AggregateSucceeded  = "succeeded"
	AggregatePartial    = "partial"
	AggregateFailed     = "failed"
)

var (
	// ErrNotFound reports that no export job exists for the given id.
	ErrNotFound = errors.New("export job not found")
	// ErrRenderNotSucceeded reports a publish against a render job that has
	// not produced an artifact.
	ErrRenderNotSucceeded = errors.New("render job has not succeeded")
	// ErrTargetNotRetryable reports a retry against a target that is not in
	// the failed state.
	ErrTargetNotRetryable = errors.New("target is not in a retryable state")
)

// Job is one publish request fanned out over platform targets.
type Job struct {
	ID           string    `json:"id"`
	RenderJobID  string    `json:"render_job_id"`
	ArtifactPath string    `json:"artifact_path"`
	Revision     int64     `json:"revision"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Target is the per-platform publish state. Attempts counts upload calls
// made in the current retry ladder; RetryTarget resets it.
type Target struct {
	ExportID  string            `json:"export_id"`
	Platform  string            `json:"platform"`
	Status    TargetStatus      `json:"status"`
	Attempts  int               `json:"attempts"`
	PostID    string            `json:"post_id,omitempty"`
	PostURL   string            `json:"post_url,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	Metadata  platform.Metadata `json:"metadata"`
	Revision  int64             `json:"revision"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (t *Target) IsTerminal() bool {
	return t.Status == TargetSucceeded || t.Status == TargetFailed
}

// Aggregate derives the export-level status from its targets: succeeded
// when all targets succeeded, failed when all failed, partial when the
// terminal mix is split, and in_progress while any target is still moving.
func Aggregate(targets []*Target) string {
	if len(targets) == 0 {
		return AggregateInProgress
	}

	succeeded, failed := 0, 0
	for _, t := range targets {
		switch t.Status {
		case TargetSucceeded:
			succeeded++
		case TargetFailed:
			failed++
		default:
			return AggregateInProgress
		}
	}

	switch {
	case failed == 0:
		return AggregateSucceeded
	case succeeded == 0:
		return AggregateFailed
	default:
		return AggregatePartial
	}
}
