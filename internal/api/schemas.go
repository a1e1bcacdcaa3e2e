package api

import (
	"time"

	"github.com/clipforge/clipforge/internal/export"
	"github.com/clipforge/clipforge/internal/platform"
	"github.com/clipforge/clipforge/internal/render"
	"github.com/clipforge/clipforge/internal/timeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type BuildTimelineRequest struct {
	Scenes    []timeline.SceneSpec   `json:"scenes"`
	Narration timeline.MediaAsset    `json:"narration"`
	Cues      []timeline.SubtitleCue `json:"cues,omitempty"`
}

type ValidationErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Field      string `json:"field,omitempty"`
	SceneIndex *int   `json:"scene_index,omitempty"`
	CueIndex   *int   `json:"cue_index,omitempty"`
}

type RenderJobResponse struct {
	ID           string  `json:"id"`
	Fingerprint  string  `json:"fingerprint"`
	Status       string  `json:"status"`
	Progress     float64 `json:"progress"`
	ArtifactPath string  `json:"artifact_path,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
	Error        string  `json:"error,omitempty"`
	Revision     int64   `json:"revision"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

type RenderJobsResponse struct {
	Jobs []RenderJobResponse `json:"jobs"`
}

type PublishTargetRequest struct {
	Platform   string              `json:"platform"`
	Metadata   platform.Metadata   `json:"metadata"`
	Credential platform.Credential `json:"credential"`
}

type PublishRequest struct {
	RenderJobID string                 `json:"render_job_id"`
	ArtifactURL string                 `json:"artifact_url,omitempty"`
	Targets     []PublishTargetRequest `json:"targets"`
}

type RetryTargetRequest struct {
	Credential *platform.Credential `json:"credential,omitempty"`
}

type TargetResponse struct {
	Platform  string `json:"platform"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	PostID    string `json:"post_id,omitempty"`
	PostURL   string `json:"post_url,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Revision  int64  `json:"revision"`
	UpdatedAt string `json:"updated_at"`
}

type ExportResponse struct {
	ID          string           `json:"id"`
	RenderJobID string           `json:"render_job_id"`
	Status      string           `json:"status"`
	Targets     []TargetResponse `json:"targets"`
	CreatedAt   string           `json:"created_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func RenderJobToResponse(j *render.Job) RenderJobResponse {
	resp := RenderJobResponse{
		ID:          j.ID,
		Fingerprint: j.Fingerprint,
		Status:      string(j.Status),
		Progress:    j.Progress,
		Error:       j.Error,
		Revision:    j.Revision,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Artifact != nil {
		resp.ArtifactPath = j.Artifact.Path
		resp.DurationMs = j.Artifact.DurationMs
	}
	return resp
}

func TargetToResponse(t *export.Target) TargetResponse {
	return TargetResponse{
		Platform:  t.Platform,
		Status:    string(t.Status),
		Attempts:  t.Attempts,
		PostID:    t.PostID,
		PostURL:   t.PostURL,
		LastError: t.LastError,
		Revision:  t.Revision,
		UpdatedAt: t.UpdatedAt.Format(time.RFC3339),
	}
}

func ExportToResponse(j *export.Job, targets []*export.Target) ExportResponse {
	resp := ExportResponse{
		ID:          j.ID,
		RenderJobID: j.RenderJobID,
		Status:      export.Aggregate(targets),
		Targets:     make([]TargetResponse, len(targets)),
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
	}
	for i, t := range targets {
		resp.Targets[i] = TargetToResponse(t)
	}
	return resp
}
