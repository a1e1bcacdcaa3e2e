// Package compositor renders a timeline into a single encoded video
// artifact: per-scene clip preparation, boundary transitions, subtitle
// burn-in, and narration mux, executed as ffmpeg subprocess steps with
// cooperative cancellation between steps.
package compositor

import (
	"context"
	"fmt"

	"github.com/clipforge/clipforge/internal/timeline"
)

// ProgressFunc receives the completed fraction of a render in [0,1].
type ProgressFunc func(fraction float64)

// Engine is the rendering contract used by the render job manager.
type Engine interface {
	// Render composes the timeline into one encoded artifact. It honours
	// ctx cancellation at scene-step granularity: on cancellation it cleans
	// up partial output and returns ctx.Err() unwrapped inside the error
	// chain so the caller can distinguish Cancelled from Failed.
	Render(ctx context.Context, tl *timeline.Timeline, onProgress ProgressFunc) (*ArtifactRef, error)
}

// ArtifactRef points at a finished render output.
type ArtifactRef struct {
	Path       string `json:"path"`
	MimeType   string `json:"mime_type"`
	DurationMs int64  `json:"duration_ms"`
	SizeBytes  int64  `json:"size_bytes"`
}

// RenderError is an encoder or resource failure during composition. It
// carries the originating scene and asset when identifiable. SceneIndex is
// -1 when the failure is not tied to one scene.
type RenderError struct {
	SceneIndex int
	AssetID    string
	Message    string
	Err        error
}

func (e *RenderError) Error() string {
	msg := e.Message
	if e.SceneIndex >= 0 {
		msg = fmt.Sprintf("scene %d: %s", e.SceneIndex, msg)
	}
	if e.AssetID != "" {
		msg = fmt.Sprintf("%s (asset %s)", msg, e.AssetID)
	}
	if e.Err != nil {
		return fmt.Sprintf("render failed: %s: %v", msg, e.Err)
	}
	return "render failed: " + msg
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

func renderErr(sceneIndex int, assetID, format string, args ...interface{}) *RenderError {
	return &RenderError{SceneIndex: sceneIndex, AssetID: assetID, Message: fmt.Sprintf(format, args...)}
}
