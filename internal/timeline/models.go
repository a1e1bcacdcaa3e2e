// Package timeline validates and normalizes scene specifications into an
// ordered, duration-resolved timeline ready for composition.
package timeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type AssetKind string

const (
	AssetAudio AssetKind = "audio"
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
)

// MediaAsset is a reference to a piece of media produced by an external
// generator. It is immutable; scenes reference assets, they never own them.
type MediaAsset struct {
	ID         string    `json:"id,omitempty"`
	Kind       AssetKind `json:"kind"`
	MimeType   string    `json:"mime_type"`
	Checksum   string    `json:"checksum,omitempty"`
	SourceURI  string    `json:"source_uri"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

type TransitionType string

const (
	TransitionCut       TransitionType = "cut"
	TransitionFade      TransitionType = "fade"
	TransitionCrossfade TransitionType = "crossfade"
)

// Transition is the treatment applied across a scene boundary. Fade and
// crossfade consume their duration as boundary overlap; cut consumes none.
type Transition struct {
	Type       TransitionType `json:"type"`
	DurationMs int64          `json:"duration_ms,omitempty"`
}

// Overlap returns the boundary overlap this transition consumes.
func (t Transition) Overlap() int64 {
	if t.Type == TransitionCut {
		return 0
	}
	return t.DurationMs
}

// SceneSpec is one visual segment as supplied by the caller, before
// validation and offset resolution.
type SceneSpec struct {
	Background    MediaAsset `json:"background"`
	DurationMs    int64      `json:"duration_ms"`
	TransitionIn  Transition `json:"transition_in"`
	AudioOffsetMs int64      `json:"audio_offset_ms,omitempty"`
}

// Scene is a validated scene with its resolved start offset on the timeline.
type Scene struct {
	Index         int        `json:"index"`
	Background    MediaAsset `json:"background"`
	DurationMs    int64      `json:"duration_ms"`
	StartMs       int64      `json:"start_ms"`
	TransitionIn  Transition `json:"transition_in"`
	AudioOffsetMs int64      `json:"audio_offset_ms,omitempty"`
}

// EndMs returns the timeline instant at which the scene stops contributing
// frames.
func (s Scene) EndMs() int64 {
	return s.StartMs + s.DurationMs
}

// SubtitleCue is a timed text interval. After building, SceneIndex names the
// scene the cue is assigned to and the [StartMs, EndMs) interval never
// crosses that scene's start boundary.
type SubtitleCue struct {
	StartMs    int64  `json:"start_ms"`
	EndMs      int64  `json:"end_ms"`
	Text       string `json:"text"`
	SceneIndex int    `json:"scene_index,omitempty"`
}

// Timeline is the immutable output of the builder. TotalDurationMs equals
// the sum of scene durations minus the sum of transition overlaps, and
// Fingerprint identifies the timeline content for idempotent submission.
type Timeline struct {
	Scenes          []Scene       `json:"scenes"`
	Narration       MediaAsset    `json:"narration"`
	Cues            []SubtitleCue `json:"cues,omitempty"`
	TotalDurationMs int64         `json:"total_duration_ms"`
	Fingerprint     string        `json:"fingerprint"`
}

// computeFingerprint hashes the canonical JSON of the timeline content,
// excluding the fingerprint field itself.
func computeFingerprint(tl *Timeline) (string, error) {
	shadow := *tl
	shadow.Fingerprint = ""

	data, err := json.Marshal(&shadow)
	if err != nil {
		return "", fmt.Errorf("cannot marshal timeline: %w", err)
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ValidationError reports a malformed timeline input. SceneIndex and
// CueIndex are -1 when the error is not tied to a specific scene or cue.
type ValidationError struct {
	Field      string
	SceneIndex int
	CueIndex   int
	Message    string
}

func (e *ValidationError) Error() string {
	switch {
	case e.SceneIndex >= 0:
		return fmt.Sprintf("invalid %s (scene %d): %s", e.Field, e.SceneIndex, e.Message)
	case e.CueIndex >= 0:
		return fmt.Sprintf("invalid %s (cue %d): %s", e.Field, e.CueIndex, e.Message)
	default:
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
}

func sceneErr(index int, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, SceneIndex: index, CueIndex: -1, Message: fmt.Sprintf(format, args...)}
}

func cueErr(index int, field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, SceneIndex: -1, CueIndex: index, Message: fmt.Sprintf(format, args...)}
}

func inputErr(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, SceneIndex: -1, CueIndex: -1, Message: fmt.Sprintf(format, args...)}
}
