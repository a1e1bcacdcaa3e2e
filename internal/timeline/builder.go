package timeline

import (
	"sort"
)

// Build validates scene specifications, a narration audio reference, and a
// global subtitle cue list, and produces an immutable Timeline with resolved
// per-scene start offsets and boundary-clipped cues.
//
// Per-scene start offsets are cumulative duration minus cumulative prior
// transition overlap. The first scene's transition contributes no overlap;
// a fade or crossfade there renders as a fade from black inside the scene.
func Build(scenes []SceneSpec, narration MediaAsset, cues []SubtitleCue) (*Timeline, error) {
	if len(scenes) == 0 {
		return nil, inputErr("scenes", "at least one scene is required")
	}

	if err := validateNarration(narration); err != nil {
		return nil, err
	}

	resolved := make([]Scene, len(scenes))
	var cursor int64
	for i, spec := range scenes {
		if err := validateScene(i, spec); err != nil {
			return nil, err
		}

		overlap := int64(0)
		if i > 0 {
			tr := spec.TransitionIn
			if tr.Overlap() > 0 {
				shorter := min64(scenes[i-1].DurationMs, spec.DurationMs)
				if tr.DurationMs >= shorter {
					return nil, sceneErr(i, "transition_in",
						"transition duration %dms must be strictly less than the shorter adjacent scene duration %dms",
						tr.DurationMs, shorter)
				}
				overlap = tr.Overlap()
			}
		} else if spec.TransitionIn.Overlap() >= spec.DurationMs {
			return nil, sceneErr(0, "transition_in",
				"opening transition duration %dms must be strictly less than the scene duration %dms",
				spec.TransitionIn.DurationMs, spec.DurationMs)
		}

		start := cursor - overlap
		resolved[i] = Scene{
			Index:         i,
			Background:    spec.Background,
			DurationMs:    spec.DurationMs,
			StartMs:       start,
			TransitionIn:  spec.TransitionIn,
			AudioOffsetMs: spec.AudioOffsetMs,
		}
		cursor = start + spec.DurationMs
	}

	total := cursor

	assigned, err := resolveCues(cues, resolved, total)
	if err != nil {
		return nil, err
	}

	tl := &Timeline{
		Scenes:          resolved,
		Narration:       narration,
		Cues:            assigned,
		TotalDurationMs: total,
	}

	fingerprint, err := computeFingerprint(tl)
	if err != nil {
		return nil, err
	}
	tl.Fingerprint = fingerprint

	return tl, nil
}

func validateNarration(narration MediaAsset) error {
	if narration.SourceURI == "" {
		return inputErr("narration", "source_uri is required")
	}
	if narration.Kind != AssetAudio {
		return inputErr("narration", "asset kind must be %q, got %q", AssetAudio, narration.Kind)
	}
	if narration.MimeType == "" {
		return inputErr("narration", "mime_type is required")
	}
	if narration.DurationMs <= 0 {
		return inputErr("narration", "duration_ms must be resolvable and positive")
	}
	return nil
}

func validateScene(i int, spec SceneSpec) error {
	if spec.Background.SourceURI == "" {
		return sceneErr(i, "background", "source_uri is required")
	}
	if spec.Background.MimeType == "" {
		return sceneErr(i, "background", "mime_type is required")
	}
	if spec.Background.Kind != AssetImage && spec.Background.Kind != AssetVideo {
		return sceneErr(i, "background", "asset kind must be image or video, got %q", spec.Background.Kind)
	}
	if spec.Background.Kind == AssetVideo && spec.Background.DurationMs <= 0 {
		return sceneErr(i, "background", "video asset requires a resolvable duration_ms")
	}
	if spec.DurationMs <= 0 {
		return sceneErr(i, "duration_ms", "scene duration must be positive, got %d", spec.DurationMs)
	}
	if spec.AudioOffsetMs < 0 {
		return sceneErr(i, "audio_offset_ms", "audio offset must not be negative, got %d", spec.AudioOffsetMs)
	}

	tr := spec.TransitionIn
	switch tr.Type {
	case TransitionCut:
		if tr.DurationMs != 0 {
			return sceneErr(i, "transition_in", "cut transition must not carry a duration")
		}
	case TransitionFade, TransitionCrossfade:
		if tr.DurationMs <= 0 {
			return sceneErr(i, "transition_in", "%s transition requires a positive duration", tr.Type)
		}
	default:
		return sceneErr(i, "transition_in", "unknown transition type %q", tr.Type)
	}

	return nil
}

// resolveCues validates, orders, and boundary-clips subtitle cues. A cue
// crossing a scene start boundary is split at the boundary, with each part
// assigned to its enclosing scene; a cue outside [0, total] is rejected.
func resolveCues(cues []SubtitleCue, scenes []Scene, totalMs int64) ([]SubtitleCue, error) {
	if len(cues) == 0 {
		return nil, nil
	}

	ordered := make([]SubtitleCue, len(cues))
	copy(ordered, cues)
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].StartMs < ordered[b].StartMs
	})

	for i, cue := range ordered {
		if cue.Text == "" {
			return nil, cueErr(i, "cue", "text is required")
		}
		if cue.StartMs >= cue.EndMs {
			return nil, cueErr(i, "cue", "start %dms must be before end %dms", cue.StartMs, cue.EndMs)
		}
		if cue.StartMs < 0 || cue.EndMs > totalMs {
			return nil, cueErr(i, "cue", "interval [%d,%d) lies outside the timeline [0,%d)", cue.StartMs, cue.EndMs, totalMs)
		}
		if i > 0 && cue.StartMs < ordered[i-1].EndMs {
			return nil, cueErr(i, "cue", "overlaps previous cue ending at %dms", ordered[i-1].EndMs)
		}
	}

	// Boundaries are the start offsets of scenes after the first.
	var out []SubtitleCue
	for _, cue := range ordered {
		out = append(out, splitCue(cue, scenes)...)
	}

	return out, nil
}

// splitCue slices one cue at every scene start boundary it crosses and
// assigns each slice to its enclosing scene. Crossing edges are truncated to
// the boundary timestamp, never dropped.
func splitCue(cue SubtitleCue, scenes []Scene) []SubtitleCue {
	var parts []SubtitleCue

	for idx := len(scenes) - 1; idx >= 0; idx-- {
		boundary := scenes[idx].StartMs
		if cue.StartMs >= boundary {
			cue.SceneIndex = idx
			parts = append(parts, cue)
			break
		}
		if cue.EndMs > boundary {
			tail := cue
			tail.StartMs = boundary
			tail.SceneIndex = idx
			parts = append(parts, tail)
			cue.EndMs = boundary
		}
	}

	// parts were collected tail-first
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return parts
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
