package timeline

import (
	"errors"
	"testing"
)

func testNarration(durationMs int64) MediaAsset {
	return MediaAsset{
		ID:         "narration-1",
		Kind:       AssetAudio,
		MimeType:   "audio/mpeg",
		SourceURI:  "/tmp/narration.mp3",
		DurationMs: durationMs,
	}
}

func testBackground(id string) MediaAsset {
	return MediaAsset{
		ID:        id,
		Kind:      AssetImage,
		MimeType:  "image/jpeg",
		SourceURI: "/tmp/" + id + ".jpg",
	}
}

func threeScenes(transition Transition) []SceneSpec {
	scenes := make([]SceneSpec, 3)
	for i := range scenes {
		scenes[i] = SceneSpec{
			Background:   testBackground("bg"),
			DurationMs:   4000,
			TransitionIn: Transition{Type: TransitionCut},
		}
		if i > 0 {
			scenes[i].TransitionIn = transition
		}
	}
	return scenes
}

func TestBuild_CrossfadeOverlapTotal(t *testing.T) {
	// 3 scenes of 4000ms with 500ms crossfades: 12000 - 1000 = 11000
	scenes := threeScenes(Transition{Type: TransitionCrossfade, DurationMs: 500})

	tl, err := Build(scenes, testNarration(11000), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if tl.TotalDurationMs != 11000 {
		t.Errorf("TotalDurationMs = %d, want 11000", tl.TotalDurationMs)
	}

	wantStarts := []int64{0, 3500, 7000}
	for i, scene := range tl.Scenes {
		if scene.StartMs != wantStarts[i] {
			t.Errorf("scene %d StartMs = %d, want %d", i, scene.StartMs, wantStarts[i])
		}
	}

	if tl.Fingerprint == "" {
		t.Error("Fingerprint is empty")
	}
}

func TestBuild_CutsHaveNoOverlap(t *testing.T) {
	scenes := threeScenes(Transition{Type: TransitionCut})

	tl, err := Build(scenes, testNarration(12000), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if tl.TotalDurationMs != 12000 {
		t.Errorf("TotalDurationMs = %d, want 12000", tl.TotalDurationMs)
	}
}

func TestBuild_FingerprintStableAndContentSensitive(t *testing.T) {
	scenes := threeScenes(Transition{Type: TransitionCrossfade, DurationMs: 500})

	a, err := Build(scenes, testNarration(11000), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	b, err := Build(scenes, testNarration(11000), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if a.Fingerprint != b.Fingerprint {
		t.Error("identical content produced different fingerprints")
	}

	scenes[1].DurationMs = 5000
	c, err := Build(scenes, testNarration(11000), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if c.Fingerprint == a.Fingerprint {
		t.Error("different content produced identical fingerprints")
	}
}

func TestBuild_CueSplitAtSceneBoundary(t *testing.T) {
	// Scenario: boundary at t=4000, cue [3800,4200] splits into two parts
	scenes := threeScenes(Transition{Type: TransitionCut})
	cues := []SubtitleCue{{StartMs: 3800, EndMs: 4200, Text: "crossing"}}

	tl, err := Build(scenes, testNarration(12000), cues)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(tl.Cues) != 2 {
		t.Fatalf("len(Cues) = %d, want 2", len(tl.Cues))
	}

	first, second := tl.Cues[0], tl.Cues[1]
	if first.StartMs != 3800 || first.EndMs != 4000 || first.SceneIndex != 0 {
		t.Errorf("first part = [%d,%d) scene %d, want [3800,4000) scene 0",
			first.StartMs, first.EndMs, first.SceneIndex)
	}
	if second.StartMs != 4000 || second.EndMs != 4200 || second.SceneIndex != 1 {
		t.Errorf("second part = [%d,%d) scene %d, want [4000,4200) scene 1",
			second.StartMs, second.EndMs, second.SceneIndex)
	}
	if first.Text != "crossing" || second.Text != "crossing" {
		t.Error("split parts must keep the cue text")
	}
}

func TestBuild_CuesOrderedAndContained(t *testing.T) {
	scenes := threeScenes(Transition{Type: TransitionCut})
	cues := []SubtitleCue{
		{StartMs: 9000, EndMs: 9500, Text: "late"},
		{StartMs: 1000, EndMs: 1500, Text: "early"},
	}

	tl, err := Build(scenes, testNarration(12000), cues)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for i, cue := range tl.Cues {
		if cue.StartMs >= cue.EndMs {
			t.Errorf("cue %d has start >= end", i)
		}
		if i > 0 && cue.StartMs < tl.Cues[i-1].EndMs {
			t.Errorf("cue %d overlaps previous", i)
		}
		scene := tl.Scenes[cue.SceneIndex]
		if cue.StartMs < scene.StartMs {
			t.Errorf("cue %d starts before its scene", i)
		}
	}
	if tl.Cues[0].Text != "early" {
		t.Error("cues must be ordered by start time")
	}
}

func TestBuild_Validation(t *testing.T) {
	valid := threeScenes(Transition{Type: TransitionCrossfade, DurationMs: 500})

	tests := []struct {
		name      string
		mutate    func(scenes []SceneSpec, narration *MediaAsset, cues *[]SubtitleCue)
		wantScene int
		wantCue   int
	}{
		{
			name:      "zero scene duration",
			mutate:    func(s []SceneSpec, _ *MediaAsset, _ *[]SubtitleCue) { s[1].DurationMs = 0 },
			wantScene: 1, wantCue: -1,
		},
		{
			name: "transition equals scene duration",
			mutate: func(s []SceneSpec, _ *MediaAsset, _ *[]SubtitleCue) {
				s[2].TransitionIn.DurationMs = 4000
			},
			wantScene: 2, wantCue: -1,
		},
		{
			name:      "cut with duration",
			mutate:    func(s []SceneSpec, _ *MediaAsset, _ *[]SubtitleCue) { s[0].TransitionIn.DurationMs = 100 },
			wantScene: 0, wantCue: -1,
		},
		{
			name:      "missing background uri",
			mutate:    func(s []SceneSpec, _ *MediaAsset, _ *[]SubtitleCue) { s[0].Background.SourceURI = "" },
			wantScene: 0, wantCue: -1,
		},
		{
			name:      "narration without duration",
			mutate:    func(_ []SceneSpec, n *MediaAsset, _ *[]SubtitleCue) { n.DurationMs = 0 },
			wantScene: -1, wantCue: -1,
		},
		{
			name: "inverted cue",
			mutate: func(_ []SceneSpec, _ *MediaAsset, cues *[]SubtitleCue) {
				*cues = []SubtitleCue{{StartMs: 500, EndMs: 500, Text: "bad"}}
			},
			wantScene: -1, wantCue: 0,
		},
		{
			name: "cue beyond timeline end",
			mutate: func(_ []SceneSpec, _ *MediaAsset, cues *[]SubtitleCue) {
				*cues = []SubtitleCue{{StartMs: 10900, EndMs: 11500, Text: "bad"}}
			},
			wantScene: -1, wantCue: 0,
		},
		{
			name: "overlapping cues",
			mutate: func(_ []SceneSpec, _ *MediaAsset, cues *[]SubtitleCue) {
				*cues = []SubtitleCue{
					{StartMs: 100, EndMs: 600, Text: "one"},
					{StartMs: 400, EndMs: 900, Text: "two"},
				}
			},
			wantScene: -1, wantCue: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenes := make([]SceneSpec, len(valid))
			copy(scenes, valid)
			narration := testNarration(11000)
			var cues []SubtitleCue

			tt.mutate(scenes, &narration, &cues)

			_, err := Build(scenes, narration, cues)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Build() error = %v, want ValidationError", err)
			}
			if verr.SceneIndex != tt.wantScene {
				t.Errorf("SceneIndex = %d, want %d", verr.SceneIndex, tt.wantScene)
			}
			if verr.CueIndex != tt.wantCue {
				t.Errorf("CueIndex = %d, want %d", verr.CueIndex, tt.wantCue)
			}
		})
	}
}

func TestBuild_NoScenes(t *testing.T) {
	_, err := Build(nil, testNarration(1000), nil)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Build() error = %v, want ValidationError", err)
	}
}
