package compositor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/clipforge/clipforge/internal/timeline"
)

// StubEngine is a no-encode Engine used when ffmpeg is unavailable and in
// tests. It walks the same scene steps as the real engine, honouring
// cancellation between steps, and writes a placeholder artifact.
type StubEngine struct {
	logger    *slog.Logger
	outputDir string

	// StepDelay simulates per-scene encode time. Zero renders instantly.
	StepDelay time.Duration
	// FailScene injects a RenderError at the given scene index; -1 disables.
	FailScene int
}

func NewStubEngine(outputDir string, logger *slog.Logger) *StubEngine {
	return &StubEngine{logger: logger, outputDir: outputDir, FailScene: -1}
}

func (s *StubEngine) Render(ctx context.Context, tl *timeline.Timeline, onProgress ProgressFunc) (*ArtifactRef, error) {
	total := len(tl.Scenes) + 1

	for i := range tl.Scenes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("render cancelled before scene %d: %w", i, err)
		}
		if s.FailScene == i {
			return nil, renderErr(i, tl.Scenes[i].Background.ID, "stub failure injected")
		}
		if s.StepDelay > 0 {
			select {
			case <-time.After(s.StepDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("render cancelled during scene %d: %w", i, ctx.Err())
			}
		}
		if onProgress != nil {
			onProgress(float64(i+1) / float64(total))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("render cancelled before mux: %w", err)
	}

	outPath := filepath.Join(s.outputDir, shortFingerprint(tl)+".mp4")
	if err := os.MkdirAll(s.outputDir, 0755); err != nil {
		return nil, renderErr(-1, "", "cannot create output dir: %v", err)
	}
	if err := os.WriteFile(outPath, []byte("stub render output"), 0644); err != nil {
		return nil, renderErr(-1, "", "cannot write artifact: %v", err)
	}

	if onProgress != nil {
		onProgress(1)
	}
	if s.logger != nil {
		s.logger.Info("stub render complete (no real encode)", "artifact", outPath)
	}

	return &ArtifactRef{
		Path:       outPath,
		MimeType:   "video/mp4",
		DurationMs: tl.TotalDurationMs,
		SizeBytes:  int64(len("stub render output")),
	}, nil
}
