package compositor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/clipforge/internal/config"
	"github.com/clipforge/clipforge/internal/timeline"
)

const maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics

// Config holds the ffmpeg engine's configuration.
type Config struct {
	FFmpegPath string // path to ffmpeg binary; empty = auto-detect
	WorkDir    string // scratch space for intermediate files
	OutputDir  string // destination for finished artifacts
	Profile    *config.RenderProfile
	Logger     *slog.Logger
}

// FFmpegEngine is the production Engine implementation. Every render step is
// one ffmpeg invocation; cancellation is observed between steps and the
// in-flight subprocess is killed through the command context.
type FFmpegEngine struct {
	cfg    Config
	ffmpeg string // resolved binary path
	client *http.Client
}

// NewFFmpegEngine creates an FFmpegEngine, resolving the ffmpeg binary path.
func NewFFmpegEngine(cfg Config) (*FFmpegEngine, error) {
	ffmpeg, err := resolveFFmpeg(cfg.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate ffmpeg: %w", err)
	}

	for _, dir := range []string{cfg.WorkDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create directory %s: %w", dir, err)
		}
	}

	if cfg.Profile == nil {
		cfg.Profile = config.DefaultProfile()
	}

	cfg.Logger.Info("ffmpeg engine initialised",
		"ffmpeg", ffmpeg,
		"resolution", fmt.Sprintf("%dx%d", cfg.Profile.Width, cfg.Profile.Height),
		"fps", cfg.Profile.FPS,
	)

	return &FFmpegEngine{
		cfg:    cfg,
		ffmpeg: ffmpeg,
		client: &http.Client{Timeout: 2 * time.Minute},
	}, nil
}

// Render composes the timeline into one MP4. Steps: fetch assets, prepare
// one clip per scene, join clips pairwise with the configured transitions,
// burn subtitles, mux narration. Progress advances one step at a time.
func (e *FFmpegEngine) Render(ctx context.Context, tl *timeline.Timeline, onProgress ProgressFunc) (*ArtifactRef, error) {
	workDir := filepath.Join(e.cfg.WorkDir, shortFingerprint(tl))
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, renderErr(-1, "", "cannot create work dir: %v", err)
	}
	defer os.RemoveAll(workDir)

	totalSteps := 2*len(tl.Scenes) + 1 // fetch+clip per scene, joins+subtitles fold into the remainder, mux last
	completed := 0
	step := func() {
		completed++
		if onProgress != nil {
			onProgress(float64(completed) / float64(totalSteps))
		}
	}

	narrationPath, err := e.fetchAsset(ctx, tl.Narration, workDir, "narration")
	if err != nil {
		return nil, err
	}

	// Prepare one clip per scene.
	clips := make([]string, len(tl.Scenes))
	for i, scene := range tl.Scenes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("render cancelled before scene %d: %w", i, err)
		}

		bgPath, err := e.fetchAsset(ctx, scene.Background, workDir, fmt.Sprintf("bg_%03d", i))
		if err != nil {
			return nil, err
		}
		step()

		clip, err := e.buildSceneClip(ctx, scene, bgPath, workDir)
		if err != nil {
			return nil, err
		}
		clips[i] = clip
		step()
	}

	// Join clips pairwise, applying the incoming scene's transition.
	video := clips[0]
	elapsedMs := tl.Scenes[0].DurationMs
	for i := 1; i < len(tl.Scenes); i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("render cancelled before join %d: %w", i, err)
		}

		scene := tl.Scenes[i]
		joined := filepath.Join(workDir, fmt.Sprintf("join_%03d.mp4", i))
		if err := e.joinClips(ctx, video, clips[i], joined, scene.TransitionIn, elapsedMs); err != nil {
			return nil, err
		}
		video = joined
		elapsedMs += scene.DurationMs - scene.TransitionIn.Overlap()
	}

	if len(tl.Cues) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("render cancelled before subtitle burn-in: %w", err)
		}
		subtitled, err := e.burnSubtitles(ctx, video, tl.Cues, workDir)
		if err != nil {
			return nil, err
		}
		video = subtitled
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("render cancelled before audio mux: %w", err)
	}

	outPath := filepath.Join(e.cfg.OutputDir, shortFingerprint(tl)+".mp4")
	if err := e.muxAudio(ctx, video, narrationPath, outPath, tl.TotalDurationMs); err != nil {
		os.Remove(outPath)
		return nil, err
	}
	step()

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, renderErr(-1, "", "output artifact missing: %v", err)
	}

	if onProgress != nil {
		onProgress(1)
	}
	e.cfg.Logger.Info("render complete",
		"artifact", outPath,
		"duration_ms", tl.TotalDurationMs,
		"size_bytes", info.Size(),
	)

	return &ArtifactRef{
		Path:       outPath,
		MimeType:   "video/mp4",
		DurationMs: tl.TotalDurationMs,
		SizeBytes:  info.Size(),
	}, nil
}

// fetchAsset materialises an asset reference into the work directory. Local
// paths are used in place; http(s) sources are downloaded.
func (e *FFmpegEngine) fetchAsset(ctx context.Context, asset timeline.MediaAsset, workDir, name string) (string, error) {
	uri := asset.SourceURI

	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		if _, err := os.Stat(uri); err != nil {
			return "", &RenderError{SceneIndex: -1, AssetID: asset.ID, Message: "source asset unreadable", Err: err}
		}
		return uri, nil
	}

	dest := filepath.Join(workDir, name+filepath.Ext(uri))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", &RenderError{SceneIndex: -1, AssetID: asset.ID, Message: "invalid source uri", Err: err}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", &RenderError{SceneIndex: -1, AssetID: asset.ID, Message: "cannot fetch source asset", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", renderErr(-1, asset.ID, "cannot fetch source asset: status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return "", &RenderError{SceneIndex: -1, AssetID: asset.ID, Message: "cannot create asset file", Err: err}
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return "", &RenderError{SceneIndex: -1, AssetID: asset.ID, Message: "cannot download source asset", Err: err}
	}

	return dest, nil
}

// buildSceneClip encodes one scene to a silent clip at the target geometry.
// Image backgrounds are looped for the scene duration; video backgrounds are
// trimmed or stream-looped to fill it. The first scene gets its fade-in
// applied here since there is no previous scene to overlap with.
func (e *FFmpegEngine) buildSceneClip(ctx context.Context, scene timeline.Scene, bgPath, workDir string) (string, error) {
	outFile := filepath.Join(workDir, fmt.Sprintf("clip_%03d.mp4", scene.Index))
	p := e.cfg.Profile
	durationSec := float64(scene.DurationMs) / 1000

	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1",
		p.Width, p.Height, p.Width, p.Height,
	)
	if scene.Index == 0 && scene.TransitionIn.Overlap() > 0 {
		vf += fmt.Sprintf(",fade=t=in:st=0:d=%.3f", float64(scene.TransitionIn.DurationMs)/1000)
	}

	var args []string
	if scene.Background.Kind == timeline.AssetVideo {
		loops := 0
		if scene.Background.DurationMs < scene.DurationMs {
			loops = int(scene.DurationMs/scene.Background.DurationMs) + 1
		}
		args = append(args, "-stream_loop", fmt.Sprintf("%d", loops))
	} else {
		args = append(args, "-loop", "1")
	}
	args = append(args,
		"-i", bgPath,
		"-t", fmt.Sprintf("%.3f", durationSec),
		"-vf", vf,
		"-r", fmt.Sprintf("%d", p.FPS),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
		"-an",
		outFile,
	)

	if err := e.run(ctx, args...); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("scene %d clip cancelled: %w", scene.Index, ctx.Err())
		}
		return "", &RenderError{SceneIndex: scene.Index, AssetID: scene.Background.ID, Message: "scene clip encode failed", Err: err}
	}
	return outFile, nil
}

// joinClips merges the accumulated video with the next scene's clip using
// the scene's transition. elapsedMs is the accumulated video's duration; the
// transition window ends exactly at that instant.
func (e *FFmpegEngine) joinClips(ctx context.Context, accumulated, next, outFile string, tr timeline.Transition, elapsedMs int64) error {
	filter := joinFilter(tr, elapsedMs)

	args := []string{
		"-i", accumulated,
		"-i", next,
		"-filter_complex", filter,
		"-map", "[v]",
		"-r", fmt.Sprintf("%d", e.cfg.Profile.FPS),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
		"-an",
		outFile,
	}

	if err := e.run(ctx, args...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("transition join cancelled: %w", ctx.Err())
		}
		return &RenderError{SceneIndex: -1, Message: fmt.Sprintf("%s transition join failed", tr.Type), Err: err}
	}
	return nil
}

// joinFilter builds the filter_complex for one boundary. A cut concatenates;
// fades cross through black; crossfades blend both scenes' frames for the
// full overlap window.
func joinFilter(tr timeline.Transition, elapsedMs int64) string {
	switch tr.Type {
	case timeline.TransitionFade:
		return fmt.Sprintf("[0:v][1:v]xfade=transition=fadeblack:duration=%.3f:offset=%.3f[v]",
			float64(tr.DurationMs)/1000, float64(elapsedMs-tr.DurationMs)/1000)
	case timeline.TransitionCrossfade:
		return fmt.Sprintf("[0:v][1:v]xfade=transition=fade:duration=%.3f:offset=%.3f[v]",
			float64(tr.DurationMs)/1000, float64(elapsedMs-tr.DurationMs)/1000)
	default:
		return "[0:v][1:v]concat=n=2:v=1:a=0[v]"
	}
}

func (e *FFmpegEngine) burnSubtitles(ctx context.Context, video string, cues []timeline.SubtitleCue, workDir string) (string, error) {
	srtPath := filepath.Join(workDir, "subtitles.srt")
	if err := os.WriteFile(srtPath, []byte(formatSRT(cues)), 0644); err != nil {
		return "", renderErr(-1, "", "cannot write srt file: %v", err)
	}

	outFile := filepath.Join(workDir, "subtitled.mp4")
	style := e.cfg.Profile.SubtitleStyle()

	args := []string{
		"-i", video,
		"-vf", fmt.Sprintf("subtitles=%s:force_style='%s'", srtPath, assStyle(style)),
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "22",
		"-pix_fmt", "yuv420p",
		"-an",
		outFile,
	}

	if err := e.run(ctx, args...); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("subtitle burn-in cancelled: %w", ctx.Err())
		}
		return "", &RenderError{SceneIndex: -1, Message: "subtitle burn-in failed", Err: err}
	}
	return outFile, nil
}

// muxAudio combines the silent video with the narration track aligned at
// t=0. apad pads with silence when the narration is shorter than the
// timeline; -t trims when it is longer. Neither case is a failure.
func (e *FFmpegEngine) muxAudio(ctx context.Context, video, audio, outFile string, totalMs int64) error {
	args := []string{
		"-i", video,
		"-i", audio,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-af", "apad",
		"-t", fmt.Sprintf("%.3f", float64(totalMs)/1000),
		"-movflags", "+faststart",
		outFile,
	}

	if err := e.run(ctx, args...); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("audio mux cancelled: %w", ctx.Err())
		}
		return &RenderError{SceneIndex: -1, Message: "audio mux failed", Err: err}
	}
	return nil
}

// run executes one ffmpeg invocation with a bounded stderr tail.
func (e *FFmpegEngine) run(ctx context.Context, args ...string) error {
	start := time.Now()

	cmdArgs := append([]string{"-y", "-hide_banner", "-loglevel", "error"}, args...)
	cmd := exec.CommandContext(ctx, e.ffmpeg, cmdArgs...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard

	e.cfg.Logger.Debug("executing ffmpeg", "args", cmdArgs)

	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		tail := strings.TrimSpace(stderrBuf.String())
		e.cfg.Logger.Warn("ffmpeg command failed",
			"error", err,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(tail, 512),
		)
		if tail != "" {
			return fmt.Errorf("%w: %s", err, truncate(tail, 512))
		}
		return err
	}

	e.cfg.Logger.Debug("ffmpeg command succeeded", "duration_ms", elapsed.Milliseconds())
	return nil
}

func shortFingerprint(tl *timeline.Timeline) string {
	if len(tl.Fingerprint) >= 16 {
		return tl.Fingerprint[:16]
	}
	return tl.Fingerprint
}

// resolveFFmpeg finds a usable ffmpeg binary.
func resolveFFmpeg(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured ffmpeg %q not found", preferred)
	}
	if p, err := exec.LookPath("ffmpeg"); err == nil {
		return p, nil
	}
	return "", errors.New("no ffmpeg binary found on PATH")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
