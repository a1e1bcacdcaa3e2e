package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/internal/artifacts"
	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/db"
	"github.com/clipforge/clipforge/internal/export"
	"github.com/clipforge/clipforge/internal/platform"
	"github.com/clipforge/clipforge/internal/render"
	"github.com/clipforge/clipforge/internal/timeline"
)

const testToken = "test-token"

type testEnv struct {
	router      *chi.Mux
	repo        *render.SQLiteRepository
	manager     *render.Manager
	coordinator *export.Coordinator
	facebook    *platform.StubAdapter
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := testLogger()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := render.NewRepository(database.Conn())
	if err := repo.SetConfig(context.Background(), "auth_token", testToken); err != nil {
		t.Fatalf("set token: %v", err)
	}

	engine := compositor.NewStubEngine(t.TempDir(), logger)
	manager := render.NewManager(repo, engine, logger, 1, time.Minute)

	yt := platform.NewStubAdapter(platform.PlatformYouTube)
	fb := platform.NewStubAdapter(platform.PlatformFacebook)
	exportRepo := export.NewRepository(database.Conn())
	coordinator := export.NewCoordinator(exportRepo, repo, []platform.Adapter{yt, fb},
		logger, 3, time.Second)

	router := NewRouter(ServerConfig{
		Manager:     manager,
		Repository:  repo,
		Coordinator: coordinator,
		Artifacts:   artifacts.NewServer(logger),
		Logger:      logger,
		StartTime:   time.Now(),
		Version:     "test",
	})

	return &testEnv{
		router:      router,
		repo:        repo,
		manager:     manager,
		coordinator: coordinator,
		facebook:    fb,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func buildRequest() BuildTimelineRequest {
	return BuildTimelineRequest{
		Narration: timeline.MediaAsset{
			ID: "narration", Kind: timeline.AssetAudio, MimeType: "audio/mpeg",
			SourceURI: "/tmp/narration.mp3", DurationMs: 8000,
		},
		Scenes: []timeline.SceneSpec{
			{
				Background: timeline.MediaAsset{ID: "bg-0", Kind: timeline.AssetImage, MimeType: "image/png", SourceURI: "/tmp/bg0.png"},
				DurationMs: 4000,
				TransitionIn: timeline.Transition{Type: timeline.TransitionCut},
			},
			{
				Background: timeline.MediaAsset{ID: "bg-1", Kind: timeline.AssetImage, MimeType: "image/png", SourceURI: "/tmp/bg1.png"},
				DurationMs: 4000,
				TransitionIn: timeline.Transition{Type: timeline.TransitionCrossfade, DurationMs: 500},
			},
		},
	}
}

// succeededRender seeds a render job that already finished.
func (e *testEnv) succeededRender(t *testing.T) *render.Job {
	t.Helper()
	ctx := context.Background()
	req := buildRequest()
	tl, err := timeline.Build(req.Scenes, req.Narration, req.Cues)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	job, err := e.manager.Submit(ctx, tl)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	e.repo.StartJob(ctx, job.ID)
	artifact := &compositor.ArtifactRef{Path: "/tmp/out.mp4", MimeType: "video/mp4", DurationMs: 7500}
	if _, err := e.repo.CompleteJob(ctx, job.ID, artifact); err != nil {
		t.Fatalf("complete: %v", err)
	}
	return job
}

func TestHealthNoAuth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp HealthResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("unexpected health %+v", resp)
	}
}

func TestBuildTimeline(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/timelines", buildRequest(), testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var tl timeline.Timeline
	json.NewDecoder(rec.Body).Decode(&tl)
	if tl.Fingerprint == "" {
		t.Error("expected a fingerprint")
	}
	if tl.TotalDurationMs != 7500 {
		t.Errorf("expected total 7500ms, got %d", tl.TotalDurationMs)
	}
}

func TestBuildTimelineValidationError(t *testing.T) {
	env := newTestEnv(t)

	req := buildRequest()
	req.Cues = []timeline.SubtitleCue{{StartMs: 7000, EndMs: 9000, Text: "late"}}

	rec := env.do(t, http.MethodPost, "/timelines", req, testToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp ValidationErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Code != "VALIDATION_ERROR" {
		t.Errorf("unexpected response %+v", resp)
	}
	if resp.CueIndex == nil || *resp.CueIndex != 0 {
		t.Errorf("expected offending cue index 0, got %+v", resp.CueIndex)
	}
}

func TestSubmitRenderIdempotent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/renders", buildRequest(), testToken)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var first RenderJobResponse
	json.NewDecoder(rec.Body).Decode(&first)
	if first.Status != "queued" || first.ID == "" {
		t.Fatalf("unexpected job %+v", first)
	}

	rec = env.do(t, http.MethodPost, "/renders", buildRequest(), testToken)
	var second RenderJobResponse
	json.NewDecoder(rec.Body).Decode(&second)
	if second.ID != first.ID {
		t.Errorf("resubmit returned a new job: %s vs %s", second.ID, first.ID)
	}
}

func TestGetRender(t *testing.T) {
	env := newTestEnv(t)
	job := env.succeededRender(t)

	rec := env.do(t, http.MethodGet, "/renders/"+job.ID, nil, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp RenderJobResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != "succeeded" || resp.ArtifactPath == "" {
		t.Errorf("unexpected job %+v", resp)
	}

	rec = env.do(t, http.MethodGet, "/renders/missing", nil, testToken)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestCancelRender(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/renders", buildRequest(), testToken)
	var job RenderJobResponse
	json.NewDecoder(rec.Body).Decode(&job)

	rec = env.do(t, http.MethodPost, "/renders/"+job.ID+"/cancel", nil, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var cancelled RenderJobResponse
	json.NewDecoder(rec.Body).Decode(&cancelled)
	if cancelled.Status != "cancelled" {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}

	// Cancelling again is a no-op returning the same terminal state.
	rec = env.do(t, http.MethodPost, "/renders/"+job.ID+"/cancel", nil, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat cancel, got %d", rec.Code)
	}
	var again RenderJobResponse
	json.NewDecoder(rec.Body).Decode(&again)
	if again.Status != "cancelled" || again.Revision != cancelled.Revision {
		t.Errorf("repeat cancel must not change the job: %+v", again)
	}

	rec = env.do(t, http.MethodPost, "/renders/missing/cancel", nil, testToken)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestDownloadArtifact(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := buildRequest()
	tl, err := timeline.Build(req.Scenes, req.Narration, req.Cues)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	job, err := env.manager.Submit(ctx, tl)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// No artifact while the render is still queued.
	rec := env.do(t, http.MethodGet, "/renders/"+job.ID+"/artifact", nil, testToken)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before completion, got %d", rec.Code)
	}

	path := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(path, []byte("rendered video bytes"), 0644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	env.repo.StartJob(ctx, job.ID)
	env.repo.CompleteJob(ctx, job.ID, &compositor.ArtifactRef{Path: path, MimeType: "video/mp4", DurationMs: 7500})

	rec = env.do(t, http.MethodGet, "/renders/"+job.ID+"/artifact", nil, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "rendered video bytes" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func publishBody(renderID string, platforms ...string) PublishRequest {
	req := PublishRequest{RenderJobID: renderID}
	for _, p := range platforms {
		req.Targets = append(req.Targets, PublishTargetRequest{
			Platform:   p,
			Metadata:   platform.Metadata{Title: "clip"},
			Credential: platform.Credential{AccessToken: "token"},
		})
	}
	return req
}

func TestPublishAndExportStatus(t *testing.T) {
	env := newTestEnv(t)
	job := env.succeededRender(t)

	rec := env.do(t, http.MethodPost, "/exports",
		publishBody(job.ID, platform.PlatformYouTube, platform.PlatformFacebook), testToken)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var created ExportResponse
	json.NewDecoder(rec.Body).Decode(&created)
	if created.ID == "" || len(created.Targets) != 2 {
		t.Fatalf("unexpected export %+v", created)
	}

	env.coordinator.Wait()

	rec = env.do(t, http.MethodGet, "/exports/"+created.ID, nil, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var settled ExportResponse
	json.NewDecoder(rec.Body).Decode(&settled)
	if settled.Status != export.AggregateSucceeded {
		t.Fatalf("expected succeeded, got %s", settled.Status)
	}
	for _, tgt := range settled.Targets {
		if tgt.Status != "succeeded" || tgt.PostID == "" {
			t.Errorf("target %s: %+v", tgt.Platform, tgt)
		}
	}
}

func TestPublishRejectsUnreadyRender(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/renders", buildRequest(), testToken)
	var queued RenderJobResponse
	json.NewDecoder(rec.Body).Decode(&queued)

	rec = env.do(t, http.MethodPost, "/exports",
		publishBody(queued.ID, platform.PlatformYouTube), testToken)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unready render, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/exports",
		publishBody("missing", platform.PlatformYouTube), testToken)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown render, got %d", rec.Code)
	}
}

func TestRetryTargetEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.facebook.Script(platform.Result{Outcome: platform.OutcomePermanent, Reason: "token expired"})
	job := env.succeededRender(t)

	rec := env.do(t, http.MethodPost, "/exports",
		publishBody(job.ID, platform.PlatformFacebook), testToken)
	var created ExportResponse
	json.NewDecoder(rec.Body).Decode(&created)
	env.coordinator.Wait()

	rec = env.do(t, http.MethodPost,
		"/exports/"+created.ID+"/targets/facebook/retry",
		RetryTargetRequest{Credential: &platform.Credential{AccessToken: "fresh"}}, testToken)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	env.coordinator.Wait()

	rec = env.do(t, http.MethodGet, "/exports/"+created.ID, nil, testToken)
	var settled ExportResponse
	json.NewDecoder(rec.Body).Decode(&settled)
	if settled.Status != export.AggregateSucceeded {
		t.Fatalf("expected succeeded after retry, got %s", settled.Status)
	}

	// A succeeded target cannot be retried again.
	rec = env.do(t, http.MethodPost,
		"/exports/"+created.ID+"/targets/facebook/retry", nil, testToken)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/exports/missing/targets/facebook/retry", nil, testToken)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestTargetStatsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	job := env.succeededRender(t)

	rec := env.do(t, http.MethodPost, "/exports",
		publishBody(job.ID, platform.PlatformYouTube), testToken)
	var created ExportResponse
	json.NewDecoder(rec.Body).Decode(&created)
	env.coordinator.Wait()

	rec = env.do(t, http.MethodGet,
		"/exports/"+created.ID+"/targets/youtube/stats", nil, testToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var stats platform.ViewStats
	json.NewDecoder(rec.Body).Decode(&stats)
	if stats.Platform != platform.PlatformYouTube || stats.PostID == "" {
		t.Errorf("unexpected stats %+v", stats)
	}
}
