package export

import (
	"context"
	"testing"
	"time"

	"github.com/clipforge/clipforge/internal/platform"
	"github.com/google/uuid"
)

func seedExport(t *testing.T, f *fixture) (*Job, *Target) {
	t.Helper()
	renderJob := f.succeededRender(t)
	nowT := time.Now().UTC()
	job := &Job{
		ID: uuid.NewString(), RenderJobID: renderJob.ID, ArtifactPath: "/tmp/out.mp4",
		Revision: 1, CreatedAt: nowT, UpdatedAt: nowT,
	}
	target := &Target{
		ExportID: job.ID, Platform: platform.PlatformYouTube, Status: TargetPending,
		Metadata: platform.Metadata{Title: "clip", Tags: []string{"shorts"}},
		Revision: 1, CreatedAt: nowT, UpdatedAt: nowT,
	}
	if err := f.repo.CreateJob(context.Background(), job, []*Target{target}); err != nil {
		t.Fatalf("create export: %v", err)
	}
	return job, target
}

func TestExportRepositoryRoundTrip(t *testing.T) {
	f := newFixture(t)
	job, _ := seedExport(t, f)
	ctx := context.Background()

	got, err := f.repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got == nil || got.RenderJobID != job.RenderJobID {
		t.Fatalf("unexpected job %+v", got)
	}

	targets, err := f.repo.GetTargets(ctx, job.ID)
	if err != nil {
		t.Fatalf("get targets: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(targets))
	}
	if targets[0].Metadata.Title != "clip" || len(targets[0].Metadata.Tags) != 1 {
		t.Errorf("metadata did not survive persistence: %+v", targets[0].Metadata)
	}
}

func TestTargetStatusGuards(t *testing.T) {
	f := newFixture(t)
	job, _ := seedExport(t, f)
	ctx := context.Background()
	id, p := job.ID, platform.PlatformYouTube

	// Completing a target that was never claimed is rejected.
	if changed, _ := f.repo.CompleteTarget(ctx, id, p, "post", ""); changed {
		t.Error("complete from pending should be rejected")
	}
	// Resetting a non-failed target is rejected.
	if changed, _ := f.repo.ResetTarget(ctx, id, p); changed {
		t.Error("reset from pending should be rejected")
	}

	claimed, err := f.repo.MarkUploading(ctx, id, p)
	if err != nil || !claimed {
		t.Fatalf("claim: changed=%v err=%v", claimed, err)
	}
	// Double claim is rejected.
	if claimed, _ := f.repo.MarkUploading(ctx, id, p); claimed {
		t.Error("target claimed twice")
	}

	if changed, err := f.repo.CompleteTarget(ctx, id, p, "post-1", "https://youtu.be/post-1"); err != nil || !changed {
		t.Fatalf("complete: changed=%v err=%v", changed, err)
	}
	// Terminal target rejects every transition except reset-from-failed.
	if changed, _ := f.repo.FailTarget(ctx, id, p, "late"); changed {
		t.Error("fail after success should be rejected")
	}
	if changed, _ := f.repo.MarkUploading(ctx, id, p); changed {
		t.Error("claim after success should be rejected")
	}

	got, _ := f.repo.GetTarget(ctx, id, p)
	if got.Status != TargetSucceeded || got.PostID != "post-1" || got.Attempts != 1 {
		t.Errorf("unexpected target %+v", got)
	}
}

func TestResetClearsFailureState(t *testing.T) {
	f := newFixture(t)
	job, _ := seedExport(t, f)
	ctx := context.Background()
	id, p := job.ID, platform.PlatformYouTube

	f.repo.MarkUploading(ctx, id, p)
	f.repo.FailTarget(ctx, id, p, "boom")

	reset, err := f.repo.ResetTarget(ctx, id, p)
	if err != nil || !reset {
		t.Fatalf("reset: changed=%v err=%v", reset, err)
	}

	got, _ := f.repo.GetTarget(ctx, id, p)
	if got.Status != TargetPending || got.Attempts != 0 || got.LastError != "" {
		t.Errorf("reset did not clear state: %+v", got)
	}
	if got.Revision != 4 {
		t.Errorf("expected revision 4 after three updates, got %d", got.Revision)
	}
}
