package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clipforge/clipforge/internal/platform"
	"github.com/clipforge/clipforge/internal/render"
)

// RenderStore is the slice of the render repository the coordinator needs.
type RenderStore interface {
	GetJob(ctx context.Context, id string) (*render.Job, error)
}

// TargetRequest names one platform to publish to, with its post metadata
// and credentials.
type TargetRequest struct {
	Platform   string
	Metadata   platform.Metadata
	Credential platform.Credential
}

// Coordinator fans a publish out over platform targets. Targets run
// concurrently and in isolation: one target's failure never aborts the
// others. Retryable failures are retried with exponential backoff up to the
// attempt ceiling; credentials live in memory only, keyed per target.
type Coordinator struct {
	repo    Repository
	renders RenderStore
	logger  *slog.Logger

	adapters       map[string]platform.Adapter
	maxAttempts    int
	attemptTimeout time.Duration
	baseBackoff    time.Duration
	maxBackoff     time.Duration

	mu    sync.Mutex
	creds map[string]platform.Credential

	wg sync.WaitGroup
}

func NewCoordinator(repo Repository, renders RenderStore, adapters []platform.Adapter,
	logger *slog.Logger, maxAttempts int, attemptTimeout time.Duration) *Coordinator {

	byName := make(map[string]platform.Adapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Coordinator{
		repo:           repo,
		renders:        renders,
		logger:         logger,
		adapters:       byName,
		maxAttempts:    maxAttempts,
		attemptTimeout: attemptTimeout,
		baseBackoff:    2 * time.Second,
		maxBackoff:     time.Minute,
		creds:          make(map[string]platform.Credential),
	}
}

// Publish creates an export for a succeeded render and starts its targets.
// artifactURL optionally names a publicly reachable copy of the artifact
// for platforms that ingest by URL.
func (c *Coordinator) Publish(ctx context.Context, renderJobID, artifactURL string, requests []TargetRequest) (*Job, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("publish needs at least one target")
	}
	seen := make(map[string]bool, len(requests))
	for _, req := range requests {
		if _, ok := c.adapters[req.Platform]; !ok {
			return nil, fmt.Errorf("unknown platform %q", req.Platform)
		}
		if seen[req.Platform] {
			return nil, fmt.Errorf("duplicate platform %q", req.Platform)
		}
		seen[req.Platform] = true
	}

	renderJob, err := c.renders.GetJob(ctx, renderJobID)
	if err != nil {
		return nil, err
	}
	if renderJob == nil {
		return nil, render.ErrNotFound
	}
	if renderJob.Status != render.StatusSucceeded || renderJob.Artifact == nil {
		return nil, fmt.Errorf("%w: render %s is %s", ErrRenderNotSucceeded, renderJobID, renderJob.Status)
	}

	nowT := time.Now().UTC()
	job := &Job{
		ID:           uuid.NewString(),
		RenderJobID:  renderJobID,
		ArtifactPath: renderJob.Artifact.Path,
		Revision:     1,
		CreatedAt:    nowT,
		UpdatedAt:    nowT,
	}

	targets := make([]*Target, 0, len(requests))
	for _, req := range requests {
		meta := req.Metadata
		meta.Title = sanitizeTitle(meta.Title)
		targets = append(targets, &Target{
			ExportID:  job.ID,
			Platform:  req.Platform,
			Status:    TargetPending,
			Metadata:  meta,
			Revision:  1,
			CreatedAt: nowT,
			UpdatedAt: nowT,
		})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Platform < targets[j].Platform })

	if err := c.repo.CreateJob(ctx, job, targets); err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, req := range requests {
		c.creds[credKey(job.ID, req.Platform)] = req.Credential
	}
	c.mu.Unlock()

	artifact := platform.Artifact{
		Path:       renderJob.Artifact.Path,
		SourceURL:  artifactURL,
		MimeType:   renderJob.Artifact.MimeType,
		DurationMs: renderJob.Artifact.DurationMs,
	}

	c.logger.Info("export started", "export_id", job.ID,
		"render_job_id", renderJobID, "targets", len(targets))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		g, gctx := errgroup.WithContext(context.Background())
		for _, t := range targets {
			target := t
			g.Go(func() error {
				// Failures are recorded on the target row; returning an
				// error here would cancel sibling targets.
				c.runTarget(gctx, job.ID, target.Platform, artifact)
				return nil
			})
		}
		g.Wait()

		targets, err := c.repo.GetTargets(context.Background(), job.ID)
		if err == nil {
			c.logger.Info("export settled", "export_id", job.ID, "status", Aggregate(targets))
		}
	}()

	return job, nil
}

// Status returns the export job, its targets, and the derived aggregate.
func (c *Coordinator) Status(ctx context.Context, exportID string) (*Job, []*Target, string, error) {
	job, err := c.repo.GetJob(ctx, exportID)
	if err != nil {
		return nil, nil, "", err
	}
	if job == nil {
		return nil, nil, "", ErrNotFound
	}
	targets, err := c.repo.GetTargets(ctx, exportID)
	if err != nil {
		return nil, nil, "", err
	}
	return job, targets, Aggregate(targets), nil
}

// RetryTarget restarts exactly one failed target with a fresh attempt
// ladder. A new credential replaces the stored one when provided.
func (c *Coordinator) RetryTarget(ctx context.Context, exportID, platformName string, cred *platform.Credential) (*Target, error) {
	job, err := c.repo.GetJob(ctx, exportID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	target, err := c.repo.GetTarget(ctx, exportID, platformName)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("no %s target on export %s", platformName, exportID)
	}
	if target.Status != TargetFailed {
		return nil, fmt.Errorf("%w: %s target is %s", ErrTargetNotRetryable, platformName, target.Status)
	}

	reset, err := c.repo.ResetTarget(ctx, exportID, platformName)
	if err != nil {
		return nil, err
	}
	if !reset {
		// A concurrent retry won the race.
		return nil, fmt.Errorf("%w: %s target already retried", ErrTargetNotRetryable, platformName)
	}

	if cred != nil {
		c.mu.Lock()
		c.creds[credKey(exportID, platformName)] = *cred
		c.mu.Unlock()
	}

	artifact := platform.Artifact{Path: job.ArtifactPath, MimeType: "video/mp4"}
	c.logger.Info("target retry requested", "export_id", exportID, "platform", platformName)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runTarget(context.Background(), exportID, platformName, artifact)
	}()

	return c.repo.GetTarget(ctx, exportID, platformName)
}

// FetchStats passes through to the platform adapter for a succeeded target.
func (c *Coordinator) FetchStats(ctx context.Context, exportID, platformName string) (*platform.ViewStats, error) {
	target, err := c.repo.GetTarget(ctx, exportID, platformName)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, ErrNotFound
	}
	if target.Status != TargetSucceeded || target.PostID == "" {
		return nil, fmt.Errorf("%s target has no published post", platformName)
	}

	adapter, ok := c.adapters[platformName]
	if !ok {
		return nil, fmt.Errorf("unknown platform %q", platformName)
	}
	return adapter.FetchStats(ctx, target.PostID, c.credential(exportID, platformName))
}

// Wait blocks until all in-flight target work has settled.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

func (c *Coordinator) runTarget(ctx context.Context, exportID, platformName string, artifact platform.Artifact) {
	adapter := c.adapters[platformName]
	cred := c.credential(exportID, platformName)
	logger := c.logger.With("export_id", exportID, "platform", platformName)

	for {
		claimed, err := c.repo.MarkUploading(ctx, exportID, platformName)
		if err != nil {
			logger.Error("claiming target failed", "error", err)
			return
		}
		if !claimed {
			return
		}

		target, err := c.repo.GetTarget(ctx, exportID, platformName)
		if err != nil || target == nil {
			logger.Error("reading target failed", "error", err)
			return
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
		result, err := adapter.Upload(attemptCtx, artifact, target.Metadata, cred)
		cancel()

		if err != nil {
			// Local fault such as an unreadable artifact; retrying
			// cannot help.
			c.repo.FailTarget(ctx, exportID, platformName, err.Error())
			logger.Error("upload aborted", "error", err)
			return
		}

		switch result.Outcome {
		case platform.OutcomeSuccess:
			c.repo.CompleteTarget(ctx, exportID, platformName, result.PostID, result.PostURL)
			logger.Info("target published", "post_id", result.PostID, "attempts", target.Attempts)
			return

		case platform.OutcomePermanent:
			c.repo.FailTarget(ctx, exportID, platformName, result.Reason)
			logger.Warn("target failed permanently", "reason", result.Reason, "attempts", target.Attempts)
			return

		case platform.OutcomeRetryable:
			if target.Attempts >= c.maxAttempts {
				reason := fmt.Sprintf("attempts exhausted (%d): %s", target.Attempts, result.Reason)
				c.repo.FailTarget(ctx, exportID, platformName, reason)
				logger.Warn("target failed after retries", "reason", result.Reason, "attempts", target.Attempts)
				return
			}
			if _, err := c.repo.RequeueTarget(ctx, exportID, platformName, result.Reason); err != nil {
				logger.Error("requeueing target failed", "error", err)
				return
			}
			delay := c.backoff(target.Attempts)
			logger.Info("target retrying", "reason", result.Reason,
				"attempt", target.Attempts, "backoff", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				c.repo.FailTarget(context.Background(), exportID, platformName, "export interrupted")
				return
			}

		default:
			c.repo.FailTarget(ctx, exportID, platformName,
				fmt.Sprintf("unrecognised outcome %q", result.Outcome))
			return
		}
	}
}

// backoff doubles per attempt from the base, capped.
func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.maxBackoff {
			return c.maxBackoff
		}
	}
	return d
}

func (c *Coordinator) credential(exportID, platformName string) platform.Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds[credKey(exportID, platformName)]
}

func credKey(exportID, platformName string) string {
	return exportID + "/" + platformName
}
