package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/timeline"
)

// Manager owns the render job lifecycle: idempotent submission, a bounded
// pool of poll-based workers claiming queued jobs, cooperative cancellation
// and the terminal-state bookkeeping for each job.
type Manager struct {
	repo         Repository
	engine       compositor.Engine
	logger       *slog.Logger
	workers      int
	timeout      time.Duration
	pollInterval time.Duration
	running      atomic.Bool

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewManager(repo Repository, engine compositor.Engine, logger *slog.Logger, workers int, timeout time.Duration) *Manager {
	if workers < 1 {
		workers = 1
	}
	return &Manager{
		repo:         repo,
		engine:       engine,
		logger:       logger,
		workers:      workers,
		timeout:      timeout,
		pollInterval: time.Second,
		cancels:      make(map[string]context.CancelFunc),
	}
}

// Submit enqueues a render for the given timeline. Submitting a timeline
// whose fingerprint matches a queued or rendering job returns that job
// instead of creating a duplicate.
func (m *Manager) Submit(ctx context.Context, tl *timeline.Timeline) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.repo.GetActiveJobByFingerprint(ctx, tl.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("fingerprint lookup failed: %w", err)
	}
	if existing != nil {
		m.logger.Info("render submit deduplicated", "job_id", existing.ID, "fingerprint", tl.Fingerprint)
		return existing, nil
	}

	nowT := time.Now().UTC()
	job := &Job{
		ID:          NewID(),
		Fingerprint: tl.Fingerprint,
		Timeline:    tl,
		Status:      StatusQueued,
		Revision:    1,
		CreatedAt:   nowT,
		UpdatedAt:   nowT,
	}
	if err := m.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("cannot create render job: %w", err)
	}

	m.logger.Info("render job queued", "job_id", job.ID, "fingerprint", job.Fingerprint,
		"scenes", len(tl.Scenes), "duration_ms", tl.TotalDurationMs)
	return job, nil
}

// Get returns the job or nil when no such job exists.
func (m *Manager) Get(ctx context.Context, id string) (*Job, error) {
	return m.repo.GetJob(ctx, id)
}

// Cancel requests cancellation of a queued or rendering job. Cancelling a
// job that already reached a terminal state is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) (*Job, error) {
	job, err := m.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	if job.IsTerminal() {
		return job, nil
	}

	m.mu.Lock()
	cancel, inFlight := m.cancels[id]
	m.mu.Unlock()

	if inFlight {
		// The worker observes the cancelled context and records the
		// terminal state itself.
		cancel()
		m.logger.Info("render job cancellation requested", "job_id", id)
	} else {
		changed, err := m.repo.CancelJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if changed {
			m.logger.Info("queued render job cancelled", "job_id", id)
		}
	}
	return m.repo.GetJob(ctx, id)
}

// Start launches the worker pool and blocks until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}
	m.logger.Info("render workers started", "workers", m.workers)

	var wg sync.WaitGroup
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			m.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
	m.running.Store(false)
	m.logger.Info("render workers stopped")
}

func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

func (m *Manager) workerLoop(ctx context.Context, worker int) {
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := m.claimNext(ctx)
			if err != nil {
				m.logger.Error("claiming render job failed", "worker", worker, "error", err)
				continue
			}
			if job == nil {
				continue
			}
			m.process(ctx, job, worker)
		}
	}
}

func (m *Manager) claimNext(ctx context.Context) (*Job, error) {
	job, err := m.repo.NextQueuedJob(ctx)
	if err != nil || job == nil {
		return nil, err
	}
	claimed, err := m.repo.StartJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Another worker got there first, or the job was cancelled
		// between the poll and the claim.
		return nil, nil
	}
	return job, nil
}

func (m *Manager) process(ctx context.Context, job *Job, worker int) {
	jobCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.Lock()
	m.cancels[job.ID] = cancel
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.cancels, job.ID)
		m.mu.Unlock()
	}()

	m.logger.Info("render started", "job_id", job.ID, "worker", worker,
		"scenes", len(job.Timeline.Scenes))
	start := time.Now()

	artifact, err := m.engine.Render(jobCtx, job.Timeline, func(p float64) {
		if uerr := m.repo.UpdateProgress(context.Background(), job.ID, p); uerr != nil {
			m.logger.Warn("progress update failed", "job_id", job.ID, "error", uerr)
		}
	})
	if err != nil {
		m.finishFailed(job, err)
		return
	}

	changed, err := m.repo.CompleteJob(context.Background(), job.ID, artifact)
	if err != nil {
		m.logger.Error("recording render success failed", "job_id", job.ID, "error", err)
		return
	}
	if !changed {
		m.logger.Warn("render finished but job was no longer rendering", "job_id", job.ID)
		return
	}
	m.logger.Info("render succeeded", "job_id", job.ID,
		"artifact", artifact.Path, "duration_ms", artifact.DurationMs,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

func (m *Manager) finishFailed(job *Job, renderErr error) {
	// The job context is cancelled or expired at this point, so record
	// the terminal state with a fresh one.
	ctx := context.Background()

	switch {
	case errors.Is(renderErr, context.Canceled):
		if _, err := m.repo.CancelJob(ctx, job.ID); err != nil {
			m.logger.Error("recording render cancellation failed", "job_id", job.ID, "error", err)
			return
		}
		m.logger.Info("render cancelled", "job_id", job.ID)
	case errors.Is(renderErr, context.DeadlineExceeded):
		if _, err := m.repo.FailJob(ctx, job.ID, "render deadline exceeded"); err != nil {
			m.logger.Error("recording render timeout failed", "job_id", job.ID, "error", err)
			return
		}
		m.logger.Warn("render timed out", "job_id", job.ID, "timeout", m.timeout)
	default:
		if _, err := m.repo.FailJob(ctx, job.ID, renderErr.Error()); err != nil {
			m.logger.Error("recording render failure failed", "job_id", job.ID, "error", err)
			return
		}
		m.logger.Error("render failed", "job_id", job.ID, "error", renderErr)
	}
}
