package render

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clipforge/clipforge/internal/compositor"
	"github.com/clipforge/clipforge/internal/timeline"
)

// Repository is the durable status store for render jobs. Status-changing
// updates are guarded so transitions out of a terminal state never happen;
// each write bumps the row revision.
type Repository interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	GetActiveJobByFingerprint(ctx context.Context, fingerprint string) (*Job, error)
	NextQueuedJob(ctx context.Context) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)

	// StartJob moves queued -> rendering. Returns false when the job was
	// not queued (already claimed, cancelled, or terminal).
	StartJob(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, id string, progress float64) error
	CompleteJob(ctx context.Context, id string, artifact *compositor.ArtifactRef) (bool, error)
	FailJob(ctx context.Context, id, errMsg string) (bool, error)
	CancelJob(ctx context.Context, id string) (bool, error)

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, fingerprint, timeline, status, progress, artifact_path, artifact_duration_ms, error, revision, created_at, updated_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, job *Job) error {
	tlJSON, err := json.Marshal(job.Timeline)
	if err != nil {
		return fmt.Errorf("cannot marshal timeline: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO render_jobs (id, fingerprint, timeline, status, progress, error, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
	`, job.ID, job.Fingerprint, string(tlJSON), job.Status, job.Progress, nullString(job.Error),
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM render_jobs WHERE id = ?`, id)
	return scanJob(row.Scan)
}

func (r *SQLiteRepository) GetActiveJobByFingerprint(ctx context.Context, fingerprint string) (*Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM render_jobs
		 WHERE fingerprint = ? AND status IN ('queued', 'rendering')
		 ORDER BY created_at DESC LIMIT 1`, fingerprint)
	return scanJob(row.Scan)
}

func (r *SQLiteRepository) NextQueuedJob(ctx context.Context) (*Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM render_jobs
		 WHERE status = 'queued'
		 ORDER BY created_at ASC, rowid ASC LIMIT 1`)
	return scanJob(row.Scan)
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM render_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) StartJob(ctx context.Context, id string) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE render_jobs
		SET status = 'rendering', revision = revision + 1, updated_at = ?
		WHERE id = ? AND status = 'queued'
	`, now(), id)
}

func (r *SQLiteRepository) UpdateProgress(ctx context.Context, id string, progress float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE render_jobs
		SET progress = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND status = 'rendering'
	`, progress, now(), id)
	return err
}

func (r *SQLiteRepository) CompleteJob(ctx context.Context, id string, artifact *compositor.ArtifactRef) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE render_jobs
		SET status = 'succeeded', progress = 1, artifact_path = ?, artifact_duration_ms = ?,
		    revision = revision + 1, updated_at = ?
		WHERE id = ? AND status = 'rendering'
	`, artifact.Path, artifact.DurationMs, now(), id)
}

func (r *SQLiteRepository) FailJob(ctx context.Context, id, errMsg string) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE render_jobs
		SET status = 'failed', error = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'rendering')
	`, errMsg, now(), id)
}

func (r *SQLiteRepository) CancelJob(ctx context.Context, id string) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE render_jobs
		SET status = 'cancelled', revision = revision + 1, updated_at = ?
		WHERE id = ? AND status IN ('queued', 'rendering')
	`, now(), id)
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (r *SQLiteRepository) guardedUpdate(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanJob(scan func(dest ...interface{}) error) (*Job, error) {
	var j Job
	var tlJSON, createdAt, updatedAt string
	var artifactPath sql.NullString
	var artifactDuration sql.NullInt64
	var errMsg sql.NullString

	err := scan(&j.ID, &j.Fingerprint, &tlJSON, &j.Status, &j.Progress,
		&artifactPath, &artifactDuration, &errMsg, &j.Revision, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var tl timeline.Timeline
	if err := json.Unmarshal([]byte(tlJSON), &tl); err != nil {
		return nil, fmt.Errorf("cannot unmarshal timeline for job %s: %w", j.ID, err)
	}
	j.Timeline = &tl

	if artifactPath.Valid {
		j.Artifact = &compositor.ArtifactRef{
			Path:       artifactPath.String,
			MimeType:   "video/mp4",
			DurationMs: artifactDuration.Int64,
		}
	}
	j.Error = errMsg.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
