package export

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Repository persists export jobs and their platform targets. Target
// updates are status-guarded so a terminal target is never rewritten by a
// late worker.
type Repository interface {
	CreateJob(ctx context.Context, job *Job, targets []*Target) error
	GetJob(ctx context.Context, id string) (*Job, error)
	GetTargets(ctx context.Context, exportID string) ([]*Target, error)
	GetTarget(ctx context.Context, exportID, platformName string) (*Target, error)

	// MarkUploading moves pending -> uploading and increments the attempt
	// counter. Returns false when the target was not pending.
	MarkUploading(ctx context.Context, exportID, platformName string) (bool, error)
	// RequeueTarget moves uploading -> pending between retry attempts.
	RequeueTarget(ctx context.Context, exportID, platformName, lastError string) (bool, error)
	CompleteTarget(ctx context.Context, exportID, platformName, postID, postURL string) (bool, error)
	FailTarget(ctx context.Context, exportID, platformName, lastError string) (bool, error)
	// ResetTarget moves failed -> pending and zeroes the attempt counter.
	ResetTarget(ctx context.Context, exportID, platformName string) (bool, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, job *Job, targets []*Target) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO export_jobs (id, render_job_id, artifact_path, revision, created_at, updated_at)
		VALUES (?, ?, ?, 1, ?, ?)
	`, job.ID, job.RenderJobID, job.ArtifactPath,
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("cannot create export job: %w", err)
	}

	for _, t := range targets {
		meta, err := json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("cannot marshal target metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO export_targets (export_id, platform, status, attempts, metadata, revision, created_at, updated_at)
			VALUES (?, ?, ?, 0, ?, 1, ?, ?)
		`, t.ExportID, t.Platform, t.Status, string(meta),
			t.CreatedAt.Format(time.RFC3339), t.UpdatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("cannot create target %s: %w", t.Platform, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	var j Job
	var createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, render_job_id, artifact_path, revision, created_at, updated_at
		FROM export_jobs WHERE id = ?
	`, id).Scan(&j.ID, &j.RenderJobID, &j.ArtifactPath, &j.Revision, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

const targetColumns = `export_id, platform, status, attempts, post_id, post_url, last_error, metadata, revision, created_at, updated_at`

func (r *SQLiteRepository) GetTargets(ctx context.Context, exportID string) ([]*Target, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM export_targets WHERE export_id = ? ORDER BY platform`, exportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []*Target
	for rows.Next() {
		t, err := scanTarget(rows.Scan)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (r *SQLiteRepository) GetTarget(ctx context.Context, exportID, platformName string) (*Target, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM export_targets WHERE export_id = ? AND platform = ?`,
		exportID, platformName)
	return scanTarget(row.Scan)
}

func (r *SQLiteRepository) MarkUploading(ctx context.Context, exportID, platformName string) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE export_targets
		SET status = 'uploading', attempts = attempts + 1, revision = revision + 1, updated_at = ?
		WHERE export_id = ? AND platform = ? AND status = 'pending'
	`, now(), exportID, platformName)
}

func (r *SQLiteRepository) RequeueTarget(ctx context.Context, exportID, platformName, lastError string) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE export_targets
		SET status = 'pending', last_error = ?, revision = revision + 1, updated_at = ?
		WHERE export_id = ? AND platform = ? AND status = 'uploading'
	`, lastError, now(), exportID, platformName)
}

func (r *SQLiteRepository) CompleteTarget(ctx context.Context, exportID, platformName, postID, postURL string) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE export_targets
		SET status = 'succeeded', post_id = ?, post_url = ?, last_error = NULL,
		    revision = revision + 1, updated_at = ?
		WHERE export_id = ? AND platform = ? AND status = 'uploading'
	`, postID, postURL, now(), exportID, platformName)
}

func (r *SQLiteRepository) FailTarget(ctx context.Context, exportID, platformName, lastError string) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE export_targets
		SET status = 'failed', last_error = ?, revision = revision + 1, updated_at = ?
		WHERE export_id = ? AND platform = ? AND status IN ('pending', 'uploading')
	`, lastError, now(), exportID, platformName)
}

func (r *SQLiteRepository) ResetTarget(ctx context.Context, exportID, platformName string) (bool, error) {
	return r.guardedUpdate(ctx, `
		UPDATE export_targets
		SET status = 'pending', attempts = 0, last_error = NULL,
		    revision = revision + 1, updated_at = ?
		WHERE export_id = ? AND platform = ? AND status = 'failed'
	`, now(), exportID, platformName)
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

func scanTarget(scan func(dest ...interface{}) error) (*Target, error) {
	var t Target
	var postID, postURL, lastError, meta sql.NullString
	var createdAt, updatedAt string

	err := scan(&t.ExportID, &t.Platform, &t.Status, &t.Attempts,
		&postID, &postURL, &lastError, &meta, &t.Revision, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t.PostID = postID.String
	t.PostURL = postURL.String
	t.LastError = lastError.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("cannot unmarshal metadata for target %s/%s: %w", t.ExportID, t.Platform, err)
		}
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
