package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Repository interface {
	UpsertVideo(ctx context.Context, v *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	DeleteVideo(ctx context.Context, id string) error

	UpsertJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListJobsByVideo(ctx context.Context, videoID string) ([]*Job, error)
	SetArtifact(ctx context.Context, id, filename string, size int64) error
	SetSavedPath(ctx context.Context, id, path string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) UpsertVideo(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (id, filename, size, uploaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			filename = excluded.filename,
			size = excluded.size
	`, v.ID, v.Filename, v.Size, formatTime(v.UploadedAt))
	return err
}

func (r *SQLiteRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	var v Video
	var uploadedAt string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, filename, size, uploaded_at FROM videos WHERE id = ?
	`, id).Scan(&v.ID, &v.Filename, &v.Size, &uploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v.UploadedAt, _ = time.Parse(time.RFC3339, uploadedAt)
	return &v, nil
}

// DeleteVideo removes the video and its jobs.
func (r *SQLiteRepository) DeleteVideo(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM clip_jobs WHERE video_id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM videos WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertJob inserts the job or updates its mutable columns. Artifact columns are left alone.
func (r *SQLiteRepository) UpsertJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clip_jobs (id, video_id, text, sport_type, target_duration, status, download_url, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			download_url = excluded.download_url,
			error = excluded.error,
			updated_at = excluded.updated_at
	`, j.ID, j.VideoID, j.Text, j.SportType, j.TargetDuration, j.Status,
		nullString(j.DownloadURL), nullString(j.Error),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	return err
}

const jobColumns = `id, video_id, text, sport_type, target_duration, status, download_url, error,
	artifact_filename, artifact_size, saved_path, created_at, updated_at`

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM clip_jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM clip_jobs ORDER BY created_at DESC, rowid DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) ListJobsByVideo(ctx context.Context, videoID string) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+jobColumns+" FROM clip_jobs WHERE video_id = ? ORDER BY created_at ASC, rowid ASC", videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLiteRepository) SetArtifact(ctx context.Context, id, filename string, size int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clip_jobs SET artifact_filename = ?, artifact_size = ?, updated_at = ? WHERE id = ?
	`, nullString(filename), size, formatTime(time.Now()), id)
	return err
}

func (r *SQLiteRepository) SetSavedPath(ctx context.Context, id, path string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clip_jobs SET saved_path = ?, updated_at = ? WHERE id = ?
	`, nullString(path), formatTime(time.Now()), id)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var downloadURL, errMsg, artifactFilename, savedPath sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.VideoID, &j.Text, &j.SportType, &j.TargetDuration, &j.Status,
		&downloadURL, &errMsg, &artifactFilename, &j.ArtifactSize, &savedPath, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	j.DownloadURL = downloadURL.String
	j.Error = errMsg.String
	j.ArtifactFilename = artifactFilename.String
	j.SavedPath = savedPath.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
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

// EnsureConfig returns the stored value for key, storing generate() first if there is none.
// A generator error leaves the key unset.
func EnsureConfig(ctx context.Context, repo Repository, key string, generate func() (string, error)) (string, error) {
	v, err := repo.GetConfig(ctx, key)
	if err != nil {
		return "", err
	}
	if v != "" {
		return v, nil
	}
	v, err = generate()
	if err != nil {
		return "", fmt.Errorf("generate %s: %w", key, err)
	}
	if err := repo.SetConfig(ctx, key, v); err != nil {
		return "", err
	}
	return v, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
