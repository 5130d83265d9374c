package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/massmindmaker/fotoset-sub002/internal/models"
)

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, avatar_id, style_id, total_photos, completed_photos, status, COALESCE(error_message, ''), COALESCE(refund_note, ''), created_at, updated_at`

func (r *JobRepository) Create(ctx context.Context, job *models.GenerationJob) (*models.GenerationJob, error) {
	const query = `
INSERT INTO generation_jobs (avatar_id, style_id, total_photos, completed_photos, status)
VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, job.AvatarID, job.StyleID, job.TotalPhotos, job.CompletedPhotos, job.Status)
	if err != nil {
		return nil, fmt.Errorf("insert generation job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	job.ID = id
	return job, nil
}

func (r *JobRepository) FindByID(ctx context.Context, id int64) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = ?`
	return scanJob(r.db.QueryRowContext(ctx, query, id))
}

// FindLatestByAvatar returns the most recently created job for the avatar,
// which is the "current" job for polling-by-avatar purposes.
func (r *JobRepository) FindLatestByAvatar(ctx context.Context, avatarID int64) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE avatar_id = ? ORDER BY id DESC LIMIT 1`
	return scanJob(r.db.QueryRowContext(ctx, query, avatarID))
}

func (r *JobRepository) UpdateStatus(ctx context.Context, jobID int64, status models.JobStatus, errorMessage string) error {
	const query = `UPDATE generation_jobs SET status = ?, error_message = NULLIF(?, '') WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, errorMessage, jobID); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (r *JobRepository) SetRefundNote(ctx context.Context, jobID int64, note string) error {
	const query = `UPDATE generation_jobs SET refund_note = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, note, jobID); err != nil {
		return fmt.Errorf("set refund note: %w", err)
	}
	return nil
}

// InsertPrompts persists the full prompt texts chosen for a job. Later jobs
// for the same avatar+style read these rows for used-prompt detection.
func (r *JobRepository) InsertPrompts(ctx context.Context, jobID int64, prompts []string) error {
	const query = `INSERT INTO job_prompts (job_id, prompt) VALUES (?, ?)`
	for _, prompt := range prompts {
		if _, err := r.db.ExecContext(ctx, query, jobID, prompt); err != nil {
			return fmt.Errorf("insert job prompt: %w", err)
		}
	}
	return nil
}

// ListPromptsForAvatarStyle returns every prompt recorded across all past
// jobs of the avatar in the given style.
func (r *JobRepository) ListPromptsForAvatarStyle(ctx context.Context, avatarID int64, styleID string) ([]string, error) {
	const query = `
SELECT p.prompt
FROM job_prompts p
JOIN generation_jobs j ON j.id = p.job_id
WHERE j.avatar_id = ? AND j.style_id = ?
ORDER BY p.id`
	rows, err := r.db.QueryContext(ctx, query, avatarID, styleID)
	if err != nil {
		return nil, fmt.Errorf("list job prompts: %w", err)
	}
	defer rows.Close()

	var prompts []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan job prompt: %w", err)
		}
		prompts = append(prompts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job prompts: %w", err)
	}
	return prompts, nil
}

// AddPhoto stores a completed photo and bumps the job's progress counter.
func (r *JobRepository) AddPhoto(ctx context.Context, jobID int64, url string) (int, error) {
	const insertQuery = `INSERT INTO generated_photos (job_id, url) VALUES (?, ?)`
	if _, err := r.db.ExecContext(ctx, insertQuery, jobID, url); err != nil {
		return 0, fmt.Errorf("insert generated photo: %w", err)
	}
	const updateQuery = `UPDATE generation_jobs SET completed_photos = completed_photos + 1 WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, updateQuery, jobID); err != nil {
		return 0, fmt.Errorf("increment completed photos: %w", err)
	}
	const countQuery = `SELECT completed_photos FROM generation_jobs WHERE id = ?`
	var completed int
	if err := r.db.QueryRowContext(ctx, countQuery, jobID).Scan(&completed); err != nil {
		return 0, fmt.Errorf("read completed photos: %w", err)
	}
	return completed, nil
}

func (r *JobRepository) ListPhotos(ctx context.Context, jobID int64) ([]models.GeneratedPhoto, error) {
	const query = `SELECT id, job_id, url, created_at FROM generated_photos WHERE job_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list generated photos: %w", err)
	}
	defer rows.Close()

	var photos []models.GeneratedPhoto
	for rows.Next() {
		var p models.GeneratedPhoto
		if err := rows.Scan(&p.ID, &p.JobID, &p.URL, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated photo: %w", err)
		}
		photos = append(photos, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generated photos: %w", err)
	}
	return photos, nil
}

func scanJob(row *sql.Row) (*models.GenerationJob, error) {
	var j models.GenerationJob
	if err := row.Scan(&j.ID, &j.AvatarID, &j.StyleID, &j.TotalPhotos, &j.CompletedPhotos, &j.Status, &j.ErrorMessage, &j.RefundNote, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan generation job: %w", err)
	}
	return &j, nil
}
