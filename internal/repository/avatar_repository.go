package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/massmindmaker/fotoset-sub002/internal/models"
)

type AvatarRepository struct {
	db *sql.DB
}

func NewAvatarRepository(db *sql.DB) *AvatarRepository {
	return &AvatarRepository{db: db}
}

func (r *AvatarRepository) FindByID(ctx context.Context, id int64) (*models.Avatar, error) {
	const query = `SELECT id, user_id, title, created_at FROM avatars WHERE id = ?`
	return scanAvatar(r.db.QueryRowContext(ctx, query, id))
}

// FindByIDForUser loads an avatar only when it belongs to the given user.
func (r *AvatarRepository) FindByIDForUser(ctx context.Context, id, userID int64) (*models.Avatar, error) {
	const query = `SELECT id, user_id, title, created_at FROM avatars WHERE id = ? AND user_id = ?`
	return scanAvatar(r.db.QueryRowContext(ctx, query, id, userID))
}

func (r *AvatarRepository) Create(ctx context.Context, avatar *models.Avatar) (*models.Avatar, error) {
	const query = `INSERT INTO avatars (user_id, title) VALUES (?, ?)`
	res, err := r.db.ExecContext(ctx, query, avatar.UserID, avatar.Title)
	if err != nil {
		return nil, fmt.Errorf("insert avatar: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	avatar.ID = id
	return avatar, nil
}

// MaxID returns the newest persisted avatar id, 0 when the table is empty.
// Hints above this value cannot refer to a stored avatar.
func (r *AvatarRepository) MaxID(ctx context.Context) (int64, error) {
	const query = `SELECT COALESCE(MAX(id), 0) FROM avatars`
	var max int64
	if err := r.db.QueryRowContext(ctx, query).Scan(&max); err != nil {
		return 0, fmt.Errorf("max avatar id: %w", err)
	}
	return max, nil
}

func (r *AvatarRepository) ListReferenceImages(ctx context.Context, avatarID int64) ([]models.ReferenceImage, error) {
	const query = `SELECT id, avatar_id, url, created_at FROM reference_images WHERE avatar_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, avatarID)
	if err != nil {
		return nil, fmt.Errorf("list reference images: %w", err)
	}
	defer rows.Close()

	var images []models.ReferenceImage
	for rows.Next() {
		var img models.ReferenceImage
		if err := rows.Scan(&img.ID, &img.AvatarID, &img.URL, &img.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reference image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reference images: %w", err)
	}
	return images, nil
}

func (r *AvatarRepository) CreateReferenceImage(ctx context.Context, image *models.ReferenceImage) error {
	const query = `INSERT INTO reference_images (avatar_id, url) VALUES (?, ?)`
	res, err := r.db.ExecContext(ctx, query, image.AvatarID, image.URL)
	if err != nil {
		return fmt.Errorf("insert reference image: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	image.ID = id
	return nil
}

func scanAvatar(row *sql.Row) (*models.Avatar, error) {
	var a models.Avatar
	if err := row.Scan(&a.ID, &a.UserID, &a.Title, &a.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan avatar: %w", err)
	}
	return &a, nil
}
