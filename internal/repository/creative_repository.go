package repository

import (
	"context"
	"time"

	"github.com/digkill/SmachnoBot/internal/models"
)

type CreativeRepository struct {
	db DBTX
}

func NewCreativeRepository(db DBTX) *CreativeRepository {
	return &CreativeRepository{db: db}
}

func (r *CreativeRepository) Save(ctx context.Context, c *models.Creative, now time.Time) error {
	const query = `
INSERT INTO creatives (user_id, original_photo_url, prompt, generated_image_url, caption, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, c.UserID, c.OriginalPhotoURL, c.Prompt, c.GeneratedImageURL, c.Caption, now)
	if err != nil {
		return wrap(subjectCreative, codeInsert, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrap(subjectCreative, codeInsert, err)
	}
	c.ID = id
	c.CreatedAt = now
	return nil
}

// ListRecent returns the newest creatives of a user first.
func (r *CreativeRepository) ListRecent(ctx context.Context, userID int64, limit int) ([]models.Creative, error) {
	const query = `
SELECT id, user_id, original_photo_url, prompt, generated_image_url, COALESCE(caption, ''), created_at
FROM creatives WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, wrap(subjectCreative, codeList, err)
	}
	defer rows.Close()

	var out []models.Creative
	for rows.Next() {
		var c models.Creative
		if err := rows.Scan(&c.ID, &c.UserID, &c.OriginalPhotoURL, &c.Prompt, &c.GeneratedImageURL, &c.Caption, &c.CreatedAt); err != nil {
			return nil, wrap(subjectCreative, codeList, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(subjectCreative, codeList, err)
	}
	return out, nil
}

func (r *CreativeRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM creatives`).Scan(&n); err != nil {
		return 0, wrap(subjectCreative, codeCount, err)
	}
	return n, nil
}
