package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papervault/backend/internal/models"
)

type SourceRepo struct {
	pool *pgxpool.Pool
}

func NewSourceRepo(pool *pgxpool.Pool) *SourceRepo {
	return &SourceRepo{pool: pool}
}

func (r *SourceRepo) Create(ctx context.Context, s *models.FeedSource) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO feed_sources (id, name, feed_url, category, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, s.ID, s.Name, s.FeedURL, s.Category, s.IsActive).Scan(&s.CreatedAt)
}

func (r *SourceRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.FeedSource, error) {
	var s models.FeedSource
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, feed_url, category, is_active, last_scraped_at, created_at
		FROM feed_sources WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.FeedURL, &s.Category, &s.IsActive, &s.LastScrapedAt, &s.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &s, nil
}

// ListActive returns scrapeable sources ordered by staleness, the ones
// never scraped first.
func (r *SourceRepo) ListActive(ctx context.Context) ([]*models.FeedSource, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, feed_url, category, is_active, last_scraped_at, created_at
		FROM feed_sources
		WHERE is_active = TRUE
		ORDER BY last_scraped_at ASC NULLS FIRST
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.FeedSource
	for rows.Next() {
		var s models.FeedSource
		if err := rows.Scan(&s.ID, &s.Name, &s.FeedURL, &s.Category, &s.IsActive, &s.LastScrapedAt, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &s)
	}
	if list == nil {
		list = []*models.FeedSource{}
	}
	return list, rows.Err()
}

func (r *SourceRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE feed_sources SET is_active = $2 WHERE id = $1
	`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SourceRepo) TouchScraped(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE feed_sources SET last_scraped_at = $2 WHERE id = $1
	`, id, at)
	return err
}
