package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papervault/backend/internal/models"
)

type PaperRepo struct {
	pool *pgxpool.Pool
}

func NewPaperRepo(pool *pgxpool.Pool) *PaperRepo {
	return &PaperRepo{pool: pool}
}

// Upsert inserts the paper or refreshes its mutable fields when the same
// (source_id, external_id) pair has been scraped before. Returns true when
// a new row was created.
func (r *PaperRepo) Upsert(ctx context.Context, p *models.Paper) (bool, error) {
	var inserted bool
	err := r.pool.QueryRow(ctx, `
		INSERT INTO papers (id, source_id, external_id, title, category, url, object_name, published_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (source_id, external_id) DO UPDATE
		SET title = EXCLUDED.title, url = EXCLUDED.url, published_at = EXCLUDED.published_at
		RETURNING id, ingested_at, (xmax = 0)
	`, p.ID, p.SourceID, p.ExternalID, p.Title, p.Category, p.URL, p.ObjectName, p.PublishedAt).
		Scan(&p.ID, &p.IngestedAt, &inserted)
	return inserted, err
}

// ListRecent returns the newest ingested papers, optionally filtered by
// category.
func (r *PaperRepo) ListRecent(ctx context.Context, category string, limit int) ([]*models.Paper, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, source_id, external_id, title, category, url, object_name, published_at, ingested_at
		FROM papers
		WHERE ($1 = '' OR category = $1)
		ORDER BY ingested_at DESC
		LIMIT $2
	`, category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Paper
	for rows.Next() {
		var p models.Paper
		if err := rows.Scan(&p.ID, &p.SourceID, &p.ExternalID, &p.Title, &p.Category, &p.URL, &p.ObjectName, &p.PublishedAt, &p.IngestedAt); err != nil {
			return nil, err
		}
		list = append(list, &p)
	}
	if list == nil {
		list = []*models.Paper{}
	}
	return list, rows.Err()
}

func (r *PaperRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Paper, error) {
	var p models.Paper
	err := r.pool.QueryRow(ctx, `
		SELECT id, source_id, external_id, title, category, url, object_name, published_at, ingested_at
		FROM papers WHERE id = $1
	`, id).Scan(&p.ID, &p.SourceID, &p.ExternalID, &p.Title, &p.Category, &p.URL, &p.ObjectName, &p.PublishedAt, &p.IngestedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &p, nil
}
