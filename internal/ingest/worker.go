package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/repository"
)

// Feeds larger than this are truncated; real paper feeds are far smaller.
const maxFeedBytes = 2 << 20

type FeedScanArgs struct{}

func (FeedScanArgs) Kind() string { return "feed_scan" }

type FeedScrapeArgs struct {
	SourceID uuid.UUID `json:"source_id"`
}

func (FeedScrapeArgs) Kind() string { return "feed_scrape" }

// Registry is the feed-source repository slice the workers need.
type Registry interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.FeedSource, error)
	ListActive(ctx context.Context) ([]*models.FeedSource, error)
	TouchScraped(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Papers persists scraped paper metadata.
type Papers interface {
	Upsert(ctx context.Context, p *models.Paper) (bool, error)
}

// FeedScanWorker runs periodically and fans out one scrape job per
// active source, stalest first.
type FeedScanWorker struct {
	river.WorkerDefaults[FeedScanArgs]
	registry Registry
	log      *slog.Logger
}

func NewFeedScanWorker(registry Registry, log *slog.Logger) *FeedScanWorker {
	if log == nil {
		log = slog.Default()
	}
	return &FeedScanWorker{registry: registry, log: log}
}

func (w *FeedScanWorker) Work(ctx context.Context, job *river.Job[FeedScanArgs]) error {
	sources, err := w.registry.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active sources: %w", err)
	}
	client := river.ClientFromContext[pgx.Tx](ctx)
	for _, src := range sources {
		if _, err := client.Insert(ctx, FeedScrapeArgs{SourceID: src.ID}, nil); err != nil {
			return fmt.Errorf("enqueue scrape for %s: %w", src.ID, err)
		}
	}
	w.log.Info("feed scan enqueued", "sources", len(sources))
	return nil
}

// FeedScrapeWorker fetches one source's feed and upserts its entries.
type FeedScrapeWorker struct {
	river.WorkerDefaults[FeedScrapeArgs]
	registry   Registry
	papers     Papers
	httpClient *http.Client
	log        *slog.Logger
}

func NewFeedScrapeWorker(registry Registry, papers Papers, log *slog.Logger) *FeedScrapeWorker {
	if log == nil {
		log = slog.Default()
	}
	return &FeedScrapeWorker{
		registry:   registry,
		papers:     papers,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

func (w *FeedScrapeWorker) Work(ctx context.Context, job *river.Job[FeedScrapeArgs]) error {
	src, err := w.registry.GetByID(ctx, job.Args.SourceID)
	if errors.Is(err, repository.ErrNotFound) {
		// Deleted between enqueue and run; nothing to do.
		return nil
	}
	if err != nil {
		return fmt.Errorf("load source: %w", err)
	}
	if !src.IsActive {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.FeedURL, nil)
	if err != nil {
		return fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch feed %s: %w", src.FeedURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed %s returned status %d", src.FeedURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return fmt.Errorf("read feed body: %w", err)
	}
	entries, err := ParseFeed(body)
	if err != nil {
		return err
	}

	inserted := 0
	for _, e := range entries {
		paper := &models.Paper{
			ID:          uuid.New(),
			SourceID:    &src.ID,
			ExternalID:  e.ID,
			Title:       e.Title,
			Category:    src.Category,
			URL:         e.Link,
			PublishedAt: e.Published,
		}
		isNew, err := w.papers.Upsert(ctx, paper)
		if err != nil {
			return fmt.Errorf("upsert paper %s: %w", e.ID, err)
		}
		if isNew {
			inserted++
		}
	}

	if err := w.registry.TouchScraped(ctx, src.ID, time.Now()); err != nil {
		return fmt.Errorf("mark source scraped: %w", err)
	}
	w.log.Info("feed scraped", "source", src.Name, "entries", len(entries), "new", inserted)
	return nil
}
