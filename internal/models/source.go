package models

import (
	"time"

	"github.com/google/uuid"
)

// FeedSource is a registered upstream feed the ingest worker scrapes.
type FeedSource struct {
	ID            uuid.UUID  `json:"id"`
	Name          string     `json:"name"`
	FeedURL       string     `json:"feed_url"`
	Category      string     `json:"category"`
	IsActive      bool       `json:"is_active"`
	LastScrapedAt *time.Time `json:"last_scraped_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
