package models

import (
	"time"

	"github.com/google/uuid"
)

// Paper is corpus metadata ingested by the feed worker. The object body
// itself lives in the corpus bucket; ObjectName is its key there, empty for
// papers known only from a feed.
type Paper struct {
	ID          uuid.UUID  `json:"id"`
	SourceID    *uuid.UUID `json:"source_id,omitempty"`
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	URL         string     `json:"url,omitempty"`
	ObjectName  string     `json:"object_name,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	IngestedAt  time.Time  `json:"ingested_at"`
}
