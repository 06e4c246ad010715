// Package corpus exposes the research paper corpus held in a GCS bucket.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ObjectPrefix is the bucket prefix under which all corpus documents live.
const ObjectPrefix = "corpus/"

// MaxUploadBytes caps a single uploaded document at 50 MB.
const MaxUploadBytes = 50 << 20

// DownloadURLTTL is how long an issued download link stays valid.
const DownloadURLTTL = time.Hour

// ErrNotFound is returned when no document has the requested ID.
var ErrNotFound = errors.New("document not found")

// Document describes one corpus object. ID is the object name relative to
// ObjectPrefix, e.g. "var-models-2024.pdf"; IDs are flat (no slashes) so
// they travel as a single URL path segment. Category and title live in
// object metadata.
type Document struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	SizeBytes   int64     `json:"size_bytes"`
	ContentType string    `json:"content_type"`
	Updated     time.Time `json:"updated"`
}

// ListOptions filters and pages a corpus listing.
type ListOptions struct {
	Limit    int
	Offset   int
	Category string
	Search   string
}

// Page is one page of a corpus listing.
type Page struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
	Limit     int        `json:"limit"`
	Offset    int        `json:"offset"`
}

// Store is the corpus interface handlers depend on.
type Store interface {
	List(ctx context.Context, opts ListOptions) (Page, error)
	Get(ctx context.Context, id string) (Document, error)
	SignedDownloadURL(ctx context.Context, id string) (string, time.Time, error)
	Upload(ctx context.Context, id, contentType string, metadata map[string]string, r io.Reader) (Document, error)
}

// GCSStore serves the corpus from a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore connects to GCS. An empty credentialsFile falls back to
// application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// List walks the bucket under ObjectPrefix and pages in memory. The corpus
// is small enough (tens of thousands of objects) that one listing pass per
// request is fine; revisit with a papers-table-backed index if it grows.
func (s *GCSStore) List(ctx context.Context, opts ListOptions) (Page, error) {
	opts = clamp(opts)
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: ObjectPrefix})
	var docs []Document
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return Page{}, fmt.Errorf("list corpus objects: %w", err)
		}
		doc := docFromAttrs(attrs)
		if doc.ID == "" {
			continue // directory placeholder
		}
		if opts.Category != "" && doc.Category != opts.Category {
			continue
		}
		if opts.Search != "" && !matchesSearch(doc, opts.Search) {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	total := len(docs)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}
	page := docs[start:end]
	if page == nil {
		page = []Document{}
	}
	return Page{Documents: page, Total: total, Limit: opts.Limit, Offset: opts.Offset}, nil
}

func (s *GCSStore) Get(ctx context.Context, id string) (Document, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(ObjectPrefix + id).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("corpus object attrs: %w", err)
	}
	return docFromAttrs(attrs), nil
}

// SignedDownloadURL issues a V4 signed GET link for the document, valid for
// DownloadURLTTL. The object is checked first so missing IDs 404 instead
// of handing out a link that will fail.
func (s *GCSStore) SignedDownloadURL(ctx context.Context, id string) (string, time.Time, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return "", time.Time{}, err
	}
	expires := time.Now().Add(DownloadURLTTL)
	url, err := s.client.Bucket(s.bucket).SignedURL(ObjectPrefix+id, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: expires,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign download url: %w", err)
	}
	return url, expires, nil
}

// Upload streams the document into the bucket. Size and content-type
// policy is enforced by the handler before the bytes get here.
func (s *GCSStore) Upload(ctx context.Context, id, contentType string, metadata map[string]string, r io.Reader) (Document, error) {
	obj := s.client.Bucket(s.bucket).Object(ObjectPrefix + id)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return Document{}, fmt.Errorf("write corpus object: %w", err)
	}
	if err := w.Close(); err != nil {
		return Document{}, fmt.Errorf("finalize corpus object: %w", err)
	}
	return s.Get(ctx, id)
}

func clamp(opts ListOptions) ListOptions {
	if opts.Limit < 1 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

func docFromAttrs(attrs *storage.ObjectAttrs) Document {
	id := strings.TrimPrefix(attrs.Name, ObjectPrefix)
	if id == "" || strings.HasSuffix(id, "/") {
		return Document{}
	}
	title := attrs.Metadata["title"]
	if title == "" {
		title = strings.TrimSuffix(id, path.Ext(id))
	}
	return Document{
		ID:          id,
		Title:       title,
		Category:    attrs.Metadata["category"],
		SizeBytes:   attrs.Size,
		ContentType: attrs.ContentType,
		Updated:     attrs.Updated,
	}
}

func matchesSearch(doc Document, q string) bool {
	q = strings.ToLower(q)
	return strings.Contains(strings.ToLower(doc.ID), q) ||
		strings.Contains(strings.ToLower(doc.Title), q)
}
