package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/papervault/backend/internal/corpus"
	"github.com/papervault/backend/internal/handlers"
	"github.com/papervault/backend/internal/models"
	"github.com/papervault/backend/internal/repository"
	"github.com/papervault/backend/internal/tiers"
	"github.com/papervault/backend/internal/usage"
)

// ---------------------------------------------------------------------------
// Stubs for the real route table
// ---------------------------------------------------------------------------

type routeKeyRepo struct {
	byHash map[string]*repository.APIKeyWithAccount
}

func (r *routeKeyRepo) FindByKeyHash(_ context.Context, hash string) (*repository.APIKeyWithAccount, error) {
	if res, ok := r.byHash[hash]; ok {
		return res, nil
	}
	return nil, repository.ErrNotFound
}

func (r *routeKeyRepo) Touch(_ context.Context, _ uuid.UUID) error { return nil }

type routeUsageStore struct {
	rec            *models.UsageRecord
	synthesisCalls int
}

func (s *routeUsageStore) GetOrCreate(_ context.Context, _ uuid.UUID) (*models.UsageRecord, error) {
	return s.rec, nil
}

func (s *routeUsageStore) Rollover(_ context.Context, _ uuid.UUID, _ time.Time) error { return nil }

func (s *routeUsageStore) IncrementAPICall(_ context.Context, _ uuid.UUID) error {
	s.rec.APICallsThisMonth++
	return nil
}

func (s *routeUsageStore) IncrementDownload(_ context.Context, _ uuid.UUID) error {
	s.rec.DownloadsThisMonth++
	return nil
}

func (s *routeUsageStore) IncrementSynthesis(_ context.Context, _ uuid.UUID) error {
	s.synthesisCalls++
	return nil
}

func (s *routeUsageStore) UpdateTier(_ context.Context, _ uuid.UUID, tier string) error {
	s.rec.Tier = tier
	return nil
}

type routeCorpusStore struct {
	docs map[string]corpus.Document
}

func (s *routeCorpusStore) List(_ context.Context, opts corpus.ListOptions) (corpus.Page, error) {
	docs := []corpus.Document{}
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	return corpus.Page{Documents: docs, Total: len(docs), Limit: opts.Limit, Offset: opts.Offset}, nil
}

func (s *routeCorpusStore) Get(_ context.Context, id string) (corpus.Document, error) {
	if d, ok := s.docs[id]; ok {
		return d, nil
	}
	return corpus.Document{}, corpus.ErrNotFound
}

func (s *routeCorpusStore) SignedDownloadURL(ctx context.Context, id string) (string, time.Time, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return "", time.Time{}, err
	}
	return "https://storage.example.com/signed/" + id, time.Now().Add(time.Hour), nil
}

func (s *routeCorpusStore) Upload(_ context.Context, id, contentType string, metadata map[string]string, r io.Reader) (corpus.Document, error) {
	io.Copy(io.Discard, r)
	return corpus.Document{ID: id, ContentType: contentType}, nil
}

type routeEngine struct{}

func (routeEngine) Synthesize(_ context.Context, query string, documentIDs []string) (string, error) {
	return "synthesized " + query, nil
}

type routePapers struct{}

func (routePapers) ListRecent(_ context.Context, _ string, _ int) ([]*models.Paper, error) {
	return nil, nil
}

// rawTestKey has the shape NewAPIKeySecret produces: "pv_" plus 64 hex chars.
const rawTestKey = "pv_0a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"

func testMux(t *testing.T, engine handlers.SynthesisEngine) (*http.ServeMux, *routeUsageStore) {
	t.Helper()
	accountID := uuid.New()
	keyRepo := &routeKeyRepo{byHash: map[string]*repository.APIKeyWithAccount{
		models.HashAPIKeySecret(rawTestKey): {
			APIKey: models.APIKey{
				ID:        uuid.New(),
				AccountID: accountID,
				IsActive:  true,
				Scopes:    []string{"read", "write", "synthesis"},
			},
			Account: models.Account{ID: accountID, Email: "ada@example.com"},
		},
	}}
	store := &routeUsageStore{rec: &models.UsageRecord{
		AccountID:          accountID,
		Tier:               tiers.Arbitrageur,
		CurrentPeriodStart: time.Now().Add(-time.Hour),
		CurrentPeriodEnd:   time.Now().Add(24 * time.Hour),
	}}
	corpusStore := &routeCorpusStore{docs: map[string]corpus.Document{
		"var-models-2024.pdf": {ID: "var-models-2024.pdf", Title: "VAR Models", Category: "econometrics"},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mux := http.NewServeMux()
	RegisterV1Routes(mux, keyRepo, routePapers{}, usage.NewService(store, tiers.Default()), corpusStore, engine, tiers.Default(), logger)
	return mux, store
}

func doAuthed(mux *http.ServeMux, method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Authorization", "Bearer "+rawTestKey)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

// A download is requested by POSTing to the document path itself; the same
// method on the collection path is an upload, not a download.
func TestRoutesCorpusDownloadPath(t *testing.T) {
	mux, _ := testMux(t, routeEngine{})

	rr := doAuthed(mux, http.MethodPost, "/api/v1/corpus/var-models-2024.pdf", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var resp struct {
		DownloadURL string `json:"download_url"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !strings.Contains(resp.DownloadURL, "var-models-2024.pdf") {
		t.Errorf("download_url = %q, want a signed link for the document", resp.DownloadURL)
	}

	// Without an id segment the POST is an upload; an empty body fails the
	// multipart parse, which proves the request did not reach the download
	// handler.
	rr = doAuthed(mux, http.MethodPost, "/api/v1/corpus", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("collection POST status = %d, want %d (body %s)", rr.Code, http.StatusBadRequest, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "file") {
		t.Errorf("collection POST body = %q, want the multipart error", rr.Body.String())
	}
}

func TestRoutesSynthesisEngineWired(t *testing.T) {
	mux, store := testMux(t, routeEngine{})

	body := strings.NewReader(`{"query":"term structure","document_ids":["a","b"]}`)
	rr := doAuthed(mux, http.MethodPost, "/api/v1/synthesis", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, http.StatusOK, rr.Body.String())
	}
	var resp struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Result != "synthesized term structure" {
		t.Errorf("result = %q, want the engine output", resp.Result)
	}
	if store.synthesisCalls != 1 {
		t.Errorf("synthesis calls recorded = %d, want 1", store.synthesisCalls)
	}
}

func TestRoutesSynthesisWithoutEngine(t *testing.T) {
	mux, store := testMux(t, nil)

	body := strings.NewReader(`{"query":"term structure"}`)
	rr := doAuthed(mux, http.MethodPost, "/api/v1/synthesis", body)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d (body %s)", rr.Code, http.StatusServiceUnavailable, rr.Body.String())
	}
	if store.synthesisCalls != 0 {
		t.Errorf("synthesis calls recorded = %d, want 0", store.synthesisCalls)
	}
}
