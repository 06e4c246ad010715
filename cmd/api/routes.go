package main

import (
	"log/slog"
	"net/http"

	"github.com/papervault/backend/internal/corpus"
	"github.com/papervault/backend/internal/handlers"
	"github.com/papervault/backend/internal/middleware"
	"github.com/papervault/backend/internal/tiers"
	"github.com/papervault/backend/internal/usage"
)

// RegisterV1Routes adds the API-key data plane under /api/v1.
// Middleware chain: APIKeyAuth -> QuotaGate -> handler. A nil corpusStore
// keeps the corpus routes registered but answering 503; a nil engine does
// the same for synthesis.
func RegisterV1Routes(
	mux *http.ServeMux,
	apiKeyRepo middleware.KeyRepo,
	papers handlers.PaperLister,
	usageSvc *usage.Service,
	corpusStore corpus.Store,
	engine handlers.SynthesisEngine,
	catalog *tiers.Catalog,
	logger *slog.Logger,
) {
	authn := middleware.APIKeyAuth(apiKeyRepo, logger)
	gate := middleware.QuotaGate(usageSvc, middleware.DefaultUpgradeURL, logger)
	metered := func(h http.HandlerFunc) http.Handler {
		return authn(gate(h))
	}

	ch := &handlers.CorpusHandler{
		Store:      corpusStore,
		Meter:      usageSvc,
		Catalog:    catalog,
		UpgradeURL: middleware.DefaultUpgradeURL,
		Logger:     logger,
	}
	mux.Handle("GET /api/v1/corpus", metered(ch.List))
	mux.Handle("POST /api/v1/corpus", metered(ch.Upload))
	mux.Handle("GET /api/v1/corpus/{id}", metered(ch.Get))
	mux.Handle("POST /api/v1/corpus/{id}", metered(ch.Download))

	uh := &handlers.UsageHandler{Catalog: catalog, Logger: logger}
	mux.Handle("GET /api/v1/usage", metered(uh.Get))

	sh := &handlers.SynthesisHandler{
		Engine:     engine,
		Meter:      usageSvc,
		Catalog:    catalog,
		UpgradeURL: middleware.DefaultUpgradeURL,
		Logger:     logger,
	}
	mux.Handle("POST /api/v1/synthesis", metered(sh.Create))

	fh := &handlers.FeedHandler{Papers: papers, Logger: logger}
	mux.Handle("GET /api/v1/feed", metered(fh.List))
}
