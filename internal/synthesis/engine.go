// Package synthesis holds the cross-document synthesis engine. The
// current engine is a placeholder: it acknowledges the request in a
// fixed shape while the real pipeline is built out. It is only wired up
// when an API key for the model backend is configured, so deployments
// without one keep answering 503.
package synthesis

import (
	"context"
	"fmt"
	"os"
)

type PlaceholderEngine struct{}

// FromEnv returns the engine when OPENAI_API_KEY is set, nil otherwise.
// A nil engine keeps the synthesis route answering Unavailable.
func FromEnv() *PlaceholderEngine {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil
	}
	return &PlaceholderEngine{}
}

func (e *PlaceholderEngine) Synthesize(ctx context.Context, query string, documentIDs []string) (string, error) {
	return fmt.Sprintf("Synthesis for %q across %d document(s) is queued; full cross-document synthesis is in limited preview.", query, len(documentIDs)), nil
}
