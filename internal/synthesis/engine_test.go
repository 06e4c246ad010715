package synthesis

import (
	"context"
	"strings"
	"testing"
)

func TestFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if e := FromEnv(); e != nil {
		t.Error("engine must be nil without a backend key")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	if e := FromEnv(); e == nil {
		t.Error("engine must be available once the backend key is set")
	}
}

func TestSynthesizePlaceholder(t *testing.T) {
	e := &PlaceholderEngine{}
	out, err := e.Synthesize(context.Background(), "liquidity cascades", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !strings.Contains(out, "liquidity cascades") || !strings.Contains(out, "3 document(s)") {
		t.Errorf("result = %q, want the query and document count reflected", out)
	}
}
