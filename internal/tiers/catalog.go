package tiers

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tier names. FREE is the read-through default for new usage records.
const (
	Free        = "FREE"
	Researcher  = "RESEARCHER"
	Arbitrageur = "ARBITRAGEUR"
	Sovereign   = "SOVEREIGN"
)

// Tier is one catalog entry: a display name, monthly entitlements and the
// feature list shown on the usage endpoint.
type Tier struct {
	Name             string
	APICallsPerMonth Limit
	DownloadLimit    Limit
	Features         []string
}

// Catalog is the immutable tier table, built once at startup and passed
// explicitly to the components that need it.
type Catalog struct {
	tiers map[string]Tier
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return &Catalog{tiers: map[string]Tier{
		Free: {
			Name:             "Free",
			APICallsPerMonth: LimitOf(100),
			DownloadLimit:    LimitOf(10),
			Features:         []string{"Basic corpus access", "Community Discord"},
		},
		Researcher: {
			Name:             "Researcher",
			APICallsPerMonth: LimitOf(5000),
			DownloadLimit:    LimitOf(500),
			Features:         []string{"Full Vault Access", "Standard API", "Weekly PDF Exports"},
		},
		Arbitrageur: {
			Name:             "Arbitrageur",
			APICallsPerMonth: LimitOf(50000),
			DownloadLimit:    Unlimited,
			Features:         []string{"Real-time Feed", "Synthesis AI", "Priority API", "Custom Alerts"},
		},
		Sovereign: {
			Name:             "Sovereign",
			APICallsPerMonth: Unlimited,
			DownloadLimit:    Unlimited,
			Features:         []string{"Dedicated Infrastructure", "Custom Models", "White-glove Support"},
		},
	}}
}

// Lookup returns the tier for key. Unknown keys are a configuration error:
// callers at startup must treat a non-nil error as fatal.
func (c *Catalog) Lookup(key string) (Tier, error) {
	t, ok := c.tiers[key]
	if !ok {
		return Tier{}, fmt.Errorf("unknown tier %q", key)
	}
	return t, nil
}

// Keys returns all tier keys (sorted not guaranteed).
func (c *Catalog) Keys() []string {
	out := make([]string, 0, len(c.tiers))
	for k := range c.tiers {
		out = append(out, k)
	}
	return out
}

// Paid reports whether the tier key is above the free entry level.
func (c *Catalog) Paid(key string) bool {
	return key != Free
}

// SynthesisAllowed reports whether the tier key may call synthesis
// (Arbitrageur and above).
func (c *Catalog) SynthesisAllowed(key string) bool {
	return key == Arbitrageur || key == Sovereign
}

// tierFileSchema validates TIERS_FILE overrides. The -1 sentinel is the
// accepted file encoding for unlimited, same as the wire format.
const tierFileSchema = `{
	"type": "object",
	"minProperties": 1,
	"additionalProperties": {
		"type": "object",
		"required": ["name", "api_calls_per_month", "download_limit", "features"],
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"api_calls_per_month": {"type": "integer", "minimum": -1},
			"download_limit": {"type": "integer", "minimum": -1},
			"features": {"type": "array", "items": {"type": "string"}}
		}
	}
}`

type tierFileEntry struct {
	Name             string   `json:"name"`
	APICallsPerMonth int64    `json:"api_calls_per_month"`
	DownloadLimit    int64    `json:"download_limit"`
	Features         []string `json:"features"`
}

// LoadFile builds a catalog from a JSON tier table, validating it against
// the schema first. The file must define FREE (the lazy-create default).
// Any error is a startup-fatal configuration problem.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file %q: %w", path, err)
	}

	schema, err := jsonschema.CompileString("tiers.schema.json", tierFileSchema)
	if err != nil {
		return nil, fmt.Errorf("compile tiers schema: %w", err)
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse tiers file %q: %w", path, err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("invalid tiers file %q: %w", path, err)
	}

	var entries map[string]tierFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse tiers file %q: %w", path, err)
	}

	tiers := make(map[string]Tier, len(entries))
	for key, e := range entries {
		key = strings.ToUpper(key)
		// Keys are case-folded, so "free" and "FREE" would clobber each
		// other in map order; that is a config mistake, not a preference.
		if _, dup := tiers[key]; dup {
			return nil, fmt.Errorf("tiers file %q defines %s more than once", path, key)
		}
		tiers[key] = Tier{
			Name:             e.Name,
			APICallsPerMonth: fromFile(e.APICallsPerMonth),
			DownloadLimit:    fromFile(e.DownloadLimit),
			Features:         e.Features,
		}
	}
	if _, ok := tiers[Free]; !ok {
		return nil, fmt.Errorf("tiers file %q does not define FREE", path)
	}
	return &Catalog{tiers: tiers}, nil
}

func fromFile(n int64) Limit {
	if n == -1 {
		return Unlimited
	}
	return LimitOf(n)
}
