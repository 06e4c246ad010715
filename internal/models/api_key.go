package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// APIKeySecretPrefix marks every raw key secret. Requests whose bearer
// token lacks it are rejected before any database lookup.
const APIKeySecretPrefix = "pv_"

// KeyPrefixLen is the number of leading characters of a raw key that are
// safe to show after creation (e.g. "pv_1a2b3c4d5").
const KeyPrefixLen = 12

// Default scopes granted when a key is created without an explicit set.
var DefaultKeyScopes = []string{"read", "corpus"}

// DefaultKeyRateLimitPerMinute applies when a key is created without an
// explicit per-minute rate limit.
const DefaultKeyRateLimitPerMinute = 60

// MaxActiveKeysPerAccount caps how many active keys one account may hold.
const MaxActiveKeysPerAccount = 5

type APIKey struct {
	ID                 uuid.UUID  `json:"id"`
	AccountID          uuid.UUID  `json:"account_id"`
	KeyHash            string     `json:"-"`
	KeyPrefix          string     `json:"key_prefix"`
	Name               string     `json:"name"`
	Scopes             []string   `json:"scopes"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	IsActive           bool       `json:"is_active"`
	UsageCount         int64      `json:"usage_count"`
	LastUsed           *time.Time `json:"last_used,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// NewAPIKeySecret generates a raw key secret: "pv_" plus 64 hex characters
// (32 random bytes). The plaintext is shown to the caller exactly once;
// only its hash is stored.
func NewAPIKeySecret() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return APIKeySecretPrefix + hex.EncodeToString(buf[:]), nil
}

// HashAPIKeySecret returns the hex SHA-256 of a raw key secret, the form
// stored in api_keys.key_hash.
func HashAPIKeySecret(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// HasScope reports whether the key grants the named scope.
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
