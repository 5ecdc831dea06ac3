package repositories

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a KeyValueStore when a key is absent.
var ErrNotFound = errors.New("key not found")

// Persisted settings keys.
const (
	KeyVisitCount        = "ling_visit_count"
	KeyAffinity          = "ling_affinity"
	KeyAffinityLevel     = "ling_affinity_level"
	KeyWSURL             = "wsUrl"
	KeyBaseURL           = "baseUrl"
	KeyAuthToken         = "_ws_auth_token"
	KeyProactiveSettings = "proactiveSpeakSettings"
)

// KeyValueStore persists independent string settings. There are no
// multi-key transactions.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
