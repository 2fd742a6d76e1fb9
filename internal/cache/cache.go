// Package cache stores analyzer responses keyed by request fingerprint.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chronicle/proofread/internal/analysis"
)

// DefaultTTL bounds how long a cached response is served.
const DefaultTTL = 24 * time.Hour

// Store is a response cache. Get reports a miss with ok=false and a nil
// error.
type Store interface {
	Get(ctx context.Context, key string) (resp analysis.Response, ok bool, err error)
	Put(ctx context.Context, key string, resp analysis.Response) error
}

// entry is the stored form of a response.
type entry struct {
	StoredAt time.Time         `json:"stored_at"`
	Response analysis.Response `json:"response"`
}

func encode(resp analysis.Response, now time.Time) ([]byte, error) {
	data, err := json.Marshal(entry{StoredAt: now, Response: resp})
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func decode(data []byte) (entry, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return e, nil
}
