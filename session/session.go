// Package session defines the pluggable session persistence contract and an
// in-memory reference backend. The dispatcher only ever talks to Backend;
// where and how the data lives is the backend's business.
package session

import (
	"context"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Backend is the session persistence contract. Load returns an empty (non-nil)
// map for absent or expired ids. Implementations must be safe for concurrent
// calls with distinct ids; concurrent writes to the same id resolve as last
// write wins, backends needing stronger guarantees lock on their own.
type Backend interface {
	Load(ctx context.Context, id string) (map[string]any, error)
	Save(ctx context.Context, id string, data map[string]any, ttl time.Duration) error
}

// Decode maps loosely typed session data onto a user struct.
func Decode(data map[string]any, dst any) error {
	return mapstructure.Decode(data, dst)
}
