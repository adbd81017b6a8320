package plugin

import (
	"context"

	"github.com/ngas/ngas-cachecontrol/cache"
)

// RetentionPolicy decides whether a cached object can be evicted.
// Evaluate may update entry.State, the caller persists it when the entry is retained.
type RetentionPolicy interface {
	Name() string
	Evaluate(ctx context.Context, entry *cache.Entry) (bool, error)
}

// Factory creates a RetentionPolicy from its configuration parameters
type Factory func(params map[string]string) (RetentionPolicy, error)
