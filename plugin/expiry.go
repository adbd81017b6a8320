package plugin

import (
	"context"
	"strconv"
	"time"

	"github.com/ngas/ngas-cachecontrol/cache"
	"golang.org/x/xerrors"
)

const (
	// ExpiryPolicyName is the registered name of ExpiryPolicy
	ExpiryPolicyName string = "expiry"

	expiryMaxCacheTimeParam string = "max_cache_time"
)

// ExpiryPolicy evicts objects held longer than a maximum time
type ExpiryPolicy struct {
	maxCacheTime time.Duration
	now          func() time.Time
}

// NewExpiryPolicy creates ExpiryPolicy, max_cache_time is given in seconds
func NewExpiryPolicy(params map[string]string) (RetentionPolicy, error) {
	value, ok := params[expiryMaxCacheTimeParam]
	if !ok {
		return nil, xerrors.Errorf("missing parameter %s", expiryMaxCacheTimeParam)
	}

	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse %s %q: %w", expiryMaxCacheTimeParam, value, err)
	}

	if seconds < 0 {
		return nil, xerrors.Errorf("negative %s %q", expiryMaxCacheTimeParam, value)
	}

	return &ExpiryPolicy{
		maxCacheTime: time.Duration(seconds * float64(time.Second)),
		now:          time.Now,
	}, nil
}

// Name returns the policy name
func (policy *ExpiryPolicy) Name() string {
	return ExpiryPolicyName
}

// Evaluate returns true if the object expired
func (policy *ExpiryPolicy) Evaluate(ctx context.Context, entry *cache.Entry) (bool, error) {
	return policy.now().Sub(entry.CacheTime) > policy.maxCacheTime, nil
}
