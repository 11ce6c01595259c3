// Package subscription is a read-through cache over governance's
// per-user quota endpoint, so a burst of requests from the same caller
// doesn't hammer governance for an identical limits snapshot.
package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/cache"
	"github.com/sp3esu/sentinel/internal/domain"
)

// LimitsSource fetches a user's quota state; implemented by
// *governance.Client.
type LimitsSource interface {
	GetLimits(ctx context.Context, externalID string) ([]domain.UserLimit, error)
}

// Store is the read-through limits cache.
type Store struct {
	source LimitsSource
	kv     cache.KV
	ttl    time.Duration
}

// New constructs a Store.
func New(source LimitsSource, kv cache.KV, ttl time.Duration) *Store {
	return &Store{source: source, kv: kv, ttl: ttl}
}

func cacheKey(externalID string) string {
	return fmt.Sprintf("sentinel:limits:%s", externalID)
}

// GetLimits returns the user's current quota state, preferring a cached
// snapshot younger than the configured TTL.
func (s *Store) GetLimits(ctx context.Context, externalID string) ([]domain.UserLimit, error) {
	key := cacheKey(externalID)

	if raw, ok, err := s.kv.Get(ctx, key); err == nil && ok {
		var limits []domain.UserLimit
		if err := json.Unmarshal(raw, &limits); err == nil {
			return limits, nil
		}
	}

	limits, err := s.source.GetLimits(ctx, externalID)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(limits); err == nil {
		_ = s.kv.Set(ctx, key, raw, s.ttl)
	}
	return limits, nil
}

// Invalidate drops any cached snapshot for externalID, used after a usage
// increment that the caller wants immediately reflected.
func (s *Store) Invalidate(ctx context.Context, externalID string) error {
	return s.kv.Delete(ctx, cacheKey(externalID))
}

// HasQuota reports whether a limit named unit still has remaining budget.
// Returns true (fail-open) if the named limit isn't present in the user's
// plan at all, since an absent limit means "unmetered" for that unit.
func HasQuota(limits []domain.UserLimit, unit string) (bool, *domain.UserLimit) {
	for i := range limits {
		if limits[i].Unit == unit || limits[i].Name == unit {
			return limits[i].Remaining > 0, &limits[i]
		}
	}
	return true, nil
}

// QuotaError builds the apperr for an exhausted limit.
func QuotaError(limit domain.UserLimit) *apperr.Error {
	return apperr.QuotaExceeded(
		fmt.Sprintf("quota exceeded for %s", limit.DisplayName),
		map[string]any{
			"limit_id":  limit.LimitID,
			"limit":     limit.Limit,
			"used":      limit.Used,
			"remaining": limit.Remaining,
		},
	)
}
