// Package router selects a (provider, model) pair for a tier using
// health-aware filtering and cost-weighted probabilistic selection.
package router

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/health"
)

// Selected is the result of a model selection.
type Selected struct {
	Provider string
	Model    string
	Tier     domain.Tier
}

// ConfigSource fetches the current tier config; implemented by
// *tierconfig.Store.
type ConfigSource interface {
	Get(ctx context.Context) (domain.TierConfig, error)
}

// Router selects models for tiers: health-aware filtering, then
// cost-weighted random selection among the survivors, with one level of
// preferred-provider bypass for session continuity.
type Router struct {
	configs ConfigSource
	health  *health.Tracker
}

// New constructs a Router.
func New(configs ConfigSource, healthTracker *health.Tracker) *Router {
	return &Router{configs: configs, health: healthTracker}
}

// SelectModel picks a model for tier, preferring preferredProvider if it
// is both configured for the tier and currently healthy.
func (r *Router) SelectModel(ctx context.Context, tier domain.Tier, preferredProvider string) (Selected, error) {
	cfg, err := r.configs.Get(ctx)
	if err != nil {
		return Selected{}, err
	}

	models := cfg.ModelsForTier(tier)
	if len(models) == 0 {
		return Selected{}, apperr.BadRequest(fmt.Sprintf("no models configured for tier %s", tier))
	}

	healthy := make([]domain.ModelBinding, 0, len(models))
	for _, m := range models {
		if r.health.IsAvailable(m.Provider, m.Model) {
			healthy = append(healthy, m)
		}
	}

	if len(healthy) == 0 {
		var minBackoff time.Duration
		found := false
		for _, m := range models {
			if d, ok := r.health.BackoffRemaining(m.Provider, m.Model); ok {
				if !found || d < minBackoff {
					minBackoff = d
					found = true
				}
			}
		}
		retryAfter := 0
		if found {
			retryAfter = int(math.Ceil(minBackoff.Seconds()))
		}
		return Selected{}, apperr.ServiceUnavailable(
			fmt.Sprintf("all models for tier %s are currently unavailable", tier),
			retryAfter,
		)
	}

	if preferredProvider != "" {
		for _, m := range healthy {
			if m.Provider == preferredProvider {
				return Selected{Provider: m.Provider, Model: m.Model, Tier: tier}, nil
			}
		}
	}

	chosen := selectWeighted(healthy)
	return Selected{Provider: chosen.Provider, Model: chosen.Model, Tier: tier}, nil
}

// GetRetryModel returns an alternative healthy model for the tier that
// isn't failedModel, for the pipeline's single-retry envelope. Returns
// ok=false if no alternative exists.
func (r *Router) GetRetryModel(ctx context.Context, tier domain.Tier, failedModel string) (Selected, bool, error) {
	cfg, err := r.configs.Get(ctx)
	if err != nil {
		return Selected{}, false, err
	}

	models := cfg.ModelsForTier(tier)
	alternatives := make([]domain.ModelBinding, 0, len(models))
	for _, m := range models {
		if m.Model != failedModel && r.health.IsAvailable(m.Provider, m.Model) {
			alternatives = append(alternatives, m)
		}
	}

	if len(alternatives) == 0 {
		return Selected{}, false, nil
	}

	chosen := selectWeighted(alternatives)
	return Selected{Provider: chosen.Provider, Model: chosen.Model, Tier: tier}, true, nil
}

// RecordSuccess forwards a successful call outcome to the health tracker.
func (r *Router) RecordSuccess(provider, model string) {
	r.health.RecordSuccess(provider, model)
}

// RecordFailure forwards a failed call outcome to the health tracker.
func (r *Router) RecordFailure(provider, model string) {
	r.health.RecordFailure(provider, model)
}

// selectWeighted picks one binding using cost-weighted random selection:
// weight = 1/max(1,cost), so cheaper bindings are proportionally more
// likely. A single candidate always returns without drawing, matching the
// router's "don't bother the RNG" shortcut.
func selectWeighted(models []domain.ModelBinding) domain.ModelBinding {
	if len(models) == 1 {
		return models[0]
	}

	weights := make([]float64, len(models))
	total := 0.0
	for i, m := range models {
		w := 1.0 / float64(m.Cost())
		weights[i] = w
		total += w
	}

	draw := rand.Float64() * total
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if draw < cumulative {
			return models[i]
		}
	}
	return models[len(models)-1]
}
