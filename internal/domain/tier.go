// Package domain defines the canonical types shared across Sentinel's
// components: tiers, model bindings, sessions, usage records, and the
// provider-facing chat shapes.
package domain

import "fmt"

// Tier is a complexity label attached to a request that selects a
// candidate list of models. Tiers form a total order: Simple < Moderate < Complex.
type Tier int

const (
	TierSimple Tier = iota
	TierModerate
	TierComplex
)

// String returns the wire/config representation of the tier.
func (t Tier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierModerate:
		return "moderate"
	case TierComplex:
		return "complex"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalText renders the tier as its lowercase string form. Implementing
// encoding.TextMarshaler (rather than json.Marshaler) lets Tier double as a
// JSON object key, which TierConfig.Tiers relies on.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses the tier from its lowercase string form.
func (t *Tier) UnmarshalText(data []byte) error {
	parsed, ok := ParseTier(string(data))
	if !ok {
		return fmt.Errorf("domain: invalid tier %q", string(data))
	}
	*t = parsed
	return nil
}

// ParseTier parses a tier name, case-insensitively over the canonical
// three values. Returns ok=false for anything else.
func ParseTier(s string) (Tier, bool) {
	switch s {
	case "simple", "Simple", "SIMPLE":
		return TierSimple, true
	case "moderate", "Moderate", "MODERATE":
		return TierModerate, true
	case "complex", "Complex", "COMPLEX":
		return TierComplex, true
	default:
		return 0, false
	}
}

// ModelBinding is a candidate (provider, model) pair for a tier, weighted
// by relative cost for cost-weighted selection.
type ModelBinding struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	RelativeCost int    `json:"relative_cost"`
}

// Cost returns the binding's relative cost clamped to a minimum of 1, the
// convention the tier router uses to avoid division by zero when weighting.
func (m ModelBinding) Cost() int {
	if m.RelativeCost < 1 {
		return 1
	}
	return m.RelativeCost
}

// TierConfig is the global tier→model-list mapping fetched from governance.
type TierConfig struct {
	Version string                    `json:"version"`
	Tiers   map[Tier][]ModelBinding   `json:"tiers"`
}

// ModelsForTier returns the candidate list for a tier, or nil if the tier
// is unconfigured (and therefore unserviceable).
func (c *TierConfig) ModelsForTier(t Tier) []ModelBinding {
	if c == nil {
		return nil
	}
	return c.Tiers[t]
}
