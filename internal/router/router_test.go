package router

import (
	"context"
	"math"
	"testing"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/health"
)

type staticConfigSource struct {
	cfg domain.TierConfig
}

func (s staticConfigSource) Get(context.Context) (domain.TierConfig, error) {
	return s.cfg, nil
}

func configWithModels(models ...domain.ModelBinding) staticConfigSource {
	return staticConfigSource{cfg: domain.TierConfig{
		Tiers: map[domain.Tier][]domain.ModelBinding{
			domain.TierModerate: models,
		},
	}}
}

func TestWeightCalculationInverseOfCost(t *testing.T) {
	// relative cost 1 -> weight 1.0, cost 2 -> weight 0.5, cost 5 -> weight 0.2
	costs := []int{1, 2, 5}
	want := []float64{1.0, 0.5, 0.2}
	for i, c := range costs {
		got := 1.0 / float64(domain.ModelBinding{RelativeCost: c}.Cost())
		if math.Abs(got-want[i]) > 0.001 {
			t.Errorf("cost %d: weight = %v, want %v", c, got, want[i])
		}
	}
}

func TestZeroCostClampedToOne(t *testing.T) {
	got := domain.ModelBinding{RelativeCost: 0}.Cost()
	if got != 1 {
		t.Errorf("Cost() = %d, want 1", got)
	}
}

func TestSelectModel_NoModelsForTier(t *testing.T) {
	r := New(staticConfigSource{cfg: domain.TierConfig{}}, health.New())
	_, err := r.SelectModel(context.Background(), domain.TierModerate, "")
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindBadRequest {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestSelectModel_AllUnavailable(t *testing.T) {
	src := configWithModels(domain.ModelBinding{Provider: "openai", Model: "gpt-4o", RelativeCost: 1})
	h := health.New()
	h.RecordFailure("openai", "gpt-4o")

	r := New(src, h)
	_, err := r.SelectModel(context.Background(), domain.TierModerate, "")
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindServiceUnavail {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}

func TestSelectModel_SingleCandidateAlwaysWins(t *testing.T) {
	src := configWithModels(domain.ModelBinding{Provider: "openai", Model: "gpt-4o", RelativeCost: 1})
	r := New(src, health.New())

	selected, err := r.SelectModel(context.Background(), domain.TierModerate, "")
	if err != nil {
		t.Fatal(err)
	}
	if selected.Provider != "openai" || selected.Model != "gpt-4o" {
		t.Fatalf("unexpected selection: %+v", selected)
	}
}

func TestSelectModel_PreferredProviderBypassesWeighting(t *testing.T) {
	src := configWithModels(
		domain.ModelBinding{Provider: "openai", Model: "gpt-4o", RelativeCost: 1},
		domain.ModelBinding{Provider: "anthropic", Model: "claude-3", RelativeCost: 100},
	)
	r := New(src, health.New())

	for i := 0; i < 20; i++ {
		selected, err := r.SelectModel(context.Background(), domain.TierModerate, "anthropic")
		if err != nil {
			t.Fatal(err)
		}
		if selected.Provider != "anthropic" {
			t.Fatalf("preferred provider not honored: %+v", selected)
		}
	}
}

func TestSelectModel_UnavailablePreferredFallsBackToWeighted(t *testing.T) {
	src := configWithModels(domain.ModelBinding{Provider: "openai", Model: "gpt-4o", RelativeCost: 1})
	h := health.New()
	r := New(src, h)

	selected, err := r.SelectModel(context.Background(), domain.TierModerate, "anthropic")
	if err != nil {
		t.Fatal(err)
	}
	if selected.Provider != "openai" {
		t.Fatalf("expected fallback to openai, got %+v", selected)
	}
}

func TestGetRetryModel_ExcludesFailedModel(t *testing.T) {
	src := configWithModels(
		domain.ModelBinding{Provider: "openai", Model: "gpt-4o", RelativeCost: 1},
		domain.ModelBinding{Provider: "openai", Model: "gpt-4o-mini", RelativeCost: 1},
	)
	r := New(src, health.New())

	selected, ok, err := r.GetRetryModel(context.Background(), domain.TierModerate, "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || selected.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected retry model: %+v, ok=%v", selected, ok)
	}
}

func TestGetRetryModel_NoAlternativeReturnsFalse(t *testing.T) {
	src := configWithModels(domain.ModelBinding{Provider: "openai", Model: "gpt-4o", RelativeCost: 1})
	r := New(src, health.New())

	_, ok, err := r.GetRetryModel(context.Background(), domain.TierModerate, "gpt-4o")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected no retry alternative")
	}
}
