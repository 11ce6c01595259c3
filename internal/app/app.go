// Package app wires Sentinel's components into a single root State,
// constructed once at startup and handed to the HTTP server and the
// background batching worker.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sp3esu/sentinel/internal/cache"
	"github.com/sp3esu/sentinel/internal/cache/memory"
	"github.com/sp3esu/sentinel/internal/cache/rediskv"
	"github.com/sp3esu/sentinel/internal/config"
	"github.com/sp3esu/sentinel/internal/governance"
	"github.com/sp3esu/sentinel/internal/health"
	"github.com/sp3esu/sentinel/internal/httpapi"
	"github.com/sp3esu/sentinel/internal/pipeline"
	"github.com/sp3esu/sentinel/internal/provider"
	"github.com/sp3esu/sentinel/internal/router"
	"github.com/sp3esu/sentinel/internal/session"
	"github.com/sp3esu/sentinel/internal/subscription"
	"github.com/sp3esu/sentinel/internal/telemetry"
	"github.com/sp3esu/sentinel/internal/tierconfig"
	"github.com/sp3esu/sentinel/internal/usage"
)

// State is the fully wired application: every long-lived component
// Sentinel's HTTP handlers and background workers depend on. There is
// exactly one instance per process, constructed in cmd/sentinel/main.go.
type State struct {
	Config *config.Config
	Log    *slog.Logger

	KV         cache.KV
	Governance *governance.Client
	Limits     *subscription.Store
	TierConfig *tierconfig.Store
	Health     *health.Tracker
	Router     *router.Router
	Sessions   *session.Manager
	Providers  *provider.Manager
	Usage      *usage.Tracker
	Metrics    *telemetry.Metrics
	Pipeline   *pipeline.Pipeline
	HTTP       *httpapi.Server
}

// New builds a State from cfg: it constructs the cache backend, the
// governance client, every cache-backed store, the provider manager, the
// batching usage tracker, and finally the request pipeline and HTTP
// server that sit on top of them.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*State, error) {
	kv, err := newCache(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("building cache backend: %w", err)
	}

	gov := governance.New(cfg.Governance.BaseURL, cfg.Governance.APIKey, cfg.Governance.Timeout)

	limits := subscription.New(gov, kv, cfg.Cache.TTL.Limits)
	tierCfg := tierconfig.New(gov, kv, cfg.Cache.TTL.TierConfig)
	if _, err := tierCfg.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("fetching initial tier config: %w", err)
	}

	healthTracker := health.New()
	rt := router.New(tierCfg, healthTracker)
	sessions := session.New(kv, cfg.Cache.TTL.Session)
	auth := pipeline.NewAuthenticator(gov, kv, cfg.Cache.TTL.JWT)

	metrics := telemetry.NewMetrics(nil)

	providers, err := provider.NewManager(ctx, cfg.Providers, metrics)
	if err != nil {
		return nil, fmt.Errorf("building provider manager: %w", err)
	}

	usageTracker := usage.New(ctx, gov, kv, cfg.Usage, prometheus.DefaultRegisterer, log)

	pipe := pipeline.New(auth, sessions, rt, providers, usageTracker, metrics, limits)

	passThru := httpapi.NewPassThroughProxy(cfg.Providers.OpenAI.BaseURL, cfg.Providers.OpenAI.APIKey)
	httpServer := httpapi.New(pipe, providers, passThru, log, cfg.Debug.Enabled)

	return &State{
		Config:     cfg,
		Log:        log,
		KV:         kv,
		Governance: gov,
		Limits:     limits,
		TierConfig: tierCfg,
		Health:     healthTracker,
		Router:     rt,
		Sessions:   sessions,
		Providers:  providers,
		Usage:      usageTracker,
		Metrics:    metrics,
		Pipeline:   pipe,
		HTTP:       httpServer,
	}, nil
}

func newCache(cfg config.CacheConfig) (cache.KV, error) {
	switch cfg.Backend {
	case "redis":
		kv := rediskv.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		return kv, nil
	case "memory", "":
		return memory.New(cfg.Memory.MaxEntries, cfg.TTL.Session)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
