// Package pipeline orchestrates one request end to end: authenticate,
// select a model, call the provider with a single retry on failure,
// and dispatch accounting — the sequence every HTTP handler in
// internal/httpapi drives.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/router"
	"github.com/sp3esu/sentinel/internal/session"
	"github.com/sp3esu/sentinel/internal/subscription"
	"github.com/sp3esu/sentinel/internal/telemetry"
	"github.com/sp3esu/sentinel/internal/tokenest"
	"github.com/sp3esu/sentinel/internal/usage"
)

// ProviderSource resolves a provider name to a client; implemented by
// *provider.Manager.
type ProviderSource interface {
	Get(name string) (domain.Provider, error)
}

// LimitsSource resolves a caller's current quota snapshot; implemented by
// *subscription.Store. A nil LimitsSource disables the pre-flight quota
// check entirely (requests are then metered only by governance's own
// async accounting).
type LimitsSource interface {
	GetLimits(ctx context.Context, externalID string) ([]domain.UserLimit, error)
}

// Pipeline wires the components that sit between an authenticated request
// and a provider response.
type Pipeline struct {
	Auth      *Authenticator
	sessions  *session.Manager
	router    *router.Router
	providers ProviderSource
	usage     *usage.Tracker
	metrics   *telemetry.Metrics
	limits    LimitsSource
}

// New constructs a Pipeline. limits may be nil, in which case the
// pre-flight quota check is skipped and quota enforcement is left
// entirely to governance's own (async) accounting path.
func New(auth *Authenticator, sessions *session.Manager, rt *router.Router, providers ProviderSource, usageTracker *usage.Tracker, metrics *telemetry.Metrics, limits LimitsSource) *Pipeline {
	return &Pipeline{
		Auth:      auth,
		sessions:  sessions,
		router:    rt,
		providers: providers,
		usage:     usageTracker,
		metrics:   metrics,
		limits:    limits,
	}
}

// checkQuota enforces the "requests" unit limit before a call is
// dispatched. A cache/governance read failure degrades to fail-open
// (serve the request) rather than blocking the hot path on an
// unrelated outage, matching how cache read-path errors are handled
// elsewhere in the pipeline.
func (p *Pipeline) checkQuota(ctx context.Context, externalID string) error {
	if p.limits == nil {
		return nil
	}

	limits, err := p.limits.GetLimits(ctx, externalID)
	if err != nil {
		return nil
	}

	if ok, limit := subscription.HasQuota(limits, "requests"); !ok {
		return subscription.QuotaError(*limit)
	}
	return nil
}

// Selection is what the pipeline resolved a request to: the concrete
// (provider, model) pair it called, and the tier that was actually
// served (which may differ from the requested one via session stickiness).
type Selection struct {
	router.Selected
}

// ChatResult bundles a provider response with the selection that produced
// it, so callers can set X-Sentinel-Model/-Tier response headers.
type ChatResult struct {
	Response  domain.ChatResponse
	Selection Selection
}

// Chat resolves a model, calls the provider with the single-retry
// envelope, and dispatches accounting. externalID is the authenticated
// caller's governance external id, used both for session stickiness and
// for usage attribution.
func (p *Pipeline) Chat(ctx context.Context, req domain.ChatRequest, externalID string) (ChatResult, error) {
	if err := p.checkQuota(ctx, externalID); err != nil {
		return ChatResult{}, err
	}

	sel, err := p.resolveSelection(ctx, req.ConversationID, req.Tier, externalID)
	if err != nil {
		return ChatResult{}, err
	}

	var recorder *telemetry.RequestRecorder
	if p.metrics != nil {
		recorder = p.metrics.NewRequestRecorder(sel.Model, sel.Provider)
	}

	resp, err := p.callWithRetry(ctx, sel, req)
	if err != nil {
		if recorder != nil {
			recorder.RecordError("provider_error")
		}
		p.usage.TrackRequestOnly(externalID)
		return ChatResult{}, err
	}

	if recorder != nil && resp.Usage != nil {
		recorder.RecordSuccess(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	}
	for _, tc := range resp.ToolCalls {
		if p.metrics != nil {
			p.metrics.RecordToolCall(tc.Function.Name, resp.Model)
		}
	}

	p.dispatchUsage(externalID, req, resp)
	return ChatResult{Response: resp, Selection: Selection{sel}}, nil
}

// ChatStream resolves a model and opens a streaming provider call. Once
// the stream has started there is no retry (bytes may already have
// reached the caller) — on a mid-stream failure the caller sees a
// FinishEvent{Reason: FinishReasonError} from the events channel.
func (p *Pipeline) ChatStream(ctx context.Context, req domain.ChatRequest, externalID string) (<-chan domain.StreamEvent, Selection, error) {
	if err := p.checkQuota(ctx, externalID); err != nil {
		return nil, Selection{}, err
	}

	sel, err := p.resolveSelection(ctx, req.ConversationID, req.Tier, externalID)
	if err != nil {
		return nil, Selection{}, err
	}

	client, err := p.providers.Get(sel.Provider)
	if err != nil {
		return nil, Selection{}, err
	}

	upstream, err := client.ChatStream(ctx, sel.Model, req)
	if err != nil {
		p.router.RecordFailure(sel.Provider, sel.Model)
		p.usage.TrackRequestOnly(externalID)
		return nil, Selection{}, err
	}
	p.router.RecordSuccess(sel.Provider, sel.Model)

	out := make(chan domain.StreamEvent, 8)
	go p.relayStream(ctx, upstream, out, externalID, sel.Model)

	return out, Selection{sel}, nil
}

// relayStream forwards upstream events verbatim, tracking usage once from
// the terminal (last) UsageEvent if the provider sent one. If the provider never
// reports usage, it accumulates the streamed text and estimates
// output_tokens from it once the stream closes (§4.4 step 2); input_tokens
// is reported as 0, since only the Responses endpoint pre-counts input and
// this path serves chat completions.
func (p *Pipeline) relayStream(ctx context.Context, upstream <-chan domain.StreamEvent, out chan<- domain.StreamEvent, externalID, model string) {
	defer close(out)

	var last *domain.UsageEvent
	var content strings.Builder
	for ev := range upstream {
		switch e := ev.(type) {
		case domain.UsageEvent:
			last = &e
		case domain.TextChunk:
			content.WriteString(e.Content)
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			if last != nil {
				p.usage.Track(externalID, last.PromptTokens, last.CompletionTokens)
			}
			return
		}
	}

	if last != nil {
		p.usage.Track(externalID, last.PromptTokens, last.CompletionTokens)
	} else {
		outputTokens, err := tokenest.CountText(model, content.String())
		if err != nil {
			slog.Warn("token estimation failed for stream with no reported usage", "model", model, "error", err)
			p.usage.TrackRequestOnly(externalID)
			return
		}
		p.usage.Track(externalID, 0, int64(outputTokens))
	}
}

// PassThrough dispatches the fixed request-only accounting increment for
// endpoints that skip tier selection (audio/images/moderation/etc.).
func (p *Pipeline) PassThrough(externalID string) {
	p.usage.TrackRequestOnly(externalID)
}

// resolveSelection implements the session-aware model selection contract:
// no conversation id is stateless; an existing session is reused or
// upgraded; a missing session is created from a fresh selection.
func (p *Pipeline) resolveSelection(ctx context.Context, conversationID string, requestedTier domain.Tier, externalID string) (router.Selected, error) {
	if conversationID == "" {
		return p.router.SelectModel(ctx, requestedTier, "")
	}

	sess, ok, err := p.sessions.Get(ctx, conversationID)
	if err != nil {
		return router.Selected{}, apperr.Internal("reading session", err)
	}

	if !ok {
		sel, err := p.router.SelectModel(ctx, requestedTier, "")
		if err != nil {
			return router.Selected{}, err
		}
		if _, err := p.sessions.Create(ctx, conversationID, sel.Provider, sel.Model, requestedTier, externalID); err != nil {
			return router.Selected{}, apperr.Internal("creating session", err)
		}
		return sel, nil
	}

	go func() {
		if err := p.sessions.Touch(context.WithoutCancel(ctx), conversationID); err != nil {
			slog.Warn("session touch failed", "conversation_id", conversationID, "error", err)
		}
	}()

	if requestedTier > sess.Tier {
		sel, err := p.router.SelectModel(ctx, requestedTier, sess.Provider)
		if err != nil {
			return router.Selected{}, err
		}
		sess.Provider, sess.Model, sess.Tier = sel.Provider, sel.Model, requestedTier
		if err := p.sessions.Update(ctx, sess); err != nil {
			return router.Selected{}, apperr.Internal("upgrading session tier", err)
		}
		return sel, nil
	}

	return router.Selected{Provider: sess.Provider, Model: sess.Model, Tier: sess.Tier}, nil
}

// callWithRetry runs the non-streaming single-retry envelope: one retry
// against a fresh (different) model selection, with the same request body,
// on primary failure.
func (p *Pipeline) callWithRetry(ctx context.Context, sel router.Selected, req domain.ChatRequest) (domain.ChatResponse, error) {
	client, err := p.providers.Get(sel.Provider)
	if err != nil {
		return domain.ChatResponse{}, err
	}

	resp, err := client.Chat(ctx, sel.Model, req)
	if err == nil {
		p.router.RecordSuccess(sel.Provider, sel.Model)
		return withProviderMeta(resp, sel), nil
	}
	p.router.RecordFailure(sel.Provider, sel.Model)

	alt, ok, rerr := p.router.GetRetryModel(ctx, sel.Tier, sel.Model)
	if rerr != nil {
		return domain.ChatResponse{}, rerr
	}
	if !ok {
		return domain.ChatResponse{}, apperr.UpstreamError(
			"request failed and no alternative model is available for tier "+sel.Tier.String(), err)
	}

	altClient, err := p.providers.Get(alt.Provider)
	if err != nil {
		return domain.ChatResponse{}, err
	}

	resp, err = altClient.Chat(ctx, alt.Model, req)
	if err != nil {
		p.router.RecordFailure(alt.Provider, alt.Model)
		return domain.ChatResponse{}, apperr.UpstreamError("all models failed: "+err.Error(), err)
	}
	p.router.RecordSuccess(alt.Provider, alt.Model)
	return withProviderMeta(resp, alt), nil
}

func withProviderMeta(resp domain.ChatResponse, sel router.Selected) domain.ChatResponse {
	resp.Provider = sel.Provider
	if resp.Model == "" {
		resp.Model = sel.Model
	}
	return resp
}

// dispatchUsage extracts (input, output) tokens from the response if the
// provider reported usage, estimating both sides with tokenest otherwise
// (input from the request's messages, output from the response content),
// and reports one request either way.
func (p *Pipeline) dispatchUsage(externalID string, req domain.ChatRequest, resp domain.ChatResponse) {
	if resp.Usage != nil {
		p.usage.Track(externalID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		return
	}

	model := resp.Model
	inputTokens, err := tokenest.CountMessages(model, req.Messages)
	if err != nil {
		slog.Warn("input token estimation failed", "model", model, "error", err)
		inputTokens = 0
	}
	outputTokens, err := tokenest.CountText(model, resp.Content)
	if err != nil {
		slog.Warn("output token estimation failed", "model", model, "error", err)
		outputTokens = 0
	}
	p.usage.Track(externalID, int64(inputTokens), int64(outputTokens))
}
