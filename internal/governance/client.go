// Package governance is Sentinel's client for the governance service: the
// system of record for identity, usage quotas and tier configuration.
package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/domain"
)

// Client talks to the governance HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// New constructs a governance Client.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

func (c *Client) apiKeyHeaders(req *http.Request) {
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
}

// GetLimits fetches a user's quota state by external id.
func (c *Client) GetLimits(ctx context.Context, externalID string) ([]domain.UserLimit, error) {
	url := fmt.Sprintf("%s/api/v1/limits/external/%s", c.baseURL, externalID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Internal("building limits request", err)
	}
	c.apiKeyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperr.UpstreamError("governance limits request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.NotFound(fmt.Sprintf("user not found: %s", externalID))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("governance limits request failed", "status", resp.StatusCode, "body", string(body))
		return nil, apperr.UpstreamError(fmt.Sprintf("governance API error %d", resp.StatusCode), nil)
	}

	var result struct {
		Data struct {
			Limits []domain.UserLimit `json:"limits"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperr.UpstreamError("failed to parse governance limits response", err)
	}
	return result.Data.Limits, nil
}

// IncrementUsage reports a single usage increment. Zero-valued token/request
// fields are omitted from the request body, matching governance's
// auto-detect-limit behavior.
func (c *Client) IncrementUsage(ctx context.Context, email string, inputTokens, outputTokens, requests int64, model string) error {
	url := fmt.Sprintf("%s/api/v1/usage/external/increment", c.baseURL)

	body := incrementUsageRequest{Email: email, Model: nonEmpty(model)}
	if inputTokens > 0 {
		body.AIInputTokens = &inputTokens
	}
	if outputTokens > 0 {
		body.AIOutputTokens = &outputTokens
	}
	if requests > 0 {
		body.AIRequests = &requests
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return apperr.Internal("encoding increment request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return apperr.Internal("building increment request", err)
	}
	c.apiKeyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.UpstreamError("governance increment request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		slog.Error("governance increment request failed", "status", resp.StatusCode, "body", string(respBody))
		return apperr.UpstreamError(fmt.Sprintf("governance API error %d", resp.StatusCode), nil)
	}
	return nil
}

// BatchIncrementItem is one row of a batch increment call.
type BatchIncrementItem struct {
	ExternalID   string `json:"external_id"`
	InputTokens  int64  `json:"input_tokens,omitempty"`
	OutputTokens int64  `json:"output_tokens,omitempty"`
	Requests     int64  `json:"requests,omitempty"`
}

// BatchIncrementResult summarizes a batch increment call. FailedIDs lists
// the external ids governance rejected, when it reports per-item results;
// it is empty on full success or when governance reports only aggregate
// counts without a breakdown.
type BatchIncrementResult struct {
	Processed int                        `json:"processed"`
	Failed    int                        `json:"failed"`
	Results   []BatchIncrementItemResult `json:"results,omitempty"`
}

// BatchIncrementItemResult is governance's per-item verdict for one row of
// a batch increment call.
type BatchIncrementItemResult struct {
	ExternalID string `json:"external_id"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
}

// FailedIDs returns the set of external ids governance marked unsuccessful.
func (r BatchIncrementResult) FailedIDs() map[string]bool {
	ids := make(map[string]bool, len(r.Results))
	for _, item := range r.Results {
		if !item.Success {
			ids[item.ExternalID] = true
		}
	}
	return ids
}

// BatchIncrement reports up to 1000 increments in a single call. An empty
// batch short-circuits without contacting governance at all.
func (c *Client) BatchIncrement(ctx context.Context, items []BatchIncrementItem) (BatchIncrementResult, error) {
	if len(items) == 0 {
		return BatchIncrementResult{}, nil
	}
	if len(items) > 1000 {
		return BatchIncrementResult{}, apperr.BadRequest("batch increment limited to 1000 items")
	}

	url := fmt.Sprintf("%s/api/v1/usage/external/batch-increment", c.baseURL)

	buf, err := json.Marshal(struct {
		Increments []BatchIncrementItem `json:"increments"`
	}{Increments: items})
	if err != nil {
		return BatchIncrementResult{}, apperr.Internal("encoding batch increment request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return BatchIncrementResult{}, apperr.Internal("building batch increment request", err)
	}
	c.apiKeyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return BatchIncrementResult{}, apperr.UpstreamError("governance batch increment request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		slog.Error("governance batch increment failed", "status", resp.StatusCode, "body", string(respBody))
		return BatchIncrementResult{}, apperr.UpstreamError(fmt.Sprintf("governance batch API error %d", resp.StatusCode), nil)
	}

	var result struct {
		Data BatchIncrementResult `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return BatchIncrementResult{}, apperr.UpstreamError("failed to parse governance batch response", err)
	}
	return result.Data, nil
}

// ValidateJWT exchanges a bearer JWT for the user profile behind it.
func (c *Client) ValidateJWT(ctx context.Context, jwt string) (domain.UserProfile, error) {
	url := fmt.Sprintf("%s/api/v1/users/me", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.UserProfile{}, apperr.Internal("building JWT validation request", err)
	}
	req.Header.Set("Authorization", "Bearer "+jwt)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.UserProfile{}, apperr.UpstreamError("governance JWT validation request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return domain.UserProfile{}, apperr.InvalidToken("token rejected by governance")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("governance JWT validation failed", "status", resp.StatusCode, "body", string(body))
		return domain.UserProfile{}, apperr.UpstreamError(fmt.Sprintf("governance API error %d", resp.StatusCode), nil)
	}

	var result struct {
		Data domain.UserProfile `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.UserProfile{}, apperr.UpstreamError("failed to parse governance user profile response", err)
	}
	return result.Data, nil
}

// GetTierConfig fetches the global tier-to-model mapping.
func (c *Client) GetTierConfig(ctx context.Context) (domain.TierConfig, error) {
	url := fmt.Sprintf("%s/api/v1/tiers/config", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.TierConfig{}, apperr.Internal("building tier config request", err)
	}
	c.apiKeyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TierConfig{}, apperr.UpstreamError("governance tier config request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("governance tier config request failed", "status", resp.StatusCode, "body", string(body))
		return domain.TierConfig{}, apperr.UpstreamError(fmt.Sprintf("governance tier config API error %d", resp.StatusCode), nil)
	}

	var result struct {
		Data domain.TierConfig `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.TierConfig{}, apperr.UpstreamError("failed to parse governance tier config response", err)
	}
	return result.Data, nil
}

type incrementUsageRequest struct {
	Email          string  `json:"email"`
	AIInputTokens  *int64  `json:"ai_input_tokens,omitempty"`
	AIOutputTokens *int64  `json:"ai_output_tokens,omitempty"`
	AIRequests     *int64  `json:"ai_requests,omitempty"`
	Model          *string `json:"model,omitempty"`
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
