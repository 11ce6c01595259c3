package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/modelsuggest"
	"github.com/sp3esu/sentinel/internal/pipeline"
	"github.com/sp3esu/sentinel/internal/provider"
	"github.com/sp3esu/sentinel/internal/telemetry"
	"github.com/sp3esu/sentinel/internal/validate"
)

// maxBodyBytes bounds a request body read before it ever reaches
// json.Unmarshal. It is a fixed limit: the server's configured
// MaxRequestSize is not applied to request bodies anywhere.
const maxBodyBytes = 10 * 1024 * 1024

// Server is Sentinel's HTTP API: route table, auth middleware, and the
// OpenAI-compatible request/response translation at the edge.
type Server struct {
	mux       *http.ServeMux
	pipeline  *pipeline.Pipeline
	providers *provider.Manager
	passThru  *passThroughProxy
	log       *slog.Logger
	debug     bool
}

// New constructs a Server with its route table wired up. passThru may be
// nil, in which case the pass-through endpoints (completions, embeddings,
// responses) answer ServiceUnavailable.
func New(p *pipeline.Pipeline, providers *provider.Manager, passThru *passThroughProxy, log *slog.Logger, debugEnabled bool) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		pipeline:  p,
		providers: providers,
		passThru:  passThru,
		log:       log,
		debug:     debugEnabled,
	}
	s.setupRoutes()
	return s
}

// Handler returns the server's http.Handler, ready to pass to http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the HTTP server on addr until ctx is cancelled, at which
// point it gives in-flight requests a bounded window to drain before
// returning. Blocks until the listener closes.
func (s *Server) Start(ctx context.Context, addr string, readTimeout, writeTimeout time.Duration) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("error during HTTP server shutdown", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/chat/completions", s.withAuth(s.handleChatCompletions))
	s.mux.HandleFunc("POST /native/v1/chat/completions", s.withAuth(s.handleChatCompletions))

	s.mux.HandleFunc("POST /v1/completions", s.withAuth(s.handlePassThrough))
	s.mux.HandleFunc("POST /v1/embeddings", s.withAuth(s.handlePassThrough))
	s.mux.HandleFunc("POST /v1/responses", s.withAuth(s.handlePassThrough))

	s.mux.HandleFunc("GET /v1/models", s.withAuth(s.handleListModels))
	s.mux.HandleFunc("GET /v1/models/{model}", s.withAuth(s.handleGetModel))

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /health/ready", s.handleReady)
	s.mux.HandleFunc("GET /health/live", s.handleHealth)
	s.mux.Handle("GET /metrics", telemetry.Handler())

	s.mux.HandleFunc("GET /debug/routes", s.withDebug(s.handleDebugRoutes))
}

// profileContextKey is the context key the auth middleware stores the
// authenticated UserProfile under.
type profileContextKey struct{}

// withAuth authenticates the request via the bearer token, stores the
// resulting profile in the request context, and invokes handler. Auth
// failures are written directly and never reach handler.
func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		profile, err := s.pipeline.Auth.Authenticate(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), profileContextKey{}, profile)
		handler(w, r.WithContext(ctx))
	}
}

func profileFromContext(ctx context.Context) domain.UserProfile {
	profile, _ := ctx.Value(profileContextKey{}).(domain.UserProfile)
	return profile
}

// withDebug gates a handler behind the debug flag, returning 404 (not
// 403 — presence of the endpoint isn't disclosed) when disabled.
func (s *Server) withDebug(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.debug {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeAppError(w, apperr.InvalidJSON("reading request body: "+err.Error()))
		return
	}

	if err := validate.ChatRequest(body); err != nil {
		s.writeAppError(w, err)
		return
	}

	var req domain.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeAppError(w, apperr.InvalidJSON("decoding chat request: "+err.Error()))
		return
	}
	req.RequestID = uuid.New().String()

	profile := profileFromContext(r.Context())

	if req.Stream {
		s.handleChatStream(w, r, req, profile.ExternalID)
		return
	}

	result, err := s.pipeline.Chat(r.Context(), req, profile.ExternalID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	w.Header().Set("X-Sentinel-Model", result.Selection.Model)
	w.Header().Set("X-Sentinel-Tier", result.Selection.Tier.String())

	s.writeJSON(w, http.StatusOK, toChatCompletionResponse(req.RequestID, time.Now().Unix(), result.Response))
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request, req domain.ChatRequest, externalID string) {
	events, sel, err := s.pipeline.ChatStream(r.Context(), req, externalID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeAppError(w, apperr.Internal("streaming not supported by response writer", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Sentinel-Model", sel.Model)
	w.Header().Set("X-Sentinel-Tier", sel.Tier.String())
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	id := "chatcmpl-" + req.RequestID
	created := time.Now().Unix()

	writeChunk(w, flusher, ChatCompletionChunk{
		ID: id, Object: "chat.completion.chunk", Created: created, Model: sel.Model,
		Choices: []ChunkChoice{{Index: 0, Delta: Delta{Role: stringPtr("assistant")}}},
	})

	chunkCount := 0
	for ev := range events {
		chunkCount++
		if chunkCount%50 == 0 {
			_ = rc.SetWriteDeadline(time.Now().Add(5 * time.Minute))
		}

		switch e := ev.(type) {
		case domain.TextChunk:
			writeChunk(w, flusher, ChatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: sel.Model,
				Choices: []ChunkChoice{{Index: 0, Delta: Delta{Content: stringPtr(e.Content)}}},
			})
		case domain.ToolCallDelta:
			writeChunk(w, flusher, ChatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: sel.Model,
				Choices: []ChunkChoice{{Index: 0, Delta: Delta{ToolCalls: []ToolCall{{
					ID: e.ID, Type: "function",
					Function: FunctionCall{Name: e.Name, Arguments: e.Delta},
				}}}}},
			})
		case domain.FinishEvent:
			reason := string(e.Reason)
			if reason == "" {
				reason = "stop"
			}
			writeChunk(w, flusher, ChatCompletionChunk{
				ID: id, Object: "chat.completion.chunk", Created: created, Model: sel.Model,
				Choices: []ChunkChoice{{Index: 0, Delta: Delta{}, FinishReason: &reason}},
			})
		case domain.UsageEvent:
			// Usage is accounted inside the pipeline's relay goroutine, not
			// rendered as a visible chunk.
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeChunk(w http.ResponseWriter, flusher http.Flusher, chunk ChatCompletionChunk) {
	data, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

func toChatCompletionResponse(id string, created int64, resp domain.ChatResponse) ChatCompletionResponse {
	toolCalls := make([]ToolCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		args, _ := json.Marshal(tc.Function.Arguments)
		toolCalls = append(toolCalls, ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: string(args),
			},
		})
	}

	var usage *Usage
	if resp.Usage != nil {
		usage = &Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}

	return ChatCompletionResponse{
		ID:      "chatcmpl-" + id,
		Object:  "chat.completion",
		Created: created,
		Model:   resp.Model,
		Choices: []Choice{{
			Index: 0,
			Message: ChoiceMessage{
				Role:      "assistant",
				Content:   resp.Content,
				ToolCalls: toolCalls,
			},
			FinishReason: string(resp.FinishReason),
		}},
		Usage: usage,
	}
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.providers.ListAllModels(r.Context())
	if err != nil {
		s.writeAppError(w, apperr.Internal("listing models", err))
		return
	}

	data := make([]ModelData, 0, len(models))
	for _, m := range models {
		data = append(data, ModelData{ID: m.ID, Object: "model", OwnedBy: m.Provider})
	}
	s.writeJSON(w, http.StatusOK, ModelsResponse{Object: "list", Data: data})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("model")

	models, err := s.providers.ListAllModels(r.Context())
	if err != nil {
		s.writeAppError(w, apperr.Internal("listing models", err))
		return
	}

	for _, m := range models {
		if m.ID == modelID {
			s.writeJSON(w, http.StatusOK, ModelData{ID: m.ID, Object: "model", OwnedBy: m.Provider})
			return
		}
	}

	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.ID)
	}
	msg := fmt.Sprintf("model %s not found", modelID)
	if suggestion, ok := modelSuggestion(modelID, names); ok {
		msg += fmt.Sprintf("; did you mean %s?", suggestion)
	}
	s.writeAppError(w, apperr.NotFound(msg))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleDebugRoutes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"providers": s.providers.Names()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("failed to encode response", "error", err)
	}
}

// writeAppError renders err as the JSON error envelope, deriving the HTTP
// status and wire code from its apperr.Kind. Errors that aren't an
// *apperr.Error (a programming mistake, not a classified failure) are
// treated as internal.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Internal("unclassified error", err)
	}

	if appErr.Kind == apperr.KindServiceUnavail && appErr.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(appErr.RetryAfterSeconds))
	}

	s.writeJSON(w, appErr.StatusCode(), ErrorResponse{
		Error: ErrorDetail{
			Code:    appErr.Code(),
			Message: appErr.Message,
			Details: appErr.Details,
		},
	})
}

func modelSuggestion(modelID string, candidates []string) (string, bool) {
	return modelsuggest.Nearest(modelID, candidates)
}
