package domain

import "context"

// Provider is the uniform interface every upstream model provider client
// implements. The pipeline depends only on this interface, never on a
// concrete provider package, so adding a new upstream means adding a new
// implementation, not touching call sites.
type Provider interface {
	Name() string

	Chat(ctx context.Context, model string, req ChatRequest) (ChatResponse, error)
	ChatStream(ctx context.Context, model string, req ChatRequest) (<-chan StreamEvent, error)

	ListModels(ctx context.Context) ([]ModelInfo, error)
}
