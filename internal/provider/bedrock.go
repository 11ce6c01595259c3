package provider

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/domain"
)

// BedrockClient talks to AWS Bedrock through the Converse/ConverseStream
// API, which gives a single request/response shape across Anthropic,
// Llama, Mistral and Nova models on Bedrock instead of each model
// family's native wire format.
type BedrockClient struct {
	runtime *bedrockruntime.Client
	region  string
}

// NewBedrockClient constructs a BedrockClient for region. When
// accessKeyID/secretAccessKey are both set they take precedence;
// otherwise profile (if set) or the default AWS credential chain
// (environment, shared config, IAM role) is used.
func NewBedrockClient(ctx context.Context, region, accessKeyID, secretAccessKey, profile string) (*BedrockClient, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	switch {
	case accessKeyID != "" && secretAccessKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	case profile != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperr.Internal("loading AWS config for bedrock", err)
	}
	return &BedrockClient{
		runtime: bedrockruntime.NewFromConfig(cfg),
		region:  region,
	}, nil
}

func (c *BedrockClient) Name() string { return "bedrock" }

func toConverseMessages(messages []domain.Message) ([]types.Message, string) {
	var system string
	out := make([]types.Message, 0, len(messages))

	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			for _, blk := range m.Content {
				system += blk.Text
			}
			continue
		}

		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}

		var blocks []types.ContentBlock
		for _, blk := range m.Content {
			switch blk.Type {
			case "tool_result":
				if blk.ToolResult != nil {
					var text string
					for _, rb := range blk.ToolResult.Result {
						text += rb.Text
					}
					blocks = append(blocks, &types.ContentBlockMemberToolResult{
						Value: types.ToolResultBlock{
							ToolUseId: aws.String(blk.ToolResult.ToolCallID),
							Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: text}},
							Status:    toolResultStatus(blk.ToolResult.IsError),
						},
					})
				}
			default:
				if blk.Text != "" {
					blocks = append(blocks, &types.ContentBlockMemberText{Value: blk.Text})
				}
			}
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Function.Name),
					Input:     document.NewLazyDocument(tc.Function.Arguments),
				},
			})
		}

		out = append(out, types.Message{Role: role, Content: blocks})
	}
	return out, system
}

func toolResultStatus(isError bool) types.ToolResultStatus {
	if isError {
		return types.ToolResultStatusError
	}
	return types.ToolResultStatusSuccess
}

func buildInferenceConfig(req domain.ChatRequest) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{}
	if req.MaxTokens != nil {
		cfg.MaxTokens = req.MaxTokens
	} else {
		cfg.MaxTokens = aws.Int32(4096)
	}
	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
	}
	if req.TopP != nil {
		cfg.TopP = req.TopP
	}
	if len(req.Stop) > 0 {
		cfg.StopSequences = req.Stop
	}
	return cfg
}

func buildToolConfig(tools []domain.Tool) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	specs := make([]types.Tool, len(tools))
	for i, t := range tools {
		specs[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpec{
				Name:        aws.String(t.Function.Name),
				Description: aws.String(t.Function.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(t.Function.Parameters)},
			},
		}
	}
	return &types.ToolConfiguration{Tools: specs}
}

// Chat performs a non-streaming Converse call.
func (c *BedrockClient) Chat(ctx context.Context, model string, req domain.ChatRequest) (domain.ChatResponse, error) {
	messages, system := toConverseMessages(req.Messages)

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(model),
		Messages:        messages,
		InferenceConfig: buildInferenceConfig(req),
		ToolConfig:      buildToolConfig(req.Tools),
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	resp, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return domain.ChatResponse{}, apperr.UpstreamError(fmt.Sprintf("bedrock converse failed for model %s", model), err)
	}

	out := domain.ChatResponse{Model: model, Provider: c.Name(), FinishReason: mapBedrockStopReason(resp.StopReason)}
	if resp.Usage != nil {
		out.Usage = &domain.UsageEvent{
			PromptTokens:     int64(aws.ToInt32(resp.Usage.InputTokens)),
			CompletionTokens: int64(aws.ToInt32(resp.Usage.OutputTokens)),
			TotalTokens:      int64(aws.ToInt32(resp.Usage.TotalTokens)),
		}
	}

	if msgOutput, ok := resp.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, blk := range msgOutput.Value.Content {
			switch v := blk.(type) {
			case *types.ContentBlockMemberText:
				out.Content += v.Value
			case *types.ContentBlockMemberToolUse:
				var args map[string]any
				_ = v.Value.Input.UnmarshalSmithyDocument(&args)
				out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
					ID:   aws.ToString(v.Value.ToolUseId),
					Type: "function",
					Function: domain.FunctionCall{
						Name:      aws.ToString(v.Value.Name),
						Arguments: args,
					},
				})
			}
		}
	}

	return out, nil
}

// ChatStream performs a streaming ConverseStream call.
func (c *BedrockClient) ChatStream(ctx context.Context, model string, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	messages, system := toConverseMessages(req.Messages)

	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(model),
		Messages:        messages,
		InferenceConfig: buildInferenceConfig(req),
		ToolConfig:      buildToolConfig(req.Tools),
	}
	if system != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
	}

	resp, err := c.runtime.ConverseStream(ctx, input)
	if err != nil {
		return nil, apperr.UpstreamError(fmt.Sprintf("bedrock converse_stream failed for model %s", model), err)
	}

	events := make(chan domain.StreamEvent, 64)
	go func() {
		defer close(events)
		defer resp.GetStream().Close()

		var toolCallIndex int
		for streamEvent := range resp.GetStream().Events() {
			switch v := streamEvent.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if tu, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					events <- domain.ToolCallDelta{
						Index: int(aws.ToInt32(v.Value.ContentBlockIndex)),
						ID:    aws.ToString(tu.Value.ToolUseId),
						Name:  aws.ToString(tu.Value.Name),
					}
					toolCallIndex = int(aws.ToInt32(v.Value.ContentBlockIndex))
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch d := v.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					events <- domain.TextChunk{Content: d.Value}
				case *types.ContentBlockDeltaMemberToolUse:
					events <- domain.ToolCallDelta{
						Index: toolCallIndex,
						Delta: aws.ToString(d.Value.Input),
					}
				}

			case *types.ConverseStreamOutputMemberMessageStop:
				events <- domain.FinishEvent{Reason: mapBedrockStopReason(v.Value.StopReason)}

			case *types.ConverseStreamOutputMemberMetadata:
				if v.Value.Usage != nil {
					events <- domain.UsageEvent{
						PromptTokens:     int64(aws.ToInt32(v.Value.Usage.InputTokens)),
						CompletionTokens: int64(aws.ToInt32(v.Value.Usage.OutputTokens)),
						TotalTokens:      int64(aws.ToInt32(v.Value.Usage.TotalTokens)),
					}
				}
			}
		}
		if err := resp.GetStream().Err(); err != nil {
			events <- domain.FinishEvent{Reason: domain.FinishReasonError}
		}
	}()

	return events, nil
}

// ListModels is not implemented: Bedrock's ListFoundationModels lives on
// the separate bedrock (not bedrockruntime) control-plane client, and
// Sentinel's tier configuration already pins exact Bedrock model ids.
func (c *BedrockClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	return nil, apperr.New(apperr.KindBadRequest, "bedrock does not support model listing; configure model ids via tier config")
}

func mapBedrockStopReason(reason types.StopReason) domain.FinishReason {
	switch reason {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return domain.FinishReasonStop
	case types.StopReasonToolUse:
		return domain.FinishReasonToolCalls
	case types.StopReasonMaxTokens:
		return domain.FinishReasonLength
	default:
		return domain.FinishReasonStop
	}
}
