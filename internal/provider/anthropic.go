package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// AnthropicProvider implements the Provider interface for Claude models.
type AnthropicProvider struct {
	id     string
	name   string
	params ModelParams
	client anthropic.Client
	logger *zap.Logger
}

// anthropicParams are the extra model parameters sent with every request.
var anthropicParams = []string{"temperature", "max_tokens", "top_p", "top_k", "stop"}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(id, name string, params ModelParams, logger *zap.Logger) *AnthropicProvider {
	warnUnsupported(logger, id, params, anthropicParams)
	opts := []option.RequestOption{option.WithAPIKey(params.APIKey)}
	if params.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(params.BaseURL))
	}
	return &AnthropicProvider{
		id:     id,
		name:   name,
		params: params,
		client: anthropic.NewClient(opts...),
		logger: logger,
	}
}

func (p *AnthropicProvider) ID() string   { return p.id }
func (p *AnthropicProvider) Name() string { return p.name }

// Chat sends a non-streaming request to the Messages API.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	resp, err := p.client.Messages.New(ctx, p.convertRequest(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return &ChatResponse{
		ID:           resp.ID,
		Model:        string(resp.Model),
		Content:      b.String(),
		FinishReason: string(resp.StopReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func (p *AnthropicProvider) convertRequest(req *ChatRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.params.Model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens(req, p.params)),
	}
	if t := temperature(req, p.params); t > 0 {
		params.Temperature = anthropic.Float(t)
	}
	if v, ok := p.params.Float("top_p"); ok {
		params.TopP = anthropic.Float(v)
	}
	if v, ok := p.params.Int("top_k"); ok {
		params.TopK = anthropic.Int(int64(v))
	}
	if v, ok := p.params.Strings("stop"); ok {
		params.StopSequences = v
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.JSON {
		system = append(system, "Respond with a single valid JSON object and nothing else.")
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return params
}
