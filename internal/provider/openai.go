package provider

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIProvider serves OpenAI and every OpenAI-compatible endpoint
// (Ollama, LiteLLM proxy, vLLM and the like).
type OpenAIProvider struct {
	id     string
	name   string
	params ModelParams
	client *openai.Client
	logger *zap.Logger
}

// openAIParams are the extra model parameters sent with every request.
var openAIParams = []string{"temperature", "max_tokens", "top_p", "stop", "presence_penalty", "frequency_penalty", "seed"}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(id, name string, params ModelParams, logger *zap.Logger) *OpenAIProvider {
	warnUnsupported(logger, id, params, openAIParams)
	cfg := openai.DefaultConfig(params.APIKey)
	if params.BaseURL != "" {
		cfg.BaseURL = params.BaseURL
	}
	return &OpenAIProvider{
		id:     id,
		name:   name,
		params: params,
		client: openai.NewClientWithConfig(cfg),
		logger: logger,
	}
}

func (p *OpenAIProvider) ID() string   { return p.id }
func (p *OpenAIProvider) Name() string { return p.name }

// Chat sends a non-streaming chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.params.Model
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	oreq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: float32(temperature(req, p.params)),
		MaxTokens:   maxTokens(req, p.params),
	}
	if v, ok := p.params.Float("top_p"); ok {
		oreq.TopP = float32(v)
	}
	if v, ok := p.params.Strings("stop"); ok {
		oreq.Stop = v
	}
	if v, ok := p.params.Float("presence_penalty"); ok {
		oreq.PresencePenalty = float32(v)
	}
	if v, ok := p.params.Float("frequency_penalty"); ok {
		oreq.FrequencyPenalty = float32(v)
	}
	if v, ok := p.params.Int("seed"); ok {
		oreq.Seed = &v
	}
	if req.JSON {
		oreq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, oreq)
	if err != nil {
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from provider")
	}
	p.logger.Debug("chat completion",
		zap.String("provider", p.id),
		zap.String("model", resp.Model),
		zap.Duration("took", time.Since(start)))

	choice := resp.Choices[0]
	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func temperature(req *ChatRequest, params ModelParams) float64 {
	if req.Temperature > 0 {
		return req.Temperature
	}
	if t, ok := params.Float("temperature"); ok {
		return t
	}
	return 0
}

func maxTokens(req *ChatRequest, params ModelParams) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if n, ok := params.Int("max_tokens"); ok && n > 0 {
		return n
	}
	return defaultMaxTokens
}

func warnUnsupported(logger *zap.Logger, id string, params ModelParams, known []string) {
	if extra := params.Unsupported(known); len(extra) > 0 {
		logger.Warn("ignoring model parameters the client cannot send",
			zap.String("provider", id), zap.Strings("params", extra))
	}
}
