package provider

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface on the Gemini API.
type GeminiProvider struct {
	id     string
	name   string
	params ModelParams
	client *genai.Client
	logger *zap.Logger
}

// geminiParams are the extra model parameters sent with every request.
var geminiParams = []string{"temperature", "max_tokens", "top_p", "top_k", "stop", "presence_penalty", "frequency_penalty", "seed"}

// NewGeminiProvider creates a Gemini provider. BaseURL overrides the API host.
func NewGeminiProvider(ctx context.Context, id, name string, params ModelParams, logger *zap.Logger) (*GeminiProvider, error) {
	warnUnsupported(logger, id, params, geminiParams)
	cc := &genai.ClientConfig{
		APIKey:  params.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if params.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: params.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{id: id, name: name, params: params, client: client, logger: logger}, nil
}

func (p *GeminiProvider) ID() string   { return p.id }
func (p *GeminiProvider) Name() string { return p.name }

// Chat sends a GenerateContent request.
func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.params.Model
	}

	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(req, p.params)),
	}
	if t := temperature(req, p.params); t > 0 {
		cfg.Temperature = genai.Ptr(float32(t))
	}
	if v, ok := p.params.Float("top_p"); ok {
		cfg.TopP = genai.Ptr(float32(v))
	}
	if v, ok := p.params.Float("top_k"); ok {
		cfg.TopK = genai.Ptr(float32(v))
	}
	if v, ok := p.params.Strings("stop"); ok {
		cfg.StopSequences = v
	}
	if v, ok := p.params.Float("presence_penalty"); ok {
		cfg.PresencePenalty = genai.Ptr(float32(v))
	}
	if v, ok := p.params.Float("frequency_penalty"); ok {
		cfg.FrequencyPenalty = genai.Ptr(float32(v))
	}
	if v, ok := p.params.Int("seed"); ok {
		cfg.Seed = genai.Ptr(int32(v))
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	var system []string
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini chat: %w", err)
	}

	out := &ChatResponse{Model: model, Content: resp.Text()}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}
