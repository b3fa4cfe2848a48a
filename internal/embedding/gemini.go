package embedding

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider implements Provider on the Gemini embeddings API.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dimension int

	once    sync.Once
	dimOnce int
}

// NewGeminiProvider creates a Gemini embedding client.
func NewGeminiProvider(ctx context.Context, cfg Config) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("embedding: create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: cfg.Model, dimension: cfg.Dimension}, nil
}

// Embed returns one vector per text.
func (p *GeminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	if len(out[0]) > 0 {
		p.once.Do(func() { p.dimOnce = len(out[0]) })
	}
	return out, nil
}

// Dimension returns the cached or configured vector size.
func (p *GeminiProvider) Dimension() int {
	if p.dimOnce > 0 {
		return p.dimOnce
	}
	return p.dimension
}
