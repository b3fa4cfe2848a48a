package embedding

import (
	"context"
	"fmt"
	"sort"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// APIProvider implements Provider using an OpenAI-compatible embeddings API.
type APIProvider struct {
	client    *openai.Client
	model     string
	dimension int

	once    sync.Once
	dimOnce int
}

// NewAPIProvider creates a new APIProvider from the given Config.
func NewAPIProvider(cfg Config) *APIProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		oc.BaseURL = cfg.Endpoint
	}
	return &APIProvider{
		client:    openai.NewClientWithConfig(oc),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

// Embed sends texts to the OpenAI-compatible endpoint and returns embeddings
// in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dimension > 0 {
		req.Dimensions = p.dimension
	}
	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	embeddings := make([][]float32, len(data))
	for i, d := range data {
		embeddings[i] = d.Embedding
	}

	// Cache dimension from first successful result.
	if len(embeddings[0]) > 0 {
		p.once.Do(func() {
			p.dimOnce = len(embeddings[0])
		})
	}
	return embeddings, nil
}

// Dimension returns the embedding vector dimension.
// It returns the cached dimension from the first result, or the configured default.
func (p *APIProvider) Dimension() int {
	if p.dimOnce > 0 {
		return p.dimOnce
	}
	return p.dimension
}
