package embedding

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/provider"
)

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Config holds embedding provider configuration.
type Config struct {
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New builds the embedding client for resolved embedding parameters.
func New(ctx context.Context, params provider.ModelParams, logger *zap.Logger) (Provider, error) {
	cfg := Config{Endpoint: params.BaseURL, Model: params.Model, APIKey: params.APIKey}
	if d, ok := params.Int("dimensions"); ok {
		cfg.Dimension = d
	}
	logger.Debug("embedding provider",
		zap.String("kind", string(params.Kind)), zap.String("model", params.Model))
	switch params.Kind {
	case provider.KindGemini:
		return NewGeminiProvider(ctx, cfg)
	case provider.KindOllama:
		// The native Ollama API lives beside the OpenAI-compatible /v1 prefix.
		cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/v1")
		return NewLocalProvider(cfg), nil
	case provider.KindAnthropic:
		return nil, fmt.Errorf("embedding: anthropic does not serve embeddings, set an embedding model")
	default:
		return NewAPIProvider(cfg), nil
	}
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is
// empty or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
