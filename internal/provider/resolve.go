package provider

import (
	"os"
	"sort"
	"strings"
)

// Kind identifies which client adapter serves a model.
type Kind string

const (
	KindOpenAI     Kind = "openai"
	KindAnthropic  Kind = "anthropic"
	KindGemini     Kind = "gemini"
	KindOllama     Kind = "ollama"
	KindCompatible Kind = "openai_compatible"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434/v1"

	fallbackOpenAIEmbedding = "text-embedding-3-small"
	fallbackGeminiEmbedding = "gemini/text-embedding-004"
	fallbackOllamaEmbedding = "ollama/nomic-embed-text"
)

// ModelParams is a ProviderConfig resolved into what a client library needs:
// the adapter kind, the bare model name, credentials and extra parameters.
type ModelParams struct {
	Kind    Kind
	Model   string
	APIKey  string
	BaseURL string
	Params  map[string]any
}

// Float returns a numeric extra parameter.
func (p ModelParams) Float(key string) (float64, bool) {
	switch v := p.Params[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Int returns an integer extra parameter.
func (p ModelParams) Int(key string) (int, bool) {
	f, ok := p.Float(key)
	return int(f), ok
}

// Strings returns a string or list extra parameter, such as "stop".
func (p ModelParams) Strings(key string) ([]string, bool) {
	switch v := p.Params[key].(type) {
	case string:
		return []string{v}, v != ""
	case []string:
		return v, len(v) > 0
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, len(out) > 0
	}
	return nil, false
}

// Unsupported lists the extra parameters not in known, sorted.
func (p ModelParams) Unsupported(known []string) []string {
	var out []string
	for k := range p.Params {
		if !containsString(known, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// DetectKind maps a model identifier to an adapter kind and strips any
// routing prefix ("ollama/llama3.2" -> KindOllama, "llama3.2").
func DetectKind(model, baseURL string) (Kind, string) {
	prefix, rest, hasPrefix := strings.Cut(model, "/")
	if hasPrefix {
		switch strings.ToLower(prefix) {
		case "ollama", "ollama_chat":
			return KindOllama, rest
		case "gemini", "google":
			return KindGemini, rest
		case "anthropic":
			return KindAnthropic, rest
		case "openai":
			if baseURL != "" {
				return KindCompatible, rest
			}
			return KindOpenAI, rest
		}
	}

	lower := strings.ToLower(model)
	switch {
	case baseURL != "" && !strings.HasPrefix(lower, "claude") && !strings.HasPrefix(lower, "gemini"):
		return KindCompatible, model
	case strings.HasPrefix(lower, "claude"):
		return KindAnthropic, model
	case strings.HasPrefix(lower, "gemini") || strings.HasPrefix(lower, "text-embedding-004"):
		return KindGemini, model
	case strings.HasPrefix(lower, "gpt"), strings.HasPrefix(lower, "o1"), strings.HasPrefix(lower, "o3"),
		strings.HasPrefix(lower, "o4"), strings.HasPrefix(lower, "text-embedding"):
		return KindOpenAI, model
	}
	// Anything else goes through an OpenAI-compatible client, e.g. a LiteLLM proxy.
	return KindCompatible, model
}

// Resolve produces the chat model parameters for a config.
func Resolve(cfg *ProviderConfig) ModelParams {
	kind, model := DetectKind(cfg.Model, cfg.BaseURL)
	p := ModelParams{
		Kind:    kind,
		Model:   model,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Params:  cloneParams(cfg.Params),
	}
	applyDefaults(&p)
	return p
}

// ResolveEmbedding produces the embedding model parameters. A missing
// embedding model is chosen from the chat model's family, and missing
// credentials fall back to the chat credentials.
func ResolveEmbedding(cfg *ProviderConfig) ModelParams {
	model := cfg.EmbeddingModel
	if model == "" {
		model = FallbackEmbeddingModel(cfg.Model)
	}
	baseURL := cfg.EmbeddingBaseURLOrDefault()
	kind, bare := DetectKind(model, baseURL)
	p := ModelParams{
		Kind:    kind,
		Model:   bare,
		APIKey:  cfg.EmbeddingAPIKeyOrDefault(),
		BaseURL: baseURL,
		Params:  cloneParams(cfg.EmbeddingParams),
	}
	applyDefaults(&p)
	return p
}

// FallbackEmbeddingModel picks an embedding model for a chat model family.
func FallbackEmbeddingModel(chatModel string) string {
	lower := strings.ToLower(chatModel)
	switch {
	case strings.Contains(lower, "ollama"):
		return fallbackOllamaEmbedding
	case strings.Contains(lower, "gemini"):
		return fallbackGeminiEmbedding
	default:
		// OpenAI, Claude and everything else.
		return fallbackOpenAIEmbedding
	}
}

func applyDefaults(p *ModelParams) {
	if p.Kind == KindOllama && p.BaseURL == "" {
		p.BaseURL = defaultOllamaBaseURL
	}
	if p.APIKey == "" {
		p.APIKey = envKey(p.Kind)
	}
}

// envKey reads the vendor variable the official SDKs use.
func envKey(kind Kind) string {
	var names []string
	switch kind {
	case KindOpenAI, KindCompatible:
		names = []string{"OPENAI_API_KEY"}
	case KindAnthropic:
		names = []string{"ANTHROPIC_API_KEY"}
	case KindGemini:
		names = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}
	}
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
