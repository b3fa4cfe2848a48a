package provider

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ProviderConfig describes one LLM/embedding endpoint. It is replaced as a
// whole on update; there are no partial patches.
type ProviderConfig struct {
	ID      int64  `json:"id" db:"id"`
	Name    string `json:"name" db:"name"`
	Model   string `json:"model" db:"model"`
	APIKey  string `json:"api_key,omitempty" db:"api_key"`
	BaseURL string `json:"base_url,omitempty" db:"base_url"`

	EmbeddingModel   string `json:"embedding_model,omitempty" db:"embedding_model"`
	EmbeddingAPIKey  string `json:"embedding_api_key,omitempty" db:"embedding_api_key"`
	EmbeddingBaseURL string `json:"embedding_base_url,omitempty" db:"embedding_base_url"`

	Params          map[string]any `json:"params,omitempty" db:"-"`
	EmbeddingParams map[string]any `json:"embedding_params,omitempty" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ErrInvalidConfig is the root of every validation failure.
var ErrInvalidConfig = errors.New("invalid provider config")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

var modelIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@/+\-]*$`)

// ValidateName checks a display name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	return nil
}

// ValidateModel checks that a model identifier is non-empty and well formed,
// e.g. "gpt-4o", "claude-3-5-sonnet-20241022" or "ollama/llama3.2".
func ValidateModel(model string) error {
	if model == "" {
		return &ValidationError{Field: "model", Reason: "must not be empty"}
	}
	if !modelIDRe.MatchString(model) || strings.Contains(model, "//") || strings.HasSuffix(model, "/") {
		return &ValidationError{Field: "model", Reason: fmt.Sprintf("malformed model identifier %q", model)}
	}
	return nil
}

// ValidateBaseURL accepts an empty value or an absolute http(s) URL.
func ValidateBaseURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("not an http(s) URL: %q", raw)}
	}
	return nil
}

// Validate checks every user-supplied field. Name uniqueness is enforced by the store.
func (c *ProviderConfig) Validate() error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	if err := ValidateModel(c.Model); err != nil {
		return err
	}
	if c.EmbeddingModel != "" {
		if err := ValidateModel(c.EmbeddingModel); err != nil {
			return &ValidationError{Field: "embedding_model", Reason: err.(*ValidationError).Reason}
		}
	}
	if err := ValidateBaseURL("base_url", c.BaseURL); err != nil {
		return err
	}
	return ValidateBaseURL("embedding_base_url", c.EmbeddingBaseURL)
}

// Normalize trims whitespace from text fields in place.
func (c *ProviderConfig) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Model = strings.TrimSpace(c.Model)
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.EmbeddingModel = strings.TrimSpace(c.EmbeddingModel)
	c.EmbeddingAPIKey = strings.TrimSpace(c.EmbeddingAPIKey)
	c.EmbeddingBaseURL = strings.TrimRight(strings.TrimSpace(c.EmbeddingBaseURL), "/")
}

// EmbeddingAPIKeyOrDefault returns the embedding key, falling back to the
// main API key. The fallback is resolved on every read and never stored.
func (c *ProviderConfig) EmbeddingAPIKeyOrDefault() string {
	if c.EmbeddingAPIKey != "" {
		return c.EmbeddingAPIKey
	}
	return c.APIKey
}

// EmbeddingBaseURLOrDefault returns the embedding base URL, falling back to BaseURL.
func (c *ProviderConfig) EmbeddingBaseURLOrDefault() string {
	if c.EmbeddingBaseURL != "" {
		return c.EmbeddingBaseURL
	}
	return c.BaseURL
}

// Clone returns a deep copy so callers never share maps with the store.
func (c *ProviderConfig) Clone() *ProviderConfig {
	if c == nil {
		return nil
	}
	out := *c
	out.Params = cloneParams(c.Params)
	out.EmbeddingParams = cloneParams(c.EmbeddingParams)
	return &out
}

func cloneParams(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MaskKey renders a secret for display.
func MaskKey(key string) string {
	switch {
	case key == "":
		return "(not set)"
	case len(key) <= 8:
		return "****"
	default:
		return key[:4] + "..." + key[len(key)-4:]
	}
}
