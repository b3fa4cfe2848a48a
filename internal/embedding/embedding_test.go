package embedding

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/resumemind/internal/provider"
)

func TestAPIProviderEmbed(t *testing.T) {
	// APIProvider posts to endpoint+"/embeddings", so we use a mux.
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Input) != 2 {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose.
		io.WriteString(w, `{"object":"list","model":"test-model","data":[
			{"object":"embedding","index":1,"embedding":[0.4,0.5,0.6]},
			{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}
		]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewAPIProvider(Config{
		Endpoint: srv.URL + "/v1",
		Model:    "test-model",
	})

	vectors, err := p.Embed(context.Background(), []string{"hello", "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vectors))
	}
	if vectors[0][0] != 0.1 || vectors[1][0] != 0.4 {
		t.Errorf("vectors not in input order: %v", vectors)
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestAPIProviderEmbed_Empty(t *testing.T) {
	p := NewAPIProvider(Config{
		Endpoint:  "http://unused",
		Model:     "test-model",
		Dimension: 128,
	})

	vectors, err := p.Embed(context.Background(), []string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vectors != nil {
		t.Errorf("expected nil for empty input, got %v", vectors)
	}
}

func TestAPIProviderDimension_Fallback(t *testing.T) {
	p := NewAPIProvider(Config{
		Endpoint:  "http://unused",
		Model:     "test-model",
		Dimension: 256,
	})

	// Before any Embed call, Dimension should return the configured default.
	if d := p.Dimension(); d != 256 {
		t.Errorf("got dimension %d, want configured default 256", d)
	}
}

func TestLocalProviderEmbed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		out := embedResponse{}
		for range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{1, 0})
		}
		json.NewEncoder(w).Encode(out)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "nomic-embed-text"})
	vectors, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vectors))
	}
	if p.Dimension() != 2 {
		t.Errorf("got dimension %d, want 2", p.Dimension())
	}
}

func TestLocalProviderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewLocalProvider(Config{Endpoint: srv.URL, Model: "missing"})
	if _, err := p.Embed(context.Background(), []string{"a"}); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestGeminiProviderEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"embeddings":[{"values":[0.5,0.5]},{"values":[0.1,0.9]}]}`)
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(context.Background(), Config{Endpoint: srv.URL, Model: "text-embedding-004", APIKey: "k"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	vectors, err := p.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 || vectors[1][1] != 0.9 {
		t.Errorf("unexpected vectors %v", vectors)
	}
}

func TestNewPicksProvider(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, provider.ModelParams{Kind: provider.KindOllama, Model: "nomic-embed-text", BaseURL: "http://localhost:11434/v1"}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	local, ok := p.(*LocalProvider)
	if !ok {
		t.Fatalf("got %T, want *LocalProvider", p)
	}
	if local.endpoint != "http://localhost:11434" {
		t.Errorf("got endpoint %q", local.endpoint)
	}

	p, err = New(ctx, provider.ModelParams{Kind: provider.KindOpenAI, Model: "text-embedding-3-small", APIKey: "k"}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*APIProvider); !ok {
		t.Errorf("got %T, want *APIProvider", p)
	}

	if _, err := New(ctx, provider.ModelParams{Kind: provider.KindAnthropic, Model: "claude-3"}, zap.NewNop()); err == nil {
		t.Error("expected error for anthropic embeddings")
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical vectors: got %v", got)
	}
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: got %v", got)
	}
	if got := Cosine([]float32{1}, []float32{1, 2}); got != 0 {
		t.Errorf("length mismatch: got %v", got)
	}
	if got := Cosine(nil, nil); got != 0 {
		t.Errorf("empty: got %v", got)
	}
}
