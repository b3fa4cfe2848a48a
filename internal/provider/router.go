package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrNoProvider is returned when neither an active nor a default provider is set.
var ErrNoProvider = errors.New("no provider configured")

// Router holds the chat clients built from stored configs and routes
// requests to the active provider, or to the default one when none is active.
type Router struct {
	providers map[string]Provider
	active    string
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		logger:    logger,
	}
}

// Register adds a provider to the router, replacing any with the same ID.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// Remove forgets a provider and any pointer referencing it.
func (r *Router) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, id)
	if r.active == id {
		r.active = ""
	}
	if r.defaults == id {
		r.defaults = ""
	}
}

// SetActive selects the provider used for new requests.
func (r *Router) SetActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = id
}

// SetDefault sets the fallback provider.
func (r *Router) SetDefault(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = id
}

// Current returns the provider requests are routed to.
func (r *Router) Current() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current()
}

func (r *Router) current() (Provider, error) {
	if p, ok := r.providers[r.active]; ok {
		return p, nil
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p, nil
	}
	return nil, ErrNoProvider
}

// Route sends a chat request through the current provider. Failures are
// returned to the caller, which decides whether to retry.
func (r *Router) Route(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	p, err := r.Current()
	if err != nil {
		return nil, err
	}
	resp, err := p.Chat(ctx, req)
	if err != nil {
		r.logger.Warn("provider call failed", zap.String("provider", p.ID()), zap.Error(err))
		return nil, fmt.Errorf("provider %s: %w", p.Name(), err)
	}
	return resp, nil
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}
