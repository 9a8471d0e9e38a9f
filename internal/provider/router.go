package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages multiple LLM providers and routes requests by role.
// Roles are logical callers ("planner", "reevaluator", "composer",
// "content") that may be bound to different backends and models.
type Router struct {
	providers map[string]Provider
	bindings  map[string]Binding  // role -> binding
	fallbacks map[string][]string // role -> fallback provider chain
	defaults  string              // default provider ID
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Binding ties a role to a provider and model.
type Binding struct {
	ProviderID string
	Model      string
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]Binding),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// Register adds a provider to the router. The first registered provider
// becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind associates a role with a provider and model.
func (r *Router) Bind(role, providerID, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[role] = Binding{ProviderID: providerID, Model: model}
}

// SetFallbacks configures fallback providers for a role.
func (r *Router) SetFallbacks(role string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[role] = providerIDs
}

// Route sends a chat request through the provider bound to the role,
// falling through the role's fallback chain on error.
func (r *Router) Route(ctx context.Context, role string, req *ChatRequest) (*ChatResponse, error) {
	r.mu.RLock()
	primary, model := r.resolve(role)
	fallbackIDs := r.fallbacks[role]
	r.mu.RUnlock()

	if primary == nil {
		return nil, fmt.Errorf("no provider available for role %s", role)
	}
	if req.Model == "" {
		req.Model = model
	}

	resp, err := primary.Chat(ctx, req)
	if err == nil {
		return resp, nil
	}
	r.logger.Warn("primary provider failed, trying fallbacks",
		zap.String("role", role), zap.Error(err))

	for _, fbID := range fallbackIDs {
		r.mu.RLock()
		fb, ok := r.providers[fbID]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		resp, err = fb.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		r.logger.Warn("fallback provider failed", zap.String("provider", fbID), zap.Error(err))
	}

	return nil, fmt.Errorf("all providers failed for role %s: %w", role, err)
}

// resolve returns the provider and model for a role. Caller holds the lock.
func (r *Router) resolve(role string) (Provider, string) {
	if b, ok := r.bindings[role]; ok {
		if p, ok := r.providers[b.ProviderID]; ok {
			return p, b.Model
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p, ""
	}
	return nil, ""
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}
