// Package embedding turns text into vectors for semantic matching.
package embedding

import (
	"context"
	"sync"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension reports the vector width. Before the first successful
	// Embed call this is the configured value.
	Dimension() int
}

// Config selects and configures an embedding backend.
type Config struct {
	Provider  string `json:"provider"` // "api" or "local"
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// New returns the provider the config names. Anything other than
// "local" gets the OpenAI-compatible API provider.
func New(cfg Config) Provider {
	if cfg.Provider == "local" {
		return NewLocalProvider(cfg)
	}
	return NewAPIProvider(cfg)
}

// dimCache remembers the vector width observed on the first successful
// embed, falling back to the configured value until then.
type dimCache struct {
	mu         sync.Mutex
	observed   int
	configured int
}

func (d *dimCache) record(vecs [][]float32) {
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return
	}
	d.mu.Lock()
	if d.observed == 0 {
		d.observed = len(vecs[0])
	}
	d.mu.Unlock()
}

func (d *dimCache) value() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.observed > 0 {
		return d.observed
	}
	return d.configured
}
