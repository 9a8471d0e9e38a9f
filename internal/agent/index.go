package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/nidhogg/majordomo/internal/embedding"
	"github.com/nidhogg/majordomo/internal/vectorstore"
)

// defaultMinScore is the cosine similarity floor below which a semantic
// match is ignored in favor of keyword overlap.
const defaultMinScore = 0.35

// CapabilityIndex stores agent capability embeddings in Qdrant so the
// registry can match free-text step descriptions semantically.
type CapabilityIndex struct {
	embed      embedding.Provider
	store      *vectorstore.Client
	collection string
	minScore   float32
}

// NewCapabilityIndex creates the index and ensures its collection exists.
func NewCapabilityIndex(ctx context.Context, embed embedding.Provider, store *vectorstore.Client, collection string) (*CapabilityIndex, error) {
	if collection == "" {
		collection = "agent_capabilities"
	}
	if err := store.EnsureCollection(ctx, collection, uint64(embed.Dimension())); err != nil {
		return nil, fmt.Errorf("ensure capability collection: %w", err)
	}
	return &CapabilityIndex{
		embed:      embed,
		store:      store,
		collection: collection,
		minScore:   defaultMinScore,
	}, nil
}

// MinScore returns the similarity threshold for accepting a match.
func (ci *CapabilityIndex) MinScore() float32 { return ci.minScore }

// IndexAgent upserts one agent's capability text. Point IDs are derived
// from the agent name, so re-registration overwrites the old vector.
func (ci *CapabilityIndex) IndexAgent(ctx context.Context, d Descriptor) error {
	text := capabilityText(d)
	vecs, err := ci.embed.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed capabilities for %s: %w", d.Name, err)
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.Name)).String()
	return ci.store.Upsert(ctx, ci.collection, id, vecs[0], map[string]string{
		"agent": d.Name,
	})
}

// Match returns the best-matching agent name and its similarity score.
func (ci *CapabilityIndex) Match(ctx context.Context, text string) (string, float32, error) {
	vecs, err := ci.embed.Embed(ctx, []string{text})
	if err != nil {
		return "", 0, fmt.Errorf("embed query: %w", err)
	}
	hits, err := ci.store.Search(ctx, ci.collection, vecs[0], 1)
	if err != nil {
		return "", 0, err
	}
	if len(hits) == 0 {
		return "", 0, nil
	}
	return hits[0].Payload["agent"], hits[0].Score, nil
}

func capabilityText(d Descriptor) string {
	parts := []string{d.Name, d.Description, strings.Join(d.Capabilities, " ")}
	for _, op := range d.Operations {
		parts = append(parts, op.Name, op.Description)
		parts = append(parts, op.Examples...)
	}
	return strings.Join(parts, "\n")
}
