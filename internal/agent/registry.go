package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Registry is the process-wide catalog of sub-agents. Registration order
// is deterministic and doubles as the tie-break order for planning.
type Registry struct {
	order  []string
	agents map[string]SubAgent
	index  *CapabilityIndex
	mu     sync.RWMutex
	logger *zap.Logger
}

// NewRegistry creates an empty agent registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		agents: make(map[string]SubAgent),
		logger: logger,
	}
}

// SetIndex attaches a capability index used for semantic matching.
func (r *Registry) SetIndex(idx *CapabilityIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index = idx
}

// Register adds an agent to the catalog. Re-registering a name replaces
// the instance but keeps its original position.
func (r *Registry) Register(a SubAgent) {
	d := a.Describe()
	r.mu.Lock()
	if _, exists := r.agents[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.agents[d.Name] = a
	idx := r.index
	r.mu.Unlock()

	r.logger.Info("registered agent",
		zap.String("name", d.Name),
		zap.Bool("enabled", d.Enabled))

	if idx != nil {
		if err := idx.IndexAgent(context.Background(), d); err != nil {
			r.logger.Warn("capability indexing failed",
				zap.String("agent", d.Name), zap.Error(err))
		}
	}
}

// Get returns an agent by name.
func (r *Registry) Get(name string) (SubAgent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return a, nil
}

// ListEnabled returns descriptors of all enabled agents in registration order.
func (r *Registry) ListEnabled() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		d := r.agents[name].Describe()
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Enabled reports whether the named agent exists and is enabled.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return ok && a.Describe().Enabled
}

// Manifest renders the capability catalog for the planner prompt.
func (r *Registry) Manifest() string {
	var b strings.Builder
	for _, d := range r.ListEnabled() {
		fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		for _, op := range d.Operations {
			confirm := ""
			if op.RequiresConfirmation {
				confirm = " (requires user confirmation)"
			}
			fmt.Fprintf(&b, "    - operation %q: %s%s\n", op.Name, op.Description, confirm)
			for _, ex := range op.Examples {
				fmt.Fprintf(&b, "        e.g. %q\n", ex)
			}
		}
	}
	return b.String()
}

// FindBestAgentForDescription matches free text against the catalog.
// It prefers the semantic index when one is attached; otherwise it falls
// back to keyword overlap. Registration order breaks score ties.
func (r *Registry) FindBestAgentForDescription(ctx context.Context, text string) (Descriptor, bool) {
	r.mu.RLock()
	idx := r.index
	r.mu.RUnlock()

	if idx != nil {
		if name, score, err := idx.Match(ctx, text); err == nil && score >= idx.MinScore() {
			if r.Enabled(name) {
				a, _ := r.Get(name)
				return a.Describe(), true
			}
		} else if err != nil {
			r.logger.Warn("semantic match failed, using keyword overlap", zap.Error(err))
		}
	}

	var best Descriptor
	bestScore := 0
	for _, d := range r.ListEnabled() {
		if score := Overlap(d, text); score > bestScore {
			best = d
			bestScore = score
		}
	}
	return best, bestScore > 0
}

// Overlap scores the lexical overlap between an agent's declared
// capability keywords and a step description.
func Overlap(d Descriptor, text string) int {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		words[strings.Trim(w, ".,!?:;\"'")] = true
	}
	score := 0
	for _, cap := range d.Capabilities {
		if words[strings.ToLower(cap)] {
			score++
		}
	}
	if words[strings.ToLower(d.Name)] {
		score++
	}
	return score
}
