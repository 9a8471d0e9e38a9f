package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Turn is one prior exchange in a conversation, oldest first.
type Turn struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSource loads recent turns for a session.
type ConversationSource interface {
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]Turn, error)
}

// defaultHistoryLimit caps how many prior turns feed the planner prompt.
const defaultHistoryLimit = 12

// Gatherer assembles the conversational context that grounds planning.
// History loading is best effort: a storage failure degrades to an empty
// history rather than failing the request.
type Gatherer struct {
	source ConversationSource
	limit  int
	logger *zap.Logger
}

// NewGatherer creates a context gatherer over the given source. A nil
// source is allowed and yields empty history.
func NewGatherer(source ConversationSource, logger *zap.Logger) *Gatherer {
	return &Gatherer{source: source, limit: defaultHistoryLimit, logger: logger}
}

// SetHistoryLimit overrides how many prior turns are loaded. Values at
// or below zero keep the default.
func (g *Gatherer) SetHistoryLimit(n int) {
	if n > 0 {
		g.limit = n
	}
}

// Snapshot renders the session history as prompt text.
func (g *Gatherer) Snapshot(ctx context.Context, sessionID string) string {
	if g.source == nil {
		return ""
	}
	turns, err := g.source.RecentTurns(ctx, sessionID, g.limit)
	if err != nil {
		g.logger.Warn("history load failed, planning without it",
			zap.String("session", sessionID), zap.Error(err))
		return ""
	}
	if len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}
