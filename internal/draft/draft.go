package draft

import (
	"context"
	"errors"
	"time"
)

// ErrNoPendingDraft is returned when a confirmation reply arrives with
// nothing to confirm.
var ErrNoPendingDraft = errors.New("no pending draft")

// DefaultTTL is how long a draft stays confirmable.
const DefaultTTL = 15 * time.Minute

// Draft is a proposed, not-yet-executed side-effecting action awaiting
// user confirmation.
type Draft struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	UserID     string            `json:"user_id"`
	Agent      string            `json:"agent"`
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters"`
	Preview    string            `json:"preview"`
	Risk       string            `json:"risk"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
}

// Expired reports whether the draft is past its TTL at the given time.
func (d *Draft) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// Store persists pending drafts. Implementations must order Pending
// results newest-first and must never return expired drafts.
type Store interface {
	Save(ctx context.Context, d *Draft) error
	Pending(ctx context.Context, sessionID string, now time.Time) ([]*Draft, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ExecuteFunc performs a confirmed draft's side effect and returns a
// natural-language summary of what happened.
type ExecuteFunc func(ctx context.Context, d *Draft) (string, error)
