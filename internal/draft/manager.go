package draft

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns draft lifecycle: creation, confirmation, rejection, and
// TTL expiry. Mutating access is serialized per session so unrelated
// sessions never contend on one lock.
type Manager struct {
	store Store
	exec  ExecuteFunc
	ttl   time.Duration
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	logger *zap.Logger
}

// NewManager creates a draft manager over the given store.
func NewManager(store Store, ttl time.Duration, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		store:  store,
		ttl:    ttl,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
		logger: logger,
	}
}

// SetExecutor wires the function that performs a confirmed draft's side
// effect. Must be called before ResolvePositive.
func (m *Manager) SetExecutor(fn ExecuteFunc) { m.exec = fn }

// SetClock overrides the time source. Used in tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) sessionLock(sessionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[sessionID] = l
	}
	return l
}

// CreateParams describes a new draft.
type CreateParams struct {
	SessionID  string
	UserID     string
	Agent      string
	Type       string
	Parameters map[string]string
	Preview    string
	Risk       string
}

// Create persists a new pending draft and returns it.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Draft, error) {
	lock := m.sessionLock(p.SessionID)
	lock.Lock()
	defer lock.Unlock()

	now := m.now()
	d := &Draft{
		ID:         uuid.New().String(),
		SessionID:  p.SessionID,
		UserID:     p.UserID,
		Agent:      p.Agent,
		Type:       p.Type,
		Parameters: p.Parameters,
		Preview:    p.Preview,
		Risk:       p.Risk,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.store.Save(ctx, d); err != nil {
		return nil, fmt.Errorf("save draft: %w", err)
	}
	m.logger.Info("created draft",
		zap.String("id", d.ID),
		zap.String("session", d.SessionID),
		zap.String("type", d.Type))
	return d, nil
}

// ResolvePositive executes the most recently created pending draft for
// the session. The draft is removed before execution, so it can never
// run twice; a failed execution restores it, under the same session
// lock, so the user can confirm again. Returns the executed draft and
// the execution summary.
func (m *Manager) ResolvePositive(ctx context.Context, sessionID string) (*Draft, string, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	d, err := m.latestPending(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if err := m.store.Delete(ctx, d.ID); err != nil {
		return nil, "", fmt.Errorf("remove draft: %w", err)
	}
	if m.exec == nil {
		return nil, "", fmt.Errorf("draft manager has no executor")
	}

	summary, err := m.exec(ctx, d)
	if err != nil {
		if saveErr := m.store.Save(ctx, d); saveErr != nil {
			m.logger.Error("failed draft could not be restored",
				zap.String("id", d.ID), zap.Error(saveErr))
		}
		m.logger.Error("draft execution failed",
			zap.String("id", d.ID), zap.Error(err))
		return d, "", fmt.Errorf("execute draft %s: %w", d.Type, err)
	}
	m.logger.Info("executed draft", zap.String("id", d.ID), zap.String("type", d.Type))
	return d, summary, nil
}

// ResolveNegative removes the most recently created pending draft for
// the session without executing it.
func (m *Manager) ResolveNegative(ctx context.Context, sessionID string) (*Draft, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	d, err := m.latestPending(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := m.store.Delete(ctx, d.ID); err != nil {
		return nil, fmt.Errorf("remove draft: %w", err)
	}
	m.logger.Info("rejected draft", zap.String("id", d.ID), zap.String("type", d.Type))
	return d, nil
}

// Pending lists the session's unexpired drafts, newest first.
func (m *Manager) Pending(ctx context.Context, sessionID string) ([]*Draft, error) {
	return m.store.Pending(ctx, sessionID, m.now())
}

// latestPending returns the newest unexpired draft. Caller holds the
// session lock.
func (m *Manager) latestPending(ctx context.Context, sessionID string) (*Draft, error) {
	drafts, err := m.store.Pending(ctx, sessionID, m.now())
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	if len(drafts) == 0 {
		return nil, ErrNoPendingDraft
	}
	return drafts[0], nil
}

// Sweep drops all expired drafts. Expired drafts are silently removed,
// never executed.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("sweep drafts: %w", err)
	}
	if n > 0 {
		m.logger.Info("swept expired drafts", zap.Int("count", n))
	}
	return n, nil
}

// StartSweeper runs Sweep on an interval until the context is cancelled.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Sweep(ctx); err != nil {
					m.logger.Warn("draft sweep failed", zap.Error(err))
				}
			}
		}
	}()
}
