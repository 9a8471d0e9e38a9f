package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestManager(t *testing.T) (*Manager, *[]string) {
	t.Helper()
	m := NewManager(NewMemoryStore(), time.Hour, zap.NewNop())
	executed := &[]string{}
	m.SetExecutor(func(_ context.Context, d *Draft) (string, error) {
		*executed = append(*executed, d.ID)
		return "done: " + d.Type, nil
	})
	return m, executed
}

func TestResolvePositivePicksMostRecent(t *testing.T) {
	m, executed := newTestManager(t)
	ctx := context.Background()

	base := time.Now()
	m.SetClock(func() time.Time { return base })
	first, err := m.Create(ctx, CreateParams{SessionID: "s1", Type: "send_email"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	m.SetClock(func() time.Time { return base.Add(time.Second) })
	second, err := m.Create(ctx, CreateParams{SessionID: "s1", Type: "create_event"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	d, summary, err := m.ResolvePositive(ctx, "s1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if d.ID != second.ID {
		t.Errorf("resolved %s, want most recent %s", d.ID, second.ID)
	}
	if summary != "done: create_event" {
		t.Errorf("summary = %q", summary)
	}
	if len(*executed) != 1 || (*executed)[0] != second.ID {
		t.Errorf("executed = %v", *executed)
	}

	// Older draft remains queryable but was not auto-selected.
	pending, _ := m.Pending(ctx, "s1")
	if len(pending) != 1 || pending[0].ID != first.ID {
		t.Errorf("pending after resolve = %v", pending)
	}
}

func TestSecondPositiveAfterDrainFails(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, CreateParams{SessionID: "s1", Type: "send_email"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := m.ResolvePositive(ctx, "s1"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	_, _, err := m.ResolvePositive(ctx, "s1")
	if !errors.Is(err, ErrNoPendingDraft) {
		t.Errorf("got %v, want ErrNoPendingDraft", err)
	}
}

// A transient execution failure must not eat the draft: the user's next
// "yes" should retry it, and a success still drains it.
func TestFailedExecutionKeepsDraftRetryable(t *testing.T) {
	m := NewManager(NewMemoryStore(), time.Hour, zap.NewNop())
	ctx := context.Background()

	attempts := 0
	m.SetExecutor(func(_ context.Context, d *Draft) (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("upstream timeout")
		}
		return "done: " + d.Type, nil
	})

	created, err := m.Create(ctx, CreateParams{SessionID: "s1", Type: "send_email"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, _, err := m.ResolvePositive(ctx, "s1"); err == nil {
		t.Fatal("first resolve should surface the execution failure")
	}
	pending, _ := m.Pending(ctx, "s1")
	if len(pending) != 1 || pending[0].ID != created.ID {
		t.Fatalf("draft not restored after failure, pending = %v", pending)
	}

	d, summary, err := m.ResolvePositive(ctx, "s1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if d.ID != created.ID || summary != "done: send_email" {
		t.Errorf("retry resolved %s (%q)", d.ID, summary)
	}
	if attempts != 2 {
		t.Errorf("executor ran %d times, want 2", attempts)
	}
	if _, _, err := m.ResolvePositive(ctx, "s1"); !errors.Is(err, ErrNoPendingDraft) {
		t.Errorf("got %v, want ErrNoPendingDraft after success", err)
	}
}

func TestResolveNegativeRemovesWithoutExecuting(t *testing.T) {
	m, executed := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, CreateParams{SessionID: "s1", Type: "send_email"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.ResolveNegative(ctx, "s1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if len(*executed) != 0 {
		t.Error("rejected draft must not execute")
	}
	if _, err := m.ResolveNegative(ctx, "s1"); !errors.Is(err, ErrNoPendingDraft) {
		t.Errorf("got %v, want ErrNoPendingDraft", err)
	}
}

func TestExpiredDraftNeverResolves(t *testing.T) {
	m, executed := newTestManager(t)
	ctx := context.Background()

	base := time.Now()
	m.SetClock(func() time.Time { return base })
	if _, err := m.Create(ctx, CreateParams{SessionID: "s1", Type: "send_email"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Jump past the TTL.
	m.SetClock(func() time.Time { return base.Add(2 * time.Hour) })

	if _, _, err := m.ResolvePositive(ctx, "s1"); !errors.Is(err, ErrNoPendingDraft) {
		t.Errorf("expired draft resolved: %v", err)
	}
	if len(*executed) != 0 {
		t.Error("expired draft must never execute")
	}

	// Sweeping repeatedly is idempotent.
	n1, _ := m.Sweep(ctx)
	n2, _ := m.Sweep(ctx)
	if n1 != 1 || n2 != 0 {
		t.Errorf("sweep counts = %d, %d; want 1, 0", n1, n2)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, CreateParams{SessionID: "s1", Type: "send_email"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := m.ResolvePositive(ctx, "s2"); !errors.Is(err, ErrNoPendingDraft) {
		t.Errorf("session s2 saw s1's draft: %v", err)
	}
}
