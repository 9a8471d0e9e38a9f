package e2e

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/agent"
	"github.com/nidhogg/majordomo/internal/auth"
	"github.com/nidhogg/majordomo/internal/draft"
	"github.com/nidhogg/majordomo/internal/events"
	"github.com/nidhogg/majordomo/internal/gateway"
	"github.com/nidhogg/majordomo/internal/orchestrator"
	msgrouter "github.com/nidhogg/majordomo/internal/router"
	pgstore "github.com/nidhogg/majordomo/internal/store"
)

func TestMain(m *testing.M) {
	if os.Getenv("MAJORDOMO_E2E") == "" {
		fmt.Println("skipping e2e tests: set MAJORDOMO_E2E=1 (requires Docker)")
		return
	}

	ctx := context.Background()
	testLogger, _ = zap.NewDevelopment()
	os.Setenv("MAJORDOMO_ENCRYPT_KEY", strings.Repeat("ab", 32))

	dsn, pgCleanup, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	redisURL, redisCleanup, err := startRedis(ctx)
	if err != nil {
		pgCleanup()
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	testRedisURL = redisURL

	ps, err := pgstore.New(dsn, testLogger)
	if err == nil {
		err = ps.Migrate(ctx, "../../migrations")
	}
	if err != nil {
		pgCleanup()
		redisCleanup()
		fmt.Fprintf(os.Stderr, "store setup: %v\n", err)
		os.Exit(1)
	}
	testPGStore = ps

	code := m.Run()

	ps.Close()
	redisCleanup()
	pgCleanup()
	os.Exit(code)
}

// stack is the full in-process pipeline over real Postgres and Redis.
type stack struct {
	llm     *scriptLLM
	email   *emailFake
	master  *orchestrator.Master
	drafts  *draft.Manager
	capture *CaptureAdapter
}

// newStack wires a coordinator with scripted planning and fake agents,
// backed by the shared containers.
func newStack(t *testing.T) *stack {
	t.Helper()

	llm := newScriptLLM()
	email := &emailFake{}
	contacts := &contactsFake{book: map[string]string{"Ada Lovelace": "ada@example.com"}}

	registry := agent.NewRegistry(testLogger)
	registry.Register(contacts)
	registry.Register(email)

	drafts := draft.NewManager(testPGStore, 15*time.Minute, testLogger)

	bus, err := events.NewBus(testRedisURL, testLogger)
	if err != nil {
		t.Fatalf("event bus: %v", err)
	}
	t.Cleanup(func() { bus.Close() })

	gatherer := orchestrator.NewGatherer(testPGStore, testLogger)

	master := orchestrator.NewMaster(orchestrator.MasterParams{
		Planner:     orchestrator.NewPlanner(llm, registry, gatherer, testLogger),
		Executor:    orchestrator.NewExecutor(registry, auth.StaticTokens{}, 10*time.Second, testLogger),
		Reevaluator: orchestrator.NewReevaluator(llm, testLogger),
		Composer:    orchestrator.NewComposer(llm, testLogger),
		Drafts:      drafts,
		Events:      bus,
		Runs:        testPGStore,
		MaxSteps:    5,
		Logger:      testLogger,
	})

	gw := gateway.NewGateway(testLogger)
	capture := &CaptureAdapter{}
	mr := msgrouter.New(master, gw, testPGStore, nil, testLogger)
	gw.SetHandler(mr.Handle)
	gw.Register(capture)

	return &stack{llm: llm, email: email, master: master, drafts: drafts, capture: capture}
}

// sendStepJSON is the scripted planner output asking to email Ada by name.
const sendStepJSON = `{"done": false, "agent": "email", "operation": "send_email",
	"parameters": {"to": "Ada Lovelace", "subject": "Launch", "body": "We ship Friday."},
	"description": "Email Ada Lovelace about the launch"}`

func TestEmailConfirmationFlow(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)

	// The planner proposes the send twice: the first is interposed by the
	// contact lookup, the second goes out with the resolved address.
	st.llm.queueJSON("planner", sendStepJSON)
	st.llm.queueJSON("planner", sendStepJSON)
	st.llm.queueJSON("reevaluator", `{"decision": "continue"}`)

	st.capture.Inject(&gateway.InboundMessage{
		ChannelID: "C-flow", UserID: "U-flow", UserName: "flow",
		Content: "Email Ada Lovelace about the launch",
	})

	reply := st.capture.LastReply()
	if !strings.Contains(reply, "Shall I proceed? (yes/no)") {
		t.Fatalf("expected confirmation prompt, got: %s", reply)
	}
	if !strings.Contains(reply, "ada@example.com") {
		t.Errorf("preview should show the resolved address, got: %s", reply)
	}
	if got := st.email.sentTo(); len(got) != 0 {
		t.Fatalf("nothing may be sent before confirmation, got %v", got)
	}

	// The draft is in Postgres, tied to the session the router created.
	sessionID, err := testPGStore.FindOrCreateSession(ctx, "test", "C-flow", "U-flow")
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}
	pending, err := st.drafts.Pending(ctx, sessionID)
	if err != nil {
		t.Fatalf("pending drafts: %v", err)
	}
	if len(pending) != 1 || pending[0].Type != "send_email" {
		t.Fatalf("pending = %+v", pending)
	}

	// "yes" executes the draft exactly once.
	st.capture.Inject(&gateway.InboundMessage{
		ChannelID: "C-flow", UserID: "U-flow", UserName: "flow",
		Content: "yes",
	})
	reply = st.capture.LastReply()
	if !strings.Contains(reply, "Sent the email to ada@example.com") {
		t.Fatalf("expected send summary, got: %s", reply)
	}
	if got := st.email.sentTo(); len(got) != 1 || got[0] != "ada@example.com" {
		t.Fatalf("sent = %v", got)
	}

	pending, err = st.drafts.Pending(ctx, sessionID)
	if err != nil {
		t.Fatalf("pending after confirm: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("draft should be gone after execution, got %d", len(pending))
	}

	// A second "yes" finds nothing.
	st.capture.Inject(&gateway.InboundMessage{
		ChannelID: "C-flow", UserID: "U-flow", UserName: "flow",
		Content: "yes",
	})
	if reply = st.capture.LastReply(); !strings.Contains(reply, "nothing waiting") {
		t.Errorf("expected nothing-waiting reply, got: %s", reply)
	}

	// The transcript landed in Postgres: three user turns, three replies.
	turns, err := testPGStore.RecentTurns(ctx, sessionID, 20)
	if err != nil {
		t.Fatalf("recent turns: %v", err)
	}
	if len(turns) != 6 {
		t.Errorf("turns = %d, want 6", len(turns))
	}
	if len(turns) > 0 && turns[0].Role != "user" {
		t.Errorf("first turn role = %s, want user", turns[0].Role)
	}
}

func TestRunAuditTrail(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)

	st.llm.queueJSON("planner", sendStepJSON)
	st.llm.queueJSON("planner", `{"done": true, "reason": "the email was handled"}`)
	st.llm.queueJSON("reevaluator", `{"decision": "continue"}`)
	st.llm.textFill = "Done. I resolved Ada's address."

	st.capture.Inject(&gateway.InboundMessage{
		ChannelID: "C-audit", UserID: "U-audit", UserName: "audit",
		Content: "Look up Ada Lovelace's address",
	})

	sessionID, err := testPGStore.FindOrCreateSession(ctx, "test", "C-audit", "U-audit")
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}

	runs, err := testPGStore.RecentRuns(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runs))
	}
	run := runs[0]
	if run.Reason != "completed" {
		t.Errorf("reason = %s, want completed", run.Reason)
	}
	if run.Steps != 1 {
		t.Errorf("steps = %d, want 1", run.Steps)
	}

	trail, err := run.StepTrail()
	if err != nil {
		t.Fatalf("step trail: %v", err)
	}
	if len(trail) != 1 || trail[0].Agent != "contacts" {
		t.Fatalf("trail = %+v", trail)
	}
	if trail[0].StepNumber != 1 {
		t.Errorf("step number = %d, want 1", trail[0].StepNumber)
	}
}

func TestWorkflowEventsOnStream(t *testing.T) {
	ctx := context.Background()
	st := newStack(t)

	st.llm.queueJSON("planner", sendStepJSON)
	st.llm.queueJSON("planner", sendStepJSON)
	st.llm.queueJSON("reevaluator", `{"decision": "continue"}`)

	st.capture.Inject(&gateway.InboundMessage{
		ChannelID: "C-events", UserID: "U-events", UserName: "events",
		Content: "Email Ada Lovelace about the launch",
	})

	sessionID, err := testPGStore.FindOrCreateSession(ctx, "test", "C-events", "U-events")
	if err != nil {
		t.Fatalf("session lookup: %v", err)
	}

	opts, err := redis.ParseURL(testRedisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer rdb.Close()

	msgs, err := rdb.XRange(ctx, "majordomo:workflow:"+sessionID, "-", "+").Result()
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}

	// Two steps ran and the workflow paused: step.started and
	// step.finished twice each, then workflow.paused and workflow.finished.
	if len(msgs) != 6 {
		t.Fatalf("stream entries = %d, want 6", len(msgs))
	}
	var kinds []string
	for _, m := range msgs {
		data, _ := m.Values["data"].(string)
		for _, k := range []string{"step.started", "step.finished", "workflow.paused", "workflow.finished"} {
			if strings.Contains(data, `"event":"`+k+`"`) {
				kinds = append(kinds, k)
			}
		}
	}
	want := []string{"step.started", "step.finished", "step.started", "step.finished", "workflow.paused", "workflow.finished"}
	if strings.Join(kinds, ",") != strings.Join(want, ",") {
		t.Errorf("event order = %v, want %v", kinds, want)
	}
}

func TestTokenStorageRoundTrip(t *testing.T) {
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	if err := testPGStore.SaveToken(ctx, "U-tok", "google", "ya29.secret", expiry); err != nil {
		t.Fatalf("save token: %v", err)
	}

	tok, err := testPGStore.Token(ctx, "U-tok", "google")
	if err != nil {
		t.Fatalf("load token: %v", err)
	}
	if tok != "ya29.secret" {
		t.Errorf("token = %q", tok)
	}

	// Unknown service reports not authenticated.
	if _, err := testPGStore.Token(ctx, "U-tok", "slack"); err != auth.ErrNotAuthenticated {
		t.Errorf("unknown service err = %v, want ErrNotAuthenticated", err)
	}

	// An expired token is as good as none.
	if err := testPGStore.SaveToken(ctx, "U-tok", "expired-svc", "old", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("save expired token: %v", err)
	}
	if _, err := testPGStore.Token(ctx, "U-tok", "expired-svc"); err != auth.ErrNotAuthenticated {
		t.Errorf("expired token err = %v, want ErrNotAuthenticated", err)
	}

	if err := testPGStore.DeleteToken(ctx, "U-tok", "google"); err != nil {
		t.Fatalf("delete token: %v", err)
	}
	if _, err := testPGStore.Token(ctx, "U-tok", "google"); err != auth.ErrNotAuthenticated {
		t.Errorf("deleted token err = %v, want ErrNotAuthenticated", err)
	}
}
