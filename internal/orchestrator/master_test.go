package orchestrator

import (
	"context"
	"strings"
	"testing"
)

// The loop must stop at the step cap even when planning never declares
// the work done.
func TestWorkflowStopsAtStepCap(t *testing.T) {
	search := newSearchFake()
	fx := newMasterFixture(t, 3, search)

	fx.llm.defaultJSON("planner",
		`{"agent":"search","operation":"web_search","parameters":{"query":"more"},"description":"search again"}`)
	fx.llm.defaultJSON("reevaluator", `{"decision":"continue"}`)

	resp, err := fx.master.Handle(context.Background(), "s1", "u1", "research everything")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := search.callCount(); got != 3 {
		t.Errorf("agent ran %d times, want 3", got)
	}
	if !strings.Contains(resp, "step limit") {
		t.Errorf("response should admit the step limit, got %q", resp)
	}
}

func TestStepRecordsAreAppendOnlyAndNumbered(t *testing.T) {
	search := newSearchFake()
	fx := newMasterFixture(t, 4, search)

	fx.llm.defaultJSON("planner",
		`{"agent":"search","operation":"web_search","parameters":{},"description":"search"}`)
	fx.llm.queueJSON("reevaluator",
		`{"decision":"continue"}`,
		`{"decision":"continue"}`,
		`{"decision":"terminate","final_message":"that covers it"}`)

	var seen *WorkflowContext
	fx.master.runs = runRecorderFunc(func(_ context.Context, wc *WorkflowContext, _ TerminationReason, _ string) error {
		seen = wc
		return nil
	})

	if _, err := fx.master.Handle(context.Background(), "s1", "u1", "look things up"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if seen == nil {
		t.Fatal("run recorder never called")
	}
	if len(seen.CompletedSteps) != 3 {
		t.Fatalf("got %d steps, want 3", len(seen.CompletedSteps))
	}
	for i, s := range seen.CompletedSteps {
		if s.StepNumber != i+1 {
			t.Errorf("step %d numbered %d", i, s.StepNumber)
		}
		if s.Status != StepCompleted {
			t.Errorf("step %d status %s", i, s.Status)
		}
	}
}

type runRecorderFunc func(ctx context.Context, wc *WorkflowContext, reason TerminationReason, response string) error

func (f runRecorderFunc) RecordRun(ctx context.Context, wc *WorkflowContext, reason TerminationReason, response string) error {
	return f(ctx, wc, reason, response)
}

// "Email John about the deadline" must resolve John's address before the
// email step runs, and the send must pause for confirmation.
func TestContactResolutionPrecedesEmail(t *testing.T) {
	contacts := newContactsFake(map[string]string{"John": "john@example.com"})
	email := newEmailFake()
	fx := newMasterFixture(t, 5, contacts, email)

	sendStep := `{"agent":"email","operation":"send_email","parameters":{"to":"John","subject":"Deadline","body":"Friday."},"description":"Email John about the deadline"}`
	fx.llm.queueJSON("planner", sendStep, sendStep)
	fx.llm.defaultJSON("reevaluator", `{"decision":"continue"}`)

	resp, err := fx.master.Handle(context.Background(), "s1", "u1", "Email John about the deadline")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if contacts.callCount() != 1 {
		t.Fatalf("contacts ran %d times, want 1", contacts.callCount())
	}
	if email.callCount() != 1 {
		t.Fatalf("email ran %d times, want 1", email.callCount())
	}
	if got := email.lastCall().Param("to"); got != "john@example.com" {
		t.Errorf("email ran with to=%q, want the resolved address", got)
	}
	if email.lastCall().Confirmed {
		t.Error("first email pass must not be confirmed")
	}
	if !strings.Contains(resp, "yes/no") {
		t.Errorf("expected a confirmation prompt, got %q", resp)
	}

	// Confirming executes the draft exactly once, with Confirmed set.
	done, err := fx.master.HandleConfirmation(context.Background(), "s1", true)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if email.callCount() != 2 || !email.lastCall().Confirmed {
		t.Error("confirmation must re-run the email agent with Confirmed")
	}
	if !strings.Contains(done, "Sent the email") {
		t.Errorf("confirmation reply = %q", done)
	}

	// The draft is gone; a second yes has nothing to act on.
	again, err := fx.master.HandleConfirmation(context.Background(), "s1", true)
	if err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	if !strings.Contains(again, "nothing waiting") {
		t.Errorf("second confirmation reply = %q", again)
	}
	if email.callCount() != 2 {
		t.Error("draft executed twice")
	}
}

// A replan verdict must change what the next planning round sees: the
// substituted plan has to appear in the following planner prompt and
// drain as it is followed.
func TestReplanRedirectsNextStep(t *testing.T) {
	search := newSearchFake()
	fx := newMasterFixture(t, 5, search)

	fx.llm.queueJSON("planner",
		`{"agent":"search","operation":"web_search","parameters":{"query":"broad"},"description":"broad web search"}`,
		`{"agent":"search","operation":"web_search","parameters":{"query":"site:docs"},"description":"search the docs archive"}`)
	fx.llm.queueJSON("reevaluator",
		`{"decision":"replan","plan":[{"agent":"search","operation":"web_search","parameters":{"query":"site:docs"},"description":"search the docs archive"}]}`,
		`{"decision":"terminate","final_message":"found it"}`)

	if _, err := fx.master.Handle(context.Background(), "s1", "u1", "find the migration guide"); err != nil {
		t.Fatalf("handle: %v", err)
	}

	prompts := fx.llm.promptsFor("planner")
	if len(prompts) != 2 {
		t.Fatalf("planner called %d times, want 2", len(prompts))
	}
	if strings.Contains(prompts[0], "search the docs archive") {
		t.Error("revised plan leaked into the first planning round")
	}
	if !strings.Contains(prompts[1], "Revised remaining plan") ||
		!strings.Contains(prompts[1], "search the docs archive") {
		t.Errorf("second planning round never saw the revised plan:\n%s", prompts[1])
	}
	if search.callCount() != 2 {
		t.Errorf("agent ran %d times, want 2", search.callCount())
	}
}

func TestRejectionNeverExecutes(t *testing.T) {
	contacts := newContactsFake(map[string]string{"Sarah": "sarah@example.com"})
	email := newEmailFake()
	fx := newMasterFixture(t, 5, contacts, email)

	sendStep := `{"agent":"email","operation":"send_email","parameters":{"to":"sarah@example.com","subject":"Hi","body":"Hello."},"description":"Email Sarah"}`
	fx.llm.queueJSON("planner", sendStep)

	if _, err := fx.master.Handle(context.Background(), "s1", "u1", "Email Sarah"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	resp, err := fx.master.HandleConfirmation(context.Background(), "s1", false)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if !strings.Contains(resp, "won't go ahead") {
		t.Errorf("rejection reply = %q", resp)
	}
	if email.callCount() != 1 {
		t.Error("rejected draft must never execute the side effect")
	}
}

func TestPlanningFailureApologizes(t *testing.T) {
	fx := newMasterFixture(t, 3, newSearchFake())
	// No scripted planner response at all.

	resp, err := fx.master.Handle(context.Background(), "s1", "u1", "do something")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(resp, "could not work out") {
		t.Errorf("expected an apology, got %q", resp)
	}
}

func TestPlannerDoneShortCircuits(t *testing.T) {
	search := newSearchFake()
	fx := newMasterFixture(t, 3, search)

	fx.llm.queueJSON("planner", `{"done":true,"reason":"nothing to do"}`)
	fx.llm.defaultText("composer", "All set, nothing was needed.")

	resp, err := fx.master.Handle(context.Background(), "s1", "u1", "thanks!")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if search.callCount() != 0 {
		t.Error("no agent should run when planning declares done")
	}
	if resp != "All set, nothing was needed." {
		t.Errorf("response = %q", resp)
	}
}

func TestConfirmationWithNothingPending(t *testing.T) {
	fx := newMasterFixture(t, 3, newSearchFake())
	resp, err := fx.master.HandleConfirmation(context.Background(), "fresh-session", true)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !strings.Contains(resp, "nothing waiting") {
		t.Errorf("reply = %q", resp)
	}
}
