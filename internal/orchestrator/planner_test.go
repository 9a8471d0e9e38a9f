package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/agent"
)

func newTestPlanner(t *testing.T, llm LLM, agents ...agent.SubAgent) *Planner {
	t.Helper()
	logger := zap.NewNop()
	registry := agent.NewRegistry(logger)
	for _, a := range agents {
		registry.Register(a)
	}
	return NewPlanner(llm, registry, NewGatherer(nil, logger), logger)
}

func TestPlannerInterposesContactLookup(t *testing.T) {
	llm := newScriptLLM()
	llm.queueJSON("planner",
		`{"agent":"email","operation":"send_email","parameters":{"to":"Maya","subject":"Hi"},"description":"Email Maya"}`)
	p := newTestPlanner(t, llm, newContactsFake(nil), newEmailFake())

	wc := NewWorkflowContext("email Maya", UserContext{SessionID: "s1"}, 5)
	step, done, err := p.PlanNextStep(context.Background(), wc)
	if err != nil || done {
		t.Fatalf("plan: step=%v done=%v err=%v", step, done, err)
	}
	if step.Agent != "contacts" || step.Operation != "resolve_contact" {
		t.Fatalf("got step %+v, want a contacts resolution", step)
	}
	if step.Parameters["name"] != "Maya" {
		t.Errorf("resolving %q, want Maya", step.Parameters["name"])
	}
}

func TestPlannerSubstitutesGatheredContacts(t *testing.T) {
	llm := newScriptLLM()
	llm.queueJSON("planner",
		`{"agent":"email","operation":"send_email","parameters":{"to":"Maya","subject":"Hi"},"description":"Email Maya"}`)
	p := newTestPlanner(t, llm, newContactsFake(nil), newEmailFake())

	wc := NewWorkflowContext("email Maya", UserContext{SessionID: "s1"}, 5)
	wc.Gather("contact:maya", "maya@example.com")

	step, _, err := p.PlanNextStep(context.Background(), wc)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if step.Agent != "email" {
		t.Fatalf("got agent %s, want email", step.Agent)
	}
	if step.Parameters["to"] != "maya@example.com" {
		t.Errorf("to = %q, want the gathered address", step.Parameters["to"])
	}
}

func TestPlannerSubstitutesAttendeeLists(t *testing.T) {
	llm := newScriptLLM()
	llm.queueJSON("planner",
		`{"agent":"calendar","operation":"create_event","parameters":{"attendees":"Sarah, bob@example.com","title":"Sync"},"description":"Schedule a sync"}`)
	cal := &fakeAgent{
		desc: agent.Descriptor{Name: "calendar", Description: "Manages events.",
			Capabilities: []string{"calendar", "event", "meeting"}, Enabled: true},
		fn: func(_ context.Context, _ *agent.Request) (*agent.Result, error) {
			return &agent.Result{Success: true}, nil
		},
	}
	p := newTestPlanner(t, llm, newContactsFake(nil), cal)

	wc := NewWorkflowContext("schedule a sync", UserContext{SessionID: "s1"}, 5)
	wc.Gather("contact:sarah", "sarah@example.com")

	step, _, err := p.PlanNextStep(context.Background(), wc)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if got := step.Parameters["attendees"]; got != "sarah@example.com, bob@example.com" {
		t.Errorf("attendees = %q", got)
	}
}

func TestPlannerRemapsUnknownAgent(t *testing.T) {
	llm := newScriptLLM()
	llm.queueJSON("planner",
		`{"agent":"websearch","operation":"web_search","parameters":{"query":"go releases"},"description":"search the web for go releases"}`)
	p := newTestPlanner(t, llm, newSearchFake())

	wc := NewWorkflowContext("find go releases", UserContext{SessionID: "s1"}, 5)
	step, _, err := p.PlanNextStep(context.Background(), wc)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if step.Agent != "search" {
		t.Errorf("remapped to %q, want search", step.Agent)
	}
}

// A revised plan from the last review must reach the planning prompt and
// shrink as its steps are taken.
func TestPlannerConsumesRevisedPlan(t *testing.T) {
	llm := newScriptLLM()
	llm.queueJSON("planner",
		`{"agent":"search","operation":"web_search","parameters":{"query":"release notes"},"description":"search the changelog"}`)
	p := newTestPlanner(t, llm, newSearchFake())

	wc := NewWorkflowContext("summarize the release", UserContext{SessionID: "s1"}, 5)
	wc.Plan = Plan{
		{Agent: "search", Operation: "web_search", Description: "search the changelog"},
		{Agent: "content", Operation: "summarize", Description: "summarize the findings"},
	}

	step, done, err := p.PlanNextStep(context.Background(), wc)
	if err != nil || done {
		t.Fatalf("plan: step=%v done=%v err=%v", step, done, err)
	}

	prompts := llm.promptsFor("planner")
	if len(prompts) != 1 {
		t.Fatalf("planner called %d times, want 1", len(prompts))
	}
	if !strings.Contains(prompts[0], "Revised remaining plan") ||
		!strings.Contains(prompts[0], "search the changelog") ||
		!strings.Contains(prompts[0], "summarize the findings") {
		t.Errorf("revised plan missing from prompt:\n%s", prompts[0])
	}
	if len(wc.Plan) != 1 || wc.Plan[0].Description != "summarize the findings" {
		t.Errorf("plan after step = %+v, want only the summarize step left", wc.Plan)
	}
}

// An interposed contact lookup does not take the planned step, so the
// revised plan must stay intact for the next iteration.
func TestInterposedLookupKeepsRevisedPlan(t *testing.T) {
	llm := newScriptLLM()
	llm.queueJSON("planner",
		`{"agent":"email","operation":"send_email","parameters":{"to":"Maya","subject":"Hi"},"description":"Email Maya"}`)
	p := newTestPlanner(t, llm, newContactsFake(nil), newEmailFake())

	wc := NewWorkflowContext("email Maya", UserContext{SessionID: "s1"}, 5)
	wc.Plan = Plan{{Agent: "email", Operation: "send_email", Description: "Email Maya"}}

	step, _, err := p.PlanNextStep(context.Background(), wc)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if step.Agent != "contacts" {
		t.Fatalf("got agent %s, want the interposed contacts lookup", step.Agent)
	}
	if len(wc.Plan) != 1 {
		t.Errorf("plan = %+v, want the email step still pending", wc.Plan)
	}
}

func TestPlannerFailureIsPlanningUnavailable(t *testing.T) {
	p := newTestPlanner(t, newScriptLLM(), newSearchFake())
	wc := NewWorkflowContext("anything", UserContext{SessionID: "s1"}, 5)
	_, _, err := p.PlanNextStep(context.Background(), wc)
	if !errors.Is(err, ErrPlanningUnavailable) {
		t.Errorf("got %v, want ErrPlanningUnavailable", err)
	}
}

func TestPlannerNoMatchableAgent(t *testing.T) {
	llm := newScriptLLM()
	llm.queueJSON("planner",
		`{"agent":"plumbing","operation":"fix","parameters":{},"description":"zzz qqq"}`)
	p := newTestPlanner(t, llm, newSearchFake())

	wc := NewWorkflowContext("anything", UserContext{SessionID: "s1"}, 5)
	_, _, err := p.PlanNextStep(context.Background(), wc)
	if !errors.Is(err, ErrNoSuitableAgent) {
		t.Errorf("got %v, want ErrNoSuitableAgent", err)
	}
}
