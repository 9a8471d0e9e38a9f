package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/agent"
)

const plannerSystemPrompt = `You are the planning module of a personal assistant that coordinates specialized sub-agents.
Given the user's request, the conversation history, the data gathered so far, and the steps already completed, decide the SINGLE next atomic step, or declare the work done.

Rules:
- One step does exactly one thing with exactly one agent.
- Never plan a step whose inputs are not yet available; gather them first.
- Recipients of emails and event invitations must be concrete addresses. If only a person's name is known, first resolve it with the contacts agent.
- When a revised remaining plan is present, take its first step next unless the gathered data already makes it unnecessary.
- If the request is fully satisfied by the completed steps, set "done" to true.

Respond with a JSON object:
{"done": false, "agent": "<name>", "operation": "<op>", "parameters": {"key": "value"}, "description": "<what this step does>"}
or {"done": true, "reason": "<why nothing remains>"}`

// recipientParams are the step parameters that must hold resolved
// addresses before a side-effecting agent may run.
var recipientParams = []string{"to", "attendees"}

// Planner produces the next atomic step for a workflow. It is stateless
// across requests; all inputs arrive through the WorkflowContext.
type Planner struct {
	llm      LLM
	registry *agent.Registry
	gatherer *Gatherer
	logger   *zap.Logger
}

// NewPlanner creates a planner over the given completion surface and
// agent catalog.
func NewPlanner(llm LLM, registry *agent.Registry, gatherer *Gatherer, logger *zap.Logger) *Planner {
	return &Planner{llm: llm, registry: registry, gatherer: gatherer, logger: logger}
}

type plannerOutput struct {
	Done        bool              `json:"done"`
	Reason      string            `json:"reason,omitempty"`
	Agent       string            `json:"agent,omitempty"`
	Operation   string            `json:"operation,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Description string            `json:"description,omitempty"`
}

// PlanNextStep returns the next step, or done=true when the request is
// satisfied. A planning backend failure surfaces as
// ErrPlanningUnavailable; the caller terminates rather than guessing.
func (p *Planner) PlanNextStep(ctx context.Context, wc *WorkflowContext) (*NextStep, bool, error) {
	prompt := p.buildPrompt(ctx, wc)

	var out plannerOutput
	if err := p.llm.CompleteJSON(ctx, "planner", plannerSystemPrompt, prompt, &out); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrPlanningUnavailable, err)
	}
	if out.Done {
		wc.Plan = nil
		return nil, true, nil
	}
	if out.Agent == "" {
		return nil, false, fmt.Errorf("%w: planner named no agent", ErrPlanningUnavailable)
	}

	step := &NextStep{
		Agent:       out.Agent,
		Operation:   out.Operation,
		Parameters:  out.Parameters,
		Description: out.Description,
	}
	if step.Description == "" {
		step.Description = fmt.Sprintf("%s %s", step.Agent, step.Operation)
	}

	if !p.registry.Enabled(step.Agent) {
		// The model sometimes invents an agent name; fall back to
		// matching the description against the catalog.
		d, ok := p.registry.FindBestAgentForDescription(ctx, step.Description)
		if !ok {
			return nil, false, fmt.Errorf("%w for step %q", ErrNoSuitableAgent, step.Description)
		}
		p.logger.Info("remapped planned agent",
			zap.String("from", step.Agent), zap.String("to", d.Name))
		step.Agent = d.Name
	}

	p.substituteResolved(wc, step)

	if name, ok := unresolvedRecipient(step); ok {
		// The revised plan's head is still pending; the lookup runs first.
		return interposeContactLookup(name, step), false, nil
	}

	// The head of a revised plan informed this step; consume it so the
	// remainder stays aligned with what is actually left to do.
	if len(wc.Plan) > 0 {
		wc.Plan = wc.Plan[1:]
	}
	return step, false, nil
}

// substituteResolved replaces bare names in recipient parameters with
// addresses already gathered from earlier contact lookups.
func (p *Planner) substituteResolved(wc *WorkflowContext, step *NextStep) {
	for _, key := range recipientParams {
		raw, ok := step.Parameters[key]
		if !ok || raw == "" {
			continue
		}
		parts := strings.Split(raw, ",")
		changed := false
		for i, part := range parts {
			name := strings.TrimSpace(part)
			if name == "" || agent.IsAddress(name) {
				continue
			}
			if addr, ok := wc.GatheredData["contact:"+strings.ToLower(name)].(string); ok && addr != "" {
				parts[i] = addr
				changed = true
			}
		}
		if changed {
			step.Parameters[key] = strings.Join(parts, ",")
		}
	}
}

// unresolvedRecipient returns the first recipient value that is still a
// bare name rather than an address.
func unresolvedRecipient(step *NextStep) (string, bool) {
	if step.Agent != "email" && step.Agent != "calendar" {
		return "", false
	}
	for _, key := range recipientParams {
		for _, part := range strings.Split(step.Parameters[key], ",") {
			name := strings.TrimSpace(part)
			if name != "" && !agent.IsAddress(name) {
				return name, true
			}
		}
	}
	return "", false
}

// interposeContactLookup swaps the planned step for a contacts
// resolution of the unresolved name. The original step is replanned on
// the next iteration, when the address is in the gathered data.
func interposeContactLookup(name string, blocked *NextStep) *NextStep {
	return &NextStep{
		Agent:       "contacts",
		Operation:   "resolve_contact",
		Parameters:  map[string]string{"name": name},
		Description: fmt.Sprintf("Resolve the address for %s before: %s", name, blocked.Description),
	}
}

func (p *Planner) buildPrompt(ctx context.Context, wc *WorkflowContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n\n", wc.OriginalRequest)

	if history := p.gatherer.Snapshot(ctx, wc.User.SessionID); history != "" {
		fmt.Fprintf(&b, "Conversation history:\n%s\n", history)
	}

	b.WriteString("Available agents:\n")
	b.WriteString(p.registry.Manifest())
	b.WriteString("\n")

	if len(wc.GatheredData) > 0 {
		data, _ := json.Marshal(wc.GatheredData)
		fmt.Fprintf(&b, "Gathered data: %s\n\n", data)
	}

	if len(wc.Plan) > 0 {
		b.WriteString("Revised remaining plan from the last review:\n")
		for i, s := range wc.Plan {
			fmt.Fprintf(&b, "%d. [%s %s] %s\n", i+1, s.Agent, s.Operation, s.Description)
		}
		b.WriteString("\n")
	}

	if len(wc.CompletedSteps) > 0 {
		b.WriteString("Completed steps:\n")
		for _, s := range wc.CompletedSteps {
			outcome := "ok"
			if s.Status == StepFailed {
				outcome = "FAILED"
				if s.Result != nil && s.Result.Error != "" {
					outcome = "FAILED: " + s.Result.Error
				}
			} else if s.Result != nil && s.Result.Summary != "" {
				outcome = s.Result.Summary
			}
			fmt.Fprintf(&b, "%d. [%s] %s -> %s\n", s.StepNumber, s.Agent, s.Description, outcome)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "This is step %d of at most %d. Decide the next step.", wc.CurrentStep, wc.MaxSteps)
	return b.String()
}
