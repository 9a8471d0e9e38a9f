package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

const reevaluatorSystemPrompt = `You review the progress of a multi-step assistant workflow after each step.
Given the user's request, the completed steps, and the latest result, pick exactly one decision:
- "continue": the workflow is on track; plan the next step.
- "replan": the current approach is wrong; supply a fresh ordered plan.
- "terminate": the request is fully satisfied, or no further step can help.

Respond with a JSON object:
{"decision": "continue"}
or {"decision": "replan", "plan": [{"agent": "<name>", "operation": "<op>", "parameters": {}, "description": "..."}]}
or {"decision": "terminate", "final_message": "<optional note for the user>"}`

// Reevaluator decides what happens after each step. It never mutates the
// workflow context; the coordinator applies its outcome.
type Reevaluator struct {
	llm    LLM
	logger *zap.Logger
}

// NewReevaluator creates the post-step decision module.
func NewReevaluator(llm LLM, logger *zap.Logger) *Reevaluator {
	return &Reevaluator{llm: llm, logger: logger}
}

type reevalOutput struct {
	Decision     string `json:"decision"`
	Plan         Plan   `json:"plan,omitempty"`
	FinalMessage string `json:"final_message,omitempty"`
}

// Reevaluate inspects the latest step record and returns a decision.
// Pending proposals short-circuit to a pause deterministically; the
// model is only consulted for progress judgment.
func (r *Reevaluator) Reevaluate(ctx context.Context, wc *WorkflowContext, rec *StepRecord) ReevalOutcome {
	if rec.Result != nil && rec.Result.Proposal != nil {
		return ReevalOutcome{
			Decision: DecisionPause,
			Prompt:   confirmationPrompt(rec.Result.Proposal.Preview),
		}
	}

	var out reevalOutput
	if err := r.llm.CompleteJSON(ctx, "reevaluator", reevaluatorSystemPrompt, r.buildPrompt(wc, rec), &out); err != nil {
		r.logger.Warn("reevaluation call failed, using fallback", zap.Error(err))
		return r.fallback(wc, rec)
	}

	switch Decision(out.Decision) {
	case DecisionContinue:
		return ReevalOutcome{Decision: DecisionContinue}
	case DecisionReplan:
		if len(out.Plan) == 0 {
			return ReevalOutcome{Decision: DecisionContinue}
		}
		return ReevalOutcome{Decision: DecisionReplan, Plan: out.Plan}
	case DecisionTerminate:
		return ReevalOutcome{Decision: DecisionTerminate, FinalMessage: out.FinalMessage}
	default:
		r.logger.Warn("unknown reevaluation decision", zap.String("decision", out.Decision))
		return r.fallback(wc, rec)
	}
}

// fallback is the deterministic decision used when the model is
// unavailable or incoherent: keep going while steps remain, otherwise
// stop.
func (r *Reevaluator) fallback(wc *WorkflowContext, rec *StepRecord) ReevalOutcome {
	if wc.CurrentStep >= wc.MaxSteps {
		return ReevalOutcome{Decision: DecisionTerminate}
	}
	if rec.Status == StepFailed && consecutiveFailures(wc) >= 2 {
		return ReevalOutcome{Decision: DecisionTerminate}
	}
	return ReevalOutcome{Decision: DecisionContinue}
}

func consecutiveFailures(wc *WorkflowContext) int {
	n := 0
	for i := len(wc.CompletedSteps) - 1; i >= 0; i-- {
		if wc.CompletedSteps[i].Status != StepFailed {
			break
		}
		n++
	}
	return n
}

func confirmationPrompt(preview string) string {
	return fmt.Sprintf("I have this ready to go:\n\n%s\n\nShall I proceed? (yes/no)", preview)
}

func (r *Reevaluator) buildPrompt(wc *WorkflowContext, rec *StepRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n\n", wc.OriginalRequest)

	b.WriteString("Completed steps:\n")
	for _, s := range wc.CompletedSteps {
		outcome := "ok"
		if s.Status == StepFailed {
			outcome = "FAILED"
		}
		fmt.Fprintf(&b, "%d. [%s] %s (%s)\n", s.StepNumber, s.Agent, s.Description, outcome)
	}

	fmt.Fprintf(&b, "\nLatest step result:\nagent: %s\nsuccess: %t\n", rec.Agent, rec.Status == StepCompleted)
	if rec.Result != nil {
		if rec.Result.Summary != "" {
			fmt.Fprintf(&b, "summary: %s\n", rec.Result.Summary)
		}
		if rec.Result.Error != "" {
			fmt.Fprintf(&b, "error: %s\n", rec.Result.Error)
		}
	}
	fmt.Fprintf(&b, "\nStep %d of at most %d used.", wc.CurrentStep, wc.MaxSteps)
	return b.String()
}
