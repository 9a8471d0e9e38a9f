package orchestrator

import (
	"time"

	"github.com/nidhogg/majordomo/internal/agent"
)

// DefaultMaxSteps bounds the planning loop per request.
const DefaultMaxSteps = 10

// UserContext identifies the requester. Immutable per request.
type UserContext struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

// WorkflowContext is the mutable state threaded through one request's
// processing. A single goroutine owns it for the request's lifetime;
// steps of the same workflow never run concurrently.
type WorkflowContext struct {
	OriginalRequest string         `json:"original_request"`
	CurrentStep     int            `json:"current_step"`
	MaxSteps        int            `json:"max_steps"`
	CompletedSteps  []*StepRecord  `json:"completed_steps"` // append-only
	GatheredData    map[string]any `json:"gathered_data"`   // last-write-wins accumulator
	Plan            Plan           `json:"plan,omitempty"`  // remaining steps from the last replan
	User            UserContext    `json:"user"`
}

// NewWorkflowContext creates the state for one request.
func NewWorkflowContext(request string, user UserContext, maxSteps int) *WorkflowContext {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &WorkflowContext{
		OriginalRequest: request,
		CurrentStep:     1,
		MaxSteps:        maxSteps,
		GatheredData:    make(map[string]any),
		User:            user,
	}
}

// Gather writes a key into the accumulator. Later writes overwrite.
func (wc *WorkflowContext) Gather(key string, value any) {
	wc.GatheredData[key] = value
}

// StepStatus tracks a step's lifecycle. Terminal states are never
// revisited; a retry is a fresh StepRecord.
type StepStatus string

const (
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepRecord is one planned-and-executed unit in the audit trail.
type StepRecord struct {
	StepNumber  int               `json:"step_number"`
	Agent       string            `json:"agent"`
	Operation   string            `json:"operation,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Description string            `json:"description"`
	Status      StepStatus        `json:"status"`
	Result      *StepResult       `json:"result,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// StepResult is the normalized outcome of one step, regardless of which
// agent ran it or how it failed.
type StepResult struct {
	Success  bool            `json:"success"`
	Data     map[string]any  `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
	Summary  string          `json:"summary"` // natural-language summary
	Proposal *agent.Proposal `json:"proposal,omitempty"`
}

// NextStep is the planner's output: exactly one atomic unit of work.
type NextStep struct {
	Agent       string            `json:"agent"`
	Operation   string            `json:"operation,omitempty"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Description string            `json:"description"`
}

// Plan is an ordered list of intended future steps. The reevaluator may
// replace it after any step; the planner renders it into the next
// planning round and consumes its head as steps are taken.
type Plan []NextStep

// Decision is the reevaluator's verdict after a step.
type Decision string

const (
	DecisionContinue  Decision = "continue"
	DecisionReplan    Decision = "replan"
	DecisionPause     Decision = "pause"
	DecisionTerminate Decision = "terminate"
)

// ReevalOutcome carries the decision plus its payload.
type ReevalOutcome struct {
	Decision     Decision `json:"decision"`
	Plan         Plan     `json:"plan,omitempty"`          // for replan
	Prompt       string   `json:"prompt,omitempty"`        // for pause
	FinalMessage string   `json:"final_message,omitempty"` // for terminate
}

// TerminationReason distinguishes how a workflow ended, which shapes the
// composed response.
type TerminationReason string

const (
	ReasonCompleted      TerminationReason = "completed"
	ReasonStepLimit      TerminationReason = "step_limit"
	ReasonTerminated     TerminationReason = "terminated"
	ReasonPaused         TerminationReason = "paused"
	ReasonPlanningFailed TerminationReason = "planning_failed"
)
