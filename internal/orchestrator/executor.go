package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/agent"
	"github.com/nidhogg/majordomo/internal/auth"
	"github.com/nidhogg/majordomo/internal/draft"
)

// defaultStepTimeout bounds a single agent call when the agent's
// descriptor declares no budget of its own.
const defaultStepTimeout = 30 * time.Second

// Executor runs one planned step against its sub-agent. Its only write
// to the workflow context is appending the finished StepRecord; merging
// gathered data is the coordinator's job.
type Executor struct {
	registry    *agent.Registry
	tokens      auth.TokenProvider
	stepTimeout time.Duration
	logger      *zap.Logger
}

// NewExecutor creates a step executor. tokens may be nil when no agent
// needs delegated credentials.
func NewExecutor(registry *agent.Registry, tokens auth.TokenProvider, stepTimeout time.Duration, logger *zap.Logger) *Executor {
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}
	return &Executor{
		registry:    registry,
		tokens:      tokens,
		stepTimeout: stepTimeout,
		logger:      logger,
	}
}

// ExecuteStep runs the step and appends its record to the context. Agent
// failures, timeouts, and auth problems all land in the record as a
// failed StepResult; the error return is reserved for the caller's own
// context being cancelled.
func (e *Executor) ExecuteStep(ctx context.Context, wc *WorkflowContext, step *NextStep) (*StepRecord, error) {
	rec := &StepRecord{
		StepNumber:  wc.CurrentStep,
		Agent:       step.Agent,
		Operation:   step.Operation,
		Parameters:  step.Parameters,
		Description: step.Description,
		Status:      StepExecuting,
		StartedAt:   time.Now(),
	}

	result := e.run(ctx, wc, step)
	rec.Result = result
	rec.FinishedAt = time.Now()
	if result.Success {
		rec.Status = StepCompleted
	} else {
		rec.Status = StepFailed
	}
	wc.CompletedSteps = append(wc.CompletedSteps, rec)

	e.logger.Info("step finished",
		zap.Int("step", rec.StepNumber),
		zap.String("agent", rec.Agent),
		zap.String("status", string(rec.Status)))

	if ctx.Err() != nil {
		return rec, ctx.Err()
	}
	return rec, nil
}

func (e *Executor) run(ctx context.Context, wc *WorkflowContext, step *NextStep) *StepResult {
	a, err := e.registry.Get(step.Agent)
	if err != nil {
		return &StepResult{Error: err.Error(), Summary: fmt.Sprintf("agent %s is unavailable", step.Agent)}
	}
	d := a.Describe()
	if !d.Enabled {
		return &StepResult{
			Error:   agent.ErrAgentDisabled.Error(),
			Summary: fmt.Sprintf("agent %s is disabled", step.Agent),
		}
	}

	token, result := e.resolveToken(ctx, wc.User.UserID, d)
	if result != nil {
		return result
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = e.stepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &agent.Request{
		Instruction: step.Description,
		Operation:   step.Operation,
		Parameters:  step.Parameters,
		SessionID:   wc.User.SessionID,
		UserID:      wc.User.UserID,
		AuthToken:   token,
	}
	res, err := a.Execute(stepCtx, req)
	if err != nil {
		return &StepResult{Error: normalizeError(err), Summary: fmt.Sprintf("%s step failed", step.Agent)}
	}

	out := &StepResult{
		Success:  res.Success,
		Data:     res.StructuredData,
		Error:    res.Error,
		Summary:  res.Response,
		Proposal: res.Proposal,
	}
	if out.Summary == "" {
		out.Summary = step.Description
	}
	return out
}

// ExecuteConfirmed re-runs a user-approved draft with the Confirmed flag
// set, so the agent performs the side effect instead of proposing again.
func (e *Executor) ExecuteConfirmed(ctx context.Context, d *draft.Draft) (string, error) {
	a, err := e.registry.Get(d.Agent)
	if err != nil {
		return "", err
	}
	desc := a.Describe()

	token := ""
	if desc.Service != "" && e.tokens != nil {
		token, err = e.tokens.Token(ctx, d.UserID, desc.Service)
		if err != nil {
			return "", fmt.Errorf("credentials for %s: %w", desc.Service, err)
		}
	}

	timeout := desc.Timeout
	if timeout <= 0 {
		timeout = e.stepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := a.Execute(stepCtx, &agent.Request{
		Instruction: d.Preview,
		Operation:   d.Type,
		Parameters:  d.Parameters,
		SessionID:   d.SessionID,
		UserID:      d.UserID,
		AuthToken:   token,
		Confirmed:   true,
	})
	if err != nil {
		return "", err
	}
	if !res.Success {
		return "", errors.New(res.Error)
	}
	return res.Response, nil
}

// resolveToken fetches the delegated credential for the agent's service.
// A missing credential is a step failure, not a crash.
func (e *Executor) resolveToken(ctx context.Context, userID string, d agent.Descriptor) (string, *StepResult) {
	if d.Service == "" || e.tokens == nil {
		return "", nil
	}
	token, err := e.tokens.Token(ctx, userID, d.Service)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return "", &StepResult{
				Error:   err.Error(),
				Summary: fmt.Sprintf("you are not connected to %s yet", d.Service),
			}
		}
		return "", &StepResult{Error: normalizeError(err), Summary: "credential lookup failed"}
	}
	return token, nil
}

// normalizeError flattens transport-level failures into stable phrasing
// the reevaluator and composer can reason about.
func normalizeError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "the step timed out"
	case errors.Is(err, context.Canceled):
		return "the step was cancelled"
	default:
		return err.Error()
	}
}
