package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/agent"
	"github.com/nidhogg/majordomo/internal/draft"
)

// EventSink receives workflow progress events for external observers.
// Publishing is best effort; failures never affect the workflow.
type EventSink interface {
	Emit(ctx context.Context, event string, user UserContext, payload map[string]any)
}

// RunRecorder persists a finished workflow for the audit trail.
type RunRecorder interface {
	RecordRun(ctx context.Context, wc *WorkflowContext, reason TerminationReason, response string) error
}

// Master is the coordinator. It owns the plan/execute/reevaluate loop,
// draft creation on pending proposals, and the final composed answer.
// One Handle call owns its WorkflowContext for the whole request.
type Master struct {
	planner     *Planner
	executor    *Executor
	reevaluator *Reevaluator
	composer    *Composer
	drafts      *draft.Manager
	events      EventSink
	runs        RunRecorder
	maxSteps    int
	logger      *zap.Logger
}

// MasterParams bundles the coordinator's collaborators.
type MasterParams struct {
	Planner     *Planner
	Executor    *Executor
	Reevaluator *Reevaluator
	Composer    *Composer
	Drafts      *draft.Manager
	Events      EventSink   // optional
	Runs        RunRecorder // optional
	MaxSteps    int
	Logger      *zap.Logger
}

// NewMaster wires the coordinator and installs the confirmed-draft
// executor on the draft manager.
func NewMaster(p MasterParams) *Master {
	if p.MaxSteps <= 0 {
		p.MaxSteps = DefaultMaxSteps
	}
	m := &Master{
		planner:     p.Planner,
		executor:    p.Executor,
		reevaluator: p.Reevaluator,
		composer:    p.Composer,
		drafts:      p.Drafts,
		events:      p.Events,
		runs:        p.Runs,
		maxSteps:    p.MaxSteps,
		logger:      p.Logger,
	}
	if m.drafts != nil {
		m.drafts.SetExecutor(m.executor.ExecuteConfirmed)
	}
	return m
}

// Handle processes one natural-language request end to end and returns
// the reply to show the user.
func (m *Master) Handle(ctx context.Context, sessionID, userID, request string) (string, error) {
	wc := NewWorkflowContext(request, UserContext{SessionID: sessionID, UserID: userID}, m.maxSteps)
	m.logger.Info("workflow started",
		zap.String("session", sessionID),
		zap.String("request", request))

	reason := ReasonStepLimit
	note := ""

loop:
	for wc.CurrentStep = 1; wc.CurrentStep <= wc.MaxSteps; wc.CurrentStep++ {
		step, done, err := m.planner.PlanNextStep(ctx, wc)
		if err != nil {
			if errors.Is(err, ErrPlanningUnavailable) || errors.Is(err, ErrNoSuitableAgent) {
				m.logger.Error("planning failed", zap.Error(err))
				reason = ReasonPlanningFailed
				break loop
			}
			return "", err
		}
		if done {
			reason = ReasonCompleted
			break loop
		}

		m.emit(ctx, "step.started", wc.User, map[string]any{
			"step":        wc.CurrentStep,
			"agent":       step.Agent,
			"description": step.Description,
		})

		rec, err := m.executor.ExecuteStep(ctx, wc, step)
		if err != nil {
			return "", err
		}
		m.absorb(wc, rec)

		m.emit(ctx, "step.finished", wc.User, map[string]any{
			"step":   rec.StepNumber,
			"agent":  rec.Agent,
			"status": string(rec.Status),
		})

		outcome := m.reevaluator.Reevaluate(ctx, wc, rec)
		switch outcome.Decision {
		case DecisionPause:
			return m.pause(ctx, wc, rec, outcome)
		case DecisionReplan:
			wc.Plan = outcome.Plan
			m.logger.Info("workflow replanned",
				zap.String("session", sessionID),
				zap.Int("remaining", len(outcome.Plan)))
		case DecisionTerminate:
			reason = ReasonTerminated
			note = outcome.FinalMessage
			break loop
		}
	}

	response := m.composer.Compose(ctx, wc, reason, note)
	m.finish(ctx, wc, reason, response)
	return response, nil
}

// pause turns a pending proposal into a stored draft and returns the
// confirmation prompt. The workflow ends here; a later "yes" executes
// the draft directly.
func (m *Master) pause(ctx context.Context, wc *WorkflowContext, rec *StepRecord, outcome ReevalOutcome) (string, error) {
	prop := rec.Result.Proposal
	if prop == nil || m.drafts == nil {
		return m.composer.Compose(ctx, wc, ReasonTerminated, "confirmation is unavailable right now"), nil
	}

	d, err := m.drafts.Create(ctx, draft.CreateParams{
		SessionID:  wc.User.SessionID,
		UserID:     wc.User.UserID,
		Agent:      rec.Agent,
		Type:       prop.Type,
		Parameters: prop.Parameters,
		Preview:    prop.Preview,
		Risk:       string(prop.Risk),
	})
	if err != nil {
		return "", fmt.Errorf("store draft: %w", err)
	}
	wc.Gather("pending_draft_id", d.ID)

	m.emit(ctx, "workflow.paused", wc.User, map[string]any{"draft": d.ID, "type": d.Type})
	m.finish(ctx, wc, ReasonPaused, outcome.Prompt)
	return outcome.Prompt, nil
}

// HandleConfirmation resolves the session's most recent pending draft.
// A confirmation reply with nothing pending gets a gentle answer, not an
// error.
func (m *Master) HandleConfirmation(ctx context.Context, sessionID string, positive bool) (string, error) {
	if m.drafts == nil {
		return "There's nothing waiting for confirmation.", nil
	}

	if !positive {
		d, err := m.drafts.ResolveNegative(ctx, sessionID)
		if errors.Is(err, draft.ErrNoPendingDraft) {
			return "There's nothing waiting for confirmation.", nil
		}
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Okay, I won't go ahead with the %s.", describeDraftType(d.Type)), nil
	}

	d, summary, err := m.drafts.ResolvePositive(ctx, sessionID)
	if errors.Is(err, draft.ErrNoPendingDraft) {
		return "There's nothing waiting for confirmation.", nil
	}
	if err != nil {
		if d != nil {
			return fmt.Sprintf("I tried to go ahead with the %s, but it failed: %v", describeDraftType(d.Type), err), nil
		}
		return "", err
	}
	return Scrub(summary), nil
}

// absorb merges a step's structured output into the gathered data. This
// is the only place workflow data accumulates; the executor just
// appends records.
func (m *Master) absorb(wc *WorkflowContext, rec *StepRecord) {
	if rec.Result == nil {
		return
	}
	for k, v := range rec.Result.Data {
		wc.Gather(k, v)
	}
	if rec.Agent == "contacts" && rec.Status == StepCompleted {
		name, _ := rec.Result.Data["name"].(string)
		email, _ := rec.Result.Data["email"].(string)
		if name != "" && agent.IsAddress(email) {
			wc.Gather("contact:"+strings.ToLower(name), email)
		}
	}
}

func (m *Master) finish(ctx context.Context, wc *WorkflowContext, reason TerminationReason, response string) {
	m.emit(ctx, "workflow.finished", wc.User, map[string]any{
		"reason": string(reason),
		"steps":  len(wc.CompletedSteps),
	})
	m.logger.Info("workflow finished",
		zap.String("session", wc.User.SessionID),
		zap.String("reason", string(reason)),
		zap.Int("steps", len(wc.CompletedSteps)))

	if m.runs != nil {
		if err := m.runs.RecordRun(ctx, wc, reason, response); err != nil {
			m.logger.Warn("run recording failed", zap.Error(err))
		}
	}
}

func (m *Master) emit(ctx context.Context, event string, user UserContext, payload map[string]any) {
	if m.events == nil {
		return
	}
	m.events.Emit(ctx, event, user, payload)
}

func describeDraftType(t string) string {
	return strings.ReplaceAll(t, "_", " ")
}
