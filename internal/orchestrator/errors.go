package orchestrator

import "errors"

// ErrPlanningUnavailable means the planning backend failed and no step
// could be produced. The workflow terminates with an apology rather than
// guessing an action.
var ErrPlanningUnavailable = errors.New("planning unavailable")

// ErrNoSuitableAgent means the planner named a step no enabled agent can
// serve.
var ErrNoSuitableAgent = errors.New("no suitable agent")
