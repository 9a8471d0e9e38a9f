package orchestrator

import "context"

// LLM is the completion surface the orchestrator needs from the provider
// layer. Roles ("planner", "reevaluator", "composer") are bound to
// concrete provider/model pairs at wiring time.
type LLM interface {
	Complete(ctx context.Context, role, system, prompt string) (string, error)
	CompleteJSON(ctx context.Context, role, system, prompt string, out any) error
}
