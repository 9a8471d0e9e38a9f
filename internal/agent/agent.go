package agent

import (
	"context"
	"errors"
	"time"
)

// ErrAgentNotFound is returned when an agent name doesn't exist in the registry.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAgentDisabled is returned when a registered agent is not enabled.
var ErrAgentDisabled = errors.New("agent disabled")

// Request is the uniform natural-language request every sub-agent accepts.
type Request struct {
	Instruction string            `json:"instruction"`
	Operation   string            `json:"operation,omitempty"` // optional hint from the planner
	Parameters  map[string]string `json:"parameters,omitempty"`
	SessionID   string            `json:"session_id"`
	UserID      string            `json:"user_id"`
	AuthToken   string            `json:"-"`
	// Confirmed marks the re-execution of a user-approved draft. Agents
	// skip the propose phase and perform the side effect.
	Confirmed bool `json:"confirmed,omitempty"`
}

// Param returns a named parameter, or the empty string.
func (r *Request) Param(key string) string {
	if r.Parameters == nil {
		return ""
	}
	return r.Parameters[key]
}

// Result is the normalized sub-agent response.
type Result struct {
	Success        bool           `json:"success"`
	Response       string         `json:"response"` // natural-language summary
	Error          string         `json:"error,omitempty"`
	StructuredData map[string]any `json:"structured_data,omitempty"`
	// Proposal is non-nil when the operation is side-effecting and needs
	// user confirmation before it runs.
	Proposal *Proposal `json:"proposal,omitempty"`
}

// Failure builds a failed Result with the given error message.
func Failure(msg string) *Result {
	return &Result{Success: false, Error: msg, Response: msg}
}

// RiskLevel classifies how destructive a proposed action is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Proposal is a side-effecting action an agent wants confirmed first.
type Proposal struct {
	Type       string            `json:"type"`
	Parameters map[string]string `json:"parameters"`
	Preview    string            `json:"preview"`
	Risk       RiskLevel         `json:"risk"`
}

// Operation describes one capability a sub-agent exposes.
type Operation struct {
	Name                 string   `json:"name"`
	Description          string   `json:"description"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	Examples             []string `json:"examples,omitempty"`
}

// Descriptor is the registry manifest entry for a sub-agent, consumed by
// the planner when choosing a target.
type Descriptor struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Capabilities []string      `json:"capabilities"`
	Operations   []Operation   `json:"operations"`
	Service      string        `json:"service,omitempty"` // OAuth service name; empty = no auth
	Timeout      time.Duration `json:"-"`                 // per-step budget; zero = system default
	Enabled      bool          `json:"enabled"`
}

// RequiresConfirmation reports whether the named operation must be
// confirmed by the user before executing.
func (d Descriptor) RequiresConfirmation(operation string) bool {
	for _, op := range d.Operations {
		if op.Name == operation {
			return op.RequiresConfirmation
		}
	}
	return false
}

// SubAgent is a capability unit wrapping exactly one external service.
// Each implementation maps natural language onto its own operations and
// validates parameters; none carry cross-agent coordination logic.
type SubAgent interface {
	Describe() Descriptor
	Execute(ctx context.Context, req *Request) (*Result, error)
}
