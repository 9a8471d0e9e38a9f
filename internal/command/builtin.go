package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Interfaces — kept here so builtin commands avoid importing concrete types.
// ---------------------------------------------------------------------------

// AgentLister lists registered sub-agents.
type AgentLister interface {
	List() []AgentInfo
}

// AgentInfo describes a registered sub-agent.
type AgentInfo struct {
	Name        string
	Description string
	Operations  []string
	Enabled     bool
}

// DraftAccess exposes a session's pending confirmation drafts.
type DraftAccess interface {
	Pending(ctx context.Context, sessionID string) ([]DraftInfo, error)
	Cancel(ctx context.Context, sessionID string) (DraftInfo, error)
}

// ErrNothingPending is returned by DraftAccess.Cancel when the session
// has no pending draft.
var ErrNothingPending = errors.New("nothing pending")

// DraftInfo describes one pending confirmation draft.
type DraftInfo struct {
	ID        string
	Type      string
	Preview   string
	Risk      string
	ExpiresAt time.Time
}

// StatusProvider provides adapter connection status.
type StatusProvider interface {
	StatusAll() []AdapterStatus
}

// AdapterStatus describes the connection state of a platform adapter.
type AdapterStatus struct {
	Name      string
	Platform  string
	Connected bool
}

// ---------------------------------------------------------------------------
// RegisterBuiltins wires up the built-in slash commands.
// ---------------------------------------------------------------------------

// RegisterBuiltins registers /help, /agents, /drafts, /cancel, and /status.
func RegisterBuiltins(reg *Registry, agents AgentLister, drafts DraftAccess, status StatusProvider) {
	reg.Register(helpCommand(reg))
	reg.Register(agentsCommand(agents))
	reg.Register(draftsCommand(drafts))
	reg.Register(cancelCommand(drafts))
	reg.Register(statusCommand(status))
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			cmds := reg.List()
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range cmds {
				fmt.Fprintf(&b, "  /%s — %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /agents
// ---------------------------------------------------------------------------

func agentsCommand(lister AgentLister) *Command {
	return &Command{
		Name:        "agents",
		Description: "List the assistant's sub-agents and their operations",
		Usage:       "/agents",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			agents := lister.List()
			if len(agents) == 0 {
				return &CommandResult{Content: "No agents registered."}, nil
			}
			var b strings.Builder
			b.WriteString("Sub-agents:\n")
			for _, a := range agents {
				state := "enabled"
				if !a.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(&b, "  %s — %s (%s)\n", a.Name, a.Description, state)
				if len(a.Operations) > 0 {
					fmt.Fprintf(&b, "    operations: %s\n", strings.Join(a.Operations, ", "))
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /drafts
// ---------------------------------------------------------------------------

func draftsCommand(drafts DraftAccess) *Command {
	return &Command{
		Name:        "drafts",
		Description: "Show actions waiting for your confirmation",
		Usage:       "/drafts",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			pending, err := drafts.Pending(ctx, cc.SessionID)
			if err != nil {
				return nil, err
			}
			if len(pending) == 0 {
				return &CommandResult{Content: "Nothing is waiting for confirmation."}, nil
			}
			var b strings.Builder
			b.WriteString("Waiting for confirmation (newest first):\n")
			for i, d := range pending {
				fmt.Fprintf(&b, "%d. %s (risk: %s, expires %s)\n%s\n",
					i+1, strings.ReplaceAll(d.Type, "_", " "), d.Risk,
					d.ExpiresAt.Format("15:04"), indent(d.Preview))
			}
			b.WriteString("Reply \"yes\" to run the newest, or /cancel to drop it.")
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /cancel
// ---------------------------------------------------------------------------

func cancelCommand(drafts DraftAccess) *Command {
	return &Command{
		Name:        "cancel",
		Description: "Drop the newest pending confirmation draft",
		Usage:       "/cancel",
		Handler: func(ctx context.Context, _ string, cc *CommandContext) (*CommandResult, error) {
			d, err := drafts.Cancel(ctx, cc.SessionID)
			if errors.Is(err, ErrNothingPending) {
				return &CommandResult{Content: "Nothing is waiting for confirmation."}, nil
			}
			if err != nil {
				return nil, err
			}
			return &CommandResult{
				Content: fmt.Sprintf("Dropped the pending %s.", strings.ReplaceAll(d.Type, "_", " ")),
			}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /status
// ---------------------------------------------------------------------------

func statusCommand(provider StatusProvider) *Command {
	return &Command{
		Name:        "status",
		Description: "Show adapter connection status",
		Usage:       "/status",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			adapters := provider.StatusAll()
			if len(adapters) == 0 {
				return &CommandResult{Content: "No adapters configured."}, nil
			}
			var b strings.Builder
			b.WriteString("Adapter status:\n")
			for _, a := range adapters {
				state := "disconnected"
				if a.Connected {
					state = "connected"
				}
				fmt.Fprintf(&b, "  %s (%s): %s\n", a.Name, a.Platform, state)
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

func indent(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, l := range lines {
		lines[i] = "    " + l
	}
	return strings.Join(lines, "\n")
}
