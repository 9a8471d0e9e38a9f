package agent

import (
	"context"
	"time"

	"github.com/nidhogg/majordomo/internal/provider"
	"go.uber.org/zap"
)

const contentSystemPrompt = `You write short, clear workplace content: email bodies,
meeting agendas, summaries, and announcements. Return only the requested text,
with no preamble.`

// ContentAgent drafts prose (email bodies, agendas, summaries) through
// the LLM router. It performs no external side effects.
type ContentAgent struct {
	llm    *provider.Router
	logger *zap.Logger
}

// NewContentAgent creates the content-creation sub-agent.
func NewContentAgent(llm *provider.Router, logger *zap.Logger) *ContentAgent {
	return &ContentAgent{llm: llm, logger: logger}
}

// Describe implements SubAgent.
func (a *ContentAgent) Describe() Descriptor {
	return Descriptor{
		Name:         "content",
		Description:  "Writes text: email bodies, meeting agendas, summaries, announcements.",
		Capabilities: []string{"write", "draft", "compose", "agenda", "summary", "summarize", "text"},
		Operations: []Operation{
			{
				Name:        "create_content",
				Description: "Write a piece of text from a description of what's needed",
				Examples:    []string{"write a short agenda for tomorrow's demo meeting"},
			},
		},
		Timeout: 45 * time.Second,
		Enabled: true,
	}
}

// Execute implements SubAgent.
func (a *ContentAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	text, err := a.llm.Complete(ctx, "content", contentSystemPrompt, req.Instruction)
	if err != nil {
		return Failure("content generation failed: " + err.Error()), nil
	}
	return &Result{
		Success:        true,
		Response:       text,
		StructuredData: map[string]any{"text": text},
	}, nil
}
