package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const composerSystemPrompt = `You write the final reply of a personal assistant after its internal workflow finishes.
Write a short, direct answer to the user's original request based on what the steps accomplished.
Speak as the assistant in first person. Mention failures honestly. Never expose internal identifiers, step numbers, or agent names.`

// uuidRe matches opaque identifiers that must never leak into a
// user-facing reply.
var uuidRe = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// Composer turns a finished workflow into the natural-language answer
// shown to the user.
type Composer struct {
	llm    LLM
	logger *zap.Logger
}

// NewComposer creates the response composer.
func NewComposer(llm LLM, logger *zap.Logger) *Composer {
	return &Composer{llm: llm, logger: logger}
}

// Compose renders the final reply. The model draft is preferred; a
// deterministic summary covers model failure so the user always gets an
// answer.
func (c *Composer) Compose(ctx context.Context, wc *WorkflowContext, reason TerminationReason, note string) string {
	if reason == ReasonPlanningFailed {
		return "I could not work out how to handle that request right now. Please try again in a moment."
	}

	reply, err := c.llm.Complete(ctx, "composer", composerSystemPrompt, c.buildPrompt(wc, reason, note))
	if err != nil || strings.TrimSpace(reply) == "" {
		if err != nil {
			c.logger.Warn("compose call failed, using summary fallback", zap.Error(err))
		}
		reply = c.summaryFallback(wc, reason, note)
	}
	return Scrub(reply)
}

// Scrub strips opaque identifiers from user-facing text.
func Scrub(s string) string {
	return strings.TrimSpace(uuidRe.ReplaceAllString(s, ""))
}

func (c *Composer) buildPrompt(wc *WorkflowContext, reason TerminationReason, note string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original request: %s\n\n", wc.OriginalRequest)

	if len(wc.CompletedSteps) == 0 {
		b.WriteString("No steps were needed; answer the request directly.\n")
	} else {
		b.WriteString("What happened:\n")
		for _, s := range wc.CompletedSteps {
			line := s.Description
			if s.Result != nil && s.Result.Summary != "" {
				line = s.Result.Summary
			}
			if s.Status == StepFailed {
				line = "failed: " + line
				if s.Result != nil && s.Result.Error != "" {
					line += " (" + s.Result.Error + ")"
				}
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	switch reason {
	case ReasonStepLimit:
		b.WriteString("\nThe step budget ran out before everything was finished. Say what got done and what remains.\n")
	case ReasonTerminated:
		if note != "" {
			fmt.Fprintf(&b, "\nClosing note from the review module: %s\n", note)
		}
	}
	b.WriteString("\nWrite the reply to the user.")
	return b.String()
}

// summaryFallback builds a plain recap from the step summaries.
func (c *Composer) summaryFallback(wc *WorkflowContext, reason TerminationReason, note string) string {
	if len(wc.CompletedSteps) == 0 {
		if note != "" {
			return note
		}
		return "I don't have anything to act on for that request."
	}

	var done, failed []string
	for _, s := range wc.CompletedSteps {
		line := s.Description
		if s.Result != nil && s.Result.Summary != "" {
			line = s.Result.Summary
		}
		if s.Status == StepFailed {
			if s.Result != nil && s.Result.Error != "" {
				line += " (" + s.Result.Error + ")"
			}
			failed = append(failed, line)
		} else {
			done = append(done, line)
		}
	}

	var b strings.Builder
	if len(done) > 0 {
		b.WriteString("Here's what I did:\n")
		for _, l := range done {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	if len(failed) > 0 {
		b.WriteString("Some things didn't work:\n")
		for _, l := range failed {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	if reason == ReasonStepLimit {
		b.WriteString("I hit my step limit before finishing everything.")
	}
	return strings.TrimSpace(b.String())
}
