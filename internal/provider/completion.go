package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// maxJSONAttempts bounds retries when a backend returns unparsable JSON.
const maxJSONAttempts = 2

// Complete sends a plain text completion for the given role.
func (r *Router) Complete(ctx context.Context, role, system, prompt string) (string, error) {
	req := &ChatRequest{
		Messages:  buildMessages(system, prompt),
		MaxTokens: 2048,
	}
	resp, err := r.Route(ctx, role, req)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// CompleteJSON sends a structured completion for the given role and
// unmarshals the response into out. Markdown code fences around the
// object are tolerated. Unparsable output is retried once.
func (r *Router) CompleteJSON(ctx context.Context, role, system, prompt string, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxJSONAttempts; attempt++ {
		req := &ChatRequest{
			Messages:  buildMessages(system, prompt),
			MaxTokens: 2048,
			JSONMode:  true,
		}
		resp, err := r.Route(ctx, role, req)
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(StripFences(resp.Content)), out); err != nil {
			lastErr = fmt.Errorf("parse %s response: %w", role, err)
			continue
		}
		return nil
	}
	return lastErr
}

func buildMessages(system, prompt string) []Message {
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	return append(msgs, Message{Role: "user", Content: prompt})
}

// StripFences removes a surrounding markdown code fence, if present,
// and trims to the outermost JSON object.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.IndexAny(s, "{[")
	if start > 0 {
		s = s[start:]
	}
	return strings.TrimSpace(s)
}
