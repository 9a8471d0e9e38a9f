package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CalendarAgent wraps a calendar service API. Event creation is a
// confirmed operation.
type CalendarAgent struct {
	baseURL string
	client  *http.Client
	enabled bool
	logger  *zap.Logger
}

// NewCalendarAgent creates the calendar sub-agent.
func NewCalendarAgent(baseURL string, logger *zap.Logger) *CalendarAgent {
	return &CalendarAgent{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 20 * time.Second},
		enabled: baseURL != "",
		logger:  logger,
	}
}

// Describe implements SubAgent.
func (a *CalendarAgent) Describe() Descriptor {
	return Descriptor{
		Name:         "calendar",
		Description:  "Creates and lists calendar events.",
		Capabilities: []string{"calendar", "meeting", "schedule", "event", "appointment", "availability"},
		Operations: []Operation{
			{
				Name:                 "create_event",
				Description:          "Create a calendar event (title, start, end, attendees as resolved addresses)",
				RequiresConfirmation: true,
				Examples:             []string{"schedule a meeting with sarah@example.com tomorrow at 2pm"},
			},
			{
				Name:        "list_events",
				Description: "List upcoming events in a time range",
				Examples:    []string{"what's on my calendar tomorrow?"},
			},
		},
		Service: "google",
		Timeout: 20 * time.Second,
		Enabled: a.enabled,
	}
}

// Execute implements SubAgent.
func (a *CalendarAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	op := req.Operation
	if op == "" {
		lower := strings.ToLower(req.Instruction)
		if strings.Contains(lower, "list") || strings.Contains(lower, "what") {
			op = "list_events"
		} else {
			op = "create_event"
		}
	}

	switch op {
	case "create_event":
		return a.createEvent(ctx, req)
	case "list_events":
		return a.listEvents(ctx, req)
	default:
		return Failure(fmt.Sprintf("calendar agent has no operation %q", op)), nil
	}
}

func (a *CalendarAgent) createEvent(ctx context.Context, req *Request) (*Result, error) {
	title := req.Param("title")
	start := req.Param("start")
	end := req.Param("end")
	attendees := req.Param("attendees")

	if title == "" {
		return Failure("missing title for create_event"), nil
	}
	if start == "" {
		return Failure("missing start time for create_event"), nil
	}
	for _, att := range splitList(attendees) {
		if !IsAddress(att) {
			return Failure(fmt.Sprintf("attendee %q is not a resolved email address", att)), nil
		}
	}

	if !req.Confirmed {
		preview := fmt.Sprintf("Event: %s\nStart: %s", title, start)
		if end != "" {
			preview += "\nEnd: " + end
		}
		if attendees != "" {
			preview += "\nAttendees: " + attendees
		}
		return &Result{
			Success:  true,
			Response: fmt.Sprintf("Prepared the event %q at %s", title, start),
			Proposal: &Proposal{
				Type:       "create_event",
				Parameters: map[string]string{"title": title, "start": start, "end": end, "attendees": attendees},
				Preview:    preview,
				Risk:       RiskLow,
			},
		}, nil
	}

	payload := map[string]any{
		"title":     title,
		"start":     start,
		"end":       end,
		"attendees": splitList(attendees),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AuthToken)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Failure(fmt.Sprintf("event creation failed: %v", err)), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Failure(fmt.Sprintf("calendar API returned %d", resp.StatusCode)), nil
	}

	return &Result{
		Success:  true,
		Response: fmt.Sprintf("Created the event %q starting %s", title, start),
		StructuredData: map[string]any{
			"title": title,
			"start": start,
		},
	}, nil
}

func (a *CalendarAgent) listEvents(ctx context.Context, req *Request) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/events", nil)
	if err != nil {
		return nil, err
	}
	if req.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AuthToken)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Failure(fmt.Sprintf("event listing failed: %v", err)), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Failure(fmt.Sprintf("calendar API returned %d", resp.StatusCode)), nil
	}

	var out struct {
		Events []struct {
			Title string `json:"title"`
			Start string `json:"start"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Failure(fmt.Sprintf("decode calendar response: %v", err)), nil
	}

	if len(out.Events) == 0 {
		return &Result{Success: true, Response: "The calendar is clear."}, nil
	}
	var lines []string
	for _, e := range out.Events {
		lines = append(lines, fmt.Sprintf("%s at %s", e.Title, e.Start))
	}
	return &Result{
		Success:        true,
		Response:       fmt.Sprintf("Upcoming events:\n%s", strings.Join(lines, "\n")),
		StructuredData: map[string]any{"count": len(out.Events)},
	}, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
