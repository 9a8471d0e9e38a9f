package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// addressRe matches a local@domain shaped recipient.
var addressRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// IsAddress reports whether s looks like an email address. The planner
// uses this to decide when a recipient still needs contact resolution.
func IsAddress(s string) bool {
	return addressRe.MatchString(strings.TrimSpace(s))
}

// EmailAgent wraps a mail service API. Sending is a confirmed operation:
// the first pass returns a Proposal, and only a confirmed re-execution
// performs the send.
type EmailAgent struct {
	baseURL string
	client  *http.Client
	enabled bool
	logger  *zap.Logger
}

// NewEmailAgent creates the email sub-agent.
func NewEmailAgent(baseURL string, logger *zap.Logger) *EmailAgent {
	return &EmailAgent{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 20 * time.Second},
		enabled: baseURL != "",
		logger:  logger,
	}
}

// Describe implements SubAgent.
func (a *EmailAgent) Describe() Descriptor {
	return Descriptor{
		Name:         "email",
		Description:  "Sends and searches email through the user's mailbox.",
		Capabilities: []string{"email", "mail", "send", "inbox", "message", "reply"},
		Operations: []Operation{
			{
				Name:                 "send_email",
				Description:          "Send an email to a resolved address (to, subject, body)",
				RequiresConfirmation: true,
				Examples:             []string{"email john@example.com about the demo"},
			},
			{
				Name:        "search_email",
				Description: "Search the mailbox for messages matching a query",
				Examples:    []string{"find the latest email from Sarah"},
			},
		},
		Service: "google",
		Timeout: 20 * time.Second,
		Enabled: a.enabled,
	}
}

// Execute implements SubAgent.
func (a *EmailAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	op := req.Operation
	if op == "" {
		if strings.Contains(strings.ToLower(req.Instruction), "search") ||
			strings.Contains(strings.ToLower(req.Instruction), "find") {
			op = "search_email"
		} else {
			op = "send_email"
		}
	}

	switch op {
	case "send_email":
		return a.send(ctx, req)
	case "search_email":
		return a.searchInbox(ctx, req)
	default:
		return Failure(fmt.Sprintf("email agent has no operation %q", op)), nil
	}
}

func (a *EmailAgent) send(ctx context.Context, req *Request) (*Result, error) {
	to := req.Param("to")
	subject := req.Param("subject")
	body := req.Param("body")

	if to == "" {
		return Failure("missing recipient for send_email"), nil
	}
	if !IsAddress(to) {
		// Downstream agents assume pre-resolved identifiers.
		return Failure(fmt.Sprintf("recipient %q is not a resolved email address", to)), nil
	}
	if subject == "" {
		subject = "(no subject)"
	}

	if !req.Confirmed {
		return &Result{
			Success:  true,
			Response: fmt.Sprintf("Prepared an email to %s: %q", to, subject),
			Proposal: &Proposal{
				Type:       "send_email",
				Parameters: map[string]string{"to": to, "subject": subject, "body": body},
				Preview:    fmt.Sprintf("To: %s\nSubject: %s\n\n%s", to, subject, body),
				Risk:       RiskMedium,
			},
		}, nil
	}

	payload := map[string]string{"to": to, "subject": subject, "body": body}
	if err := a.post(ctx, "/messages/send", req.AuthToken, payload); err != nil {
		return Failure(fmt.Sprintf("send failed: %v", err)), nil
	}
	return &Result{
		Success:  true,
		Response: fmt.Sprintf("Sent the email %q to %s", subject, to),
		StructuredData: map[string]any{
			"to":      to,
			"subject": subject,
		},
	}, nil
}

func (a *EmailAgent) searchInbox(ctx context.Context, req *Request) (*Result, error) {
	query := req.Param("query")
	if query == "" {
		query = req.Instruction
	}

	u := fmt.Sprintf("%s/messages/search?q=%s", a.baseURL, url.QueryEscape(query))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if req.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.AuthToken)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Failure(fmt.Sprintf("inbox search failed: %v", err)), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Failure(fmt.Sprintf("mail API returned %d", resp.StatusCode)), nil
	}

	var out struct {
		Messages []struct {
			From    string `json:"from"`
			Subject string `json:"subject"`
			Snippet string `json:"snippet"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Failure(fmt.Sprintf("decode mail response: %v", err)), nil
	}

	if len(out.Messages) == 0 {
		return &Result{Success: true, Response: "No matching emails found."}, nil
	}
	var lines []string
	for _, m := range out.Messages {
		lines = append(lines, fmt.Sprintf("%s — %s: %s", m.From, m.Subject, m.Snippet))
	}
	return &Result{
		Success:        true,
		Response:       fmt.Sprintf("Found %d matching email(s):\n%s", len(out.Messages), strings.Join(lines, "\n")),
		StructuredData: map[string]any{"count": len(out.Messages)},
	}, nil
}

func (a *EmailAgent) post(ctx context.Context, path, token string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mail API returned %d", resp.StatusCode)
	}
	return nil
}
