package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nidhogg/majordomo/internal/directory"
	"go.uber.org/zap"
)

// ContactsAgent resolves person names to addresses through an upstream
// directory API, with a graph cache in front of it.
type ContactsAgent struct {
	baseURL string
	cache   directory.Cache // may be nil
	client  *http.Client
	enabled bool
	logger  *zap.Logger
}

// NewContactsAgent creates the contacts sub-agent.
func NewContactsAgent(baseURL string, cache directory.Cache, logger *zap.Logger) *ContactsAgent {
	return &ContactsAgent{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		cache:   cache,
		client:  &http.Client{Timeout: 15 * time.Second},
		enabled: baseURL != "",
		logger:  logger,
	}
}

// Describe implements SubAgent.
func (a *ContactsAgent) Describe() Descriptor {
	return Descriptor{
		Name:         "contacts",
		Description:  "Looks up people and resolves names to email addresses and Slack IDs.",
		Capabilities: []string{"contact", "contacts", "person", "people", "resolve", "who", "address"},
		Operations: []Operation{
			{
				Name:        "resolve_contact",
				Description: "Resolve a person's name to their email address and Slack ID",
				Examples:    []string{"find John's email address", "who is Sarah?"},
			},
		},
		Service: "contacts",
		Timeout: 15 * time.Second,
		Enabled: a.enabled,
	}
}

// Execute implements SubAgent.
func (a *ContactsAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	name := req.Param("name")
	if name == "" {
		name = extractQuotedName(req.Instruction)
	}
	if name == "" {
		return Failure("no person name to resolve"), nil
	}

	if a.cache != nil {
		if addr, ok, err := a.cache.Lookup(ctx, name); err != nil {
			a.logger.Warn("directory cache lookup failed", zap.Error(err))
		} else if ok {
			return resolved(name, addr), nil
		}
	}

	addr, displayName, err := a.search(ctx, name, req.AuthToken)
	if err != nil {
		return Failure(fmt.Sprintf("contact lookup failed: %v", err)), nil
	}
	if addr.Email == "" && addr.SlackID == "" {
		return Failure(fmt.Sprintf("no contact found matching %q", name)), nil
	}

	if a.cache != nil {
		if err := a.cache.Record(ctx, name, addr); err != nil {
			a.logger.Warn("directory cache record failed", zap.Error(err))
		}
	}
	if displayName == "" {
		displayName = name
	}
	return resolved(displayName, addr), nil
}

func resolved(name string, addr directory.Address) *Result {
	data := map[string]any{"name": name}
	if addr.Email != "" {
		data["email"] = addr.Email
	}
	if addr.SlackID != "" {
		data["slack_id"] = addr.SlackID
	}
	return &Result{
		Success:        true,
		Response:       fmt.Sprintf("Resolved %s to %s", name, addr.Email),
		StructuredData: data,
	}
}

func (a *ContactsAgent) search(ctx context.Context, name, token string) (directory.Address, string, error) {
	u := fmt.Sprintf("%s/contacts/search?q=%s", a.baseURL, url.QueryEscape(name))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return directory.Address{}, "", err
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return directory.Address{}, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return directory.Address{}, "", fmt.Errorf("directory API returned %d", resp.StatusCode)
	}

	var out struct {
		Contacts []struct {
			Name    string `json:"name"`
			Email   string `json:"email"`
			SlackID string `json:"slack_id"`
		} `json:"contacts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return directory.Address{}, "", fmt.Errorf("decode directory response: %w", err)
	}
	if len(out.Contacts) == 0 {
		return directory.Address{}, "", nil
	}
	c := out.Contacts[0]
	return directory.Address{Email: c.Email, SlackID: c.SlackID}, c.Name, nil
}

// extractQuotedName pulls a "quoted" name out of an instruction, else the
// last capitalized word. Good enough for the planner's phrasing, which
// always passes the name as a parameter anyway.
func extractQuotedName(s string) string {
	if i := strings.Index(s, `"`); i >= 0 {
		if j := strings.Index(s[i+1:], `"`); j >= 0 {
			return s[i+1 : i+1+j]
		}
	}
	var last string
	for _, w := range strings.Fields(s) {
		trimmed := strings.Trim(w, ".,!?:;")
		if len(trimmed) > 1 && trimmed[0] >= 'A' && trimmed[0] <= 'Z' {
			last = trimmed
		}
	}
	return last
}
