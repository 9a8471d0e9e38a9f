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

// SearchAgent wraps a web-search API (Tavily-compatible).
type SearchAgent struct {
	endpoint string
	apiKey   string
	client   *http.Client
	enabled  bool
	logger   *zap.Logger
}

// NewSearchAgent creates the web-search sub-agent.
func NewSearchAgent(endpoint, apiKey string, logger *zap.Logger) *SearchAgent {
	if endpoint == "" {
		endpoint = "https://api.tavily.com/search"
	}
	return &SearchAgent{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 25 * time.Second},
		enabled:  apiKey != "",
		logger:   logger,
	}
}

// Describe implements SubAgent.
func (a *SearchAgent) Describe() Descriptor {
	return Descriptor{
		Name:         "search",
		Description:  "Searches the web for current information.",
		Capabilities: []string{"search", "web", "news", "lookup", "research", "latest"},
		Operations: []Operation{
			{
				Name:        "web_search",
				Description: "Run a web search and return the top results",
				Examples:    []string{"search for the latest Go release notes"},
			},
		},
		Timeout: 25 * time.Second,
		Enabled: a.enabled,
	}
}

// Execute implements SubAgent.
func (a *SearchAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	query := req.Param("query")
	if query == "" {
		query = req.Instruction
	}
	if strings.TrimSpace(query) == "" {
		return Failure("empty search query"), nil
	}

	payload := map[string]any{
		"api_key":     a.apiKey,
		"query":       query,
		"max_results": 5,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return Failure(fmt.Sprintf("web search failed: %v", err)), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Failure(fmt.Sprintf("search API returned %d", resp.StatusCode)), nil
	}

	var out struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Failure(fmt.Sprintf("decode search response: %v", err)), nil
	}

	if len(out.Results) == 0 {
		return &Result{Success: true, Response: fmt.Sprintf("No results found for %q.", query)}, nil
	}
	var lines []string
	for _, r := range out.Results {
		lines = append(lines, fmt.Sprintf("%s — %s", r.Title, r.Content))
	}
	return &Result{
		Success:        true,
		Response:       fmt.Sprintf("Top results for %q:\n%s", query, strings.Join(lines, "\n")),
		StructuredData: map[string]any{"count": len(out.Results)},
	}, nil
}
