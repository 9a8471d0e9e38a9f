package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/agent"
	"github.com/nidhogg/majordomo/internal/draft"
	"github.com/nidhogg/majordomo/internal/gateway"
)

// fakeCoordinator echoes requests and records confirmation decisions.
type fakeCoordinator struct {
	confirmations []bool
}

func (f *fakeCoordinator) Handle(_ context.Context, sessionID, _ string, request string) (string, error) {
	return fmt.Sprintf("handled %q in %s", request, sessionID), nil
}

func (f *fakeCoordinator) HandleConfirmation(_ context.Context, _ string, positive bool) (string, error) {
	f.confirmations = append(f.confirmations, positive)
	if positive {
		return "Done.", nil
	}
	return "Okay, dropped it.", nil
}

type echoAgent struct{}

func (echoAgent) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:         "search",
		Description:  "Searches the web.",
		Capabilities: []string{"search"},
		Enabled:      true,
	}
}

func (echoAgent) Execute(_ context.Context, _ *agent.Request) (*agent.Result, error) {
	return &agent.Result{Success: true}, nil
}

// newTestHandler creates a Handler wired with lightweight in-memory deps.
func newTestHandler(t *testing.T) (*Handler, *fakeCoordinator, *draft.Manager, http.Handler) {
	t.Helper()
	logger := zap.NewNop()

	registry := agent.NewRegistry(logger)
	registry.Register(echoAgent{})

	drafts := draft.NewManager(draft.NewMemoryStore(), time.Hour, logger)
	drafts.SetExecutor(func(_ context.Context, d *draft.Draft) (string, error) {
		return "executed " + d.Type, nil
	})

	gw := gateway.NewGateway(logger)
	broadcaster := gateway.NewBroadcaster(gw, logger)
	restGW := gateway.NewRESTAdapter(logger)

	coord := &fakeCoordinator{}
	h := NewHandler(coord, registry, drafts, nil, broadcaster, restGW, logger)
	return h, coord, drafts, h.Router()
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, _, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestListAgents(t *testing.T) {
	_, _, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/agents")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var agents []agent.Descriptor
	decodeJSON(t, resp, &agents)
	if len(agents) != 1 || agents[0].Name != "search" {
		t.Errorf("agents = %+v", agents)
	}
}

func TestHandleRequest(t *testing.T) {
	_, _, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/requests", map[string]string{
		"user_id": "u1",
		"message": "find the latest release notes",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body requestResponse
	decodeJSON(t, resp, &body)
	if body.SessionID != "api:u1" {
		t.Errorf("session_id = %q", body.SessionID)
	}
	if body.Response == "" {
		t.Error("empty response")
	}

	// Validation: message required.
	resp = postJSON(t, ts, "/api/requests", map[string]string{"user_id": "u1"})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for missing message, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestConfirmEndpoint(t *testing.T) {
	_, coord, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/requests/confirm", map[string]string{
		"session_id": "s1", "decision": "yes",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, ts, "/api/requests/confirm", map[string]string{
		"session_id": "s1", "decision": "no",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	if len(coord.confirmations) != 2 || !coord.confirmations[0] || coord.confirmations[1] {
		t.Errorf("confirmations = %v", coord.confirmations)
	}

	// Validation: decision must be yes or no.
	resp = postJSON(t, ts, "/api/requests/confirm", map[string]string{
		"session_id": "s1", "decision": "maybe",
	})
	if resp.StatusCode != 400 {
		t.Errorf("expected 400 for bad decision, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDraftEndpoints(t *testing.T) {
	_, _, drafts, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Empty list first.
	resp := getJSON(t, ts, "/api/sessions/s1/drafts")
	var pending []draft.Draft
	decodeJSON(t, resp, &pending)
	if len(pending) != 0 {
		t.Fatalf("expected no drafts, got %d", len(pending))
	}

	if _, err := drafts.Create(context.Background(), draft.CreateParams{
		SessionID: "s1", Type: "send_email", Preview: "To: a@b.com",
	}); err != nil {
		t.Fatalf("create draft: %v", err)
	}

	resp = getJSON(t, ts, "/api/sessions/s1/drafts")
	decodeJSON(t, resp, &pending)
	if len(pending) != 1 || pending[0].Type != "send_email" {
		t.Fatalf("drafts = %+v", pending)
	}

	// Cancel drops it without executing.
	resp = deleteReq(t, ts, "/api/sessions/s1/drafts")
	if resp.StatusCode != 200 {
		t.Fatalf("cancel: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = deleteReq(t, ts, "/api/sessions/s1/drafts")
	if resp.StatusCode != 404 {
		t.Errorf("cancel empty: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRunsUnavailableWithoutStore(t *testing.T) {
	_, _, _, router := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/sessions/s1/runs")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
