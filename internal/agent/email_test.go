package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nidhogg/majordomo/internal/directory"
	"go.uber.org/zap"
)

// fakeCache is an in-memory directory.Cache for tests.
type fakeCache map[string]directory.Address

func (f fakeCache) Lookup(_ context.Context, name string) (directory.Address, bool, error) {
	a, ok := f[strings.ToLower(name)]
	return a, ok, nil
}

func (f fakeCache) Record(_ context.Context, name string, addr directory.Address) error {
	f[strings.ToLower(name)] = addr
	return nil
}

func TestIsAddress(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"john@example.com", true},
		{" sarah@corp.io ", true},
		{"John", false},
		{"john smith", false},
		{"@missing.local", false},
		{"john@nodot", false},
	}
	for _, c := range cases {
		if got := IsAddress(c.in); got != c.want {
			t.Errorf("IsAddress(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestEmailSendProposesBeforeConfirmation(t *testing.T) {
	a := NewEmailAgent("http://mail.local", zap.NewNop())

	res, err := a.Execute(context.Background(), &Request{
		Operation: "send_email",
		Parameters: map[string]string{
			"to": "john@example.com", "subject": "Demo", "body": "See you there.",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Proposal == nil {
		t.Fatal("unconfirmed send must return a proposal")
	}
	if res.Proposal.Type != "send_email" {
		t.Errorf("proposal type = %q", res.Proposal.Type)
	}
}

func TestEmailSendRejectsUnresolvedRecipient(t *testing.T) {
	a := NewEmailAgent("http://mail.local", zap.NewNop())

	res, err := a.Execute(context.Background(), &Request{
		Operation:  "send_email",
		Parameters: map[string]string{"to": "John"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("bare name recipient must fail; resolution is the planner's job")
	}
}

func TestEmailConfirmedSendHitsAPI(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewEmailAgent(srv.URL, zap.NewNop())
	res, err := a.Execute(context.Background(), &Request{
		Operation: "send_email",
		Confirmed: true,
		Parameters: map[string]string{
			"to": "john@example.com", "subject": "Demo", "body": "Agenda attached.",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.Proposal != nil {
		t.Fatalf("confirmed send should execute directly: %+v", res)
	}
	if got["to"] != "john@example.com" {
		t.Errorf("API got recipient %q", got["to"])
	}
}

func TestContactsAgentUsesCacheFirst(t *testing.T) {
	upstreamCalled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalled = true
		w.Write([]byte(`{"contacts":[]}`))
	}))
	defer srv.Close()

	cache := fakeCache{"john": {Email: "john@example.com"}}
	a := NewContactsAgent(srv.URL, cache, zap.NewNop())

	res, err := a.Execute(context.Background(), &Request{
		Operation:  "resolve_contact",
		Parameters: map[string]string{"name": "john"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected cache hit, got %q", res.Error)
	}
	if res.StructuredData["email"] != "john@example.com" {
		t.Errorf("resolved email = %v", res.StructuredData["email"])
	}
	if upstreamCalled {
		t.Error("upstream API should not be called on cache hit")
	}
}

func TestContactsAgentFallsThroughToUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "Sarah" {
			t.Errorf("query = %q", q)
		}
		w.Write([]byte(`{"contacts":[{"name":"Sarah Chen","email":"sarah@example.com"}]}`))
	}))
	defer srv.Close()

	a := NewContactsAgent(srv.URL, fakeCache{}, zap.NewNop())
	res, err := a.Execute(context.Background(), &Request{
		Operation:  "resolve_contact",
		Parameters: map[string]string{"name": "Sarah"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StructuredData["email"] != "sarah@example.com" {
		t.Errorf("resolved email = %v", res.StructuredData["email"])
	}
}
