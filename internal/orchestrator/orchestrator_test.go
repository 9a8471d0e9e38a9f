package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/agent"
	"github.com/nidhogg/majordomo/internal/draft"
)

// scriptLLM replays canned responses per role and records every prompt
// it was handed. When a role's queue runs dry the default response is
// used; roles with neither fail the call.
type scriptLLM struct {
	mu          sync.Mutex
	jsonQueue   map[string][]string
	jsonDefault map[string]string
	textQueue   map[string][]string
	textDefault map[string]string
	prompts     map[string][]string
}

func newScriptLLM() *scriptLLM {
	return &scriptLLM{
		jsonQueue:   make(map[string][]string),
		jsonDefault: make(map[string]string),
		textQueue:   make(map[string][]string),
		textDefault: make(map[string]string),
		prompts:     make(map[string][]string),
	}
}

func (s *scriptLLM) queueJSON(role string, responses ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jsonQueue[role] = append(s.jsonQueue[role], responses...)
}

func (s *scriptLLM) defaultJSON(role, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jsonDefault[role] = response
}

func (s *scriptLLM) defaultText(role, response string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textDefault[role] = response
}

func (s *scriptLLM) next(queue map[string][]string, defaults map[string]string, role string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := queue[role]; len(q) > 0 {
		queue[role] = q[1:]
		return q[0], nil
	}
	if d, ok := defaults[role]; ok {
		return d, nil
	}
	return "", fmt.Errorf("no scripted response for role %s", role)
}

func (s *scriptLLM) record(role, prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[role] = append(s.prompts[role], prompt)
}

func (s *scriptLLM) promptsFor(role string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[role]...)
}

func (s *scriptLLM) Complete(_ context.Context, role, _, prompt string) (string, error) {
	s.record(role, prompt)
	return s.next(s.textQueue, s.textDefault, role)
}

func (s *scriptLLM) CompleteJSON(_ context.Context, role, _, prompt string, out any) error {
	s.record(role, prompt)
	resp, err := s.next(s.jsonQueue, s.jsonDefault, role)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(resp), out)
}

// fakeAgent is a scriptable sub-agent that records every request.
type fakeAgent struct {
	desc agent.Descriptor
	fn   func(ctx context.Context, req *agent.Request) (*agent.Result, error)

	mu    sync.Mutex
	calls []*agent.Request
}

func (f *fakeAgent) Describe() agent.Descriptor { return f.desc }

func (f *fakeAgent) Execute(ctx context.Context, req *agent.Request) (*agent.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeAgent) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeAgent) lastCall() *agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

func newContactsFake(addresses map[string]string) *fakeAgent {
	return &fakeAgent{
		desc: agent.Descriptor{
			Name:         "contacts",
			Description:  "Resolves people's names to addresses.",
			Capabilities: []string{"contact", "person", "resolve", "address"},
			Operations:   []agent.Operation{{Name: "resolve_contact", Description: "Look up a contact"}},
			Enabled:      true,
		},
		fn: func(_ context.Context, req *agent.Request) (*agent.Result, error) {
			name := req.Param("name")
			email, ok := addresses[name]
			if !ok {
				return agent.Failure(fmt.Sprintf("no contact named %q", name)), nil
			}
			return &agent.Result{
				Success:        true,
				Response:       fmt.Sprintf("Resolved %s to %s", name, email),
				StructuredData: map[string]any{"name": name, "email": email},
			}, nil
		},
	}
}

func newEmailFake() *fakeAgent {
	return &fakeAgent{
		desc: agent.Descriptor{
			Name:         "email",
			Description:  "Sends and searches email.",
			Capabilities: []string{"email", "send", "mail"},
			Operations: []agent.Operation{
				{Name: "send_email", Description: "Send an email", RequiresConfirmation: true},
			},
			Enabled: true,
		},
		fn: func(_ context.Context, req *agent.Request) (*agent.Result, error) {
			to := req.Param("to")
			if !agent.IsAddress(to) {
				return agent.Failure(fmt.Sprintf("recipient %q is not a resolved email address", to)), nil
			}
			if !req.Confirmed {
				return &agent.Result{
					Success:  true,
					Response: "Prepared an email to " + to,
					Proposal: &agent.Proposal{
						Type:       "send_email",
						Parameters: req.Parameters,
						Preview:    "To: " + to,
						Risk:       agent.RiskMedium,
					},
				}, nil
			}
			return &agent.Result{
				Success:  true,
				Response: "Sent the email to " + to,
			}, nil
		},
	}
}

func newSearchFake() *fakeAgent {
	return &fakeAgent{
		desc: agent.Descriptor{
			Name:         "search",
			Description:  "Searches the web.",
			Capabilities: []string{"search", "web", "lookup"},
			Operations:   []agent.Operation{{Name: "web_search", Description: "Run a web search"}},
			Enabled:      true,
		},
		fn: func(_ context.Context, _ *agent.Request) (*agent.Result, error) {
			return &agent.Result{Success: true, Response: "Found 3 results."}, nil
		},
	}
}

type masterFixture struct {
	master   *Master
	llm      *scriptLLM
	registry *agent.Registry
	drafts   *draft.Manager
}

func newMasterFixture(t *testing.T, maxSteps int, agents ...agent.SubAgent) *masterFixture {
	t.Helper()
	logger := zap.NewNop()
	llm := newScriptLLM()
	registry := agent.NewRegistry(logger)
	for _, a := range agents {
		registry.Register(a)
	}

	drafts := draft.NewManager(draft.NewMemoryStore(), time.Hour, logger)
	gatherer := NewGatherer(nil, logger)
	executor := NewExecutor(registry, nil, time.Second, logger)

	master := NewMaster(MasterParams{
		Planner:     NewPlanner(llm, registry, gatherer, logger),
		Executor:    executor,
		Reevaluator: NewReevaluator(llm, logger),
		Composer:    NewComposer(llm, logger),
		Drafts:      drafts,
		MaxSteps:    maxSteps,
		Logger:      logger,
	})
	return &masterFixture{master: master, llm: llm, registry: registry, drafts: drafts}
}
