package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/agent"
	"github.com/nidhogg/majordomo/internal/gateway"
	pgstore "github.com/nidhogg/majordomo/internal/store"
)

// Suppress unused import warning for testcontainers base package.
var _ = testcontainers.GenericContainerRequest{}

// Package-level shared state — set by TestMain, used by all subtests.
var (
	testLogger   *zap.Logger
	testPGStore  *pgstore.Store
	testRedisURL string
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("majordomo_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// ---------------------------------------------------------------------------
// Scripted LLM — deterministic responses per role.
// ---------------------------------------------------------------------------

// scriptLLM returns queued JSON or text responses per role, failing the
// workflow when nothing is scripted.
type scriptLLM struct {
	mu        sync.Mutex
	jsonQueue map[string][]string
	textQueue map[string][]string
	textFill  string
}

func newScriptLLM() *scriptLLM {
	return &scriptLLM{
		jsonQueue: make(map[string][]string),
		textQueue: make(map[string][]string),
	}
}

func (s *scriptLLM) queueJSON(role, raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jsonQueue[role] = append(s.jsonQueue[role], raw)
}

func (s *scriptLLM) Complete(_ context.Context, role, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.textQueue[role]; len(q) > 0 {
		out := q[0]
		s.textQueue[role] = q[1:]
		return out, nil
	}
	if s.textFill != "" {
		return s.textFill, nil
	}
	return "", fmt.Errorf("no scripted text for role %s", role)
}

func (s *scriptLLM) CompleteJSON(_ context.Context, role, _, _ string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.jsonQueue[role]
	if len(q) == 0 {
		return fmt.Errorf("no scripted JSON for role %s", role)
	}
	raw := q[0]
	s.jsonQueue[role] = q[1:]
	return json.Unmarshal([]byte(raw), out)
}

// ---------------------------------------------------------------------------
// Fake sub-agents — deterministic stand-ins for the upstream services.
// ---------------------------------------------------------------------------

// contactsFake resolves names from a fixed address book.
type contactsFake struct {
	book map[string]string
}

func (f *contactsFake) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:         "contacts",
		Description:  "Resolves people's names to email addresses.",
		Capabilities: []string{"contact", "lookup", "resolve"},
		Operations: []agent.Operation{
			{Name: "resolve_contact", Description: "Find a person's address by name."},
		},
		Enabled: true,
	}
}

func (f *contactsFake) Execute(_ context.Context, req *agent.Request) (*agent.Result, error) {
	name := req.Param("name")
	email, ok := f.book[name]
	if !ok {
		return agent.Failure(fmt.Sprintf("no contact named %q", name)), nil
	}
	return &agent.Result{
		Success:        true,
		Response:       fmt.Sprintf("%s is %s", name, email),
		StructuredData: map[string]any{"name": name, "email": email},
	}, nil
}

// emailFake proposes sends for confirmation and performs them once confirmed.
type emailFake struct {
	mu   sync.Mutex
	sent []string
}

func (f *emailFake) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:         "email",
		Description:  "Sends and searches email.",
		Capabilities: []string{"email", "mail", "send"},
		Operations: []agent.Operation{
			{Name: "send_email", Description: "Send an email.", RequiresConfirmation: true},
		},
		Enabled: true,
	}
}

func (f *emailFake) Execute(_ context.Context, req *agent.Request) (*agent.Result, error) {
	to := req.Param("to")
	if !agent.IsAddress(to) {
		return agent.Failure(fmt.Sprintf("%q is not an email address", to)), nil
	}
	if !req.Confirmed {
		return &agent.Result{
			Success: true,
			Proposal: &agent.Proposal{
				Type:       "send_email",
				Parameters: req.Parameters,
				Preview:    fmt.Sprintf("To: %s\nSubject: %s\n\n%s", to, req.Param("subject"), req.Param("body")),
				Risk:       agent.RiskMedium,
			},
		}, nil
	}
	f.mu.Lock()
	f.sent = append(f.sent, to)
	f.mu.Unlock()
	return &agent.Result{Success: true, Response: "Sent the email to " + to}, nil
}

func (f *emailFake) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// ---------------------------------------------------------------------------
// CaptureAdapter — a test gateway adapter that records outbound messages.
// ---------------------------------------------------------------------------

type CaptureAdapter struct {
	sent    []*gateway.OutboundMessage
	handler gateway.MessageHandler
	mu      sync.Mutex
}

func (c *CaptureAdapter) Platform() string                  { return "test" }
func (c *CaptureAdapter) Connect(ctx context.Context) error { return nil }
func (c *CaptureAdapter) OnMessage(h gateway.MessageHandler) { c.handler = h }
func (c *CaptureAdapter) Close() error                      { return nil }

func (c *CaptureAdapter) Send(_ context.Context, msg *gateway.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *CaptureAdapter) Broadcast(_ context.Context, msg *gateway.BroadcastMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, &gateway.OutboundMessage{
		Platform:  "test",
		ChannelID: "broadcast",
		Content:   msg.Content,
	})
	return nil
}

// Inject simulates an inbound message from a user. The router handles it
// synchronously, so replies are captured before Inject returns.
func (c *CaptureAdapter) Inject(msg *gateway.InboundMessage) {
	msg.Platform = "test"
	if c.handler != nil {
		c.handler(msg)
	}
}

// Sent returns a copy of all captured outbound messages.
func (c *CaptureAdapter) Sent() []*gateway.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]*gateway.OutboundMessage, len(c.sent))
	copy(cp, c.sent)
	return cp
}

// LastReply returns the content of the newest captured message.
func (c *CaptureAdapter) LastReply() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return ""
	}
	return c.sent[len(c.sent)-1].Content
}

// Reset clears captured messages.
func (c *CaptureAdapter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}
