package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackReaderAgent reads channel history and searches workspace messages.
// It is read-only; posting goes through the gateway, not this agent.
type SlackReaderAgent struct {
	client  *slack.Client
	enabled bool
	logger  *zap.Logger
}

// NewSlackReaderAgent creates the Slack-reading sub-agent from a bot token.
func NewSlackReaderAgent(botToken string, logger *zap.Logger) *SlackReaderAgent {
	var client *slack.Client
	if botToken != "" {
		client = slack.New(botToken)
	}
	return &SlackReaderAgent{
		client:  client,
		enabled: client != nil,
		logger:  logger,
	}
}

// Describe implements SubAgent.
func (a *SlackReaderAgent) Describe() Descriptor {
	return Descriptor{
		Name:         "slack",
		Description:  "Reads Slack channel history and searches workspace messages.",
		Capabilities: []string{"slack", "channel", "thread", "messages", "discussion", "said"},
		Operations: []Operation{
			{
				Name:        "read_channel",
				Description: "Read recent messages from a channel (channel name or ID)",
				Examples:    []string{"what was discussed in #engineering today?"},
			},
			{
				Name:        "search_messages",
				Description: "Search workspace messages matching a query",
				Examples:    []string{"find slack messages about the launch date"},
			},
		},
		Timeout: 20 * time.Second,
		Enabled: a.enabled,
	}
}

// Execute implements SubAgent.
func (a *SlackReaderAgent) Execute(ctx context.Context, req *Request) (*Result, error) {
	op := req.Operation
	if op == "" {
		if req.Param("channel") != "" || strings.Contains(req.Instruction, "#") {
			op = "read_channel"
		} else {
			op = "search_messages"
		}
	}

	switch op {
	case "read_channel":
		return a.readChannel(ctx, req)
	case "search_messages":
		return a.searchMessages(ctx, req)
	default:
		return Failure(fmt.Sprintf("slack agent has no operation %q", op)), nil
	}
}

func (a *SlackReaderAgent) readChannel(ctx context.Context, req *Request) (*Result, error) {
	channel := req.Param("channel")
	if channel == "" {
		channel = firstChannelRef(req.Instruction)
	}
	if channel == "" {
		return Failure("no channel specified"), nil
	}

	channelID, err := a.resolveChannelID(ctx, channel)
	if err != nil {
		return Failure(fmt.Sprintf("channel lookup failed: %v", err)), nil
	}

	history, err := a.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     20,
	})
	if err != nil {
		return Failure(fmt.Sprintf("history fetch failed: %v", err)), nil
	}

	if len(history.Messages) == 0 {
		return &Result{Success: true, Response: fmt.Sprintf("No recent messages in %s.", channel)}, nil
	}
	var lines []string
	for i := len(history.Messages) - 1; i >= 0; i-- {
		m := history.Messages[i]
		if m.Text == "" {
			continue
		}
		lines = append(lines, m.Text)
	}
	return &Result{
		Success:        true,
		Response:       fmt.Sprintf("Recent messages in %s:\n%s", channel, strings.Join(lines, "\n")),
		StructuredData: map[string]any{"count": len(lines)},
	}, nil
}

func (a *SlackReaderAgent) searchMessages(ctx context.Context, req *Request) (*Result, error) {
	query := req.Param("query")
	if query == "" {
		query = req.Instruction
	}

	params := slack.NewSearchParameters()
	params.Count = 10
	results, err := a.client.SearchMessagesContext(ctx, query, params)
	if err != nil {
		return Failure(fmt.Sprintf("message search failed: %v", err)), nil
	}

	if results == nil || len(results.Matches) == 0 {
		return &Result{Success: true, Response: "No matching Slack messages found."}, nil
	}
	var lines []string
	for _, m := range results.Matches {
		lines = append(lines, fmt.Sprintf("#%s: %s", m.Channel.Name, m.Text))
	}
	return &Result{
		Success:        true,
		Response:       fmt.Sprintf("Found %d matching message(s):\n%s", len(lines), strings.Join(lines, "\n")),
		StructuredData: map[string]any{"count": len(lines)},
	}, nil
}

// resolveChannelID accepts either a channel ID (passes through) or a
// #name and walks the conversation list to find it.
func (a *SlackReaderAgent) resolveChannelID(ctx context.Context, channel string) (string, error) {
	name := strings.TrimPrefix(channel, "#")
	if strings.HasPrefix(channel, "C") && !strings.Contains(channel, " ") && channel == strings.ToUpper(channel) {
		return channel, nil
	}

	cursor := ""
	for {
		channels, next, err := a.client.GetConversationsContext(ctx, &slack.GetConversationsParameters{
			Types:  []string{"public_channel", "private_channel"},
			Cursor: cursor,
			Limit:  200,
		})
		if err != nil {
			return "", err
		}
		for _, ch := range channels {
			if ch.Name == name {
				return ch.ID, nil
			}
		}
		if next == "" {
			return "", fmt.Errorf("channel %q not found", name)
		}
		cursor = next
	}
}

func firstChannelRef(s string) string {
	for _, w := range strings.Fields(s) {
		if strings.HasPrefix(w, "#") && len(w) > 1 {
			return strings.Trim(w, ".,!?")
		}
	}
	return ""
}
