package router

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/nidhogg/majordomo/internal/command"
	"github.com/nidhogg/majordomo/internal/gateway"
)

// Coordinator is the request-handling surface the router needs from the
// orchestration layer.
type Coordinator interface {
	Handle(ctx context.Context, sessionID, userID, request string) (string, error)
	HandleConfirmation(ctx context.Context, sessionID string, positive bool) (string, error)
}

// SessionStore maps platform conversations onto sessions and records
// the transcript. nil disables persistence.
type SessionStore interface {
	FindOrCreateSession(ctx context.Context, platform, channelID, userID string) (string, error)
	AppendTurn(ctx context.Context, sessionID, role, content string) error
}

// positiveReplies and negativeReplies are the short confirmation
// keywords resolved against pending drafts instead of being planned.
var (
	positiveReplies = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "sure": true,
		"confirm": true, "go ahead": true, "do it": true, "ok": true, "okay": true,
	}
	negativeReplies = map[string]bool{
		"no": true, "n": true, "nope": true, "cancel": true, "stop": true,
		"don't": true, "dont": true, "abort": true,
	}
)

// MessageRouter routes inbound messages: slash commands to the command
// registry, confirmation keywords to the draft flow, and everything
// else into the coordinator.
type MessageRouter struct {
	coord    Coordinator
	gw       *gateway.Gateway
	sessions SessionStore
	commands *command.Registry
	logger   *zap.Logger
}

// New creates a MessageRouter.
func New(coord Coordinator, gw *gateway.Gateway, sessions SessionStore,
	commands *command.Registry, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		coord:    coord,
		gw:       gw,
		sessions: sessions,
		commands: commands,
		logger:   logger,
	}
}

// Handle routes one inbound message. Signature matches
// gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	ctx := context.Background()
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserID),
	)

	sessionID := mr.sessionFor(ctx, msg)

	// Slash commands bypass planning entirely.
	if strings.HasPrefix(msg.Content, "/") && mr.commands != nil {
		cc := &command.CommandContext{
			Platform:  msg.Platform,
			ChannelID: msg.ChannelID,
			SessionID: sessionID,
			UserID:    msg.UserID,
			UserName:  msg.UserName,
		}
		result, err := mr.commands.Dispatch(ctx, msg.Content, cc)
		if err != nil {
			mr.logger.Error("command dispatch error", zap.Error(err))
			mr.sendReply(ctx, msg, "Command error: "+err.Error())
			return
		}
		mr.sendReply(ctx, msg, result.Content)
		return
	}

	mr.recordTurn(ctx, sessionID, "user", msg.Content)

	reply, err := mr.respond(ctx, sessionID, msg)
	if err != nil {
		mr.logger.Error("request handling failed",
			zap.String("session", sessionID), zap.Error(err))
		reply = "Something went wrong while handling that. Please try again."
	}

	mr.recordTurn(ctx, sessionID, "assistant", reply)
	mr.sendReply(ctx, msg, reply)
}

// respond resolves confirmation keywords first, then falls through to
// the full coordination loop.
func (mr *MessageRouter) respond(ctx context.Context, sessionID string, msg *gateway.InboundMessage) (string, error) {
	if positive, ok := confirmationReply(msg.Content); ok {
		return mr.coord.HandleConfirmation(ctx, sessionID, positive)
	}
	return mr.coord.Handle(ctx, sessionID, msg.UserID, msg.Content)
}

// confirmationReply classifies a short reply as a draft confirmation or
// rejection. Anything longer is a regular request.
func confirmationReply(content string) (positive, ok bool) {
	normalized := strings.ToLower(strings.TrimSpace(content))
	normalized = strings.TrimRight(normalized, ".!")
	if positiveReplies[normalized] {
		return true, true
	}
	if negativeReplies[normalized] {
		return false, true
	}
	return false, false
}

func (mr *MessageRouter) sessionFor(ctx context.Context, msg *gateway.InboundMessage) string {
	if mr.sessions == nil {
		// Without persistence the conversation key doubles as session ID.
		return msg.Platform + ":" + msg.ChannelID + ":" + msg.UserID
	}
	id, err := mr.sessions.FindOrCreateSession(ctx, msg.Platform, msg.ChannelID, msg.UserID)
	if err != nil {
		mr.logger.Error("find/create session failed", zap.Error(err))
		return msg.Platform + ":" + msg.ChannelID + ":" + msg.UserID
	}
	return id
}

func (mr *MessageRouter) recordTurn(ctx context.Context, sessionID, role, content string) {
	if mr.sessions == nil || content == "" {
		return
	}
	if err := mr.sessions.AppendTurn(ctx, sessionID, role, content); err != nil {
		mr.logger.Warn("append turn failed",
			zap.String("session", sessionID), zap.Error(err))
	}
}

// sendReply sends a text reply back to the originating platform/channel.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, text string) {
	err := mr.gw.Send(ctx, &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	})
	if err != nil {
		mr.logger.Error("send reply failed", zap.Error(err))
	}
}
