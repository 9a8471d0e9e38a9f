package main

import (
	"context"
	"errors"

	"github.com/nidhogg/majordomo/internal/agent"
	"github.com/nidhogg/majordomo/internal/command"
	"github.com/nidhogg/majordomo/internal/draft"
	"github.com/nidhogg/majordomo/internal/gateway"
)

// Adapters between concrete components and the small interfaces the
// builtin slash commands consume.

type agentLister struct {
	registry *agent.Registry
}

func (l agentLister) List() []command.AgentInfo {
	descriptors := l.registry.ListEnabled()
	out := make([]command.AgentInfo, 0, len(descriptors))
	for _, d := range descriptors {
		ops := make([]string, 0, len(d.Operations))
		for _, op := range d.Operations {
			ops = append(ops, op.Name)
		}
		out = append(out, command.AgentInfo{
			Name:        d.Name,
			Description: d.Description,
			Operations:  ops,
			Enabled:     d.Enabled,
		})
	}
	return out
}

type draftAccess struct {
	drafts *draft.Manager
}

func (a draftAccess) Pending(ctx context.Context, sessionID string) ([]command.DraftInfo, error) {
	pending, err := a.drafts.Pending(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]command.DraftInfo, 0, len(pending))
	for _, d := range pending {
		out = append(out, draftInfo(d))
	}
	return out, nil
}

func (a draftAccess) Cancel(ctx context.Context, sessionID string) (command.DraftInfo, error) {
	d, err := a.drafts.ResolveNegative(ctx, sessionID)
	if errors.Is(err, draft.ErrNoPendingDraft) {
		return command.DraftInfo{}, command.ErrNothingPending
	}
	if err != nil {
		return command.DraftInfo{}, err
	}
	return draftInfo(d), nil
}

func draftInfo(d *draft.Draft) command.DraftInfo {
	return command.DraftInfo{
		ID:        d.ID,
		Type:      d.Type,
		Preview:   d.Preview,
		Risk:      d.Risk,
		ExpiresAt: d.ExpiresAt,
	}
}

type statusProvider struct {
	gw *gateway.Gateway
}

func (p statusProvider) StatusAll() []command.AdapterStatus {
	statuses := p.gw.StatusAll()
	out := make([]command.AdapterStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, command.AdapterStatus{
			Name:      s.Platform,
			Platform:  s.Platform,
			Connected: s.Connected,
		})
	}
	return out
}
