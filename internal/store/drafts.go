package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/majordomo/internal/draft"
)

// Save upserts a pending draft. Implements draft.Store.
func (s *Store) Save(ctx context.Context, d *draft.Draft) error {
	paramsJSON, err := json.Marshal(d.Parameters)
	if err != nil {
		return fmt.Errorf("marshal draft parameters: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO drafts (id, session_id, user_id, agent, type, parameters, preview, risk, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			parameters = EXCLUDED.parameters,
			preview = EXCLUDED.preview,
			expires_at = EXCLUDED.expires_at`,
		d.ID, d.SessionID, d.UserID, d.Agent, d.Type, paramsJSON, d.Preview, d.Risk, d.CreatedAt, d.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	return nil
}

// Pending returns the session's unexpired drafts, newest first.
// Implements draft.Store.
func (s *Store) Pending(ctx context.Context, sessionID string, now time.Time) ([]*draft.Draft, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, user_id, agent, type, parameters, preview, risk, created_at, expires_at
		FROM drafts
		WHERE session_id = $1 AND expires_at > $2
		ORDER BY created_at DESC`, sessionID, now)
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	defer rows.Close()

	var drafts []*draft.Draft
	for rows.Next() {
		var d draft.Draft
		var paramsJSON []byte
		if err := rows.Scan(&d.ID, &d.SessionID, &d.UserID, &d.Agent, &d.Type,
			&paramsJSON, &d.Preview, &d.Risk, &d.CreatedAt, &d.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		if len(paramsJSON) > 0 {
			_ = json.Unmarshal(paramsJSON, &d.Parameters)
		}
		drafts = append(drafts, &d)
	}
	return drafts, rows.Err()
}

// Delete removes a draft by ID. Implements draft.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM drafts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

// DeleteExpired drops all drafts past their TTL. Implements draft.Store.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM drafts WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired drafts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
