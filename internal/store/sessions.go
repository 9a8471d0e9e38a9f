package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/majordomo/internal/orchestrator"
)

// FindOrCreateSession returns the session for a platform conversation,
// creating it on first contact.
func (s *Store) FindOrCreateSession(ctx context.Context, platform, channelID, userID string) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO sessions (id, platform, channel_id, user_id, status)
		VALUES (gen_random_uuid(), $1, $2, $3, 'active')
		ON CONFLICT (platform, channel_id, user_id)
		DO UPDATE SET status = 'active'
		RETURNING id`,
		platform, channelID, userID,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("find or create session: %w", err)
	}
	return id, nil
}

// AppendTurn stores one exchange turn in the session transcript.
func (s *Store) AppendTurn(ctx context.Context, sessionID, role, content string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO turns (id, session_id, role, content)
		VALUES (gen_random_uuid(), $1, $2, $3)`,
		sessionID, role, content,
	)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return nil
}

// RecentTurns returns the latest turns for a session in chronological
// order. It satisfies the planner's conversation source.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]orchestrator.Turn, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT role, content, created_at FROM (
			SELECT role, content, created_at
			FROM turns
			WHERE session_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get turns: %w", err)
	}
	defer rows.Close()

	var turns []orchestrator.Turn
	for rows.Next() {
		var t orchestrator.Turn
		if err := rows.Scan(&t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
