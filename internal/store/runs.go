package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nidhogg/majordomo/internal/orchestrator"
)

// RunRow is one archived workflow in the audit trail.
type RunRow struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Request   string    `json:"request"`
	Reason    string    `json:"reason"`
	Steps     int       `json:"steps"`
	StepsJSON []byte    `json:"-"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordRun archives a finished workflow with its full step trail.
// Implements the coordinator's run recorder.
func (s *Store) RecordRun(ctx context.Context, wc *orchestrator.WorkflowContext, reason orchestrator.TerminationReason, response string) error {
	stepsJSON, err := json.Marshal(wc.CompletedSteps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO runs (id, session_id, user_id, request, reason, steps, step_trail, response)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)`,
		wc.User.SessionID, wc.User.UserID, wc.OriginalRequest,
		string(reason), len(wc.CompletedSteps), stepsJSON, response,
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// RecentRuns returns the latest archived workflows for a session.
func (s *Store) RecentRuns(ctx context.Context, sessionID string, limit int) ([]*RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, user_id, request, reason, steps, step_trail, response, created_at
		FROM runs
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.Request, &r.Reason,
			&r.Steps, &r.StepsJSON, &r.Response, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// StepTrail decodes the archived step records of a run.
func (r *RunRow) StepTrail() ([]*orchestrator.StepRecord, error) {
	var steps []*orchestrator.StepRecord
	if len(r.StepsJSON) == 0 {
		return steps, nil
	}
	if err := json.Unmarshal(r.StepsJSON, &steps); err != nil {
		return nil, fmt.Errorf("decode step trail: %w", err)
	}
	return steps, nil
}
