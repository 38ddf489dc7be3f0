package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// TaskStateRecord is the persisted snapshot of a batch match task, written
// to task_states at page boundaries so a task's history survives past its
// in-memory Registry entry — the store-side analog of the teacher's
// Orchestrator saveCampaign/LoadCampaign checkpoint, generalized from a
// single resumable campaign to a row-per-task history table (spec.md §4.6).
//
// task_states is not consulted to decide what a restarted incremental task
// should process next — that is already a structural property of
// PrimarySourceAdapter.Page's onlyUnmatched filter, which re-derives the
// unmatched set from linkage_results on every call. This table exists so
// ListTaskStates can answer "what ran, and how did it end" after a process
// restart, when the Registry that held the live *task.TaskState is gone.
type TaskStateRecord struct {
	TaskID                 string
	Mode                   string
	Status                 string
	StartedAt              time.Time
	FinishedAt             sql.NullTime
	Total                  int
	Processed              int
	Matched                int
	Updated                int
	Skipped                int
	Errored                int
	CurrentBatchIndex      int
	LastProcessedPrimaryID string
	ErrorMessage           string
}

// SaveTaskState upserts one task's snapshot into task_states.
func (s *Store) SaveTaskState(ctx context.Context, r TaskStateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_states (
			task_id, mode, status, started_at, finished_at, total, processed,
			matched, updated, skipped, errored, current_batch_index,
			last_processed_primary_id, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			total = excluded.total,
			processed = excluded.processed,
			matched = excluded.matched,
			updated = excluded.updated,
			skipped = excluded.skipped,
			errored = excluded.errored,
			current_batch_index = excluded.current_batch_index,
			last_processed_primary_id = excluded.last_processed_primary_id,
			error_message = excluded.error_message
	`,
		r.TaskID, r.Mode, r.Status, r.StartedAt, r.FinishedAt, r.Total, r.Processed,
		r.Matched, r.Updated, r.Skipped, r.Errored, r.CurrentBatchIndex,
		r.LastProcessedPrimaryID, r.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to save task state %s: %w", r.TaskID, err)
	}
	return nil
}

// ListTaskStates returns every task_states row, most recently started first.
func (s *Store) ListTaskStates(ctx context.Context) ([]TaskStateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, mode, status, started_at, finished_at, total, processed,
			matched, updated, skipped, errored, current_batch_index,
			last_processed_primary_id, error_message
		FROM task_states
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list task states: %w", err)
	}
	defer rows.Close()

	var out []TaskStateRecord
	for rows.Next() {
		var r TaskStateRecord
		if err := rows.Scan(
			&r.TaskID, &r.Mode, &r.Status, &r.StartedAt, &r.FinishedAt, &r.Total, &r.Processed,
			&r.Matched, &r.Updated, &r.Skipped, &r.Errored, &r.CurrentBatchIndex,
			&r.LastProcessedPrimaryID, &r.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task state row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
