package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"procplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// InsertInitial creates the NEW row for a process. The primary key on
// instance_id makes a duplicate insert fail with a unique violation,
// surfaced as store.ErrDuplicateKey.
func (s *Store) InsertInitial(ctx context.Context, tx store.DBTransaction, entry *store.ProcessEntry) error {
	executor := s.getExecutor(tx)

	query := `
		INSERT INTO process_queue (
			instance_id, kind, parent_instance_id, org_id, project_id,
			repo_id, repo_url, repo_path, commit_id, commit_branch,
			initiator, status, exclusive_group, tags, created_at, last_updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := executor.ExecContext(ctx, query,
		entry.InstanceID, entry.Kind, entry.ParentInstanceID,
		entry.OrgID, entry.ProjectID,
		entry.RepoID, entry.RepoURL, entry.RepoPath, entry.CommitID, entry.CommitBranch,
		entry.Initiator, store.StatusNew, entry.ExclusiveGroup,
		pq.Array(entry.Tags), createdAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("process %s: %w", entry.InstanceID, store.ErrDuplicateKey)
		}
		return fmt.Errorf("failed to insert process %s: %w", entry.InstanceID, err)
	}

	return nil
}

// UpdateStatus performs an unconditional status transition.
func (s *Store) UpdateStatus(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID, status store.ProcessStatus) error {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE process_queue
		SET status = $1, last_updated_at = NOW()
		WHERE instance_id = $2
	`, status, instanceID)
	if err != nil {
		return fmt.Errorf("failed to update status of %s: %w", instanceID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("process %s: %w", instanceID, store.ErrNotFound)
	}

	return nil
}

// UpdateExpectedStatus is the compare-and-swap transition. The WHERE
// clause carries the expected status, so concurrent callers are
// linearized by the database: exactly one UPDATE matches.
func (s *Store) UpdateExpectedStatus(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID, expected, next store.ProcessStatus) (bool, error) {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE process_queue
		SET status = $1, last_updated_at = NOW()
		WHERE instance_id = $2 AND status = $3
	`, next, instanceID, expected)
	if err != nil {
		return false, fmt.Errorf("failed to transition %s %s -> %s: %w", instanceID, expected, next, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// SetError records the failure message of a process alongside its row.
func (s *Store) SetError(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID, msg string) error {
	executor := s.getExecutor(tx)

	res, err := executor.ExecContext(ctx, `
		UPDATE process_queue
		SET error_message = $1, last_updated_at = NOW()
		WHERE instance_id = $2
	`, msg, instanceID)
	if err != nil {
		return fmt.Errorf("failed to record error of %s: %w", instanceID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("process %s: %w", instanceID, store.ErrNotFound)
	}

	return nil
}

// SetOutVars records the output variables a process reported on
// completion.
func (s *Store) SetOutVars(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID, vars map[string]interface{}) error {
	executor := s.getExecutor(tx)

	payload, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("failed to serialize out vars: %w", err)
	}

	res, err := executor.ExecContext(ctx, `
		UPDATE process_queue
		SET out_vars = $1, last_updated_at = NOW()
		WHERE instance_id = $2
	`, payload, instanceID)
	if err != nil {
		return fmt.Errorf("failed to record out vars of %s: %w", instanceID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("process %s: %w", instanceID, store.ErrNotFound)
	}

	return nil
}

// Get returns the queue entry for the given instance.
func (s *Store) Get(ctx context.Context, instanceID uuid.UUID) (*store.ProcessEntry, error) {
	query := `
		SELECT instance_id, kind, parent_instance_id, org_id, project_id,
			repo_id, repo_url, repo_path, commit_id, commit_branch,
			initiator, status, exclusive_group, tags, error_message,
			out_vars, created_at, last_updated_at
		FROM process_queue
		WHERE instance_id = $1
	`

	var entry store.ProcessEntry
	var outVars []byte
	err := s.db.QueryRowContext(ctx, query, instanceID).Scan(
		&entry.InstanceID, &entry.Kind, &entry.ParentInstanceID,
		&entry.OrgID, &entry.ProjectID,
		&entry.RepoID, &entry.RepoURL, &entry.RepoPath, &entry.CommitID, &entry.CommitBranch,
		&entry.Initiator, &entry.Status, &entry.ExclusiveGroup,
		pq.Array(&entry.Tags), &entry.ErrorMessage,
		&outVars, &entry.CreatedAt, &entry.LastUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("process %s: %w", instanceID, store.ErrNotFound)
		}
		return nil, err
	}

	if len(outVars) > 0 {
		if err := json.Unmarshal(outVars, &entry.OutVars); err != nil {
			return nil, fmt.Errorf("failed to parse out vars of %s: %w", instanceID, err)
		}
	}

	return &entry, nil
}

// ForkDepth computes the ancestor depth of a process with a recursive
// walk up the parent_instance_id links. The chain is never materialized
// application-side.
func (s *Store) ForkDepth(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID) (int, error) {
	executor := s.getExecutor(tx)

	query := `
		WITH RECURSIVE ancestors AS (
			SELECT instance_id, parent_instance_id, 0 AS depth
			FROM process_queue
			WHERE instance_id = $1
			UNION ALL
			SELECT p.instance_id, p.parent_instance_id, a.depth + 1
			FROM process_queue p
			JOIN ancestors a ON p.instance_id = a.parent_instance_id
		)
		SELECT COALESCE(MAX(depth), 0) FROM ancestors
	`

	var depth int
	if err := executor.QueryRowContext(ctx, query, instanceID).Scan(&depth); err != nil {
		return 0, fmt.Errorf("failed to compute fork depth of %s: %w", instanceID, err)
	}

	return depth, nil
}

// Metrics returns status counts for the given scope and statuses.
func (s *Store) Metrics(ctx context.Context, scope store.QueueScope, statuses []store.ProcessStatus) (store.QueueMetrics, error) {
	args := []interface{}{pq.Array(statusStrings(statuses))}
	query := `SELECT status, COUNT(*) FROM process_queue WHERE status = ANY($1)`

	if scope.OrgID != nil {
		args = append(args, *scope.OrgID)
		query += fmt.Sprintf(" AND org_id = $%d", len(args))
	}
	if scope.ProjectID != nil {
		args = append(args, *scope.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	query += " GROUP BY status"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return store.QueueMetrics{}, fmt.Errorf("metrics query failed: %w", err)
	}
	defer rows.Close()

	metrics := store.QueueMetrics{CountByStatus: make(map[store.ProcessStatus]int64)}
	for rows.Next() {
		var status store.ProcessStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return store.QueueMetrics{}, fmt.Errorf("metrics scan failed: %w", err)
		}
		metrics.CountByStatus[status] = count
	}
	if err := rows.Err(); err != nil {
		return store.QueueMetrics{}, err
	}

	return metrics, nil
}

func statusStrings(statuses []store.ProcessStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
