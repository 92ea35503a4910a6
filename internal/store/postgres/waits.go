package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"procplane/internal/store"

	"github.com/google/uuid"
)

// SaveWait records what a process is waiting for. A process has at
// most one wait condition; saving replaces any previous one.
func (s *Store) SaveWait(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID, cond *store.WaitCondition) error {
	executor := s.getExecutor(tx)

	payload, err := json.Marshal(cond)
	if err != nil {
		return fmt.Errorf("failed to serialize wait condition: %w", err)
	}

	_, err = executor.ExecContext(ctx, `
		INSERT INTO process_waits (instance_id, wait_condition, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (instance_id)
		DO UPDATE SET wait_condition = EXCLUDED.wait_condition, created_at = NOW()
	`, instanceID, payload)
	if err != nil {
		return fmt.Errorf("failed to save wait condition for %s: %w", instanceID, err)
	}

	return nil
}

// GetWait returns the wait condition of a suspended process.
func (s *Store) GetWait(ctx context.Context, instanceID uuid.UUID) (*store.WaitCondition, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT wait_condition FROM process_waits WHERE instance_id = $1`,
		instanceID,
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("wait condition for %s: %w", instanceID, store.ErrNotFound)
		}
		return nil, err
	}

	var cond store.WaitCondition
	if err := json.Unmarshal(payload, &cond); err != nil {
		return nil, fmt.Errorf("failed to parse wait condition for %s: %w", instanceID, err)
	}

	return &cond, nil
}

// ListWaits returns all outstanding wait conditions keyed by the
// waiting process.
func (s *Store) ListWaits(ctx context.Context) (map[uuid.UUID]*store.WaitCondition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id, wait_condition FROM process_waits`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wait conditions: %w", err)
	}
	defer rows.Close()

	waits := make(map[uuid.UUID]*store.WaitCondition)
	for rows.Next() {
		var id uuid.UUID
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var cond store.WaitCondition
		if err := json.Unmarshal(payload, &cond); err != nil {
			return nil, fmt.Errorf("failed to parse wait condition for %s: %w", id, err)
		}
		waits[id] = &cond
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return waits, nil
}

// DeleteWait consumes the wait condition. Missing rows are not an
// error; exactly-once consumption is enforced by the SUSPENDED ->
// RESUMING status transition, not here.
func (s *Store) DeleteWait(ctx context.Context, tx store.DBTransaction, instanceID uuid.UUID) error {
	executor := s.getExecutor(tx)

	_, err := executor.ExecContext(ctx,
		`DELETE FROM process_waits WHERE instance_id = $1`, instanceID)
	if err != nil {
		return fmt.Errorf("failed to delete wait condition for %s: %w", instanceID, err)
	}

	return nil
}
