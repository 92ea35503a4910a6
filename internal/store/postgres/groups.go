package postgres

import (
	"context"
	"fmt"
	"hash/fnv"

	"procplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// groupLockKey derives a 64-bit advisory lock key from the exclusive
// group namespace. Hash collisions only cost extra serialization,
// never correctness.
func groupLockKey(projectID uuid.UUID, group string) int64 {
	h := fnv.New64a()
	h.Write(projectID[:])
	h.Write([]byte(group))
	return int64(h.Sum64())
}

// WithGroupLock runs fn inside a transaction holding a pg advisory
// lock scoped to (projectID, group). The lock is transaction-scoped,
// so it is released on commit or rollback and can never leak past the
// admission decision.
func (s *Store) WithGroupLock(ctx context.Context, projectID uuid.UUID, group string, fn func(tx store.DBTransaction) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, groupLockKey(projectID, group)); err != nil {
		return fmt.Errorf("failed to acquire group lock %q: %w", group, err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// AnyActiveInGroup reports whether a non-terminal entry other than
// excludeID exists for (projectID, group).
func (s *Store) AnyActiveInGroup(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID, group string, excludeID uuid.UUID) (bool, error) {
	executor := s.getExecutor(tx)

	query := `
		SELECT EXISTS (
			SELECT 1 FROM process_queue
			WHERE project_id = $1
			  AND exclusive_group = $2
			  AND instance_id <> $3
			  AND status = ANY($4)
		)
	`

	var exists bool
	err := executor.QueryRowContext(ctx, query,
		projectID, group, excludeID, pq.Array(statusStrings(store.ActiveStatuses)),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("exclusive group query failed: %w", err)
	}

	return exists, nil
}
