package postgres

import (
	"context"
	"database/sql"
	"errors"

	"procplane/internal/store"

	"github.com/google/uuid"
)

func (s *Store) CreateOrganization(ctx context.Context, org *store.Organization, hashedKey string) error {
	query := `
		INSERT INTO organizations (id, name, api_key_hash, rate_limit, rate_limit_burst, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.ExecContext(ctx, query,
		org.ID,
		org.Name,
		hashedKey,
		org.RateLimit,
		org.RateLimitBurst,
		org.CreatedAt,
	)
	return err
}

func (s *Store) GetOrganizationByID(ctx context.Context, id uuid.UUID) (*store.Organization, error) {
	query := "SELECT id, name, rate_limit, rate_limit_burst, created_at FROM organizations WHERE id = $1"

	var org store.Organization
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&org.ID,
		&org.Name,
		&org.RateLimit,
		&org.RateLimitBurst,
		&org.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	return &org, nil
}

func (s *Store) GetOrganizationByAPIKeyHash(ctx context.Context, hash string) (*store.Organization, error) {
	query := "SELECT id, name, rate_limit, rate_limit_burst, created_at FROM organizations WHERE api_key_hash = $1"

	var org store.Organization
	err := s.db.QueryRowContext(ctx, query, hash).Scan(
		&org.ID,
		&org.Name,
		&org.RateLimit,
		&org.RateLimitBurst,
		&org.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	return &org, nil
}
