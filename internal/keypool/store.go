// Package keypool implements the shared credential pool that independent
// worker processes draw from. All mutual exclusion is enforced by the
// database's atomic conditional updates; no in-process lock can coordinate
// across workers.
//
// Leases carry no TTL or heartbeat. A worker that dies before its cleanup
// path leaves its credentials leased until an operator resets them.
package keypool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stockgen-ai/generator/internal/shared/models"
)

// ErrNoCredential is returned when no available credential matches the
// requested scope. It is not retried at this layer; callers fail the
// current attempt and leave backoff to the outer loop.
var ErrNoCredential = errors.New("no available credential for scope")

// Store is the credential pool contract. Implementations must make each
// operation atomic at the level of a single credential record.
type Store interface {
	// LeaseOne atomically claims one available credential for the scope,
	// marking it leased to consumer in the same step. Returns
	// ErrNoCredential when the pool has none available.
	LeaseOne(ctx context.Context, modelScope, consumer string) (*models.Credential, error)

	// Release transitions leased -> available. Idempotent: returns false
	// without error when the credential is not currently leased.
	Release(ctx context.Context, credentialID string) (bool, error)

	// MarkExpired transitions any non-terminal state to expired in one
	// step, clearing the lease holder so the record is never left both
	// expired and counted as leased. Returns false when already expired.
	MarkExpired(ctx context.Context, credentialID string) (bool, error)

	// LogUsage appends one usage record. Entries are never mutated.
	LogUsage(ctx context.Context, entry *models.UsageLogEntry) error
}

// SQLStore is the PostgreSQL-backed credential pool.
type SQLStore struct {
	conn *sql.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{conn: conn}
}

// LeaseOne claims a credential with a single conditional update. The
// candidate row is selected and flipped to leased in one statement; a
// separate find-then-update would let two workers claim the same row.
func (s *SQLStore) LeaseOne(ctx context.Context, modelScope, consumer string) (*models.Credential, error) {
	query := `
		UPDATE api_credentials
		SET status = 'leased', leased_by = $1, leased_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id
			FROM api_credentials
			WHERE status = 'available' AND model_scope = $2
			ORDER BY leased_at ASC NULLS FIRST
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, secret, model_scope, status, leased_by, leased_at, created_at, updated_at
	`

	var cred models.Credential
	err := s.conn.QueryRowContext(ctx, query, consumer, modelScope).Scan(
		&cred.ID,
		&cred.Secret,
		&cred.ModelScope,
		&cred.Status,
		&cred.LeasedBy,
		&cred.LeasedAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lease credential: %w", err)
	}
	return &cred, nil
}

// Release frees a leased credential.
func (s *SQLStore) Release(ctx context.Context, credentialID string) (bool, error) {
	query := `
		UPDATE api_credentials
		SET status = 'available', leased_by = NULL, leased_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'leased'
	`

	result, err := s.conn.ExecContext(ctx, query, credentialID)
	if err != nil {
		return false, fmt.Errorf("failed to release credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkExpired retires a credential permanently. Works regardless of the
// current lease holder so an expired record frees its slot in the same step.
func (s *SQLStore) MarkExpired(ctx context.Context, credentialID string) (bool, error) {
	query := `
		UPDATE api_credentials
		SET status = 'expired', leased_by = NULL, leased_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status <> 'expired'
	`

	result, err := s.conn.ExecContext(ctx, query, credentialID)
	if err != nil {
		return false, fmt.Errorf("failed to expire credential: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// LogUsage appends one row to the usage ledger.
func (s *SQLStore) LogUsage(ctx context.Context, entry *models.UsageLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO credential_usage_log (
			id, credential_id, consumer, model_scope, success, error_detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.conn.ExecContext(ctx, query,
		entry.ID,
		entry.CredentialID,
		entry.Consumer,
		entry.ModelScope,
		entry.Success,
		entry.ErrorDetail,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log credential usage: %w", err)
	}
	return nil
}
