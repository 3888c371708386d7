package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

const externalBindingColumns = `id, external_key, channel, status, person_id, match_route, task_reference, verification,
       first_seen_at, last_seen_at, bound_at, created_at, updated_at`

// ExternalBindingRepository persists external identity bindings.
type ExternalBindingRepository struct {
	db *sqlx.DB
}

// NewExternalBindingRepository constructs the repository.
func NewExternalBindingRepository(db *sqlx.DB) *ExternalBindingRepository {
	return &ExternalBindingRepository{db: db}
}

// GetByExternalKey returns the binding for an external key.
func (r *ExternalBindingRepository) GetByExternalKey(ctx context.Context, q DBTX, key string) (*models.ExternalBinding, error) {
	query := fmt.Sprintf("SELECT %s FROM external_bindings WHERE external_key = $1", externalBindingColumns)
	var binding models.ExternalBinding
	if err := q.GetContext(ctx, &binding, query, key); err != nil {
		return nil, err
	}
	return &binding, nil
}

// GetByExternalKeyForUpdate returns and row-locks the binding for an external key.
func (r *ExternalBindingRepository) GetByExternalKeyForUpdate(ctx context.Context, q DBTX, key string) (*models.ExternalBinding, error) {
	query := fmt.Sprintf("SELECT %s FROM external_bindings WHERE external_key = $1 FOR UPDATE", externalBindingColumns)
	var binding models.ExternalBinding
	if err := q.GetContext(ctx, &binding, query, key); err != nil {
		return nil, err
	}
	return &binding, nil
}

// ListByPerson returns the bindings that resolve to a person.
func (r *ExternalBindingRepository) ListByPerson(ctx context.Context, q DBTX, personID string) ([]models.ExternalBinding, error) {
	query := fmt.Sprintf("SELECT %s FROM external_bindings WHERE person_id = $1 ORDER BY created_at, id", externalBindingColumns)
	var bindings []models.ExternalBinding
	if err := q.SelectContext(ctx, &bindings, query, personID); err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	return bindings, nil
}

// Create inserts a binding row. A concurrent insert of the same key fails on
// the unique constraint.
func (r *ExternalBindingRepository) Create(ctx context.Context, q DBTX, binding *models.ExternalBinding) error {
	if binding.ID == "" {
		binding.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if binding.CreatedAt.IsZero() {
		binding.CreatedAt = now
	}
	binding.UpdatedAt = now
	const query = `INSERT INTO external_bindings (id, external_key, channel, status, person_id, match_route, task_reference,
		verification, first_seen_at, last_seen_at, bound_at, created_at, updated_at)
		VALUES (:id, :external_key, :channel, :status, :person_id, :match_route, :task_reference,
		:verification, :first_seen_at, :last_seen_at, :bound_at, :created_at, :updated_at)`
	if _, err := q.NamedExecContext(ctx, query, binding); err != nil {
		return fmt.Errorf("create binding: %w", err)
	}
	return nil
}

// Update writes the mutable columns of a binding that has not been bound yet.
// Bound rows are immutable, so updating one yields sql.ErrNoRows.
func (r *ExternalBindingRepository) Update(ctx context.Context, q DBTX, binding *models.ExternalBinding) error {
	binding.UpdatedAt = time.Now().UTC()
	query := fmt.Sprintf(`UPDATE external_bindings SET status = :status, person_id = :person_id, match_route = :match_route,
		task_reference = :task_reference, verification = :verification, bound_at = :bound_at, updated_at = :updated_at
		WHERE id = :id AND status <> '%s'`, models.BindingStatusBound)
	result, err := q.NamedExecContext(ctx, query, binding)
	if err != nil {
		return fmt.Errorf("update binding: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check binding update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecordSeen widens the first/last seen window of a binding to include the
// given timestamps. Out-of-order reports never shrink the window.
func (r *ExternalBindingRepository) RecordSeen(ctx context.Context, q DBTX, key string, firstSeen, lastSeen time.Time) error {
	const query = `UPDATE external_bindings
		SET first_seen_at = LEAST(COALESCE(first_seen_at, $2), $2),
		    last_seen_at = GREATEST(COALESCE(last_seen_at, $3), $3),
		    updated_at = $4
		WHERE external_key = $1`
	result, err := q.ExecContext(ctx, query, key, firstSeen, lastSeen, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record binding seen: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check binding seen rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
