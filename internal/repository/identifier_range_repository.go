package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

const identifierRangeColumns = `id, from_id, to_id, next_id, is_exhausted, created_at, updated_at`

// IdentifierRangeRepository persists TRN number ranges.
type IdentifierRangeRepository struct {
	db *sqlx.DB
}

// NewIdentifierRangeRepository constructs an IdentifierRangeRepository.
func NewIdentifierRangeRepository(db *sqlx.DB) *IdentifierRangeRepository {
	return &IdentifierRangeRepository{db: db}
}

// LockCurrent row-locks the range numbers are currently drawn from.
func (r *IdentifierRangeRepository) LockCurrent(ctx context.Context, q DBTX) (*models.IdentifierRange, error) {
	query := fmt.Sprintf(`SELECT %s FROM identifier_ranges WHERE is_exhausted = FALSE
		ORDER BY from_id LIMIT 1 FOR UPDATE`, identifierRangeColumns)
	var rng models.IdentifierRange
	if err := q.GetContext(ctx, &rng, query); err != nil {
		return nil, err
	}
	return &rng, nil
}

// Advance stores the next number and exhaustion flag of a locked range.
func (r *IdentifierRangeRepository) Advance(ctx context.Context, q DBTX, rng *models.IdentifierRange) error {
	rng.UpdatedAt = time.Now().UTC()
	const query = `UPDATE identifier_ranges SET next_id = $2, is_exhausted = $3, updated_at = $4 WHERE id = $1`
	if _, err := q.ExecContext(ctx, query, rng.ID, rng.NextID, rng.IsExhausted, rng.UpdatedAt); err != nil {
		return fmt.Errorf("advance identifier range: %w", err)
	}
	return nil
}

// List returns all ranges ordered by their first number.
func (r *IdentifierRangeRepository) List(ctx context.Context, q DBTX) ([]models.IdentifierRange, error) {
	query := fmt.Sprintf("SELECT %s FROM identifier_ranges ORDER BY from_id", identifierRangeColumns)
	var ranges []models.IdentifierRange
	if err := q.SelectContext(ctx, &ranges, query); err != nil {
		return nil, fmt.Errorf("list identifier ranges: %w", err)
	}
	return ranges, nil
}

// CountConflicts counts ranges overlapping [from, to] plus any range still in use.
func (r *IdentifierRangeRepository) CountConflicts(ctx context.Context, q DBTX, from, to int64) (overlapping int, current int, err error) {
	const overlapQuery = `SELECT COUNT(*) FROM identifier_ranges WHERE from_id <= $2 AND to_id >= $1`
	if err = q.GetContext(ctx, &overlapping, overlapQuery, from, to); err != nil {
		return 0, 0, fmt.Errorf("count overlapping ranges: %w", err)
	}
	const currentQuery = `SELECT COUNT(*) FROM identifier_ranges WHERE is_exhausted = FALSE`
	if err = q.GetContext(ctx, &current, currentQuery); err != nil {
		return 0, 0, fmt.Errorf("count current ranges: %w", err)
	}
	return overlapping, current, nil
}

// Create inserts a new range.
func (r *IdentifierRangeRepository) Create(ctx context.Context, q DBTX, rng *models.IdentifierRange) error {
	if rng.ID == "" {
		rng.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rng.CreatedAt = now
	rng.UpdatedAt = now
	const query = `INSERT INTO identifier_ranges (id, from_id, to_id, next_id, is_exhausted, created_at, updated_at)
		VALUES (:id, :from_id, :to_id, :next_id, :is_exhausted, :created_at, :updated_at)`
	if _, err := q.NamedExecContext(ctx, query, rng); err != nil {
		return fmt.Errorf("create identifier range: %w", err)
	}
	return nil
}
