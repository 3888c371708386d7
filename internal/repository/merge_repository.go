package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

// personReference is a table column holding a person id that must follow a merge.
type personReference struct {
	table  string
	column string
}

// personReferences lists every dependent row kind moved from secondary to primary.
var personReferences = []personReference{
	{table: "qualifications", column: "person_id"},
	{table: "employment_history", column: "person_id"},
	{table: "notes", column: "person_id"},
	{table: "alerts", column: "person_id"},
	{table: "external_bindings", column: "person_id"},
}

// MergeRepository stores merge records and repoints dependent rows.
type MergeRepository struct {
	db *sqlx.DB
}

// NewMergeRepository constructs a MergeRepository.
func NewMergeRepository(db *sqlx.DB) *MergeRepository {
	return &MergeRepository{db: db}
}

// FindBySecondary returns the merge record that retired the secondary person.
func (r *MergeRepository) FindBySecondary(ctx context.Context, q DBTX, secondaryID string) (*models.PersonMerge, error) {
	const query = `SELECT id, primary_person_id, secondary_person_id, evidence_ref, result, created_at
		FROM person_merges WHERE secondary_person_id = $1`
	var merge models.PersonMerge
	if err := q.GetContext(ctx, &merge, query, secondaryID); err != nil {
		return nil, err
	}
	return &merge, nil
}

// Create inserts a merge record.
func (r *MergeRepository) Create(ctx context.Context, q DBTX, merge *models.PersonMerge) error {
	if merge.ID == "" {
		merge.ID = uuid.NewString()
	}
	if merge.CreatedAt.IsZero() {
		merge.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO person_merges (id, primary_person_id, secondary_person_id, evidence_ref, result, created_at)
		VALUES (:id, :primary_person_id, :secondary_person_id, :evidence_ref, :result, :created_at)`
	if _, err := q.NamedExecContext(ctx, query, merge); err != nil {
		return fmt.Errorf("create person merge: %w", err)
	}
	return nil
}

// RepointReferences moves every dependent row from one person to another and
// reports how many rows of each kind moved.
func (r *MergeRepository) RepointReferences(ctx context.Context, q DBTX, from, to string) (map[string]int64, error) {
	moved := make(map[string]int64, len(personReferences))
	for _, ref := range personReferences {
		query := fmt.Sprintf("UPDATE %s SET %s = $2 WHERE %s = $1", ref.table, ref.column, ref.column)
		result, err := q.ExecContext(ctx, query, from, to)
		if err != nil {
			return nil, fmt.Errorf("repoint %s: %w", ref.table, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("repoint %s rows: %w", ref.table, err)
		}
		moved[ref.table] = rows
	}
	return moved, nil
}
