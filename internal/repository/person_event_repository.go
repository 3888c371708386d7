package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

const personEventColumns = `id, person_id, event_name, payload, created_at, published_at`

// PersonEventRepository is the append-only person event log.
type PersonEventRepository struct {
	db *sqlx.DB
}

// NewPersonEventRepository constructs the repository.
func NewPersonEventRepository(db *sqlx.DB) *PersonEventRepository {
	return &PersonEventRepository{db: db}
}

// Append writes an event, normally inside the transaction that caused it.
func (r *PersonEventRepository) Append(ctx context.Context, q DBTX, event *models.PersonEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO person_events (id, person_id, event_name, payload, created_at)
		VALUES (:id, :person_id, :event_name, :payload, :created_at)`
	if _, err := q.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("append person event: %w", err)
	}
	return nil
}

// GetByID fetches one event.
func (r *PersonEventRepository) GetByID(ctx context.Context, id string) (*models.PersonEvent, error) {
	query := fmt.Sprintf("SELECT %s FROM person_events WHERE id = $1", personEventColumns)
	var event models.PersonEvent
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		return nil, err
	}
	return &event, nil
}

// ListUnpublished returns the oldest events not yet on the stream.
func (r *PersonEventRepository) ListUnpublished(ctx context.Context, limit int) ([]models.PersonEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM person_events WHERE published_at IS NULL
		ORDER BY created_at, id LIMIT $1`, personEventColumns)
	var events []models.PersonEvent
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("list unpublished events: %w", err)
	}
	return events, nil
}

// ListByPerson returns a person's events in append order.
func (r *PersonEventRepository) ListByPerson(ctx context.Context, personID string) ([]models.PersonEvent, error) {
	query := fmt.Sprintf("SELECT %s FROM person_events WHERE person_id = $1 ORDER BY created_at, id", personEventColumns)
	var events []models.PersonEvent
	if err := r.db.SelectContext(ctx, &events, query, personID); err != nil {
		return nil, fmt.Errorf("list person events: %w", err)
	}
	return events, nil
}

// MarkPublished stamps an event as delivered to the stream.
func (r *PersonEventRepository) MarkPublished(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE person_events SET published_at = $2 WHERE id = $1 AND published_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark event published: %w", err)
	}
	return nil
}
