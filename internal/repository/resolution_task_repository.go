package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

const resolutionTaskColumns = `id, reference, task_type, status, assertion, candidates, subject_person_id, external_key,
       resolution, resolved_person_id, resolved_by, created_at, updated_at, resolved_at`

// ResolutionTaskRepository persists the adjudication work queue.
type ResolutionTaskRepository struct {
	db *sqlx.DB
}

// NewResolutionTaskRepository constructs the repository.
func NewResolutionTaskRepository(db *sqlx.DB) *ResolutionTaskRepository {
	return &ResolutionTaskRepository{db: db}
}

// Create inserts a new open task.
func (r *ResolutionTaskRepository) Create(ctx context.Context, q DBTX, task *models.ResolutionTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.TaskStatusOpen
	}
	now := time.Now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	const query = `INSERT INTO resolution_tasks
	(id, reference, task_type, status, assertion, candidates, subject_person_id, external_key, created_at, updated_at)
	VALUES (:id, :reference, :task_type, :status, :assertion, :candidates, :subject_person_id, :external_key, :created_at, :updated_at)`
	if _, err := q.NamedExecContext(ctx, query, task); err != nil {
		return fmt.Errorf("create resolution task: %w", err)
	}
	return nil
}

// GetByReference fetches a task by its human-facing reference.
func (r *ResolutionTaskRepository) GetByReference(ctx context.Context, q DBTX, reference string) (*models.ResolutionTask, error) {
	query := fmt.Sprintf("SELECT %s FROM resolution_tasks WHERE reference = $1", resolutionTaskColumns)
	var task models.ResolutionTask
	if err := q.GetContext(ctx, &task, query, reference); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetByReferenceForUpdate fetches and row-locks a task.
func (r *ResolutionTaskRepository) GetByReferenceForUpdate(ctx context.Context, q DBTX, reference string) (*models.ResolutionTask, error) {
	query := fmt.Sprintf("SELECT %s FROM resolution_tasks WHERE reference = $1 FOR UPDATE", resolutionTaskColumns)
	var task models.ResolutionTask
	if err := q.GetContext(ctx, &task, query, reference); err != nil {
		return nil, err
	}
	return &task, nil
}

// List returns tasks matching the filter, oldest first so the queue is worked in order.
func (r *ResolutionTaskRepository) List(ctx context.Context, q DBTX, filter models.ResolutionTaskFilter) ([]models.ResolutionTask, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM resolution_tasks", resolutionTaskColumns))

	conditions := make([]string, 0, 2)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.TaskType != "" {
		args = append(args, filter.TaskType)
		conditions = append(conditions, fmt.Sprintf("task_type = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at, id")

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var tasks []models.ResolutionTask
	if err := q.SelectContext(ctx, &tasks, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list resolution tasks: %w", err)
	}
	return tasks, nil
}

// Requeue replaces the assertion and candidate snapshot of an open task after
// classification was re-run.
func (r *ResolutionTaskRepository) Requeue(ctx context.Context, q DBTX, id string, assertion, candidates types.JSONText) error {
	const query = `UPDATE resolution_tasks SET assertion = $2, candidates = $3, updated_at = $4 WHERE id = $1 AND status = 'Open'`
	result, err := q.ExecContext(ctx, query, id, assertion, candidates, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update task candidates: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check task candidate rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CloseTaskParams groups the columns written when a task leaves Open.
type CloseTaskParams struct {
	ID               string
	Status           models.TaskStatus
	Resolution       types.JSONText
	ResolvedPersonID *string
	ResolvedBy       string
	ResolvedAt       time.Time
}

// Close records the resolution of a task that is still open. A task that
// was closed concurrently yields sql.ErrNoRows.
func (r *ResolutionTaskRepository) Close(ctx context.Context, q DBTX, params CloseTaskParams) error {
	query := fmt.Sprintf(`UPDATE resolution_tasks SET status = :status, resolution = :resolution, resolved_person_id = :resolved_person_id,
		resolved_by = :resolved_by, resolved_at = :resolved_at, updated_at = :resolved_at
		WHERE id = :id AND status = '%s'`, models.TaskStatusOpen)
	result, err := q.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                 params.ID,
		"status":             params.Status,
		"resolution":         params.Resolution,
		"resolved_person_id": params.ResolvedPersonID,
		"resolved_by":        params.ResolvedBy,
		"resolved_at":        params.ResolvedAt,
	})
	if err != nil {
		return fmt.Errorf("close resolution task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check task close rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
