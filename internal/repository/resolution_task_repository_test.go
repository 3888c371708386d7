package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

var taskRowColumns = []string{"id", "reference", "task_type", "status", "assertion", "candidates", "subject_person_id",
	"external_key", "resolution", "resolved_person_id", "resolved_by", "created_at", "updated_at", "resolved_at"}

func TestResolutionTaskRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewResolutionTaskRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(taskRowColumns).
		AddRow("t-1", "TRS-ABC123", "ApiTrnRequest", "Open", `{"channel":"api"}`, `[{"personId":"p-1","version":1,"matchedAttributes":["LastName"]}]`,
			nil, "api:c/1", nil, nil, nil, now, now, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM resolution_tasks WHERE status IN ($1) AND task_type = $2 ORDER BY created_at, id LIMIT 50 OFFSET 0")).
		WithArgs("Open", "ApiTrnRequest").
		WillReturnRows(rows)

	tasks, err := repo.List(context.Background(), db, models.ResolutionTaskFilter{
		Status:   []models.TaskStatus{models.TaskStatusOpen},
		TaskType: models.TaskTypeAPITrnRequest,
	})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	candidates, err := tasks[0].DecodeCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].HasAttribute(models.MatchAttributeLastName))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolutionTaskRepositoryCloseRejectsClosedTask(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewResolutionTaskRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE resolution_tasks SET status =")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Close(context.Background(), db, CloseTaskParams{
		ID:         "t-1",
		Status:     models.TaskStatusRejected,
		Resolution: types.JSONText(`{"kind":"Reject"}`),
		ResolvedBy: "staff-1",
		ResolvedAt: time.Now(),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolutionTaskRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewResolutionTaskRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO resolution_tasks")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	task := &models.ResolutionTask{Reference: "TRS-XYZ", TaskType: models.TaskTypeSupportRequest,
		Assertion: types.JSONText(`{}`), Candidates: types.JSONText(`[]`)}
	require.NoError(t, repo.Create(context.Background(), db, task))
	assert.Equal(t, models.TaskStatusOpen, task.Status)
	assert.NotEmpty(t, task.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
