package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/trn-registry-api/internal/models"
)

func TestExternalBindingUpdateRefusesBoundRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewExternalBindingRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE external_bindings SET status = ")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), db, &models.ExternalBinding{ID: "b-1", Status: models.BindingStatusBound})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExternalBindingRecordSeenWidensWindow(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewExternalBindingRepository(db)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("LEAST(COALESCE(first_seen_at, $2), $2)")).
		WithArgs("onelogin:sub-1", first, last, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE external_bindings")).
		WithArgs("onelogin:unknown", first, last, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.RecordSeen(context.Background(), db, "onelogin:sub-1", first, last))
	require.ErrorIs(t, repo.RecordSeen(context.Background(), db, "onelogin:unknown", first, last), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
