package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf-pipeline-server/internal/apperr"
	"pdf-pipeline-server/internal/model"
	"pdf-pipeline-server/internal/repository"
)

// гостевая задача пишется без user_uuid, но с principal (IP гостя) —
// учёт параллелизма идёт по текстовой колонке, а не по UUID
func TestJobRepository_Create_GuestPrincipal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewJobRepository(db)

	job := &model.Job{
		UUID:       "job-1",
		FileUUID:   "file-1",
		Principal:  "203.0.113.7",
		ToolID:     "pdf_compress",
		Status:     model.JobPending,
		Priority:   -10,
		Queue:      model.QueueDefault,
		MaxRetries: 3,
	}

	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs("job-1", "file-1", nil, "203.0.113.7", "pdf_compress", sqlmock.AnyArg(),
			model.JobPending, -10, model.QueueDefault, 0, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), db, job))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_CountActiveByPrincipal_GuestIP(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewJobRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs`).
		WithArgs("203.0.113.7").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	count, err := repo.CountActiveByPrincipal(context.Background(), db, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_MarkProcessing_CAS(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewJobRepository(db)
	startedAt := time.Now()

	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("job-1", startedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkProcessing(context.Background(), db, "job-1", startedAt)
	require.NoError(t, err)
	assert.True(t, ok)

	// второй воркер проигрывает CAS
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("job-1", startedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = repo.MarkProcessing(context.Background(), db, "job-1", startedAt)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobRepository_MarkCompleted_OverridesCancel(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewJobRepository(db)
	completedAt := time.Now()

	// статус CANCELED тоже попадает под условие обновления
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("job-1", sqlmock.AnyArg(), completedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.MarkCompleted(context.Background(), db, "job-1", model.Metadata{"version": 2}, completedAt)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_TransitionStatus_InvalidEdge(t *testing.T) {
	db, _ := newMockDB(t)
	repo := repository.NewJobRepository(db)

	_, err := repo.TransitionStatus(context.Background(), db, "job-1", model.JobCompleted, model.JobQueued)
	require.Error(t, err)

	var ite *apperr.InvalidTransitionError
	assert.ErrorAs(t, err, &ite)
}

func TestJobRepository_RequeueDeadLetter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := repository.NewJobRepository(db)

	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.RequeueDeadLetter(context.Background(), db, "job-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// не в DLQ — ноль строк
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("job-2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = repo.RequeueDeadLetter(context.Background(), db, "job-2")
	require.NoError(t, err)
	assert.False(t, ok)
}
