package queue

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallyuwire/corehub/server/internal/models"
)

func newMockQueue(t *testing.T) (*Queue, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sx := sqlx.NewDb(db, "postgres")
	return New(sx), mock, func() { db.Close() }
}

func TestCreateJob_InsertsAndReturnsID(t *testing.T) {
	q, mock, done := newMockQueue(t)
	defer done()

	mock.ExpectQuery(`INSERT INTO job_queue`).
		WithArgs(models.JobScrape, sqlmock.AnyArg(), 5, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := q.CreateJob(context.Background(), models.JobScrape, map[string]string{"url": "https://x"}, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPending_NoRowsReturnsNilWithoutError(t *testing.T) {
	q, mock, done := newMockQueue(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM job_queue`).WillReturnRows(sqlmock.NewRows(nil))
	mock.ExpectRollback()

	job, err := q.ClaimPending(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimPending_ClaimsAndCommits(t *testing.T) {
	q, mock, done := newMockQueue(t)
	defer done()

	cols := []string{
		"id", "job_type", "status", "params", "priority", "retry_count", "max_retries",
		"created_at", "started_at", "completed_at", "worker_id", "result", "error_msg",
	}
	rows := sqlmock.NewRows(cols).AddRow(
		int64(7), "scrape", "pending", []byte(`{}`), 1, 0, 3,
		time.Now(), nil, nil, "", []byte(`{}`), "",
	)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM job_queue`).WillReturnRows(rows)
	mock.ExpectExec(`UPDATE job_queue SET status = 'running'`).
		WithArgs(int64(7), sqlmock.AnyArg(), "worker-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	job, err := q.ClaimPending(context.Background(), "worker-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, int64(7), job.ID)
	assert.Equal(t, models.JobRunning, job.Status)
	assert.Equal(t, "worker-1", job.WorkerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_NoRowsAffectedReturnsErrNotFound(t *testing.T) {
	q, mock, done := newMockQueue(t)
	defer done()

	mock.ExpectExec(`UPDATE job_queue`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := q.UpdateStatus(context.Background(), 999, models.JobCompleted, nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementRetry_FlipsToFailedAtMaxRetries(t *testing.T) {
	q, mock, done := newMockQueue(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE job_queue SET retry_count = retry_count \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count", "max_retries"}).AddRow(3, 3))
	mock.ExpectExec(`UPDATE job_queue SET status = 'failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count, err := q.IncrementRetry(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementRetry_RequeuesBelowMaxRetries(t *testing.T) {
	q, mock, done := newMockQueue(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE job_queue SET retry_count = retry_count \+ 1`).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count", "max_retries"}).AddRow(1, 3))
	mock.ExpectExec(`UPDATE job_queue\s+SET status = 'pending'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	count, err := q.IncrementRetry(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecoverStuckJobs_ReturnsAffectedCount(t *testing.T) {
	q, mock, done := newMockQueue(t)
	defer done()

	mock.ExpectExec(`UPDATE job_queue`).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := q.RecoverStuckJobs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCancelJob_OnlyAffectsPendingRows(t *testing.T) {
	q, mock, done := newMockQueue(t)
	defer done()

	mock.ExpectExec(`UPDATE job_queue SET status = 'cancelled'`).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := q.CancelJob(context.Background(), 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetQueueStats_AggregatesCounts(t *testing.T) {
	q, mock, done := newMockQueue(t)
	defer done()

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "running", "completed", "failed"}).
			AddRow(int64(4), int64(1), int64(10), int64(2)))

	stats, err := q.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Pending)
	assert.Equal(t, int64(10), stats.Completed)
}
