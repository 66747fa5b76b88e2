package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gridkit/internal/models"
)

var exportJobRowColumns = []string{"id", "grid", "request", "status", "done", "total", "rows_exported", "result_url", "expires_at", "created_at", "finished_at", "error_message"}

func newExportJobRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestExportJobRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO export_jobs")).
		WithArgs(sqlmock.AnyArg(), "products", sqlmock.AnyArg(), "QUEUED", 0, 0, 0, nil, nil, sqlmock.AnyArg(), nil, nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	job := &models.ExportJob{
		Grid: "products",
		Request: models.ExportRequest{
			Query:  models.Query{Page: 1, PageSize: 50, Filters: []models.FilterSpec{{Field: "active", Op: models.OpEquals, Value: true}}},
			Mode:   models.ExportAllResults,
			Format: "csv",
		},
	}
	require.NoError(t, repo.Create(context.Background(), job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, models.ExportStatusQueued, job.Status)

	rows := sqlmock.NewRows(exportJobRowColumns).
		AddRow(job.ID, "products", `{"query":{"page":1,"page_size":50,"filters":[{"field":"active","op":"equals","value":true}]},"mode":"all_results","format":"csv"}`,
			"QUEUED", 0, 0, 0, nil, nil, time.Now(), nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, grid, request, status, done, total, rows_exported, result_url, expires_at, created_at, finished_at, error_message FROM export_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, models.ExportAllResults, fetched.Request.Mode)
	require.Len(t, fetched.Request.Query.Filters, 1)
	assert.Equal(t, true, fetched.Request.Query.Filters[0].Value)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryGetMissing(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	mock.ExpectQuery("FROM export_jobs WHERE id").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	_, err := repo.GetByID(context.Background(), "nope")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	now := time.Now()
	status := models.ExportStatusFinished
	done, rowsExported := 5, 5
	result := "/api/v1/exports/download/token"
	mock.ExpectExec(regexp.QuoteMeta("UPDATE export_jobs SET status = $1, done = $2, rows_exported = $3, result_url = $4, finished_at = $5 WHERE id = $6")).
		WithArgs(status, done, rowsExported, result, now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "job-1", UpdateExportJobParams{
		Status:       &status,
		Done:         &done,
		RowsExported: &rowsExported,
		ResultURL:    &result,
		FinishedAt:   &now,
	})
	require.NoError(t, err)
	require.NoError(t, repo.Update(context.Background(), "job-1", UpdateExportJobParams{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportJobRepositoryLists(t *testing.T) {
	db, mock, cleanup := newExportJobRepoMock(t)
	defer cleanup()
	repo := NewExportJobRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM export_jobs WHERE status = 'QUEUED' ORDER BY created_at ASC LIMIT $1")).
		WithArgs(20).
		WillReturnRows(sqlmock.NewRows(exportJobRowColumns).
			AddRow("job-1", "products", `{"mode":"current_page","format":"pdf"}`, "QUEUED", 0, 0, 0, nil, nil, time.Now(), nil, nil))
	queued, err := repo.ListQueued(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, "pdf", queued[0].Request.Format)

	cutoff := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("FROM export_jobs WHERE status = 'FINISHED' AND finished_at IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2")).
		WithArgs(cutoff, 10).
		WillReturnRows(sqlmock.NewRows(exportJobRowColumns))
	finished, err := repo.ListFinishedBefore(context.Background(), cutoff, 10)
	require.NoError(t, err)
	assert.Empty(t, finished)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM export_jobs WHERE id = $1")).WithArgs("job-1").WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "job-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryExportJobRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryExportJobRepository()

	older := &models.ExportJob{Grid: "products", CreatedAt: time.Now().Add(-time.Minute)}
	newer := &models.ExportJob{Grid: "products"}
	require.NoError(t, repo.Create(ctx, newer))
	require.NoError(t, repo.Create(ctx, older))
	assert.Error(t, repo.Create(ctx, &models.ExportJob{ID: older.ID}))

	queued, err := repo.ListQueued(ctx, 0)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, older.ID, queued[0].ID)

	finished := models.ExportStatusFinished
	doneAt := time.Now().Add(-time.Hour)
	url := "/exports/download/t"
	require.NoError(t, repo.Update(ctx, older.ID, UpdateExportJobParams{Status: &finished, FinishedAt: &doneAt, ResultURL: &url}))

	got, err := repo.GetByID(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, finished, got.Status)
	require.NotNil(t, got.ResultURL)
	assert.Equal(t, url, *got.ResultURL)

	// returned jobs are copies
	got.Status = models.ExportStatusFailed
	again, _ := repo.GetByID(ctx, older.ID)
	assert.Equal(t, finished, again.Status)

	list, err := repo.ListFinishedBefore(ctx, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, older.ID, list[0].ID)

	require.NoError(t, repo.Delete(ctx, older.ID))
	_, err = repo.GetByID(ctx, older.ID)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	assert.True(t, errors.Is(repo.Update(ctx, older.ID, UpdateExportJobParams{}), sql.ErrNoRows))
}
