package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gridkit/internal/datasource"
	"github.com/noah-isme/gridkit/internal/dto"
	"github.com/noah-isme/gridkit/internal/models"
	"github.com/noah-isme/gridkit/internal/repository"
	appErrors "github.com/noah-isme/gridkit/pkg/errors"
	"github.com/noah-isme/gridkit/pkg/export"
	"github.com/noah-isme/gridkit/pkg/jobs"
	"github.com/noah-isme/gridkit/pkg/storage"
)

type recordingQueue struct {
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(j jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, j)
	return nil
}

type failingRunner struct {
	err   error
	calls int
}

func (r *failingRunner) Execute(_ context.Context, _ models.ExportRequest, _ datasource.Source, _ []models.Row, progress ProgressFunc) (*models.ExportResult, error) {
	r.calls++
	progress(0, 10)
	return nil, r.err
}

type exportJobFixture struct {
	svc    *ExportJobService
	worker *ExportWorker
	repo   *repository.MemoryExportJobRepository
	queue  *recordingQueue
	files  *storage.LocalStorage
	signer *storage.SignedURLSigner
}

func newExportJobFixture(t *testing.T, runner exportRunner) *exportJobFixture {
	t.Helper()
	grids := newGridServiceForTest(t)
	registry := export.NewDefaultRegistry()
	if runner == nil {
		runner = NewExportService(registry, nil, ExportConfig{ChunkPageSize: 2}, nil)
	}
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	repo := repository.NewMemoryExportJobRepository()
	queue := &recordingQueue{}
	cfg := ExportJobConfig{APIPrefix: "/api/v1/", ResultTTL: time.Hour, MaxRetries: 2}

	return &exportJobFixture{
		svc:    NewExportJobService(repo, grids, registry, queue, files, signer, nil, nil, cfg),
		worker: NewExportWorker(repo, grids, runner, files, signer, cfg, nil),
		repo:   repo,
		queue:  queue,
		files:  files,
		signer: signer,
	}
}

func TestExportJobLifecycle(t *testing.T) {
	f := newExportJobFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.CreateJob(ctx, "people", dto.ExportJobRequest{
		Format: " CSV ",
		Mode:   models.ExportAllResults,
		Fields: []string{"name", "age"},
		Query:  dto.GridQuery{Sort: []models.SortSpec{{Field: "age", Ascending: true}}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, resp.Status)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, jobs.TypeExport, f.queue.jobs[0].Type)
	assert.Equal(t, resp.ID, f.queue.jobs[0].ID)

	stored, err := f.repo.GetByID(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "people/"+resp.ID+".csv", stored.Request.Destination)
	assert.Equal(t, "People", stored.Request.Title)
	assert.Equal(t, []models.Column{{Field: "name", Title: "Name"}, {Field: "age", Title: "Age"}}, stored.Request.Columns)

	require.NoError(t, f.worker.Handle(ctx, f.queue.jobs[0]))

	status, err := f.svc.GetStatus(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, 4, status.RowsExported)
	assert.Equal(t, 4, status.Total)
	assert.Nil(t, status.Error)
	require.NotNil(t, status.ResultURL)
	require.True(t, strings.HasPrefix(*status.ResultURL, "/api/v1/exports/download/"))
	require.NotNil(t, status.ExpiresAt)

	token := strings.TrimPrefix(*status.ResultURL, "/api/v1/exports/download/")
	download, err := f.svc.ResolveDownload(ctx, token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, resp.ID+".csv", download.Filename)
	assert.Equal(t, "csv", download.Format)

	records, err := csv.NewReader(download.File).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Name", "Age"},
		{"Carla", "19"},
		{"Bruno", "25"},
		{"Ana", "31"},
		{"Álvaro", "47"},
	}, records)

	_, err = f.svc.ResolveDownload(ctx, token+"x")
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))
}

func TestExportJobCurrentPage(t *testing.T) {
	f := newExportJobFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.CreateJob(ctx, "people", dto.ExportJobRequest{
		Format: "csv",
		Mode:   models.ExportCurrentPage,
		Query:  dto.GridQuery{Page: 2, Sort: []models.SortSpec{{Field: "age", Ascending: false}}},
	})
	require.NoError(t, err)
	require.NoError(t, f.worker.Handle(ctx, f.queue.jobs[0]))

	job, err := f.repo.GetByID(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFinished, job.Status)
	assert.Equal(t, 2, job.RowsExported)

	path, err := f.files.Prepare(job.Request.Destination)
	require.NoError(t, err)
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Bruno", records[1][0])
	assert.Equal(t, "Carla", records[2][0])
}

func TestExportJobCreateRejectsBadInput(t *testing.T) {
	f := newExportJobFixture(t, nil)
	ctx := context.Background()

	cases := []struct {
		name string
		grid string
		req  dto.ExportJobRequest
		want *appErrors.Error
	}{
		{"missing format", "people", dto.ExportJobRequest{Mode: models.ExportAllResults}, appErrors.ErrValidation},
		{"bad mode", "people", dto.ExportJobRequest{Format: "csv", Mode: "everything"}, appErrors.ErrValidation},
		{"bad filter op", "people", dto.ExportJobRequest{Format: "csv", Mode: models.ExportAllResults,
			Query: dto.GridQuery{Filters: []models.FilterSpec{{Field: "age", Op: "between"}}}}, appErrors.ErrValidation},
		{"unsupported format", "people", dto.ExportJobRequest{Format: "docx", Mode: models.ExportAllResults}, appErrors.ErrUnsupportedFormat},
		{"unknown grid", "animals", dto.ExportJobRequest{Format: "csv", Mode: models.ExportAllResults}, appErrors.ErrUnknownGrid},
		{"unknown column", "people", dto.ExportJobRequest{Format: "csv", Mode: models.ExportAllResults, Fields: []string{"salary"}}, appErrors.ErrInvalidQuery},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateJob(ctx, tc.grid, tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
	assert.Empty(t, f.queue.jobs)
}

func TestExportJobEnqueueFailureMarksJobFailed(t *testing.T) {
	f := newExportJobFixture(t, nil)
	f.queue.err = errors.New("queue full")
	ctx := context.Background()

	_, err := f.svc.CreateJob(ctx, "people", dto.ExportJobRequest{Format: "csv", Mode: models.ExportAllResults})
	require.True(t, errors.Is(err, appErrors.ErrInternal))

	queued, err := f.repo.ListQueued(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestExportWorkerRetriesTransientFailures(t *testing.T) {
	runner := &failingRunner{err: errors.New("connection reset")}
	f := newExportJobFixture(t, runner)
	ctx := context.Background()

	resp, err := f.svc.CreateJob(ctx, "people", dto.ExportJobRequest{Format: "pdf", Mode: models.ExportAllResults})
	require.NoError(t, err)
	job := f.queue.jobs[0]

	require.Error(t, f.worker.Handle(ctx, job))
	record, _ := f.repo.GetByID(ctx, resp.ID)
	assert.Equal(t, models.ExportStatusQueued, record.Status)
	require.NotNil(t, record.ErrorMessage)
	assert.Equal(t, "connection reset", *record.ErrorMessage)

	job.Attempt = 2
	require.Error(t, f.worker.Handle(ctx, job))
	record, _ = f.repo.GetByID(ctx, resp.ID)
	assert.Equal(t, models.ExportStatusFailed, record.Status)
	assert.NotNil(t, record.FinishedAt)
	assert.Equal(t, 2, runner.calls)
}

func TestExportWorkerFailsInputErrorsWithoutRetry(t *testing.T) {
	runner := &failingRunner{err: appErrors.ErrMissingDataSource}
	f := newExportJobFixture(t, runner)
	ctx := context.Background()

	resp, err := f.svc.CreateJob(ctx, "people", dto.ExportJobRequest{Format: "xlsx", Mode: models.ExportAllResults})
	require.NoError(t, err)

	require.NoError(t, f.worker.Handle(ctx, f.queue.jobs[0]), "input errors are not requeued")
	status, err := f.svc.GetStatus(ctx, resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusFailed, status.Status)
	require.NotNil(t, status.Error)
	assert.Equal(t, 10, status.Total, "progress reported before the failure is kept")
}

func TestExportJobStatusAndDownloadErrors(t *testing.T) {
	f := newExportJobFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.GetStatus(ctx, "missing")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	resp, err := f.svc.CreateJob(ctx, "people", dto.ExportJobRequest{Format: "csv", Mode: models.ExportAllResults})
	require.NoError(t, err)
	token, _, err := f.signer.Generate(resp.ID, "people/"+resp.ID+".csv")
	require.NoError(t, err)
	_, err = f.svc.ResolveDownload(ctx, token)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden), "queued job has no result url yet")

	other, _, err := f.signer.Generate("ghost", "people/ghost.csv")
	require.NoError(t, err)
	_, err = f.svc.ResolveDownload(ctx, other)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

func TestExportJobCleanupExpired(t *testing.T) {
	f := newExportJobFixture(t, nil)
	ctx := context.Background()

	resp, err := f.svc.CreateJob(ctx, "people", dto.ExportJobRequest{Format: "csv", Mode: models.ExportAllResults})
	require.NoError(t, err)
	require.NoError(t, f.worker.Handle(ctx, f.queue.jobs[0]))

	job, err := f.repo.GetByID(ctx, resp.ID)
	require.NoError(t, err)
	path, err := f.files.Prepare(job.Request.Destination)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err)

	f.svc.CleanupExpired(ctx)
	_, err = f.repo.GetByID(ctx, resp.ID)
	require.NoError(t, err, "fresh jobs survive cleanup")

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.repo.Update(ctx, resp.ID, repository.UpdateExportJobParams{FinishedAt: &old}))
	f.svc.CleanupExpired(ctx)

	_, err = f.repo.GetByID(ctx, resp.ID)
	assert.True(t, errors.Is(err, sql.ErrNoRows))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestExportJobRecoverPendingJobs(t *testing.T) {
	f := newExportJobFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.repo.Create(ctx, &models.ExportJob{Grid: "people"}))
	running := models.ExportStatusRunning
	other := &models.ExportJob{Grid: "people"}
	require.NoError(t, f.repo.Create(ctx, other))
	require.NoError(t, f.repo.Update(ctx, other.ID, repository.UpdateExportJobParams{Status: &running}))

	f.svc.RecoverPendingJobs(ctx)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, jobs.TypeExport, f.queue.jobs[0].Type)
	assert.NotEqual(t, other.ID, f.queue.jobs[0].ID)
}
