package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/gridkit/internal/datasource"
	"github.com/noah-isme/gridkit/internal/dto"
	"github.com/noah-isme/gridkit/internal/models"
	"github.com/noah-isme/gridkit/internal/repository"
	appErrors "github.com/noah-isme/gridkit/pkg/errors"
	"github.com/noah-isme/gridkit/pkg/jobs"
)

// ExportJobStore persists export jobs. repository.ExportJobRepository and
// repository.MemoryExportJobRepository satisfy it.
type ExportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
	Delete(ctx context.Context, id string) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type gridCatalog interface {
	Grid(name string) (*GridDefinition, error)
	BuildQuery(def *GridDefinition, req dto.GridQuery) (models.Query, error)
}

type exportRunner interface {
	Execute(ctx context.Context, req models.ExportRequest, source datasource.Source, currentRows []models.Row, progress ProgressFunc) (*models.ExportResult, error)
}

type exportFileStore interface {
	Prepare(relPath string) (string, error)
	Open(relPath string) (*os.File, error)
	Delete(relPath string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type downloadSigner interface {
	Generate(jobID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error)
}

// ExportJobConfig governs recovery, cleanup and retry of export jobs.
type ExportJobConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	MaxRetries      int
}

func (c ExportJobConfig) withDefaults() ExportJobConfig {
	if c.ResultTTL <= 0 {
		c.ResultTTL = 24 * time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	c.APIPrefix = strings.TrimSuffix(c.APIPrefix, "/")
	return c
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File      *os.File
	Filename  string
	Format    string
	ExpiresAt time.Time
}

// ExportJobService orchestrates the export job lifecycle: it accepts
// requests against a named grid, queues them and serves their results.
type ExportJobService struct {
	repo      ExportJobStore
	grids     gridCatalog
	formats   exporterRegistry
	queue     jobDispatcher
	files     exportFileStore
	signer    downloadSigner
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportJobConfig
	now       func() time.Time
}

// NewExportJobService constructs the service.
func NewExportJobService(repo ExportJobStore, grids gridCatalog, formats exporterRegistry, queue jobDispatcher, files exportFileStore, signer downloadSigner, validate *validator.Validate, logger *zap.Logger, cfg ExportJobConfig) *ExportJobService {
	if validate == nil {
		validate = validator.New()
	}
	registerGridValidations(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportJobService{
		repo:      repo,
		grids:     grids,
		formats:   formats,
		queue:     queue,
		files:     files,
		signer:    signer,
		validator: validate,
		logger:    logger,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
	}
}

// CreateJob validates req, snapshots the grid query, persists the job and
// enqueues it.
func (s *ExportJobService) CreateJob(ctx context.Context, gridName string, req dto.ExportJobRequest) (*dto.ExportJobResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export payload")
	}
	format := strings.ToLower(strings.TrimSpace(req.Format))
	if _, err := s.formats.Get(format); err != nil {
		return nil, err
	}
	def, err := s.grids.Grid(gridName)
	if err != nil {
		return nil, err
	}
	query, err := s.grids.BuildQuery(def, req.Query)
	if err != nil {
		return nil, err
	}
	columns, err := def.ColumnsFor(req.Fields)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = def.Title
	}

	id := uuid.NewString()
	job := &models.ExportJob{
		ID:   id,
		Grid: def.Name,
		Request: models.ExportRequest{
			Query:         query,
			Columns:       columns,
			Mode:          req.Mode,
			Format:        format,
			Destination:   path.Join(def.Name, id+"."+format),
			Title:         title,
			ChunkPageSize: req.ChunkPageSize,
		},
		Status:    models.ExportStatusQueued,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: jobs.TypeExport}); err != nil {
		status := models.ExportStatusFailed
		msg := "failed to enqueue job"
		now := s.now().UTC()
		_ = s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &status,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	s.logger.Info("export job queued",
		zap.String("job_id", job.ID),
		zap.String("grid", job.Grid),
		zap.String("format", format),
		zap.String("mode", string(req.Mode)))
	return &dto.ExportJobResponse{ID: job.ID, Status: job.Status, Progress: 0}, nil
}

// GetStatus exposes job progress to clients.
func (s *ExportJobService) GetStatus(ctx context.Context, id string) (*dto.ExportStatusResponse, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := &dto.ExportStatusResponse{
		ID:           job.ID,
		Grid:         job.Grid,
		Status:       job.Status,
		Progress:     job.Progress(),
		Done:         job.Done,
		Total:        job.Total,
		RowsExported: job.RowsExported,
		ResultURL:    job.ResultURL,
		ExpiresAt:    job.ExpiresAt,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp, nil
}

// ResolveDownload validates token and opens the stored export file.
func (s *ExportJobService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	jobID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	if job.Status != models.ExportStatusFinished {
		return nil, appErrors.ErrExportNotReady
	}
	file, err := s.files.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:      file,
		Filename:  path.Base(relPath),
		Format:    job.Request.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs (e.g. after process restart).
func (s *ExportJobService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued export jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: jobs.TypeExport}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending job", "job_id", job.ID, "error", err)
		}
	}
}

// StartCleanup boots a goroutine that purges expired exports periodically.
func (s *ExportJobService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.CleanupExpired(ctx)
			}
		}
	}()
}

// CleanupExpired deletes finished jobs older than the result TTL along with
// their files, then sweeps stray files.
func (s *ExportJobService) CleanupExpired(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.ResultTTL)
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, 100)
		if err != nil {
			s.logger.Sugar().Warnw("cleanup list failed", "error", err)
			return
		}
		for _, job := range expired {
			if err := s.files.Delete(job.Request.Destination); err != nil {
				s.logger.Sugar().Warnw("cleanup delete failed", "job_id", job.ID, "error", err)
			}
			if err := s.repo.Delete(ctx, job.ID); err != nil {
				s.logger.Sugar().Warnw("cleanup job delete failed", "job_id", job.ID, "error", err)
				return
			}
		}
		if len(expired) < 100 {
			break
		}
	}
	if _, err := s.files.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Sugar().Warnw("filesystem cleanup failed", "error", err)
	}
}

func (s *ExportJobService) load(ctx context.Context, id string) (*models.ExportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}
	return job, nil
}

// ExportWorker bridges queue jobs to ExportService.
type ExportWorker struct {
	repo   ExportJobStore
	grids  gridCatalog
	runner exportRunner
	files  exportFileStore
	signer downloadSigner
	logger *zap.Logger
	cfg    ExportJobConfig
	now    func() time.Time
}

// NewExportWorker constructs a worker. cfg.MaxRetries must match the queue's.
func NewExportWorker(repo ExportJobStore, grids gridCatalog, runner exportRunner, files exportFileStore, signer downloadSigner, cfg ExportJobConfig, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportWorker{
		repo:   repo,
		grids:  grids,
		runner: runner,
		files:  files,
		signer: signer,
		logger: logger,
		cfg:    cfg.withDefaults(),
		now:    time.Now,
	}
}

// Handle processes a queue job. Input errors fail the job at once; other
// failures requeue it until the retry budget is spent.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	running := models.ExportStatusRunning
	zero := 0
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{Status: &running, Done: &zero}); err != nil {
		return err
	}

	def, err := w.grids.Grid(record.Grid)
	if err != nil {
		return w.fail(ctx, job, err)
	}
	relPath := record.Request.Destination
	dest, err := w.files.Prepare(relPath)
	if err != nil {
		return w.fail(ctx, job, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export destination"))
	}
	req := record.Request
	req.Destination = dest

	var current []models.Row
	if req.Mode == models.ExportCurrentPage {
		page, err := def.Source.FetchPage(ctx, req.Query)
		if err != nil {
			return w.fail(ctx, job, fmt.Errorf("fetch current page: %w", err))
		}
		current = page.Rows
		if current == nil {
			current = []models.Row{}
		}
	}

	progress := &progressWriter{ctx: ctx, repo: w.repo, jobID: job.ID, logger: w.logger, last: -1}
	result, err := w.runner.Execute(ctx, req, def.Source, current, progress.report)
	if err != nil {
		if delErr := w.files.Delete(relPath); delErr != nil {
			w.logger.Sugar().Warnw("failed to remove partial export", "job_id", job.ID, "error", delErr)
		}
		return w.fail(ctx, job, err)
	}

	token, expiresAt, err := w.signer.Generate(job.ID, relPath)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("sign download: %w", err))
	}
	finished := models.ExportStatusFinished
	url := w.cfg.APIPrefix + "/exports/download/" + token
	noError := ""
	now := w.now().UTC()
	rows := result.RowsExported
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &finished,
		Done:         &rows,
		RowsExported: &rows,
		ResultURL:    &url,
		ExpiresAt:    &expiresAt,
		ErrorMessage: &noError,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark job finished", "job_id", job.ID, "error", err)
		return err
	}
	w.logger.Sugar().Infow("export job finished", "job_id", job.ID, "grid", record.Grid, "rows", rows, "duration", result.Duration)
	return nil
}

func (w *ExportWorker) fail(ctx context.Context, job jobs.Job, cause error) error {
	msg := cause.Error()
	permanent := appErrors.IsInput(cause)
	if permanent || job.Attempt >= w.cfg.MaxRetries {
		failed := models.ExportStatusFailed
		now := w.now().UTC()
		if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &failed,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); err != nil {
			w.logger.Sugar().Warnw("failed to mark job failed", "job_id", job.ID, "error", err)
		}
		if permanent {
			w.logger.Sugar().Warnw("export job rejected", "job_id", job.ID, "error", cause)
			return nil
		}
		return cause
	}
	queued := models.ExportStatusQueued
	reset := 0
	if err := w.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
		Status:       &queued,
		Done:         &reset,
		ErrorMessage: &msg,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark job queued", "job_id", job.ID, "error", err)
	}
	return cause
}

// progressWriter persists export progress each time the whole percentage
// moves, plus the first and last report.
type progressWriter struct {
	ctx    context.Context
	repo   ExportJobStore
	jobID  string
	logger *zap.Logger
	last   int
}

func (p *progressWriter) report(done, total int) {
	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}
	if done != 0 && done != total && pct == p.last {
		return
	}
	p.last = pct
	if err := p.repo.Update(p.ctx, p.jobID, repository.UpdateExportJobParams{Done: &done, Total: &total}); err != nil {
		p.logger.Sugar().Debugw("progress update failed", "job_id", p.jobID, "error", err)
	}
}
