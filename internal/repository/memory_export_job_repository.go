package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/gridkit/internal/models"
)

// MemoryExportJobRepository keeps export jobs in process memory. It backs the
// server when no database is configured; jobs do not survive a restart.
type MemoryExportJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]models.ExportJob
}

// NewMemoryExportJobRepository constructs an empty store.
func NewMemoryExportJobRepository() *MemoryExportJobRepository {
	return &MemoryExportJobRepository{jobs: make(map[string]models.ExportJob)}
}

// Create stores job, filling id, status and creation time when unset.
func (r *MemoryExportJobRepository) Create(_ context.Context, job *models.ExportJob) error {
	prepareExportJob(job)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("create export job: duplicate id %s", job.ID)
	}
	r.jobs[job.ID] = *job
	return nil
}

// GetByID returns a copy of the job. A missing job wraps sql.ErrNoRows.
func (r *MemoryExportJobRepository) GetByID(_ context.Context, id string) (*models.ExportJob, error) {
	r.mu.RLock()
	job, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get export job: %w", sql.ErrNoRows)
	}
	return &job, nil
}

// Update applies the non-nil fields of params.
func (r *MemoryExportJobRepository) Update(_ context.Context, id string, params UpdateExportJobParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("update export job: %w", sql.ErrNoRows)
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Done != nil {
		job.Done = *params.Done
	}
	if params.Total != nil {
		job.Total = *params.Total
	}
	if params.RowsExported != nil {
		job.RowsExported = *params.RowsExported
	}
	if params.ResultURL != nil {
		v := *params.ResultURL
		job.ResultURL = &v
	}
	if params.ExpiresAt != nil {
		v := *params.ExpiresAt
		job.ExpiresAt = &v
	}
	if params.ErrorMessage != nil {
		v := *params.ErrorMessage
		job.ErrorMessage = &v
	}
	if params.FinishedAt != nil {
		v := *params.FinishedAt
		job.FinishedAt = &v
	}
	r.jobs[id] = job
	return nil
}

// ListQueued returns queued jobs oldest first.
func (r *MemoryExportJobRepository) ListQueued(_ context.Context, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	return r.list(limit, func(j models.ExportJob) bool {
		return j.Status == models.ExportStatusQueued
	}, func(j models.ExportJob) time.Time { return j.CreatedAt }), nil
}

// ListFinishedBefore returns finished jobs completed before cutoff, oldest first.
func (r *MemoryExportJobRepository) ListFinishedBefore(_ context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(limit, func(j models.ExportJob) bool {
		return j.Status == models.ExportStatusFinished && j.FinishedAt != nil && j.FinishedAt.Before(cutoff)
	}, func(j models.ExportJob) time.Time { return *j.FinishedAt }), nil
}

// Delete removes a job.
func (r *MemoryExportJobRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.jobs, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryExportJobRepository) list(limit int, keep func(models.ExportJob) bool, orderBy func(models.ExportJob) time.Time) []models.ExportJob {
	r.mu.RLock()
	out := make([]models.ExportJob, 0)
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(a, b int) bool { return orderBy(out[a]).Before(orderBy(out[b])) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
