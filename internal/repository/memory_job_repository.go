package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/checkup-export-api/internal/models"
)

// MemoryExportJobRepository keeps export jobs in process memory. It is used
// when no database is configured; jobs do not survive a restart.
type MemoryExportJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]models.ExportJob
}

// NewMemoryExportJobRepository constructs an empty store.
func NewMemoryExportJobRepository() *MemoryExportJobRepository {
	return &MemoryExportJobRepository{jobs: make(map[string]models.ExportJob)}
}

// Create stores a copy of job.
func (r *MemoryExportJobRepository) Create(_ context.Context, job *models.ExportJob) error {
	prepareJob(job)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("create export job: duplicate id %s", job.ID)
	}
	r.jobs[job.ID] = *job
	return nil
}

// GetByID returns a copy of the stored job or sql.ErrNoRows.
func (r *MemoryExportJobRepository) GetByID(_ context.Context, id string) (*models.ExportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
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
	if params.Stage != nil {
		job.Stage = *params.Stage
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.Manifest != nil {
		m := *params.Manifest
		job.Manifest = &m
	}
	if params.ErrorCode != nil {
		v := *params.ErrorCode
		job.ErrorCode = &v
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

// List returns one page of jobs, newest first.
func (r *MemoryExportJobRepository) List(_ context.Context, filter models.ExportJobFilter) ([]models.ExportJob, int, error) {
	page, size := normalizePage(filter.Page, filter.PageSize)
	matched := r.collect(func(j models.ExportJob) bool {
		if filter.Status != "" && j.Status != filter.Status {
			return false
		}
		return filter.CheckUpID == "" || j.CheckUpID == filter.CheckUpID
	})
	sort.Slice(matched, func(i, k int) bool { return matched[i].CreatedAt.After(matched[k].CreatedAt) })

	start := (page - 1) * size
	if start >= len(matched) {
		return []models.ExportJob{}, len(matched), nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

// ListQueued returns queued jobs, oldest first.
func (r *MemoryExportJobRepository) ListQueued(_ context.Context, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	queued := r.collect(func(j models.ExportJob) bool { return j.Status == models.ExportJobQueued })
	sort.Slice(queued, func(i, k int) bool { return queued[i].CreatedAt.Before(queued[k].CreatedAt) })
	if len(queued) > limit {
		queued = queued[:limit]
	}
	return queued, nil
}

// ListFinishedBefore returns terminal jobs finished before cutoff.
func (r *MemoryExportJobRepository) ListFinishedBefore(_ context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	done := r.collect(func(j models.ExportJob) bool {
		return j.Status.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff)
	})
	sort.Slice(done, func(i, k int) bool { return done[i].FinishedAt.Before(*done[k].FinishedAt) })
	if len(done) > limit {
		done = done[:limit]
	}
	return done, nil
}

// Delete removes a job.
func (r *MemoryExportJobRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return nil
}

func (r *MemoryExportJobRepository) collect(keep func(models.ExportJob) bool) []models.ExportJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ExportJob, 0, len(r.jobs))
	for _, j := range r.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	return out
}
