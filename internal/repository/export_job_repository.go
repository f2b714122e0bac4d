package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/checkup-export-api/internal/models"
)

const exportJobColumns = `id, checkup_id, params, status, stage, progress, manifest, created_at, finished_at, error_code, error_message`

type queryObserver interface {
	ObserveDBQuery(label string, duration time.Duration)
}

// ExportJobRepository persists export job metadata in Postgres.
type ExportJobRepository struct {
	db      *sqlx.DB
	metrics queryObserver
}

// NewExportJobRepository constructs the repository.
func NewExportJobRepository(db *sqlx.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

// WithMetrics records query timings on the given observer.
func (r *ExportJobRepository) WithMetrics(m queryObserver) *ExportJobRepository {
	r.metrics = m
	return r
}

func (r *ExportJobRepository) observe(label string, start time.Time) {
	if r.metrics != nil {
		r.metrics.ObserveDBQuery(label, time.Since(start))
	}
}

// Create inserts a new export job row with generated defaults.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.ExportJob) error {
	defer r.observe("export_jobs_create", time.Now())
	prepareJob(job)
	const query = `INSERT INTO export_jobs (id, checkup_id, params, status, stage, progress, manifest, created_at, finished_at, error_code, error_message)
VALUES (:id, :checkup_id, :params, :status, :stage, :progress, :manifest, :created_at, :finished_at, :error_code, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *ExportJobRepository) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	defer r.observe("export_jobs_get", time.Now())
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE id = $1`
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("get export job: %w", err)
	}
	return &job, nil
}

// UpdateExportJobParams defines the mutable fields.
type UpdateExportJobParams struct {
	Status       *models.ExportJobStatus
	Stage        *models.ExportStage
	Progress     *int
	Manifest     *models.ManifestColumn
	ErrorCode    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a job row.
func (r *ExportJobRepository) Update(ctx context.Context, id string, params UpdateExportJobParams) error {
	defer r.observe("export_jobs_update", time.Now())
	set := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Status != nil {
		add("status", *params.Status)
	}
	if params.Stage != nil {
		add("stage", *params.Stage)
	}
	if params.Progress != nil {
		add("progress", *params.Progress)
	}
	if params.Manifest != nil {
		add("manifest", *params.Manifest)
	}
	if params.ErrorCode != nil {
		add("error_code", *params.ErrorCode)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.FinishedAt != nil {
		add("finished_at", *params.FinishedAt)
	}
	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE export_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	return nil
}

// List returns one page of jobs, newest first, with the total match count.
func (r *ExportJobRepository) List(ctx context.Context, filter models.ExportJobFilter) ([]models.ExportJob, int, error) {
	defer r.observe("export_jobs_list", time.Now())
	page, size := normalizePage(filter.Page, filter.PageSize)

	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 4)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CheckUpID != "" {
		args = append(args, filter.CheckUpID)
		conditions = append(conditions, fmt.Sprintf("checkup_id = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM export_jobs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count export jobs: %w", err)
	}

	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf("SELECT %s FROM export_jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", exportJobColumns, where, len(args)-1, len(args))
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list export jobs: %w", err)
	}
	return jobs, total, nil
}

// ListQueued fetches queued jobs (used for cold start recovery).
func (r *ExportJobRepository) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	defer r.observe("export_jobs_list_queued", time.Now())
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE status = 'QUEUED' ORDER BY created_at ASC LIMIT $1`
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued export jobs: %w", err)
	}
	return jobs, nil
}

// ListFinishedBefore retrieves terminal jobs finished prior to cutoff for cleanup.
func (r *ExportJobRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	defer r.observe("export_jobs_list_finished", time.Now())
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + exportJobColumns + ` FROM export_jobs WHERE status IN ('FINISHED', 'FAILED') AND finished_at IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2`
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished export jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a job row.
func (r *ExportJobRepository) Delete(ctx context.Context, id string) error {
	defer r.observe("export_jobs_delete", time.Now())
	if _, err := r.db.ExecContext(ctx, `DELETE FROM export_jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete export job: %w", err)
	}
	return nil
}

func prepareJob(job *models.ExportJob) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ExportJobQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.CheckUpID == "" {
		job.CheckUpID = job.Params.Aggregate.Header.ID
	}
}

func normalizePage(page, size int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}
