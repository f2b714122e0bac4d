package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/checkup-export-api/internal/models"
	"github.com/noah-isme/checkup-export-api/internal/repository"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
	"github.com/noah-isme/checkup-export-api/pkg/jobs"
)

// JobTypeExport tags queue jobs carrying an export job id.
const JobTypeExport = "checkup_export"

// ExportJobStore persists export jobs.
type ExportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	List(ctx context.Context, filter models.ExportJobFilter) ([]models.ExportJob, int, error)
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
	Delete(ctx context.Context, id string) error
}

type exportRunner interface {
	ExportWithObserver(ctx context.Context, agg *models.CheckUpAggregate, targetDir string, opts models.ExportOptions, observer StageObserver) (*models.ExportManifest, error)
}

type jobDirResolver interface {
	JobDir(jobID string) (string, error)
	Delete(name string) error
}

// ExportWorker bridges queue jobs to the export engine, writing each job into
// its own directory under the storage root.
type ExportWorker struct {
	repo   ExportJobStore
	engine exportRunner
	store  jobDirResolver
	cache  *CacheService
	logger *zap.Logger
	clock  func() time.Time
}

// NewExportWorker constructs a worker.
func NewExportWorker(repo ExportJobStore, engine exportRunner, store jobDirResolver, cache *CacheService, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportWorker{repo: repo, engine: engine, store: store, cache: cache, logger: logger, clock: time.Now}
}

// Handle processes a queue job. Export failures are recorded on the job and
// not retried; only storage errors of the job record itself are returned to
// the queue for a retry.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		return nil
	}
	_, err = w.Process(ctx, record)
	if err != nil && appErrors.FromError(err).Code == appErrors.ErrInternal.Code {
		return err
	}
	return nil
}

// Process runs the export for record and persists its outcome.
func (w *ExportWorker) Process(ctx context.Context, record *models.ExportJob) (*models.ExportManifest, error) {
	log := w.logger.Sugar().With("job_id", record.ID, "checkup_id", record.CheckUpID)
	processing := models.ExportJobProcessing
	if err := w.update(ctx, record.ID, repository.UpdateExportJobParams{Status: &processing}); err != nil {
		return nil, err
	}

	dir, err := w.store.JobDir(record.ID)
	if err != nil {
		return nil, w.fail(ctx, record.ID, appErrors.At(appErrors.ErrPermissionDenied, string(models.StageValidating), record.ID, err))
	}

	observer := StageObserverFunc(func(stage models.ExportStage) {
		progress := models.StageProgress(stage)
		if err := w.update(ctx, record.ID, repository.UpdateExportJobParams{Stage: &stage, Progress: &progress}); err != nil {
			log.Warnw("failed to record export stage", "stage", stage, "error", err)
		}
	})

	log.Infow("export job started", "dir", dir)
	manifest, err := w.engine.ExportWithObserver(ctx, &record.Params.Aggregate, dir, record.Params.Options, observer)
	if err != nil {
		if appErrors.HasCode(err, appErrors.ErrCancelled.Code) && ctx.Err() != nil {
			// shutdown: leave the job for RecoverPendingJobs
			queued := models.ExportJobQueued
			zero := 0
			if updateErr := w.update(context.Background(), record.ID, repository.UpdateExportJobParams{Status: &queued, Progress: &zero}); updateErr != nil {
				log.Warnw("failed to requeue cancelled export", "error", updateErr)
			}
			return nil, err
		}
		return nil, w.fail(ctx, record.ID, err)
	}

	finished := models.ExportJobFinished
	progress := 100
	now := w.clock().UTC()
	column := models.ManifestColumn{ExportManifest: *manifest}
	if err := w.update(ctx, record.ID, repository.UpdateExportJobParams{
		Status:     &finished,
		Progress:   &progress,
		Manifest:   &column,
		FinishedAt: &now,
	}); err != nil {
		log.Warnw("failed to mark export finished", "error", err)
		return nil, err
	}
	log.Infow("export job finished", "files", len(manifest.Files), "warnings", len(manifest.Warnings))
	return manifest, nil
}

func (w *ExportWorker) fail(ctx context.Context, id string, cause error) error {
	appErr := appErrors.FromError(cause)
	failed := models.ExportJobFailed
	stage := models.StageFailed
	progress := 100
	now := w.clock().UTC()
	msg := appErr.Error()
	if err := w.update(ctx, id, repository.UpdateExportJobParams{
		Status:       &failed,
		Stage:        &stage,
		Progress:     &progress,
		ErrorCode:    &appErr.Code,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark export failed", "job_id", id, "error", err)
		return fmt.Errorf("%w (status not persisted: %v)", cause, err)
	}
	w.logger.Sugar().Warnw("export job failed", "job_id", id, "code", appErr.Code, "error", cause)
	return cause
}

func (w *ExportWorker) update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	err := w.repo.Update(ctx, id, params)
	w.cache.Invalidate(ctx, jobStatusKey(id))
	return err
}
