package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/checkup-export-api/internal/dto"
	"github.com/noah-isme/checkup-export-api/internal/models"
	"github.com/noah-isme/checkup-export-api/internal/repository"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
	"github.com/noah-isme/checkup-export-api/pkg/jobs"
	"github.com/noah-isme/checkup-export-api/pkg/storage"
)

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type jobProcessor interface {
	Process(ctx context.Context, record *models.ExportJob) (*models.ExportManifest, error)
}

type exportFileStore interface {
	Rel(path string) (string, error)
	Open(name string) (*os.File, error)
	Delete(name string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportJobConfig governs links, recovery and cleanup of export jobs.
type ExportJobConfig struct {
	APIPrefix       string
	ResultTTL       time.Duration
	CleanupInterval time.Duration
	StatusCacheTTL  time.Duration
}

// ExportDownload aggregates resolved download data.
type ExportDownload struct {
	File        *os.File
	Filename    string
	ContentType string
	ExpiresAt   time.Time
}

// ExportJobService manages the lifecycle of asynchronous export jobs.
type ExportJobService struct {
	repo      ExportJobStore
	queue     jobDispatcher
	processor jobProcessor
	store     exportFileStore
	signer    *storage.DownloadSigner
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       ExportJobConfig
	clock     func() time.Time
}

// NewExportJobService constructs the job service.
func NewExportJobService(repo ExportJobStore, queue jobDispatcher, processor jobProcessor, store exportFileStore, signer *storage.DownloadSigner, cache *CacheService, logger *zap.Logger, cfg ExportJobConfig) *ExportJobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.StatusCacheTTL <= 0 {
		cfg.StatusCacheTTL = time.Minute
	}
	return &ExportJobService{
		repo:      repo,
		queue:     queue,
		processor: processor,
		store:     store,
		signer:    signer,
		cache:     cache,
		validator: NewCheckUpValidator(),
		logger:    logger,
		cfg:       cfg,
		clock:     time.Now,
	}
}

// CreateJob validates the request, persists a job, and enqueues it.
func (s *ExportJobService) CreateJob(ctx context.Context, req dto.ExportRequest) (*dto.ExportJobResponse, error) {
	job, err := s.newJob(req, models.ExportJobQueued)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: JobTypeExport}); err != nil {
		failed := models.ExportJobFailed
		progress := 100
		code := appErrors.ErrInternal.Code
		msg := "failed to enqueue job"
		now := s.clock().UTC()
		_ = s.repo.Update(ctx, job.ID, repository.UpdateExportJobParams{
			Status:       &failed,
			Progress:     &progress,
			ErrorCode:    &code,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		})
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue export job")
	}
	s.logger.Sugar().Infow("export job queued", "job_id", job.ID, "checkup_id", job.CheckUpID, "formats", job.Params.Options.Formats)
	return &dto.ExportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// RunSync runs an export in the caller's goroutine and returns its final status.
func (s *ExportJobService) RunSync(ctx context.Context, req dto.ExportRequest) (*dto.ExportStatusResponse, error) {
	job, err := s.newJob(req, models.ExportJobProcessing)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}
	if _, err := s.processor.Process(ctx, job); err != nil {
		return nil, err
	}
	return s.GetStatus(ctx, job.ID)
}

// GetStatus returns job progress; finished jobs carry signed download links.
// Terminal states are served from the status cache when enabled.
func (s *ExportJobService) GetStatus(ctx context.Context, id string) (*dto.ExportStatusResponse, error) {
	var cached dto.ExportStatusResponse
	if s.cache.Get(ctx, jobStatusKey(id), &cached) {
		return &cached, nil
	}
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	resp, err := s.statusResponse(job, true)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		s.cache.Set(ctx, jobStatusKey(id), resp, s.cfg.StatusCacheTTL)
	}
	return resp, nil
}

// ListJobs returns one page of jobs without download links.
func (s *ExportJobService) ListJobs(ctx context.Context, query dto.ExportListQuery) ([]dto.ExportStatusResponse, *models.Pagination, error) {
	filter := models.ExportJobFilter{
		Status:    models.ExportJobStatus(strings.ToUpper(strings.TrimSpace(query.Status))),
		CheckUpID: strings.TrimSpace(query.CheckUpID),
		Page:      query.Page,
		PageSize:  query.PageSize,
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown job status %q", query.Status))
	}
	found, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list export jobs")
	}
	out := make([]dto.ExportStatusResponse, 0, len(found))
	for i := range found {
		resp, err := s.statusResponse(&found[i], false)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, *resp)
	}
	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return out, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// ResolveDownload validates token and opens the referenced output file.
func (s *ExportJobService) ResolveDownload(ctx context.Context, token string) (*ExportDownload, error) {
	claims, err := s.signer.Verify(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download token")
	}
	if !strings.HasPrefix(claims.RelPath, claims.JobID+"/") {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	job, err := s.load(ctx, claims.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.ExportJobFinished || job.Manifest == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "export not ready")
	}
	format, listed := s.manifestFormat(job, claims.RelPath)
	if !listed {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file is not part of this export")
	}
	file, err := s.store.Open(claims.RelPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ExportDownload{
		File:        file,
		Filename:    path.Base(claims.RelPath),
		ContentType: contentType(format),
		ExpiresAt:   claims.ExpiresAt,
	}, nil
}

// RecoverPendingJobs replays queued jobs (e.g. after process restart).
func (s *ExportJobService) RecoverPendingJobs(ctx context.Context) int {
	pending, err := s.repo.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued export jobs", "error", err)
		return 0
	}
	recovered := 0
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: JobTypeExport}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending job", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Sugar().Infow("recovered queued export jobs", "count", recovered)
	}
	return recovered
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

// CleanupExpired removes the outputs and records of jobs finished longer than
// the result TTL ago, then any orphaned job directory past the TTL.
func (s *ExportJobService) CleanupExpired(ctx context.Context) int {
	const batch = 100
	cutoff := s.clock().Add(-s.cfg.ResultTTL)
	removed := 0
	for {
		expired, err := s.repo.ListFinishedBefore(ctx, cutoff, batch)
		if err != nil {
			s.logger.Sugar().Warnw("cleanup list failed", "error", err)
			return removed
		}
		for _, job := range expired {
			if err := s.store.Delete(job.ID); err != nil {
				s.logger.Sugar().Warnw("cleanup delete failed", "job_id", job.ID, "error", err)
				continue
			}
			if err := s.repo.Delete(ctx, job.ID); err != nil {
				s.logger.Sugar().Warnw("cleanup record delete failed", "job_id", job.ID, "error", err)
				continue
			}
			s.cache.Invalidate(ctx, jobStatusKey(job.ID))
			removed++
		}
		if len(expired) < batch {
			break
		}
	}
	if orphans, err := s.store.CleanupOlderThan(s.cfg.ResultTTL); err != nil {
		s.logger.Sugar().Warnw("filesystem cleanup failed", "error", err)
	} else if len(orphans) > 0 {
		s.logger.Sugar().Infow("removed expired export directories", "count", len(orphans))
	}
	return removed
}

func (s *ExportJobService) newJob(req dto.ExportRequest, status models.ExportJobStatus) (*models.ExportJob, error) {
	opts := models.DefaultExportOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	if opts.Naming == "" {
		opts.Naming = models.NamingStructured
	}
	for _, f := range opts.Formats {
		if !f.IsValid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", f))
		}
	}
	if err := s.validator.Struct(req.CheckUp); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid check-up payload")
	}
	if err := s.validator.Struct(opts); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export options")
	}
	return &models.ExportJob{
		CheckUpID: req.CheckUp.Header.ID,
		Params:    models.ExportJobParams{Aggregate: req.CheckUp, Options: opts},
		Status:    status,
		CreatedAt: s.clock().UTC(),
	}, nil
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

func (s *ExportJobService) statusResponse(job *models.ExportJob, withLinks bool) (*dto.ExportStatusResponse, error) {
	resp := &dto.ExportStatusResponse{
		ID:         job.ID,
		CheckUpID:  job.CheckUpID,
		Status:     job.Status,
		Stage:      job.Stage,
		Progress:   job.Progress,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
	if job.ErrorCode != nil && *job.ErrorCode != "" {
		resp.Error = &dto.ExportError{Code: *job.ErrorCode}
		if job.ErrorMessage != nil {
			resp.Error.Message = *job.ErrorMessage
		}
	}
	if job.Manifest == nil {
		return resp, nil
	}
	resp.Warnings = job.Manifest.Warnings
	resp.TotalSize = job.Manifest.TotalSize
	if !withLinks || job.Status != models.ExportJobFinished {
		return resp, nil
	}
	for _, f := range job.Manifest.Files {
		rel, err := s.store.Rel(f.Path)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "export file outside storage")
		}
		token, expiresAt, err := s.signer.Sign(job.ID, rel)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
		}
		resp.Files = append(resp.Files, dto.ExportFileLink{
			Name:      strings.TrimPrefix(rel, job.ID+"/"),
			Format:    f.Format,
			Size:      f.Size,
			URL:       strings.TrimRight(s.cfg.APIPrefix, "/") + "/exports/download/" + token,
			ExpiresAt: expiresAt,
		})
	}
	return resp, nil
}

func (s *ExportJobService) manifestFormat(job *models.ExportJob, relPath string) (models.ExportFormat, bool) {
	for _, f := range job.Manifest.Files {
		rel, err := s.store.Rel(f.Path)
		if err == nil && rel == relPath {
			return f.Format, true
		}
	}
	return "", false
}

func contentType(format models.ExportFormat) string {
	switch format {
	case models.ExportFormatDocument:
		return "application/pdf"
	case models.ExportFormatText:
		return "text/plain; charset=utf-8"
	case models.ExportFormatCSV:
		return "text/csv; charset=utf-8"
	case models.ExportFormatPhotoFolder:
		return "image/jpeg"
	}
	return "application/octet-stream"
}
