package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/checkup-export-api/internal/models"
	"github.com/noah-isme/checkup-export-api/internal/repository"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
	"github.com/noah-isme/checkup-export-api/pkg/jobs"
	"github.com/noah-isme/checkup-export-api/pkg/storage"
)

type runnerStub struct {
	calls int
	run   func(ctx context.Context, dir string, observer StageObserver) (*models.ExportManifest, error)
}

func (r *runnerStub) ExportWithObserver(ctx context.Context, _ *models.CheckUpAggregate, dir string, _ models.ExportOptions, observer StageObserver) (*models.ExportManifest, error) {
	r.calls++
	return r.run(ctx, dir, observer)
}

func newTestStorage(t *testing.T) *storage.LocalStorage {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return store
}

func seedJob(t *testing.T, repo *repository.MemoryExportJobRepository, agg *models.CheckUpAggregate, opts models.ExportOptions) *models.ExportJob {
	t.Helper()
	job := &models.ExportJob{Params: models.ExportJobParams{Aggregate: *agg, Options: opts}}
	require.NoError(t, repo.Create(context.Background(), job))
	return job
}

func TestExportWorkerFinishesJob(t *testing.T) {
	src := t.TempDir()
	svc, _ := newTestExportService(t, 1<<40)
	repo := repository.NewMemoryExportJobRepository()
	store := newTestStorage(t)
	job := seedJob(t, repo, checkUp(models.PhotoRef{Path: writeTestJPEG(t, src, "a.jpg", 64, 48)}), exportOptions(models.ExportFormatText, models.ExportFormatPhotoFolder))

	worker := NewExportWorker(repo, svc, store, nil, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID, Type: JobTypeExport}))

	stored, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportJobFinished, stored.Status)
	require.Equal(t, models.StageDone, stored.Stage)
	require.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.FinishedAt)
	require.NotNil(t, stored.Manifest)
	require.Len(t, stored.Manifest.Files, 2)

	dir, err := store.JobDir(job.ID)
	require.NoError(t, err)
	for _, f := range stored.Manifest.Files {
		require.True(t, strings.HasPrefix(f.Path, dir+string(filepath.Separator)), f.Path)
		_, err := os.Stat(f.Path)
		require.NoError(t, err)
	}
}

func TestExportWorkerRecordsExportFailure(t *testing.T) {
	src := t.TempDir()
	svc, _ := newTestExportService(t, 0)
	repo := repository.NewMemoryExportJobRepository()
	job := seedJob(t, repo, checkUp(models.PhotoRef{Path: writeTestJPEG(t, src, "a.jpg", 64, 48)}), exportOptions(models.ExportFormatPhotoFolder))

	worker := NewExportWorker(repo, svc, newTestStorage(t), nil, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID}))

	stored, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportJobFailed, stored.Status)
	require.Equal(t, models.StageFailed, stored.Stage)
	require.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ErrorCode)
	require.Equal(t, appErrors.ErrInsufficientStorage.Code, *stored.ErrorCode)
	require.Nil(t, stored.Manifest)
}

func TestExportWorkerRecordsStageProgress(t *testing.T) {
	repo := repository.NewMemoryExportJobRepository()
	job := seedJob(t, repo, checkUp(), exportOptions(models.ExportFormatText))
	var seen []int
	runner := &runnerStub{run: func(ctx context.Context, _ string, observer StageObserver) (*models.ExportManifest, error) {
		for _, stage := range []models.ExportStage{models.StageValidating, models.StageBudgeting, models.StageProcessing, models.StageWriting} {
			observer.OnStage(stage)
			stored, err := repo.GetByID(ctx, job.ID)
			require.NoError(t, err)
			require.Equal(t, stage, stored.Stage)
			seen = append(seen, stored.Progress)
		}
		return models.NewExportManifest(), nil
	}}

	worker := NewExportWorker(repo, runner, newTestStorage(t), nil, zap.NewNop())
	_, err := worker.Process(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, []int{10, 20, 40, 80}, seen)
}

func TestExportWorkerSkipsTerminalJobs(t *testing.T) {
	repo := repository.NewMemoryExportJobRepository()
	job := seedJob(t, repo, checkUp(), exportOptions(models.ExportFormatText))
	finished := models.ExportJobFinished
	require.NoError(t, repo.Update(context.Background(), job.ID, repository.UpdateExportJobParams{Status: &finished}))

	runner := &runnerStub{run: func(context.Context, string, StageObserver) (*models.ExportManifest, error) {
		return models.NewExportManifest(), nil
	}}
	worker := NewExportWorker(repo, runner, newTestStorage(t), nil, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: job.ID}))
	require.Zero(t, runner.calls)
}

func TestExportWorkerRequeuesOnShutdown(t *testing.T) {
	repo := repository.NewMemoryExportJobRepository()
	job := seedJob(t, repo, checkUp(), exportOptions(models.ExportFormatText))
	ctx, cancel := context.WithCancel(context.Background())
	runner := &runnerStub{run: func(ctx context.Context, dir string, _ StageObserver) (*models.ExportManifest, error) {
		cancel()
		return nil, appErrors.At(appErrors.ErrCancelled, string(models.StageProcessing), dir, ctx.Err())
	}}

	worker := NewExportWorker(repo, runner, newTestStorage(t), nil, zap.NewNop())
	require.NoError(t, worker.Handle(ctx, jobs.Job{ID: job.ID}))

	stored, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportJobQueued, stored.Status)
	require.Zero(t, stored.Progress)
	require.Nil(t, stored.ErrorCode)
}

func TestExportWorkerUnknownJobIsRetried(t *testing.T) {
	runner := &runnerStub{run: func(context.Context, string, StageObserver) (*models.ExportManifest, error) {
		return nil, nil
	}}
	worker := NewExportWorker(repository.NewMemoryExportJobRepository(), runner, newTestStorage(t), nil, zap.NewNop())
	require.Error(t, worker.Handle(context.Background(), jobs.Job{ID: "missing"}))
	require.Zero(t, runner.calls)
}

func TestExportWorkerInvalidatesCachedStatus(t *testing.T) {
	repo := repository.NewMemoryExportJobRepository()
	job := seedJob(t, repo, checkUp(), exportOptions(models.ExportFormatText))
	cacheRepo := newMemoryCache()
	cache := NewCacheService(cacheRepo, nil, time.Minute, zap.NewNop(), true)
	cache.Set(context.Background(), jobStatusKey(job.ID), map[string]string{"status": "stale"}, 0)

	runner := &runnerStub{run: func(context.Context, string, StageObserver) (*models.ExportManifest, error) {
		return models.NewExportManifest(), nil
	}}
	worker := NewExportWorker(repo, runner, newTestStorage(t), cache, zap.NewNop())
	_, err := worker.Process(context.Background(), job)
	require.NoError(t, err)

	var cached map[string]string
	require.False(t, cache.Get(context.Background(), jobStatusKey(job.ID), &cached))
}
