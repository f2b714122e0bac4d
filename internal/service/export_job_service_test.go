package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/checkup-export-api/internal/dto"
	"github.com/noah-isme/checkup-export-api/internal/models"
	"github.com/noah-isme/checkup-export-api/internal/repository"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
	"github.com/noah-isme/checkup-export-api/pkg/jobs"
	"github.com/noah-isme/checkup-export-api/pkg/storage"
)

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type jobServiceFixture struct {
	svc    *ExportJobService
	repo   *repository.MemoryExportJobRepository
	queue  *queueStub
	store  *storage.LocalStorage
	cache  *memoryCache
	signAt time.Time
}

func newJobServiceFixture(t *testing.T) *jobServiceFixture {
	t.Helper()
	f := &jobServiceFixture{
		repo:   repository.NewMemoryExportJobRepository(),
		queue:  &queueStub{},
		store:  newTestStorage(t),
		cache:  newMemoryCache(),
		signAt: time.Now(),
	}
	engine, _ := newTestExportService(t, 1<<40)
	cache := NewCacheService(f.cache, nil, time.Minute, zap.NewNop(), true)
	worker := NewExportWorker(f.repo, engine, f.store, cache, zap.NewNop())
	signer := storage.NewDownloadSigner("test-secret", time.Hour).WithClock(func() time.Time { return f.signAt })
	f.svc = NewExportJobService(f.repo, f.queue, worker, f.store, signer, cache, zap.NewNop(), ExportJobConfig{
		APIPrefix: "/api/v1",
		ResultTTL: 24 * time.Hour,
	})
	return f
}

func exportRequest(formats ...models.ExportFormat) dto.ExportRequest {
	opts := exportOptions(formats...)
	return dto.ExportRequest{CheckUp: *checkUp(), Options: &opts}
}

func tokenOf(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}

func TestExportJobServiceCreateJobQueues(t *testing.T) {
	f := newJobServiceFixture(t)

	resp, err := f.svc.CreateJob(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)
	require.Equal(t, models.ExportJobQueued, resp.Status)
	require.NotEmpty(t, resp.ID)
	require.Len(t, f.queue.jobs, 1)
	require.Equal(t, jobs.Job{ID: resp.ID, Type: JobTypeExport}, f.queue.jobs[0])

	stored, err := f.repo.GetByID(context.Background(), resp.ID)
	require.NoError(t, err)
	require.Equal(t, "cu-1", stored.CheckUpID)
	require.Equal(t, []models.ExportFormat{models.ExportFormatText}, stored.Params.Options.Formats)
}

func TestExportJobServiceCreateJobDefaultsOptions(t *testing.T) {
	f := newJobServiceFixture(t)

	resp, err := f.svc.CreateJob(context.Background(), dto.ExportRequest{CheckUp: *checkUp()})
	require.NoError(t, err)
	stored, err := f.repo.GetByID(context.Background(), resp.ID)
	require.NoError(t, err)
	require.Equal(t, models.DefaultExportOptions(), stored.Params.Options)
}

func TestExportJobServiceCreateJobValidation(t *testing.T) {
	f := newJobServiceFixture(t)

	_, err := f.svc.CreateJob(context.Background(), exportRequest("XLSX"))
	require.ErrorIs(t, err, appErrors.ErrValidation)

	req := exportRequest(models.ExportFormatText)
	req.Options.PhotosPerRow = 9
	_, err = f.svc.CreateJob(context.Background(), req)
	require.ErrorIs(t, err, appErrors.ErrValidation)

	found, total, err := f.repo.List(context.Background(), models.ExportJobFilter{})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, found)
	require.Empty(t, f.queue.jobs)
}

func TestExportJobServiceCreateJobEnqueueFailure(t *testing.T) {
	f := newJobServiceFixture(t)
	f.queue.err = errors.New("queue is full")

	_, err := f.svc.CreateJob(context.Background(), exportRequest(models.ExportFormatText))
	require.ErrorIs(t, err, appErrors.ErrInternal)

	found, _, err := f.repo.List(context.Background(), models.ExportJobFilter{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, models.ExportJobFailed, found[0].Status)
}

func TestExportJobServiceRunSyncAndDownload(t *testing.T) {
	f := newJobServiceFixture(t)

	status, err := f.svc.RunSync(context.Background(), exportRequest(models.ExportFormatText, models.ExportFormatCSV))
	require.NoError(t, err)
	require.Equal(t, models.ExportJobFinished, status.Status)
	require.Equal(t, 100, status.Progress)
	require.Len(t, status.Files, 2)

	for _, link := range status.Files {
		require.True(t, strings.HasPrefix(link.URL, "/api/v1/exports/download/"), link.URL)
		require.False(t, strings.HasPrefix(link.Name, status.ID))

		download, err := f.svc.ResolveDownload(context.Background(), tokenOf(link.URL))
		require.NoError(t, err)
		data, err := io.ReadAll(download.File)
		require.NoError(t, err)
		require.NoError(t, download.File.Close())
		require.EqualValues(t, link.Size, len(data))
		require.Equal(t, path.Base(link.Name), download.Filename)
		switch link.Format {
		case models.ExportFormatText:
			require.Equal(t, "text/plain; charset=utf-8", download.ContentType)
		case models.ExportFormatCSV:
			require.Equal(t, "text/csv; charset=utf-8", download.ContentType)
		default:
			t.Fatalf("unexpected format %s", link.Format)
		}
	}
}

func TestExportJobServiceResolveDownloadRejects(t *testing.T) {
	f := newJobServiceFixture(t)
	status, err := f.svc.RunSync(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)
	token := tokenOf(status.Files[0].URL)

	_, err = f.svc.ResolveDownload(context.Background(), token+"00")
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	f.signAt = time.Now().Add(2 * time.Hour)
	_, err = f.svc.ResolveDownload(context.Background(), token)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	require.Contains(t, err.Error(), "expired")
	f.signAt = time.Now()

	require.NoError(t, f.store.Delete(status.ID+"/"+status.Files[0].Name))
	_, err = f.svc.ResolveDownload(context.Background(), token)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestExportJobServiceResolveDownloadChecksJob(t *testing.T) {
	f := newJobServiceFixture(t)
	queued, err := f.svc.CreateJob(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)
	signer := storage.NewDownloadSigner("test-secret", time.Hour)

	token, _, err := signer.Sign(queued.ID, queued.ID+"/report.txt")
	require.NoError(t, err)
	_, err = f.svc.ResolveDownload(context.Background(), token)
	require.ErrorIs(t, err, appErrors.ErrConflict)

	finished, err := f.svc.RunSync(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)
	token, _, err = signer.Sign(finished.ID, finished.ID+"/other.txt")
	require.NoError(t, err)
	_, err = f.svc.ResolveDownload(context.Background(), token)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	token, _, err = signer.Sign(finished.ID, queued.ID+"/report.txt")
	require.NoError(t, err)
	_, err = f.svc.ResolveDownload(context.Background(), token)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
}

func TestExportJobServiceGetStatus(t *testing.T) {
	f := newJobServiceFixture(t)

	_, err := f.svc.GetStatus(context.Background(), "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	queued, err := f.svc.CreateJob(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)
	status, err := f.svc.GetStatus(context.Background(), queued.ID)
	require.NoError(t, err)
	require.Equal(t, models.ExportJobQueued, status.Status)
	require.Empty(t, status.Files)
	require.NotContains(t, f.cache.entries, jobStatusKey(queued.ID))
}

func TestExportJobServiceCachesTerminalStatus(t *testing.T) {
	f := newJobServiceFixture(t)
	finished, err := f.svc.RunSync(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)
	require.Contains(t, f.cache.entries, jobStatusKey(finished.ID))

	require.NoError(t, f.repo.Delete(context.Background(), finished.ID))
	cached, err := f.svc.GetStatus(context.Background(), finished.ID)
	require.NoError(t, err)
	require.Len(t, cached.Files, len(finished.Files))
	require.Equal(t, finished.Files[0].URL, cached.Files[0].URL)
}

func TestExportJobServiceFailedStatusCarriesError(t *testing.T) {
	f := newJobServiceFixture(t)
	req := exportRequest(models.ExportFormatDocument)
	req.Options.TemplatePath = "missing.yaml"

	_, err := f.svc.RunSync(context.Background(), req)
	require.ErrorIs(t, err, appErrors.ErrTemplateNotFound)

	found, _, err := f.repo.List(context.Background(), models.ExportJobFilter{Status: models.ExportJobFailed})
	require.NoError(t, err)
	require.Len(t, found, 1)
	status, err := f.svc.GetStatus(context.Background(), found[0].ID)
	require.NoError(t, err)
	require.NotNil(t, status.Error)
	require.Equal(t, appErrors.ErrTemplateNotFound.Code, status.Error.Code)
	require.Empty(t, status.Files)
}

func TestExportJobServiceListJobs(t *testing.T) {
	f := newJobServiceFixture(t)
	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateJob(context.Background(), exportRequest(models.ExportFormatText))
		require.NoError(t, err)
	}
	_, err := f.svc.RunSync(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)

	items, page, err := f.svc.ListJobs(context.Background(), dto.ExportListQuery{Status: "queued", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 3, page.TotalCount)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 2, page.PageSize)

	items, _, err = f.svc.ListJobs(context.Background(), dto.ExportListQuery{Status: "FINISHED"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Empty(t, items[0].Files)

	_, _, err = f.svc.ListJobs(context.Background(), dto.ExportListQuery{Status: "LOST"})
	require.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestExportJobServiceRecoverPendingJobs(t *testing.T) {
	f := newJobServiceFixture(t)
	first, err := f.svc.CreateJob(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)
	second, err := f.svc.CreateJob(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)
	f.queue.jobs = nil

	require.Equal(t, 2, f.svc.RecoverPendingJobs(context.Background()))
	ids := []string{f.queue.jobs[0].ID, f.queue.jobs[1].ID}
	require.ElementsMatch(t, []string{first.ID, second.ID}, ids)
}

func TestExportJobServiceCleanupExpired(t *testing.T) {
	f := newJobServiceFixture(t)
	finished, err := f.svc.RunSync(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)
	queued, err := f.svc.CreateJob(context.Background(), exportRequest(models.ExportFormatText))
	require.NoError(t, err)

	require.Zero(t, f.svc.CleanupExpired(context.Background()))

	f.svc.clock = func() time.Time { return time.Now().Add(48 * time.Hour) }
	require.Equal(t, 1, f.svc.CleanupExpired(context.Background()))

	dir, err := f.store.JobDir(finished.ID)
	require.NoError(t, err)
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))
	_, err = f.svc.GetStatus(context.Background(), finished.ID)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = f.repo.GetByID(context.Background(), queued.ID)
	require.NoError(t, err)
}
