package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/checkup-export-api/internal/dto"
	"github.com/noah-isme/checkup-export-api/internal/models"
	"github.com/noah-isme/checkup-export-api/internal/service"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
	"github.com/noah-isme/checkup-export-api/pkg/response"
)

type exportJobService interface {
	CreateJob(ctx context.Context, req dto.ExportRequest) (*dto.ExportJobResponse, error)
	RunSync(ctx context.Context, req dto.ExportRequest) (*dto.ExportStatusResponse, error)
	GetStatus(ctx context.Context, id string) (*dto.ExportStatusResponse, error)
	ListJobs(ctx context.Context, query dto.ExportListQuery) ([]dto.ExportStatusResponse, *models.Pagination, error)
	ResolveDownload(ctx context.Context, token string) (*service.ExportDownload, error)
}

// ExportHandler exposes check-up export endpoints.
type ExportHandler struct {
	service exportJobService
}

// NewExportHandler constructs the handler.
func NewExportHandler(service exportJobService) *ExportHandler {
	return &ExportHandler{service: service}
}

// CreateExport godoc
// @Summary Queue a check-up export
// @Description Validates the check-up and queues an export producing the requested formats.
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body dto.ExportRequest true "Check-up and export options"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /exports [post]
func (h *ExportHandler) CreateExport(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	job, err := h.service.CreateJob(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, strings.TrimSuffix(c.Request.URL.Path, "/")+"/"+job.ID, job)
}

// RunExport godoc
// @Summary Run a check-up export synchronously
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body dto.ExportRequest true "Check-up and export options"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 507 {object} response.Envelope
// @Router /exports/sync [post]
func (h *ExportHandler) RunExport(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	status, err := h.service.RunSync(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// ListExports godoc
// @Summary List export jobs
// @Tags Exports
// @Produce json
// @Param status query string false "QUEUED, PROCESSING, FINISHED or FAILED"
// @Param checkupId query string false "Check-up ID"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /exports [get]
func (h *ExportHandler) ListExports(c *gin.Context) {
	var query dto.ExportListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	items, pagination, err := h.service.ListJobs(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ExportStatus godoc
// @Summary Export job status
// @Description Finished jobs include signed download links for every produced file.
// @Tags Exports
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /exports/{id} [get]
func (h *ExportHandler) ExportStatus(c *gin.Context) {
	status, err := h.service.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// DownloadExport godoc
// @Summary Download an exported file via signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /exports/download/{token} [get]
func (h *ExportHandler) DownloadExport(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	result, err := h.service.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	info, err := result.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), result.ContentType, result.File, nil)
}

func (h *ExportHandler) bindRequest(c *gin.Context) (dto.ExportRequest, bool) {
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid export payload"))
		return req, false
	}
	return req, true
}
