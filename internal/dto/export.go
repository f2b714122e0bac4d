package dto

import (
	"time"

	"github.com/noah-isme/checkup-export-api/internal/models"
)

// ExportRequest captures the POST /exports payload. Options default to every
// format with photos and notes when omitted.
type ExportRequest struct {
	CheckUp models.CheckUpAggregate `json:"checkup"`
	Options *models.ExportOptions   `json:"options,omitempty"`
}

// ExportJobResponse is returned after enqueueing an export.
type ExportJobResponse struct {
	ID       string                 `json:"id"`
	Status   models.ExportJobStatus `json:"status"`
	Progress int                    `json:"progress"`
}

// ExportFileLink is one downloadable output of a finished job.
type ExportFileLink struct {
	Name      string              `json:"name"`
	Format    models.ExportFormat `json:"format"`
	Size      int64               `json:"size"`
	URL       string              `json:"url"`
	ExpiresAt time.Time           `json:"expiresAt"`
}

// ExportError describes why a job failed.
type ExportError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExportStatusResponse exposes job progress and, once finished, its outputs.
type ExportStatusResponse struct {
	ID         string                 `json:"id"`
	CheckUpID  string                 `json:"checkupId"`
	Status     models.ExportJobStatus `json:"status"`
	Stage      models.ExportStage     `json:"stage,omitempty"`
	Progress   int                    `json:"progress"`
	Files      []ExportFileLink       `json:"files,omitempty"`
	Warnings   []models.ExportWarning `json:"warnings,omitempty"`
	TotalSize  int64                  `json:"totalSize,omitempty"`
	Error      *ExportError           `json:"error,omitempty"`
	CreatedAt  time.Time              `json:"createdAt"`
	FinishedAt *time.Time             `json:"finishedAt,omitempty"`
}

// ExportListQuery captures GET /exports query parameters.
type ExportListQuery struct {
	Status    string `form:"status"`
	CheckUpID string `form:"checkupId"`
	Page      int    `form:"page"`
	PageSize  int    `form:"pageSize"`
}
