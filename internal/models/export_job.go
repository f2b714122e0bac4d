package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ExportJobStatus captures background job lifecycle states.
type ExportJobStatus string

const (
	ExportJobQueued     ExportJobStatus = "QUEUED"
	ExportJobProcessing ExportJobStatus = "PROCESSING"
	ExportJobFinished   ExportJobStatus = "FINISHED"
	ExportJobFailed     ExportJobStatus = "FAILED"
)

// Terminal reports whether the job reached a final state.
func (s ExportJobStatus) Terminal() bool {
	return s == ExportJobFinished || s == ExportJobFailed
}

// IsValid reports whether the status is known.
func (s ExportJobStatus) IsValid() bool {
	switch s {
	case ExportJobQueued, ExportJobProcessing, ExportJobFinished, ExportJobFailed:
		return true
	}
	return false
}

// StageProgress maps an export stage to the job progress percentage.
func StageProgress(stage ExportStage) int {
	switch stage {
	case StageValidating:
		return 10
	case StageBudgeting:
		return 20
	case StageProcessing:
		return 40
	case StageWriting:
		return 80
	case StageDone, StageFailed:
		return 100
	}
	return 0
}

// ExportJob persisted background export metadata.
type ExportJob struct {
	ID           string          `db:"id" json:"id"`
	CheckUpID    string          `db:"checkup_id" json:"checkup_id"`
	Params       ExportJobParams `db:"params" json:"params"`
	Status       ExportJobStatus `db:"status" json:"status"`
	Stage        ExportStage     `db:"stage" json:"stage,omitempty"`
	Progress     int             `db:"progress" json:"progress"`
	Manifest     *ManifestColumn `db:"manifest" json:"manifest,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	ErrorCode    *string         `db:"error_code" json:"error_code,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
}

// ExportJobFilter narrows job listings.
type ExportJobFilter struct {
	Status    ExportJobStatus
	CheckUpID string
	Page      int
	PageSize  int
}

// ExportJobParams stores the request payload persisted as JSONB.
type ExportJobParams struct {
	Aggregate CheckUpAggregate `json:"aggregate"`
	Options   ExportOptions    `json:"options"`
}

// Value marshals params to JSON for persistence.
func (p ExportJobParams) Value() (driver.Value, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal export job params: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the params struct.
func (p *ExportJobParams) Scan(value interface{}) error {
	data, err := jsonBytes(value, "ExportJobParams")
	if err != nil {
		return err
	}
	if len(data) == 0 {
		*p = ExportJobParams{}
		return nil
	}
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("unmarshal export job params: %w", err)
	}
	return nil
}

// ManifestColumn wraps a manifest for JSONB persistence.
type ManifestColumn struct {
	ExportManifest
}

// Value marshals the manifest to JSON for persistence.
func (m ManifestColumn) Value() (driver.Value, error) {
	data, err := json.Marshal(m.ExportManifest)
	if err != nil {
		return nil, fmt.Errorf("marshal export manifest: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON manifest column.
func (m *ManifestColumn) Scan(value interface{}) error {
	data, err := jsonBytes(value, "ManifestColumn")
	if err != nil {
		return err
	}
	if len(data) == 0 {
		*m = ManifestColumn{}
		return nil
	}
	if err := json.Unmarshal(data, &m.ExportManifest); err != nil {
		return fmt.Errorf("unmarshal export manifest: %w", err)
	}
	return nil
}

func jsonBytes(value interface{}, target string) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported type %T for %s", value, target)
	}
}
