package models

import "time"

// ExportFormat enumerates the artifacts an export run can produce.
type ExportFormat string

const (
	ExportFormatDocument    ExportFormat = "DOCUMENT"
	ExportFormatText        ExportFormat = "TEXT"
	ExportFormatPhotoFolder ExportFormat = "PHOTO_FOLDER"
	ExportFormatCSV         ExportFormat = "CSV"
)

// IsValid reports whether the format is supported.
func (f ExportFormat) IsValid() bool {
	switch f {
	case ExportFormatDocument, ExportFormatText, ExportFormatPhotoFolder, ExportFormatCSV:
		return true
	}
	return false
}

// NamingStrategy selects how exported photo files are named.
type NamingStrategy string

const (
	NamingStructured NamingStrategy = "structured"
	NamingSequential NamingStrategy = "sequential"
	NamingTimestamp  NamingStrategy = "timestamp"
)

// CompressionPolicy controls how photos are re-encoded for the document.
type CompressionPolicy struct {
	Quality       int    `json:"quality" validate:"omitempty,min=1,max=100"`
	MaxWidth      int    `json:"maxWidth" validate:"omitempty,min=16"`
	Watermark     bool   `json:"watermark,omitempty"`
	WatermarkText string `json:"watermarkText,omitempty"`
}

// ExportOptions is supplied by the caller for a single export run.
type ExportOptions struct {
	Formats       []ExportFormat    `json:"formats"`
	IncludePhotos bool              `json:"includePhotos"`
	IncludeNotes  bool              `json:"includeNotes"`
	Compression   CompressionPolicy `json:"compression"`
	Naming        NamingStrategy    `json:"naming,omitempty"`
	PhotosPerRow  int               `json:"photosPerRow,omitempty" validate:"omitempty,min=1,max=4"`
	TemplatePath  string            `json:"templatePath,omitempty"`
}

// Wants reports whether the given format was requested.
func (o ExportOptions) Wants(format ExportFormat) bool {
	for _, f := range o.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// DefaultExportOptions returns options producing every format with photos and notes.
func DefaultExportOptions() ExportOptions {
	return ExportOptions{
		Formats:       []ExportFormat{ExportFormatDocument, ExportFormatText, ExportFormatPhotoFolder},
		IncludePhotos: true,
		IncludeNotes:  true,
		Compression:   CompressionPolicy{Quality: 80, MaxWidth: 1024},
		Naming:        NamingStructured,
		PhotosPerRow:  2,
	}
}

// ProcessedPhoto is the in-memory result of the photo pipeline. It only lives
// while the document embeds it.
type ProcessedPhoto struct {
	Data         []byte
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
	Orientation  int
	Size         int64
}

// AspectRatio returns height over width.
func (p *ProcessedPhoto) AspectRatio() float64 {
	if p == nil || p.Width == 0 {
		return 0
	}
	return float64(p.Height) / float64(p.Width)
}

// ExportedPhoto is an original photo written to the photo folder.
type ExportedPhoto struct {
	FileName string `json:"fileName"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
}

// ManifestFile is one file produced by an export run.
type ManifestFile struct {
	Path   string       `json:"path"`
	Size   int64        `json:"size"`
	Format ExportFormat `json:"format"`
}

// ExportWarning records a recovered per-item failure.
type ExportWarning struct {
	Code     string `json:"code"`
	Stage    string `json:"stage"`
	Resource string `json:"resource"`
	Message  string `json:"message"`
}

// ExportManifest summarises one export run.
type ExportManifest struct {
	Files      []ManifestFile  `json:"files"`
	Photos     []ExportedPhoto `json:"photos,omitempty"`
	TotalSize  int64           `json:"totalSize"`
	Warnings   []ExportWarning `json:"warnings"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// NewExportManifest returns an empty manifest with non-nil slices.
func NewExportManifest() *ExportManifest {
	return &ExportManifest{
		Files:    []ManifestFile{},
		Warnings: []ExportWarning{},
	}
}

// AddFile appends a produced file and updates the total size.
func (m *ExportManifest) AddFile(path string, size int64, format ExportFormat) {
	m.Files = append(m.Files, ManifestFile{Path: path, Size: size, Format: format})
	m.TotalSize += size
}

// AddWarning appends a warning unless one with the same code and resource
// is already recorded.
func (m *ExportManifest) AddWarning(w ExportWarning) {
	for _, existing := range m.Warnings {
		if existing.Code == w.Code && existing.Resource == w.Resource {
			return
		}
	}
	m.Warnings = append(m.Warnings, w)
}

// Merge folds another manifest's files, photos and warnings into m.
func (m *ExportManifest) Merge(other *ExportManifest) {
	if other == nil {
		return
	}
	for _, f := range other.Files {
		m.AddFile(f.Path, f.Size, f.Format)
	}
	m.Photos = append(m.Photos, other.Photos...)
	for _, w := range other.Warnings {
		m.AddWarning(w)
	}
}

// ExportStage is a state of the export state machine.
type ExportStage string

const (
	StageValidating ExportStage = "VALIDATING"
	StageBudgeting  ExportStage = "BUDGETING"
	StageProcessing ExportStage = "PROCESSING"
	StageWriting    ExportStage = "WRITING"
	StageDone       ExportStage = "DONE"
	StageFailed     ExportStage = "FAILED"
)
