package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/checkup-export-api/internal/models"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
	"github.com/noah-isme/checkup-export-api/pkg/export"
	"github.com/noah-isme/checkup-export-api/pkg/storage"
)

const fileTimeLayout = "20060102_1504"

// ExportConfig tunes the export engine.
type ExportConfig struct {
	PhotoWorkers    int
	SafetyFactor    float64
	DefaultQuality  int
	DefaultMaxWidth int
	TemplateDir     string
}

// StageObserver is notified of every state transition of an export run.
type StageObserver interface {
	OnStage(stage models.ExportStage)
}

// StageObserverFunc adapts a function to StageObserver.
type StageObserverFunc func(stage models.ExportStage)

// OnStage implements StageObserver.
func (f StageObserverFunc) OnStage(stage models.ExportStage) { f(stage) }

type exportMetrics interface {
	ObserveExport(outcome string, duration time.Duration)
	RecordPhotos(result string, count int)
	RecordWarning(code string)
}

// ExportService runs one export: validation, storage budget, photo processing
// and document assembly, then writing every requested artifact.
type ExportService struct {
	processor *export.PhotoProcessor
	budgeter  *export.StorageBudgeter
	folder    *export.FolderExporter
	csv       *export.CSVExporter
	validator *validator.Validate
	metrics   exportMetrics
	logger    *zap.Logger
	cfg       ExportConfig
	clock     func() time.Time
}

// NewExportService constructs the export orchestrator.
func NewExportService(cfg ExportConfig, budgeter *export.StorageBudgeter, metrics exportMetrics, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if budgeter == nil {
		budgeter = export.NewStorageBudgeter(cfg.SafetyFactor)
	}
	if cfg.PhotoWorkers <= 0 {
		cfg.PhotoWorkers = 2
	}
	if cfg.DefaultQuality <= 0 {
		cfg.DefaultQuality = export.DefaultPhotoQuality
	}
	if cfg.DefaultMaxWidth <= 0 {
		cfg.DefaultMaxWidth = export.DefaultPhotoMaxWidth
	}
	return &ExportService{
		processor: export.NewPhotoProcessor(),
		budgeter:  budgeter,
		folder:    export.NewFolderExporter(),
		csv:       export.NewCSVExporter(),
		validator: NewCheckUpValidator(),
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		clock:     time.Now,
	}
}

// WithClock overrides the time source used for file names and timestamps.
func (s *ExportService) WithClock(clock func() time.Time) *ExportService {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Processor exposes the photo processor shared by every run.
func (s *ExportService) Processor() *export.PhotoProcessor {
	return s.processor
}

// NewCheckUpValidator returns a validator aware of the check-up enums.
func NewCheckUpValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("item_status", func(fl validator.FieldLevel) bool {
		return models.ItemStatus(fl.Field().String()).IsValid()
	})
	_ = v.RegisterValidation("criticality", func(fl validator.FieldLevel) bool {
		return models.Criticality(fl.Field().String()).IsValid()
	})
	return v
}

// Export runs the export without a stage observer.
func (s *ExportService) Export(ctx context.Context, agg *models.CheckUpAggregate, targetDir string, opts models.ExportOptions) (*models.ExportManifest, error) {
	return s.ExportWithObserver(ctx, agg, targetDir, opts, nil)
}

// ExportWithObserver runs the export state machine. A fatal error or a
// cancellation removes every file written by the run and returns no manifest.
func (s *ExportService) ExportWithObserver(ctx context.Context, agg *models.CheckUpAggregate, targetDir string, opts models.ExportOptions, observer StageObserver) (*models.ExportManifest, error) {
	run := &exportRun{
		svc:       s,
		ctx:       ctx,
		agg:       agg,
		targetDir: targetDir,
		opts:      opts,
		observer:  observer,
		startedAt: s.clock(),
		writes:    storage.NewWriteSet(),
		log:       s.logger.Sugar().With("target", targetDir),
	}
	manifest, err := run.execute()
	duration := s.clock().Sub(run.startedAt)
	if err != nil {
		outcome := "failed"
		if appErrors.HasCode(err, appErrors.ErrCancelled.Code) {
			outcome = "cancelled"
		}
		if rbErr := run.writes.Rollback(); rbErr != nil {
			run.log.Warnw("export rollback incomplete", "error", rbErr)
		}
		run.transition(models.StageFailed)
		run.log.Warnw("export failed", "error", err, "duration", duration)
		if s.metrics != nil {
			s.metrics.ObserveExport(outcome, duration)
		}
		return nil, err
	}
	if cmErr := run.writes.Commit(); cmErr != nil {
		run.log.Warnw("export commit left stale copies", "error", cmErr)
	}
	if s.metrics != nil {
		s.metrics.ObserveExport("success", duration)
		for _, w := range manifest.Warnings {
			s.metrics.RecordWarning(w.Code)
		}
	}
	run.log.Infow("export finished", "files", len(manifest.Files), "bytes", manifest.TotalSize, "warnings", len(manifest.Warnings), "duration", duration)
	return manifest, nil
}

type exportRun struct {
	svc       *ExportService
	ctx       context.Context
	agg       *models.CheckUpAggregate
	targetDir string
	opts      models.ExportOptions
	observer  StageObserver
	startedAt time.Time
	writes    *storage.WriteSet
	log       *zap.SugaredLogger

	template  export.DocumentTemplate
	resolver  *export.NamingResolver
	available export.PhotoAvailability
}

type outputFile struct {
	name   string
	data   []byte
	format models.ExportFormat
}

type renderedArtifacts struct {
	document *export.DocumentResult
	text     []byte
	csv      []byte
}

func (r *exportRun) execute() (*models.ExportManifest, error) {
	manifest := models.NewExportManifest()
	manifest.StartedAt = r.startedAt

	r.transition(models.StageValidating)
	if len(r.opts.Formats) == 0 {
		manifest.FinishedAt = r.svc.clock()
		r.transition(models.StageDone)
		return manifest, nil
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	if err := r.checkpoint(models.StageValidating); err != nil {
		return nil, err
	}

	r.transition(models.StageBudgeting)
	estimate := r.svc.budgeter.Estimate(r.agg, r.opts)
	if err := r.svc.budgeter.CheckAvailable(r.targetDir, estimate); err != nil {
		return nil, err
	}
	r.log.Debugw("storage budget accepted", "estimate", estimate, "safetyFactor", r.svc.budgeter.SafetyFactor())
	if err := r.checkpoint(models.StageBudgeting); err != nil {
		return nil, err
	}

	r.transition(models.StageProcessing)
	r.resolver = export.NewNamingResolver(r.opts.Naming, r.startedAt)
	r.resolver.ResolveAll(r.agg)
	r.available = r.probePhotos(manifest)
	artifacts, err := r.render(manifest)
	if err != nil {
		return nil, err
	}
	if err := r.checkpoint(models.StageProcessing); err != nil {
		return nil, err
	}

	r.transition(models.StageWriting)
	if err := r.write(artifacts, manifest); err != nil {
		return nil, err
	}
	if err := r.checkpoint(models.StageWriting); err != nil {
		return nil, err
	}

	manifest.FinishedAt = r.svc.clock()
	r.transition(models.StageDone)
	return manifest, nil
}

func (r *exportRun) transition(stage models.ExportStage) {
	r.log.Infow("export stage", "stage", stage)
	if r.observer != nil {
		r.observer.OnStage(stage)
	}
}

func (r *exportRun) checkpoint(stage models.ExportStage) error {
	if err := r.ctx.Err(); err != nil {
		return appErrors.At(appErrors.ErrCancelled, string(stage), r.targetDir, err)
	}
	return nil
}

func (r *exportRun) validate() error {
	stage := string(models.StageValidating)
	if r.agg == nil {
		return appErrors.At(appErrors.ErrValidation, stage, "", errors.New("check-up aggregate is required"))
	}
	if strings.TrimSpace(r.targetDir) == "" {
		return appErrors.At(appErrors.ErrValidation, stage, "", errors.New("target directory is required"))
	}
	seen := make(map[models.ExportFormat]struct{}, len(r.opts.Formats))
	formats := make([]models.ExportFormat, 0, len(r.opts.Formats))
	for _, f := range r.opts.Formats {
		if !f.IsValid() {
			return appErrors.At(appErrors.ErrValidation, stage, string(f), fmt.Errorf("unsupported export format %q", f))
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		formats = append(formats, f)
	}
	r.opts.Formats = formats

	if err := r.svc.validator.Struct(r.agg); err != nil {
		return appErrors.At(appErrors.ErrValidation, stage, r.agg.Header.ID, err)
	}
	if err := uniqueItemIDs(r.agg); err != nil {
		return appErrors.At(appErrors.ErrValidation, stage, r.agg.Header.ID, err)
	}
	if r.opts.PhotosPerRow < 0 || r.opts.PhotosPerRow > 4 {
		return appErrors.At(appErrors.ErrValidation, stage, "", fmt.Errorf("photos per row must be between 1 and 4"))
	}
	if r.opts.Compression.Quality <= 0 {
		r.opts.Compression.Quality = r.svc.cfg.DefaultQuality
	}
	if r.opts.Compression.MaxWidth <= 0 {
		r.opts.Compression.MaxWidth = r.svc.cfg.DefaultMaxWidth
	}
	r.opts.Compression = export.NormalizePolicy(r.opts.Compression)

	if info, err := os.Stat(r.targetDir); err == nil && !info.IsDir() {
		return appErrors.At(appErrors.ErrPermissionDenied, stage, r.targetDir, errors.New("target is not a directory"))
	}

	tpl, err := export.LoadTemplate(r.templatePath())
	if err != nil {
		return err
	}
	r.template = tpl
	return nil
}

// uniqueItemIDs rejects sections holding two items with the same id, since
// photo names are keyed on (section, item, photo).
func uniqueItemIDs(agg *models.CheckUpAggregate) error {
	for si, section := range agg.Sections {
		seen := make(map[string]struct{}, len(section.Items))
		for _, item := range section.Items {
			if _, dup := seen[item.ID]; dup {
				return fmt.Errorf("section %d %q: duplicate item id %q", si+1, section.Title, item.ID)
			}
			seen[item.ID] = struct{}{}
		}
	}
	return nil
}

// templatePath keeps caller supplied templates inside the template directory
// when one is configured.
func (r *exportRun) templatePath() string {
	path := strings.TrimSpace(r.opts.TemplatePath)
	if path == "" || r.svc.cfg.TemplateDir == "" {
		return path
	}
	return filepath.Join(r.svc.cfg.TemplateDir, filepath.Clean("/"+path))
}

// probePhotos checks every photo source once so all generators agree on
// which photos are missing.
func (r *exportRun) probePhotos(manifest *models.ExportManifest) export.PhotoAvailability {
	var mu sync.Mutex
	known := make(map[string]bool)
	available := func(ref models.PhotoRef) bool {
		mu.Lock()
		defer mu.Unlock()
		ok, cached := known[ref.Path]
		if !cached {
			ok = export.SourceExists(ref)
			known[ref.Path] = ok
		}
		return ok
	}
	if !r.opts.IncludePhotos {
		return available
	}
	for _, section := range r.agg.Sections {
		for _, item := range section.Items {
			for _, photo := range item.Photos {
				if available(photo) {
					continue
				}
				manifest.AddWarning(models.ExportWarning{
					Code:     appErrors.ErrPhotoNotFound.Code,
					Stage:    string(models.StageProcessing),
					Resource: photo.Path,
					Message:  "photo not found, placeholder inserted",
				})
			}
		}
	}
	return available
}

func (r *exportRun) render(manifest *models.ExportManifest) (*renderedArtifacts, error) {
	out := &renderedArtifacts{}
	clock := func() time.Time { return r.startedAt }

	if r.opts.Wants(models.ExportFormatDocument) {
		assembler := export.NewPDFExporter(r.svc.processor, r.svc.cfg.PhotoWorkers, r.template, clock)
		doc, err := assembler.Assemble(r.ctx, r.agg, r.opts, r.resolver)
		if err != nil {
			return nil, err
		}
		for _, w := range doc.Warnings {
			manifest.AddWarning(w)
		}
		if m := r.svc.metrics; m != nil {
			m.RecordPhotos("embedded", doc.PhotosEmbedded)
			m.RecordPhotos("placeholder", doc.Placeholders)
		}
		out.document = doc
	}
	if r.opts.Wants(models.ExportFormatText) {
		renderer := export.NewTextRenderer(r.template, clock)
		out.text = []byte(renderer.Render(r.agg, r.opts, r.resolver, r.available))
	}
	if r.opts.Wants(models.ExportFormatCSV) {
		data, err := r.svc.csv.Render(export.ItemsDataset(r.agg, r.opts, r.resolver, r.available))
		if err != nil {
			return nil, appErrors.At(appErrors.ErrDocumentGeneration, string(models.StageProcessing), "csv", err)
		}
		out.csv = data
	}
	return out, nil
}

func (r *exportRun) write(artifacts *renderedArtifacts, manifest *models.ExportManifest) error {
	stage := string(models.StageWriting)
	if err := r.writes.MkdirAll(r.targetDir); err != nil {
		return appErrors.At(appErrors.ErrPermissionDenied, stage, r.targetDir, err)
	}
	stamp := r.startedAt.Format(fileTimeLayout)
	h := r.agg.Header

	var files []outputFile
	if artifacts.document != nil {
		files = append(files, outputFile{DocumentFileName(h.Island.Type, h.Client.Name, r.startedAt), artifacts.document.Data, models.ExportFormatDocument})
	}
	if artifacts.text != nil {
		files = append(files, outputFile{fmt.Sprintf("Checkup_Summary_%s.txt", stamp), artifacts.text, models.ExportFormatText})
	}
	if artifacts.csv != nil {
		files = append(files, outputFile{fmt.Sprintf("Checkup_Items_%s.csv", stamp), artifacts.csv, models.ExportFormatCSV})
	}

	for _, f := range files {
		if err := r.checkpoint(models.StageWriting); err != nil {
			return err
		}
		path := filepath.Join(r.targetDir, f.name)
		n, err := r.writes.WriteFile(path, f.data)
		if err != nil {
			return appErrors.At(appErrors.ErrPermissionDenied, stage, path, err)
		}
		manifest.AddFile(path, n, f.format)
	}

	if r.opts.Wants(models.ExportFormatPhotoFolder) {
		folder, err := r.svc.folder.Export(r.ctx, r.agg, r.targetDir, r.resolver, r.opts, r.writes)
		if err != nil {
			return err
		}
		manifest.Merge(folder)
		if m := r.svc.metrics; m != nil {
			m.RecordPhotos("copied", len(folder.Photos))
		}
	}
	return nil
}

// DocumentFileName builds Checkup_{IslandType}_{ClientName}_{yyyyMMdd_HHmm}.pdf.
func DocumentFileName(islandType, clientName string, at time.Time) string {
	return fmt.Sprintf("Checkup_%s_%s_%s.pdf", sanitizeFilename(islandType), sanitizeFilename(clientName), at.Format(fileTimeLayout))
}

func sanitizeFilename(raw string) string {
	raw = export.ToASCII(strings.TrimSpace(raw))
	if raw == "" {
		return "NA"
	}
	var b strings.Builder
	underscore := false
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	result := strings.TrimRight(b.String(), "_")
	if len(result) > 40 {
		result = strings.TrimRight(result[:40], "_")
	}
	if result == "" {
		return "NA"
	}
	return result
}
