package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/noah-isme/checkup-export-api/internal/models"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
)

const (
	pageMargin     = 10.0
	contentWidth   = 190.0
	pxToMM         = 25.4 / 96
	gridGap        = 4.0
	captionLine    = 2.6
	captionHeight  = 2*captionLine + 0.8
	maxNoteLength  = 60
	defaultPerRow  = 2
	placeholderFit = 0.75
)

// DocumentResult is the output of one document assembly.
type DocumentResult struct {
	Data           []byte
	Pages          int
	PhotosEmbedded int
	Placeholders   int
	Warnings       []models.ExportWarning
}

// PDFExporter assembles the check-up document with gofpdf.
type PDFExporter struct {
	processor *PhotoProcessor
	workers   int
	template  DocumentTemplate
	clock     func() time.Time
}

// NewPDFExporter constructs a document assembler. Photos are processed on a
// pool of the given size using processor.
func NewPDFExporter(processor *PhotoProcessor, workers int, tpl DocumentTemplate, clock func() time.Time) *PDFExporter {
	if processor == nil {
		processor = NewPhotoProcessor()
	}
	if clock == nil {
		clock = time.Now
	}
	return &PDFExporter{processor: processor, workers: workers, template: tpl, clock: clock}
}

// GridCellWidth returns the width in pixels of one photo cell.
func GridCellWidth(photosPerRow int) int {
	switch photosPerRow {
	case 1:
		return 400
	case 2:
		return 250
	default:
		return 200
	}
}

// Assemble builds the document. Photos that fail to process are replaced with
// a placeholder cell and reported as warnings; only layout or output failures
// are returned as DOCUMENT_GENERATION_ERROR.
func (e *PDFExporter) Assemble(ctx context.Context, agg *models.CheckUpAggregate, opts models.ExportOptions, resolver *NamingResolver) (*DocumentResult, error) {
	if agg == nil {
		return nil, appErrors.At(appErrors.ErrDocumentGeneration, string(models.StageProcessing), "", errors.New("nil aggregate"))
	}
	perRow := opts.PhotosPerRow
	if perRow <= 0 {
		perRow = e.template.PhotosPerRow
	}
	if perRow <= 0 {
		perRow = defaultPerRow
	}

	b := newDocBuilder(e.template, perRow)
	result := &DocumentResult{}
	generatedAt := e.clock()

	b.pdf.SetFooterFunc(func() {
		b.pdf.SetY(-12)
		b.pdf.SetFont("Arial", "I", 7)
		b.pdf.SetTextColor(120, 120, 120)
		footer := joinNonEmpty(" - ", e.template.FooterText, generatedAt.Format(textDateLayout), fmt.Sprintf("Pagina %d/{nb}", b.pdf.PageNo()))
		b.pdf.CellFormat(0, 5, b.tr(footer), "", 0, "C", false, 0, "")
	})
	b.pdf.AddPage()

	b.headerBlock(agg)
	b.summaryBlock(agg.Stats(), opts.IncludePhotos)

	var outcomes <-chan PhotoOutcome
	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()
	if opts.IncludePhotos && agg.PhotoCount() > 0 {
		pool := NewPhotoPool(e.processor, opts.Compression, e.workers)
		outcomes = pool.Stream(streamCtx, photoJobs(agg, resolver))
	}

	for si, section := range agg.Sections {
		if err := ctx.Err(); err != nil {
			return nil, appErrors.At(appErrors.ErrCancelled, string(models.StageProcessing), section.Title, err)
		}
		b.sectionTable(si, section, opts.IncludeNotes)
		if !opts.IncludePhotos {
			continue
		}
		if err := b.photoGrid(ctx, si, section, outcomes, result); err != nil {
			return nil, err
		}
	}

	b.sparePartsBlock(agg.SpareParts)
	b.signatureBlock(agg, generatedAt)

	if b.pdf.Err() {
		return nil, appErrors.At(appErrors.ErrDocumentGeneration, string(models.StageProcessing), "", b.pdf.Error())
	}
	var buf bytes.Buffer
	if err := b.pdf.Output(&buf); err != nil {
		return nil, appErrors.At(appErrors.ErrDocumentGeneration, string(models.StageProcessing), "", err)
	}
	// drop the document and its embedded images before validating
	b.pdf = nil

	pages, err := validateDocument(buf.Bytes())
	if err != nil {
		return nil, appErrors.At(appErrors.ErrDocumentGeneration, string(models.StageProcessing), "", err)
	}
	result.Data = buf.Bytes()
	result.Pages = pages
	return result, nil
}

// validateDocument parses the produced bytes and returns the page count.
func validateDocument(data []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("validate pdf: %w", err)
	}
	return pdfCtx.PageCount, nil
}

func photoJobs(agg *models.CheckUpAggregate, resolver *NamingResolver) []PhotoJob {
	jobs := make([]PhotoJob, 0, agg.PhotoCount())
	for si, section := range agg.Sections {
		for _, item := range section.Items {
			for pi, photo := range item.Photos {
				jobs = append(jobs, PhotoJob{
					Key: resolver.Resolve(si, section.Title, item, pi, photo.Caption),
					Ref: photo,
				})
			}
		}
	}
	return jobs
}

type docBuilder struct {
	pdf      *gofpdf.Fpdf
	tr       func(string) string
	tpl      DocumentTemplate
	perRow   int
	accentR  int
	accentG  int
	accentB  int
	imageSeq int
}

func newDocBuilder(tpl DocumentTemplate, perRow int) *docBuilder {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, 15, pageMargin)
	pdf.SetAutoPageBreak(true, 18)
	pdf.AliasNbPages("")
	pdf.SetTitle(tpl.Title, true)
	pdf.SetCreator(tpl.CompanyName, true)
	r, g, b := tpl.AccentRGB()
	return &docBuilder{
		pdf:     pdf,
		tr:      pdf.UnicodeTranslatorFromDescriptor(""),
		tpl:     tpl,
		perRow:  perRow,
		accentR: r,
		accentG: g,
		accentB: b,
	}
}

func (b *docBuilder) headerBlock(agg *models.CheckUpAggregate) {
	pdf := b.pdf
	pdf.SetFillColor(b.accentR, b.accentG, b.accentB)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 12, b.tr(strings.ToUpper(b.tpl.Title)), "", 1, "C", true, 0, "")
	if b.tpl.Subtitle != "" || b.tpl.CompanyName != "" {
		pdf.SetFont("Arial", "", 10)
		sub := strings.TrimSpace(strings.Join(nonEmpty(b.tpl.CompanyName, b.tpl.Subtitle), " - "))
		pdf.CellFormat(0, 7, b.tr(sub), "", 1, "C", true, 0, "")
	}
	pdf.Ln(4)

	h := agg.Header
	b.subheading("Informazioni generali")
	rows := [][2]string{
		{"Cliente", h.Client.Name},
		{"Stabilimento", h.Client.Facility},
		{"Indirizzo", h.Client.Address},
		{"Referente", joinNonEmpty(" - ", h.Client.Contact, h.Client.Phone, h.Client.Email)},
		{"Tecnico", joinNonEmpty(" - ", h.Technician.Name, h.Technician.Company)},
		{"Tipo isola", h.Island.Type},
		{"Modello / Matricola", joinNonEmpty(" / ", h.Island.Model, h.Island.SerialNumber)},
		{"Ubicazione", h.Island.Location},
		{"Pianificato", formatTime(h.ScheduledAt)},
		{"Iniziato", formatTime(h.StartedAt)},
		{"Completato", formatTime(h.CompletedAt)},
	}
	if h.Island.OperatingHrs > 0 {
		rows = append(rows, [2]string{"Ore di lavoro", fmt.Sprintf("%d", h.Island.OperatingHrs)})
	}
	pdf.SetTextColor(0, 0, 0)
	for _, row := range rows {
		if strings.TrimSpace(row[1]) == "" {
			continue
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(45, 6, b.tr(row[0]), "B", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(contentWidth-45, 6, b.tr(row[1]), "B", 1, "", false, 0, "")
	}
	pdf.Ln(4)
}

type summaryBox struct {
	label   string
	value   string
	r, g, b int
}

func (b *docBuilder) summaryBlock(stats models.CheckUpStats, includePhotos bool) {
	pdf := b.pdf
	b.subheading("Riepilogo")
	boxes := []summaryBox{
		{"Voci totali", fmt.Sprintf("%d", stats.TotalItems), 90, 90, 90},
		{"OK", fmt.Sprintf("%d", stats.OKItems), 46, 125, 50},
		{"NOK", fmt.Sprintf("%d", stats.NOKItems), 239, 108, 0},
		{"Critiche", fmt.Sprintf("%d", stats.CriticalItems), 198, 40, 40},
		{"Completamento", formatPercent(stats.CompletionPercentage()), b.accentR, b.accentG, b.accentB},
	}
	if includePhotos {
		boxes = append(boxes, summaryBox{"Foto", fmt.Sprintf("%d", stats.PhotoCount), 90, 90, 90})
	}
	w := contentWidth / float64(len(boxes))
	x, y := pdf.GetX(), pdf.GetY()
	for i, box := range boxes {
		pdf.SetXY(x+float64(i)*w, y)
		pdf.SetFillColor(box.r, box.g, box.b)
		pdf.SetTextColor(255, 255, 255)
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(w-1, 10, box.value, "", 2, "C", true, 0, "")
		pdf.SetFont("Arial", "", 8)
		pdf.CellFormat(w-1, 5, b.tr(box.label), "", 0, "C", true, 0, "")
	}
	pdf.SetXY(x, y+17)
	pdf.SetTextColor(0, 0, 0)
}

var itemColumns = []float64{12, 70, 26, 26, 56}

func (b *docBuilder) sectionTable(si int, section models.Section, includeNotes bool) {
	pdf := b.pdf
	pdf.Ln(2)
	stats := section.Stats()
	b.subheading(fmt.Sprintf("%d. %s (%d voci, %s completato)", si+1, section.Title, stats.TotalItems, formatPercent(stats.CompletionPercentage())))

	headers := []string{"#", "Voce", "Stato", "Criticita", "Note"}
	b.tableHeader(headers, itemColumns)
	pdf.SetFont("Arial", "", 8)
	for ii, item := range section.Items {
		note := ""
		if includeNotes {
			note = truncateNote(item.Note)
		}
		sr, sg, sb := statusColor(item.Status)
		cr, cg, cb := criticalityColor(item.Criticality)
		b.tableRow(itemColumns, []tableCell{
			{text: fmt.Sprintf("%d.%d", si+1, ii+1), align: "C"},
			{text: item.Title},
			{text: statusGlyph(item.Status), align: "C", color: [3]int{sr, sg, sb}, bold: true},
			{text: criticalityGlyph(item.Criticality), align: "C", color: [3]int{cr, cg, cb}, bold: true},
			{text: note},
		})
	}
}

// photoGrid consumes the outcomes belonging to this section in order, one row
// at a time so the page break accounts for the tallest cell of the row.
func (b *docBuilder) photoGrid(ctx context.Context, si int, section models.Section, outcomes <-chan PhotoOutcome, result *DocumentResult) error {
	count := section.Stats().PhotoCount
	if count == 0 {
		return nil
	}
	pdf := b.pdf
	cellW := math.Min(float64(GridCellWidth(b.perRow))*pxToMM, (contentWidth-gridGap*float64(b.perRow-1))/float64(b.perRow))
	_, pageH := pdf.GetPageSize()
	_, top, _, bottom := pdf.GetMargins()
	limit := pageH - bottom - 18
	maxH := limit - top - captionHeight

	pdf.Ln(2)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 5, b.tr("Documentazione fotografica"), "", 1, "", false, 0, "")

	rowTop := pdf.GetY()
	row := make([]PhotoOutcome, 0, b.perRow)
	for n := 0; n < count; n++ {
		outcome, err := nextOutcome(ctx, outcomes, section.Title)
		if err != nil {
			return err
		}
		row = append(row, outcome)
		if len(row) < b.perRow && n < count-1 {
			continue
		}

		aspects := make([]float64, len(row))
		for i, o := range row {
			aspects[i] = placeholderFit
			if o.OK() {
				aspects[i] = o.Photo.AspectRatio()
			}
		}
		cells, rowHeight := planRow(cellW, maxH, aspects)
		if rowTop+rowHeight+captionHeight > limit {
			pdf.AddPage()
			rowTop = pdf.GetY()
		}

		for col, o := range row {
			slot := pageMargin + float64(col)*(cellW+gridGap)
			x := slot + (cellW-cells[col].w)/2
			if o.OK() {
				b.imageSeq++
				name := fmt.Sprintf("photo-%d", b.imageSeq)
				imgOpts := gofpdf.ImageOptions{ImageType: "JPG"}
				pdf.RegisterImageOptionsReader(name, imgOpts, bytes.NewReader(o.Photo.Data))
				pdf.ImageOptions(name, x, rowTop, cells[col].w, cells[col].h, false, imgOpts, 0, "")
				result.PhotosEmbedded++
			} else {
				b.placeholder(x, rowTop, cells[col].w, cells[col].h)
				result.Placeholders++
				result.Warnings = append(result.Warnings, photoWarning(o))
			}
			b.caption(o.Key, slot, rowTop+cells[col].h+0.5, cellW)
		}

		rowTop += rowHeight + captionHeight + gridGap
		pdf.SetXY(pageMargin, rowTop)
		row = row[:0]
	}
	return nil
}

func nextOutcome(ctx context.Context, outcomes <-chan PhotoOutcome, resource string) (PhotoOutcome, error) {
	select {
	case outcome, ok := <-outcomes:
		if ok {
			return outcome, nil
		}
		if err := ctx.Err(); err != nil {
			return PhotoOutcome{}, appErrors.At(appErrors.ErrCancelled, string(models.StageProcessing), resource, err)
		}
		return PhotoOutcome{}, appErrors.At(appErrors.ErrDocumentGeneration, string(models.StageProcessing), resource, errors.New("photo stream ended early"))
	case <-ctx.Done():
		return PhotoOutcome{}, appErrors.At(appErrors.ErrCancelled, string(models.StageProcessing), resource, ctx.Err())
	}
}

type cellSize struct {
	w, h float64
}

// planRow sizes each cell of a grid row from its height/width ratio. Cells
// taller than maxH shrink proportionally so they fit on one page. The second
// result is the height of the tallest cell.
func planRow(cellW, maxH float64, aspects []float64) ([]cellSize, float64) {
	cells := make([]cellSize, len(aspects))
	rowHeight := 0.0
	for i, aspect := range aspects {
		w, h := cellW, cellW*aspect
		if h > maxH && h > 0 {
			w, h = w*maxH/h, maxH
		}
		cells[i] = cellSize{w: w, h: h}
		if h > rowHeight {
			rowHeight = h
		}
	}
	return cells, rowHeight
}

// caption prints the resolved file name under a cell, wrapped on two lines.
func (b *docBuilder) caption(name string, x, y, w float64) {
	pdf := b.pdf
	pdf.SetFont("Arial", "", 5.5)
	pdf.SetTextColor(60, 60, 60)
	for i, l := range pdf.SplitLines([]byte(name), w) {
		if i == 2 {
			break
		}
		pdf.SetXY(x, y+float64(i)*captionLine)
		pdf.CellFormat(w, captionLine, string(l), "", 0, "C", false, 0, "")
	}
	pdf.SetTextColor(0, 0, 0)
}

func (b *docBuilder) placeholder(x, y, w, h float64) {
	pdf := b.pdf
	pdf.SetFillColor(235, 235, 235)
	pdf.SetDrawColor(180, 180, 180)
	pdf.Rect(x, y, w, h, "FD")
	pdf.SetFont("Arial", "I", 9)
	pdf.SetTextColor(120, 120, 120)
	pdf.SetXY(x, y+h/2-3)
	pdf.CellFormat(w, 6, PhotoUnavailable, "", 0, "C", false, 0, "")
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetTextColor(0, 0, 0)
}

var partColumns = []float64{30, 70, 14, 30, 46}

func (b *docBuilder) sparePartsBlock(parts []models.SparePart) {
	pdf := b.pdf
	pdf.Ln(4)
	b.subheading("Ricambi consigliati")
	if len(parts) == 0 {
		pdf.SetFont("Arial", "I", 9)
		pdf.CellFormat(0, 6, "Nessun ricambio richiesto", "", 1, "", false, 0, "")
		return
	}
	b.tableHeader([]string{"Codice", "Descrizione", "Q.ta", "Urgenza", "Note"}, partColumns)
	pdf.SetFont("Arial", "", 8)
	for _, part := range parts {
		b.tableRow(partColumns, []tableCell{
			{text: part.PartNumber},
			{text: part.Description},
			{text: fmt.Sprintf("%d", part.Quantity), align: "C"},
			{text: urgencyLabel(part.Urgency), align: "C"},
			{text: part.Notes},
		})
	}
}

func (b *docBuilder) signatureBlock(agg *models.CheckUpAggregate, generatedAt time.Time) {
	pdf := b.pdf
	h := agg.Header
	if strings.TrimSpace(h.Conclusions) != "" || strings.TrimSpace(h.Recommendations) != "" {
		pdf.Ln(4)
		b.subheading("Conclusioni")
		pdf.SetFont("Arial", "", 9)
		if h.Conclusions != "" {
			pdf.MultiCell(0, 5, b.tr(h.Conclusions), "", "", false)
		}
		if h.Recommendations != "" {
			pdf.Ln(1)
			pdf.SetFont("Arial", "B", 9)
			pdf.CellFormat(0, 5, "Raccomandazioni", "", 1, "", false, 0, "")
			pdf.SetFont("Arial", "", 9)
			pdf.MultiCell(0, 5, b.tr(h.Recommendations), "", "", false)
		}
	}

	_, pageH := pdf.GetPageSize()
	if pdf.GetY()+40 > pageH-18 {
		pdf.AddPage()
	}
	pdf.Ln(10)
	y := pdf.GetY()
	half := contentWidth / 2
	pdf.SetFont("Arial", "", 9)
	pdf.SetXY(pageMargin, y)
	pdf.CellFormat(half-10, 5, b.tr("Firma tecnico: "+h.Technician.Name), "", 0, "", false, 0, "")
	pdf.SetXY(pageMargin+half, y)
	pdf.CellFormat(half-10, 5, b.tr("Firma cliente: "+h.Client.Name), "", 0, "", false, 0, "")
	pdf.Line(pageMargin, y+18, pageMargin+half-10, y+18)
	pdf.Line(pageMargin+half, y+18, pageMargin+contentWidth, y+18)
	pdf.SetXY(pageMargin, y+22)
	pdf.SetFont("Arial", "I", 8)
	pdf.CellFormat(0, 5, b.tr(fmt.Sprintf("Documento generato il %s", generatedAt.Format(textDateLayout))), "", 1, "", false, 0, "")
}

func (b *docBuilder) subheading(text string) {
	pdf := b.pdf
	pdf.SetFont("Arial", "B", 11)
	pdf.SetTextColor(b.accentR, b.accentG, b.accentB)
	pdf.CellFormat(0, 7, b.tr(text), "B", 1, "", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(1)
}

func (b *docBuilder) tableHeader(headers []string, widths []float64) {
	pdf := b.pdf
	pdf.SetFont("Arial", "B", 8)
	pdf.SetFillColor(b.accentR, b.accentG, b.accentB)
	pdf.SetTextColor(255, 255, 255)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 6, b.tr(header), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
}

type tableCell struct {
	text  string
	align string
	color [3]int
	bold  bool
}

// tableRow draws a row whose height fits the tallest wrapped cell.
func (b *docBuilder) tableRow(widths []float64, cells []tableCell) {
	pdf := b.pdf
	const lineH = 4.5
	lines := 1
	wrapped := make([][]string, len(cells))
	for i, cell := range cells {
		for _, l := range pdf.SplitLines([]byte(b.tr(cell.text)), widths[i]-2) {
			wrapped[i] = append(wrapped[i], string(l))
		}
		if len(wrapped[i]) > lines {
			lines = len(wrapped[i])
		}
	}
	rowH := float64(lines) * lineH

	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if pdf.GetY()+rowH > pageH-bottom {
		pdf.AddPage()
	}

	x, y := pdf.GetX(), pdf.GetY()
	for i, cell := range cells {
		pdf.Rect(x, y, widths[i], rowH, "D")
		align := cell.align
		if align == "" {
			align = "L"
		}
		style := ""
		if cell.bold {
			style = "B"
		}
		pdf.SetFont("Arial", style, 8)
		pdf.SetTextColor(cell.color[0], cell.color[1], cell.color[2])
		for li, l := range wrapped[i] {
			pdf.SetXY(x, y+float64(li)*lineH)
			pdf.CellFormat(widths[i], lineH, l, "", 0, align, false, 0, "")
		}
		x += widths[i]
	}
	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(pageMargin, y+rowH)
}

func photoWarning(outcome PhotoOutcome) models.ExportWarning {
	code := appErrors.ErrImageDecodeFailed.Code
	message := "image could not be decoded, placeholder inserted"
	if appErrors.HasCode(outcome.Err, appErrors.ErrPhotoNotFound.Code) {
		code = appErrors.ErrPhotoNotFound.Code
		message = "photo not found, placeholder inserted"
	}
	return models.ExportWarning{
		Code:     code,
		Stage:    string(models.StageProcessing),
		Resource: outcome.Ref.Path,
		Message:  message,
	}
}

func statusGlyph(s models.ItemStatus) string {
	switch s {
	case models.ItemStatusOK:
		return "OK"
	case models.ItemStatusNOK:
		return "X NOK"
	case models.ItemStatusCritical:
		return "!! CRITICO"
	case models.ItemStatusNA:
		return "N/A"
	default:
		return "..."
	}
}

func statusColor(s models.ItemStatus) (int, int, int) {
	switch s {
	case models.ItemStatusOK:
		return 46, 125, 50
	case models.ItemStatusNOK:
		return 239, 108, 0
	case models.ItemStatusCritical:
		return 198, 40, 40
	default:
		return 110, 110, 110
	}
}

func criticalityGlyph(c models.Criticality) string {
	switch c {
	case models.CriticalityCritical:
		return "!!!"
	case models.CriticalityImportant:
		return "!!"
	case models.CriticalityRoutine:
		return "!"
	default:
		return "-"
	}
}

func criticalityColor(c models.Criticality) (int, int, int) {
	switch c {
	case models.CriticalityCritical:
		return 198, 40, 40
	case models.CriticalityImportant:
		return 239, 108, 0
	case models.CriticalityRoutine:
		return 21, 101, 192
	default:
		return 110, 110, 110
	}
}

func truncateNote(note string) string {
	note = strings.Join(strings.Fields(note), " ")
	r := []rune(note)
	if len(r) <= maxNoteLength {
		return note
	}
	return string(r[:maxNoteLength-3]) + "..."
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func joinNonEmpty(sep string, values ...string) string {
	return strings.Join(nonEmpty(values...), sep)
}
