package export

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/noah-isme/checkup-export-api/internal/models"
)

const (
	textWidth       = 80
	textDateLayout  = "02/01/2006 15:04"
	textLabelWidth  = 18
	textPhotoIndent = "      - "

	// PhotoUnavailable replaces a photo that could not be read or decoded.
	PhotoUnavailable = "[Foto non disponibile]"
)

var (
	textRule = strings.Repeat("=", textWidth)
	textLine = strings.Repeat("-", textWidth)
)

// PhotoAvailability reports whether a photo source can be exported.
type PhotoAvailability func(ref models.PhotoRef) bool

// SourceExists is the default availability probe.
func SourceExists(ref models.PhotoRef) bool {
	info, err := os.Stat(ref.Path)
	return err == nil && !info.IsDir()
}

// TextRenderer renders a fixed-width ASCII summary of a check-up.
type TextRenderer struct {
	template DocumentTemplate
	clock    func() time.Time
}

// NewTextRenderer constructs a renderer. A nil clock uses time.Now.
func NewTextRenderer(tpl DocumentTemplate, clock func() time.Time) *TextRenderer {
	if clock == nil {
		clock = time.Now
	}
	return &TextRenderer{template: tpl, clock: clock}
}

// Render produces the report. Photo names come from resolver so they match the
// photo folder exactly; unavailable photos are listed with a placeholder.
func (r *TextRenderer) Render(agg *models.CheckUpAggregate, opts models.ExportOptions, resolver *NamingResolver, available PhotoAvailability) string {
	if agg == nil {
		return ""
	}
	if available == nil {
		available = SourceExists
	}

	w := &textWriter{}
	w.rule()
	w.centered(r.template.Title)
	if r.template.CompanyName != "" {
		w.centered(r.template.CompanyName)
	}
	w.rule()
	w.blank()

	h := agg.Header
	w.heading("INFORMAZIONI GENERALI")
	w.field("Cliente", h.Client.Name)
	w.field("Stabilimento", h.Client.Facility)
	w.field("Indirizzo", h.Client.Address)
	w.field("Referente", h.Client.Contact)
	w.field("Tecnico", h.Technician.Name)
	w.field("Azienda", h.Technician.Company)
	w.field("Tipo isola", h.Island.Type)
	w.field("Modello", h.Island.Model)
	w.field("Matricola", h.Island.SerialNumber)
	if h.Island.OperatingHrs > 0 {
		w.field("Ore di lavoro", fmt.Sprintf("%d", h.Island.OperatingHrs))
	}
	w.field("Pianificato", formatTime(h.ScheduledAt))
	w.field("Iniziato", formatTime(h.StartedAt))
	w.field("Completato", formatTime(h.CompletedAt))
	w.blank()

	stats := agg.Stats()
	w.rule()
	w.heading("RIEPILOGO")
	w.field("Voci totali", fmt.Sprintf("%d", stats.TotalItems))
	w.field("Voci OK", fmt.Sprintf("%d", stats.OKItems))
	w.field("Voci NOK", fmt.Sprintf("%d", stats.NOKItems))
	w.field("Voci critiche", fmt.Sprintf("%d", stats.CriticalItems))
	w.field("In attesa", fmt.Sprintf("%d", stats.PendingItems))
	w.field("Completamento", formatPercent(stats.CompletionPercentage()))
	if opts.IncludePhotos {
		w.field("Foto acquisite", fmt.Sprintf("%d", stats.PhotoCount))
	}
	w.blank()

	for si, section := range agg.Sections {
		s := section.Stats()
		w.rule()
		w.heading(fmt.Sprintf("SEZIONE %d: %s", si+1, strings.ToUpper(section.Title)))
		w.line(fmt.Sprintf("Voci: %d  OK: %d  NOK: %d  Critiche: %d  Completamento: %s",
			s.TotalItems, s.OKItems, s.NOKItems, s.CriticalItems, formatPercent(s.CompletionPercentage())))
		w.divider()
		for ii, item := range section.Items {
			w.wrapped(fmt.Sprintf("%d.%d %s", si+1, ii+1, item.Title), "    ")
			w.line(fmt.Sprintf("    Stato: %s | Criticita: %s", statusLabel(item.Status), criticalityLabel(item.Criticality)))
			if opts.IncludeNotes && strings.TrimSpace(item.Note) != "" {
				w.wrapped("    Note: "+strings.TrimSpace(item.Note), "          ")
			}
			if opts.IncludePhotos {
				r.renderPhotos(w, si, section.Title, item, resolver, available)
			}
			w.blank()
		}
	}

	w.rule()
	w.heading("RICAMBI")
	if len(agg.SpareParts) == 0 {
		w.line("Nessun ricambio richiesto")
	}
	for i, part := range agg.SpareParts {
		code := part.PartNumber
		if code == "" {
			code = "-"
		}
		w.wrapped(fmt.Sprintf("%d. [%s] %s x%d (%s)", i+1, code, part.Description, part.Quantity, urgencyLabel(part.Urgency)), "   ")
		if part.Notes != "" {
			w.wrapped("   Note: "+part.Notes, "         ")
		}
	}
	w.blank()

	w.rule()
	w.heading("CONCLUSIONI")
	if strings.TrimSpace(h.Conclusions) == "" {
		w.line("-")
	} else {
		w.wrapped(h.Conclusions, "")
	}
	if strings.TrimSpace(h.Recommendations) != "" {
		w.blank()
		w.line("Raccomandazioni:")
		w.wrapped(h.Recommendations, "")
	}
	w.blank()

	w.rule()
	w.line(fmt.Sprintf("Generato il %s - Tecnico: %s", r.clock().Format(textDateLayout), h.Technician.Name))
	if r.template.FooterText != "" {
		w.line(r.template.FooterText)
	}
	w.rule()
	return w.String()
}

func (r *TextRenderer) renderPhotos(w *textWriter, si int, sectionTitle string, item models.CheckItem, resolver *NamingResolver, available PhotoAvailability) {
	if len(item.Photos) == 0 {
		w.line("    Foto: Nessuna foto")
		return
	}
	w.line(fmt.Sprintf("    Foto: %d foto acquisite", len(item.Photos)))
	for pi, photo := range item.Photos {
		name := resolver.Resolve(si, sectionTitle, item, pi, photo.Caption)
		if !available(photo) {
			name = PhotoUnavailable
		}
		// names may use the full width, so long ones drop the indent
		if len(textPhotoIndent)+len(name) > textWidth {
			w.line(name)
			continue
		}
		w.line(textPhotoIndent + name)
	}
}

type textWriter struct {
	b strings.Builder
}

func (w *textWriter) String() string { return w.b.String() }

func (w *textWriter) line(s string) {
	s = ToASCII(s)
	if len(s) > textWidth {
		s = s[:textWidth]
	}
	w.b.WriteString(strings.TrimRight(s, " "))
	w.b.WriteByte('\n')
}

func (w *textWriter) blank()   { w.b.WriteByte('\n') }
func (w *textWriter) rule()    { w.line(textRule) }
func (w *textWriter) divider() { w.line(textLine) }

func (w *textWriter) heading(s string) {
	w.line(s)
}

func (w *textWriter) centered(s string) {
	s = ToASCII(s)
	if pad := (textWidth - len(s)) / 2; pad > 0 {
		s = strings.Repeat(" ", pad) + s
	}
	w.line(s)
}

func (w *textWriter) field(label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	pad := strings.Repeat(" ", textLabelWidth)
	for i, l := range wrapText(ToASCII(value), textWidth-textLabelWidth, "") {
		if i == 0 {
			w.line(fmt.Sprintf("%-*s%s", textLabelWidth, label+":", l))
			continue
		}
		w.line(pad + l)
	}
}

// wrapped word-wraps s to the report width, indenting continuation lines.
func (w *textWriter) wrapped(s, indent string) {
	for _, l := range wrapText(ToASCII(s), textWidth, indent) {
		w.line(l)
	}
}

// wrapText word-wraps s to width. Words longer than a line are split across
// lines so nothing is lost to the column limit.
func wrapText(s string, width int, indent string) []string {
	words := strings.Fields(s)
	if len(words) == 0 || width <= 0 {
		return nil
	}
	if len(indent) >= width {
		indent = ""
	}
	lead := s[:len(s)-len(strings.TrimLeft(s, " "))]
	if len(lead) >= width {
		lead = ""
	}

	var out []string
	current, fresh := lead, true
	for _, word := range words {
		for word != "" {
			if fresh {
				room := width - len(current)
				if len(word) <= room {
					current += word
					fresh = false
					break
				}
				out = append(out, current+word[:room])
				current, word = indent, word[room:]
				continue
			}
			if len(current)+1+len(word) <= width {
				current += " " + word
				break
			}
			out = append(out, current)
			current, fresh = indent, true
		}
	}
	if !fresh || len(out) == 0 {
		out = append(out, current)
	}
	return out
}

// ToASCII strips accents and replaces any remaining non-ASCII rune with '?'.
func ToASCII(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return ' '
		case r == '\n' || r == '\r':
			return ' '
		case r < 0x20:
			return -1
		case r > 0x7e:
			return '?'
		}
		return r
	}, foldAccents(s))
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(textDateLayout)
}

func statusLabel(s models.ItemStatus) string {
	switch s {
	case models.ItemStatusOK:
		return "OK"
	case models.ItemStatusNOK:
		return "NOK"
	case models.ItemStatusCritical:
		return "CRITICO"
	case models.ItemStatusNA:
		return "N/A"
	default:
		return "IN ATTESA"
	}
}

func criticalityLabel(c models.Criticality) string {
	switch c {
	case models.CriticalityCritical:
		return "CRITICA"
	case models.CriticalityImportant:
		return "IMPORTANTE"
	case models.CriticalityRoutine:
		return "ROUTINE"
	default:
		return "N/A"
	}
}

func urgencyLabel(u models.SparePartUrgency) string {
	switch u {
	case models.UrgencyImmediate:
		return "immediata"
	case models.UrgencyShortTerm:
		return "breve termine"
	case models.UrgencyLongTerm:
		return "lungo termine"
	default:
		return "da definire"
	}
}
