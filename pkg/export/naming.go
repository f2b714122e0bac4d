package export

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/noah-isme/checkup-export-api/internal/models"
)

const (
	maxFileNameLen    = 80
	maxSectionNameLen = 20
	maxItemNameLen    = 30
	photoExt          = ".jpg"
)

type photoKey struct {
	section int
	item    string
	title   string
	photo   int
}

// NamingResolver derives deterministic, collision-free photo file names for a
// single export run. All generators of a run must share the same instance.
type NamingResolver struct {
	strategy models.NamingStrategy
	runTime  time.Time

	mu       sync.Mutex
	resolved map[photoKey]string
	taken    map[string]struct{}
	order    []string
	ordinal  int
}

// NewNamingResolver constructs a resolver for one run. runTime feeds the
// timestamp strategy when a photo carries no capture time.
func NewNamingResolver(strategy models.NamingStrategy, runTime time.Time) *NamingResolver {
	if strategy == "" {
		strategy = models.NamingStructured
	}
	return &NamingResolver{
		strategy: strategy,
		runTime:  runTime,
		resolved: make(map[photoKey]string),
		taken:    make(map[string]struct{}),
	}
}

// ResolveAll resolves every photo of the aggregate in canonical order
// (sections, items, photos) so suffixes never depend on request order.
func (r *NamingResolver) ResolveAll(agg *models.CheckUpAggregate) {
	if agg == nil {
		return
	}
	for si, section := range agg.Sections {
		for _, item := range section.Items {
			for pi, photo := range item.Photos {
				r.resolve(si, section.Title, item, pi, photo)
			}
		}
	}
}

// Resolve returns the file name for a photo. Identical inputs always yield the
// same name within a run.
func (r *NamingResolver) Resolve(sectionIndex int, sectionTitle string, item models.CheckItem, photoIndex int, caption string) string {
	photo := models.PhotoRef{Caption: caption}
	if photoIndex >= 0 && photoIndex < len(item.Photos) {
		photo = item.Photos[photoIndex]
		photo.Caption = caption
	}
	return r.resolve(sectionIndex, sectionTitle, item, photoIndex, photo)
}

// Names returns every resolved name in resolution order.
func (r *NamingResolver) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *NamingResolver) resolve(sectionIndex int, sectionTitle string, item models.CheckItem, photoIndex int, photo models.PhotoRef) string {
	key := photoKey{section: sectionIndex, item: item.ID, title: item.Title, photo: photoIndex}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.resolved[key]; ok {
		return name
	}
	r.ordinal++

	var base string
	switch r.strategy {
	case models.NamingSequential:
		base = fmt.Sprintf("foto_%03d", r.ordinal)
	case models.NamingTimestamp:
		ts := photo.CapturedAt
		if ts.IsZero() {
			ts = r.runTime
		}
		base = "foto_" + ts.Format("20060102_150405")
	default:
		base = structuredBase(sectionIndex, sectionTitle, item.Title, photoIndex, photo.Caption)
	}

	name := r.unique(base)
	r.resolved[key] = name
	r.taken[name] = struct{}{}
	r.order = append(r.order, name)
	return name
}

func (r *NamingResolver) unique(base string) string {
	name := fitName(base, "")
	if _, clash := r.taken[name]; !clash {
		return name
	}
	for n := 2; ; n++ {
		name = fitName(base, fmt.Sprintf("_%d", n))
		if _, clash := r.taken[name]; !clash {
			return name
		}
	}
}

func structuredBase(sectionIndex int, sectionTitle, itemTitle string, photoIndex int, caption string) string {
	section := truncate(Normalize(sectionTitle), maxSectionNameLen)
	if section == "" {
		section = "sezione"
	}
	item := truncate(Normalize(itemTitle), maxItemNameLen)
	if item == "" {
		item = "voce"
	}
	label := Normalize(caption)
	if label == "" {
		label = fmt.Sprintf("foto%d", photoIndex+1)
	}
	return fmt.Sprintf("%02d_%s_%s_%s", sectionIndex+1, section, item, label)
}

// fitName truncates base so that base+suffix+ext stays within the limit.
func fitName(base, suffix string) string {
	room := maxFileNameLen - len(photoExt) - len(suffix)
	base = strings.TrimRight(truncate(base, room), "-_")
	return base + suffix + photoExt
}

// Normalize lowercases s, strips accents, replaces every non-alphanumeric
// rune with '-' and collapses dash runs.
func Normalize(s string) string {
	folded := strings.ToLower(foldAccents(s))

	var b strings.Builder
	b.Grow(len(folded))
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// foldAccents decomposes s and drops combining marks.
func foldAccents(s string) string {
	// transformers carry state, so each call builds its own chain
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		return s
	}
	return folded
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	return strings.TrimRight(s[:limit], "-")
}
