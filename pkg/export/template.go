package export

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/checkup-export-api/internal/models"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
)

// DocumentTemplate brands the generated document.
type DocumentTemplate struct {
	CompanyName  string `yaml:"company_name"`
	Title        string `yaml:"title"`
	Subtitle     string `yaml:"subtitle"`
	AccentColor  string `yaml:"accent_color"`
	FooterText   string `yaml:"footer_text"`
	PhotosPerRow int    `yaml:"photos_per_row"`
}

// DefaultTemplate is used when the caller supplies no template.
func DefaultTemplate() DocumentTemplate {
	return DocumentTemplate{
		CompanyName:  "",
		Title:        "RAPPORTO DI CHECK-UP",
		Subtitle:     "Manutenzione isola robotizzata",
		AccentColor:  "#1F4E79",
		FooterText:   "Documento generato automaticamente",
		PhotosPerRow: 2,
	}
}

// LoadTemplate reads a YAML template from path. Fields left empty fall back to
// the default template. A missing file is TEMPLATE_NOT_FOUND.
func LoadTemplate(path string) (DocumentTemplate, error) {
	tpl := DefaultTemplate()
	if path == "" {
		return tpl, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return tpl, appErrors.At(appErrors.ErrTemplateNotFound, string(models.StageValidating), path, err)
		}
		if errors.Is(err, fs.ErrPermission) {
			return tpl, appErrors.At(appErrors.ErrPermissionDenied, string(models.StageValidating), path, err)
		}
		return tpl, appErrors.At(appErrors.ErrTemplateNotFound, string(models.StageValidating), path, err)
	}
	var custom DocumentTemplate
	if err := yaml.Unmarshal(raw, &custom); err != nil {
		e := appErrors.At(appErrors.ErrTemplateNotFound, string(models.StageValidating), path, err)
		e.Message = "document template is not valid YAML"
		return tpl, e
	}
	return tpl.merge(custom), nil
}

func (t DocumentTemplate) merge(o DocumentTemplate) DocumentTemplate {
	if o.CompanyName != "" {
		t.CompanyName = o.CompanyName
	}
	if o.Title != "" {
		t.Title = o.Title
	}
	if o.Subtitle != "" {
		t.Subtitle = o.Subtitle
	}
	if o.AccentColor != "" {
		t.AccentColor = o.AccentColor
	}
	if o.FooterText != "" {
		t.FooterText = o.FooterText
	}
	if o.PhotosPerRow > 0 {
		t.PhotosPerRow = o.PhotosPerRow
	}
	return t
}

// AccentRGB parses the "#RRGGBB" accent color, falling back to the default.
func (t DocumentTemplate) AccentRGB() (int, int, int) {
	r, g, b, err := parseHexColor(t.AccentColor)
	if err != nil {
		r, g, b, _ = parseHexColor(DefaultTemplate().AccentColor)
	}
	return r, g, b
}

func parseHexColor(s string) (int, int, int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, 0, 0, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff), nil
}
