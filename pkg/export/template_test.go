package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
)

func TestLoadTemplateDefault(t *testing.T) {
	tpl, err := LoadTemplate("")
	require.NoError(t, err)
	require.Equal(t, DefaultTemplate(), tpl)
}

func TestLoadTemplateMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "brand.yaml")
	require.NoError(t, os.WriteFile(path, []byte("company_name: Robotica Service\naccent_color: \"#C62828\"\nphotos_per_row: 3\n"), 0o644))

	tpl, err := LoadTemplate(path)
	require.NoError(t, err)
	require.Equal(t, "Robotica Service", tpl.CompanyName)
	require.Equal(t, 3, tpl.PhotosPerRow)
	require.Equal(t, DefaultTemplate().Title, tpl.Title)

	r, g, b := tpl.AccentRGB()
	require.Equal(t, []int{0xC6, 0x28, 0x28}, []int{r, g, b})
}

func TestLoadTemplateErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadTemplate(filepath.Join(dir, "absent.yaml"))
	require.ErrorIs(t, err, appErrors.ErrTemplateNotFound)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("title: [unclosed"), 0o644))
	_, err = LoadTemplate(bad)
	require.ErrorIs(t, err, appErrors.ErrTemplateNotFound)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, bad, appErr.Resource)
}

func TestAccentRGBFallsBackOnInvalidColor(t *testing.T) {
	tpl := DefaultTemplate()
	tpl.AccentColor = "blue"
	r, g, b := tpl.AccentRGB()
	require.Equal(t, []int{0x1F, 0x4E, 0x79}, []int{r, g, b})
}
