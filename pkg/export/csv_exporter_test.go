package export

import (
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkup-export-api/internal/models"
)

func TestCSVExporterRender(t *testing.T) {
	data := Dataset{
		Headers: []string{"a", "b"},
		Rows: []map[string]string{
			{"a": "1", "b": "uno; due"},
			{"a": "2"},
		},
	}
	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	require.Equal(t, "a;b\n1;\"uno; due\"\n2;\n", string(out))

	_, err = NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestItemsDatasetUsesResolvedNames(t *testing.T) {
	dir := t.TempDir()
	agg := sampleAggregate(
		photo(writeJPEG(t, dir, "a.jpg", 40, 40), "Vista frontale"),
		photo(filepath.Join(dir, "missing.jpg"), "assente"),
	)
	opts := allPhotosOptions(models.ExportFormatCSV)
	resolver := NewNamingResolver(opts.Naming, fixtureTime)

	data := ItemsDataset(agg, opts, resolver, nil)
	require.Equal(t, []string{ColSection, ColItem, ColTitle, ColStatus, ColCriticality, ColNote, ColPhotoCount, ColPhotoFiles}, data.Headers)
	require.Len(t, data.Rows, 2)

	first := data.Rows[0]
	require.Equal(t, "Sicurezza", first[ColSection])
	require.Equal(t, "1.1", first[ColItem])
	require.Equal(t, "Sensore sinistro disallineato", first[ColNote])
	require.Equal(t, "0", first[ColPhotoCount])
	require.Empty(t, first[ColPhotoFiles])

	second := data.Rows[1]
	require.Equal(t, "2.1", second[ColItem])
	require.Equal(t, "2", second[ColPhotoCount])
	require.Equal(t, "02_meccanica_riduttore-asse-2_vista-frontale.jpg|"+PhotoUnavailable, second[ColPhotoFiles])

	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	reader := csv.NewReader(strings.NewReader(string(out)))
	reader.Comma = ';'
	records, err := reader.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
}

func TestItemsDatasetWithoutPhotosOrNotes(t *testing.T) {
	opts := allPhotosOptions(models.ExportFormatCSV)
	opts.IncludeNotes = false
	opts.IncludePhotos = false

	data := ItemsDataset(sampleAggregate(), opts, NewNamingResolver(opts.Naming, fixtureTime), nil)
	require.Equal(t, []string{ColSection, ColItem, ColTitle, ColStatus, ColCriticality}, data.Headers)

	empty := ItemsDataset(nil, opts, nil, nil)
	require.Empty(t, empty.Rows)
}
