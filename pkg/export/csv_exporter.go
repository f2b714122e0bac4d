package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/noah-isme/checkup-export-api/internal/models"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Item listing columns.
const (
	ColSection     = "sezione"
	ColItem        = "voce"
	ColTitle       = "titolo"
	ColStatus      = "stato"
	ColCriticality = "criticita"
	ColNote        = "note"
	ColPhotoCount  = "foto"
	ColPhotoFiles  = "file_foto"
)

// CSVExporter renders Dataset records into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// ItemsDataset lists every check item with the resolved names of its photos,
// using the same resolver as the other formats of the run.
func ItemsDataset(agg *models.CheckUpAggregate, opts models.ExportOptions, resolver *NamingResolver, available PhotoAvailability) Dataset {
	headers := []string{ColSection, ColItem, ColTitle, ColStatus, ColCriticality}
	if opts.IncludeNotes {
		headers = append(headers, ColNote)
	}
	if opts.IncludePhotos {
		headers = append(headers, ColPhotoCount, ColPhotoFiles)
	}
	data := Dataset{Headers: headers}
	if agg == nil {
		return data
	}
	if available == nil {
		available = SourceExists
	}

	for si, section := range agg.Sections {
		for ii, item := range section.Items {
			row := map[string]string{
				ColSection:     section.Title,
				ColItem:        fmt.Sprintf("%d.%d", si+1, ii+1),
				ColTitle:       item.Title,
				ColStatus:      string(item.Status),
				ColCriticality: string(item.Criticality),
				ColNote:        strings.TrimSpace(item.Note),
			}
			if opts.IncludePhotos {
				names := make([]string, 0, len(item.Photos))
				for pi, photo := range item.Photos {
					if !available(photo) {
						names = append(names, PhotoUnavailable)
						continue
					}
					names = append(names, resolver.Resolve(si, section.Title, item, pi, photo.Caption))
				}
				row[ColPhotoCount] = fmt.Sprintf("%d", len(item.Photos))
				row[ColPhotoFiles] = strings.Join(names, "|")
			}
			data.Rows = append(data.Rows, row)
		}
	}
	return data
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	writer.Comma = ';'
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
