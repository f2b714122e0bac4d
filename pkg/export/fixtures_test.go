package export

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/checkup-export-api/internal/models"
)

var fixtureTime = time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func writeJPEG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, gradient(w, h), &jpeg.Options{Quality: 90}))
	return path
}

// writeOrientedJPEG writes a w x h JPEG carrying an Exif APP1 segment whose
// only IFD0 entry is the given Orientation.
func writeOrientedJPEG(t *testing.T, dir, name string, w, h, orientation int) string {
	t.Helper()
	var encoded bytes.Buffer
	require.NoError(t, jpeg.Encode(&encoded, gradient(w, h), &jpeg.Options{Quality: 90}))

	var tiff bytes.Buffer
	tiff.WriteString("MM")
	_ = binary.Write(&tiff, binary.BigEndian, uint16(42))
	_ = binary.Write(&tiff, binary.BigEndian, uint32(8))
	_ = binary.Write(&tiff, binary.BigEndian, uint16(1))      // entry count
	_ = binary.Write(&tiff, binary.BigEndian, uint16(0x0112)) // Orientation
	_ = binary.Write(&tiff, binary.BigEndian, uint16(3))      // SHORT
	_ = binary.Write(&tiff, binary.BigEndian, uint32(1))
	_ = binary.Write(&tiff, binary.BigEndian, uint16(orientation))
	_ = binary.Write(&tiff, binary.BigEndian, uint16(0))
	_ = binary.Write(&tiff, binary.BigEndian, uint32(0)) // no next IFD

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	var out bytes.Buffer
	out.Write(encoded.Bytes()[:2]) // SOI
	out.Write([]byte{0xFF, 0xE1})
	_ = binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(encoded.Bytes()[2:])

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, gradient(w, h)))
	return path
}

func photo(path, caption string) models.PhotoRef {
	return models.PhotoRef{Path: path, Caption: caption, CapturedAt: fixtureTime}
}

// sampleAggregate builds the two-section check-up used across tests: a
// photo-less NOK item under Sicurezza and a two-photo item under Meccanica.
func sampleAggregate(meccanicaPhotos ...models.PhotoRef) *models.CheckUpAggregate {
	completed := fixtureTime.Add(2 * time.Hour)
	return &models.CheckUpAggregate{
		Header: models.CheckUpHeader{
			ID:          "cu-1",
			Client:      models.ClientInfo{Name: "Acciaierie Rossi S.p.A.", Facility: "Stabilimento Nord"},
			Technician:  models.TechnicianInfo{Name: "Luca Bianchi", Company: "Robotica Service"},
			Island:      models.IslandInfo{Type: "Saldatura", Model: "RX-200", SerialNumber: "SN-42"},
			StartedAt:   &fixtureTime,
			CompletedAt: &completed,
			Conclusions: "Isola in buone condizioni generali.",
		},
		Sections: []models.Section{
			{
				Title: "Sicurezza",
				Items: []models.CheckItem{
					{ID: "s1", Title: "Barriere fotoelettriche", Status: models.ItemStatusNOK, Criticality: models.CriticalityCritical, Note: "Sensore sinistro disallineato"},
				},
			},
			{
				Title: "Meccanica",
				Items: []models.CheckItem{
					{ID: "m1", Title: "Riduttore asse 2", Status: models.ItemStatusOK, Criticality: models.CriticalityImportant, Photos: meccanicaPhotos},
				},
			},
		},
		SpareParts: []models.SparePart{
			{PartNumber: "FC-100", Description: "Fotocellula di ricambio", Quantity: 1, Urgency: models.UrgencyImmediate},
		},
	}
}

func allPhotosOptions(formats ...models.ExportFormat) models.ExportOptions {
	opts := models.DefaultExportOptions()
	opts.Formats = formats
	return opts
}
