package export

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"math"
	"os"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp" // field photos are sometimes shared as WebP

	"github.com/noah-isme/checkup-export-api/internal/models"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
)

const (
	DefaultPhotoQuality  = 80
	DefaultPhotoMaxWidth = 1024

	watermarkMargin  = 12
	watermarkPadding = 4
	watermarkLayout  = "02/01/2006 15:04"
)

// NormalizePolicy fills zero values of a compression policy with defaults.
func NormalizePolicy(p models.CompressionPolicy) models.CompressionPolicy {
	if p.Quality <= 0 || p.Quality > 100 {
		p.Quality = DefaultPhotoQuality
	}
	if p.MaxWidth <= 0 {
		p.MaxWidth = DefaultPhotoMaxWidth
	}
	return p
}

// PhotoProcessor turns a photo file into bytes ready for embedding: decode,
// EXIF orientation applied to the pixels, downscale, optional watermark and
// JPEG re-encode. It never writes to disk and is safe for concurrent use.
type PhotoProcessor struct {
	decoded atomic.Int64
}

// NewPhotoProcessor constructs a processor.
func NewPhotoProcessor() *PhotoProcessor {
	return &PhotoProcessor{}
}

// Decoded returns how many images this processor has decoded so far.
func (p *PhotoProcessor) Decoded() int64 {
	return p.decoded.Load()
}

// ProcessRef processes a photo reference, stamping its capture time when the
// policy asks for a watermark without explicit text.
func (p *PhotoProcessor) ProcessRef(ref models.PhotoRef, policy models.CompressionPolicy) (*models.ProcessedPhoto, error) {
	if policy.Watermark && policy.WatermarkText == "" && !ref.CapturedAt.IsZero() {
		policy.WatermarkText = ref.CapturedAt.Format(watermarkLayout)
	}
	return p.Process(ref.Path, policy)
}

// Process reads, orients, resizes and re-encodes the image at path. Failures
// are PHOTO_NOT_FOUND or IMAGE_DECODE_FAILED and are meant to be recovered by
// the caller.
func (p *PhotoProcessor) Process(path string, policy models.CompressionPolicy) (*models.ProcessedPhoto, error) {
	policy = NormalizePolicy(policy)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErrors.At(appErrors.ErrPhotoNotFound, "", path, err)
	}

	p.decoded.Add(1)
	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, appErrors.At(appErrors.ErrImageDecodeFailed, "", path, err)
	}

	orientation := readOrientation(data)
	img := applyOrientation(src, orientation)
	srcW, srcH := img.Bounds().Dx(), img.Bounds().Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, appErrors.At(appErrors.ErrImageDecodeFailed, "", path, nil)
	}

	if w, h := ScaledSize(srcW, srcH, policy.MaxWidth); w != srcW {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	if policy.Watermark && policy.WatermarkText != "" {
		drawWatermark(img, policy.WatermarkText)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(policy.Quality)); err != nil {
		return nil, appErrors.At(appErrors.ErrImageDecodeFailed, "", path, err)
	}

	b := img.Bounds()
	return &models.ProcessedPhoto{
		Data:         buf.Bytes(),
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourceWidth:  srcW,
		SourceHeight: srcH,
		Orientation:  orientation,
		Size:         int64(buf.Len()),
	}, nil
}

// ScaledSize returns the output dimensions for a source image under maxWidth.
// Images narrower than maxWidth keep their size.
func ScaledSize(width, height, maxWidth int) (int, int) {
	if maxWidth <= 0 || width <= maxWidth {
		return width, height
	}
	h := int(math.Round(float64(maxWidth) * float64(height) / float64(width)))
	if h < 1 {
		h = 1
	}
	return maxWidth, h
}

// readOrientation returns the EXIF orientation tag (1..8), defaulting to 1.
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// applyOrientation rotates/flips pixels so the result displays upright
// without any metadata.
func applyOrientation(img image.Image, orientation int) *image.NRGBA {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		return imaging.Transpose(img)
	case 6:
		return imaging.Rotate270(img)
	case 7:
		return imaging.Transverse(img)
	case 8:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}

// drawWatermark composites text on a translucent box at the bottom-right.
// Images too small to hold the box are left untouched.
func drawWatermark(img *image.NRGBA, text string) {
	face := basicfont.Face7x13
	d := &font.Drawer{Face: face}
	textW := d.MeasureString(text).Ceil()

	b := img.Bounds()
	x1 := b.Max.X - watermarkMargin
	y1 := b.Max.Y - watermarkMargin
	x0 := x1 - textW - 2*watermarkPadding
	y0 := y1 - face.Height - 2*watermarkPadding
	if x0 < b.Min.X || y0 < b.Min.Y {
		return
	}

	box := image.Rect(x0, y0, x1, y1)
	draw.Draw(img, box, image.NewUniform(color.NRGBA{A: 110}), image.Point{}, draw.Over)

	d.Dst = img
	d.Src = image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 220})
	d.Dot = fixed.P(x0+watermarkPadding, y0+watermarkPadding+face.Ascent)
	d.DrawString(text)
}
