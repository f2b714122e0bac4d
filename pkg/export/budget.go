package export

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/noah-isme/checkup-export-api/internal/models"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
)

const (
	// BaseDocumentOverhead covers fonts, page furniture and the PDF structure.
	BaseDocumentOverhead int64 = 64 * 1024
	// RowOverhead is the estimated cost of one table row in any textual format.
	RowOverhead int64 = 256
	// MinSafetyFactor is the lowest accepted multiplier on the estimate.
	MinSafetyFactor = 2.0
)

// errFreeSpaceUnknown is returned by freeSpace on platforms without statfs.
var errFreeSpaceUnknown = errors.New("free space unknown on this platform")

// StorageBudgeter estimates the output size of a run and refuses to start when
// the target volume cannot hold it with a safety margin.
type StorageBudgeter struct {
	safetyFactor float64
	freeSpace    func(path string) (uint64, error)
}

// NewStorageBudgeter constructs a budgeter; factors below 2 are raised to 2.
func NewStorageBudgeter(safetyFactor float64) *StorageBudgeter {
	if safetyFactor < MinSafetyFactor {
		safetyFactor = MinSafetyFactor
	}
	return &StorageBudgeter{safetyFactor: safetyFactor, freeSpace: freeSpace}
}

// WithFreeSpaceFunc replaces the free-space probe (used by tests and callers
// targeting virtual volumes).
func (b *StorageBudgeter) WithFreeSpaceFunc(fn func(path string) (uint64, error)) *StorageBudgeter {
	if fn != nil {
		b.freeSpace = fn
	}
	return b
}

// SafetyFactor returns the effective multiplier.
func (b *StorageBudgeter) SafetyFactor() float64 {
	return b.safetyFactor
}

// AverageProcessedPhotoSize estimates the JPEG size of one photo under policy,
// assuming a 4:3 frame at full policy width.
func AverageProcessedPhotoSize(policy models.CompressionPolicy) int64 {
	policy = NormalizePolicy(policy)
	w := float64(policy.MaxWidth)
	pixels := w * w * 3 / 4
	bytesPerPixel := 0.05 + 0.45*float64(policy.Quality)/100
	return int64(math.Ceil(pixels * bytesPerPixel))
}

// Estimate returns the expected number of bytes the run will write.
func (b *StorageBudgeter) Estimate(agg *models.CheckUpAggregate, opts models.ExportOptions) int64 {
	if agg == nil || len(opts.Formats) == 0 {
		return 0
	}

	rows := int64(agg.ItemCount() + len(agg.Sections) + len(agg.SpareParts))
	photos := int64(agg.PhotoCount())

	var total int64
	if opts.Wants(models.ExportFormatDocument) {
		total += BaseDocumentOverhead + rows*RowOverhead
		if opts.IncludePhotos {
			total += photos * AverageProcessedPhotoSize(opts.Compression)
		}
	}
	if opts.Wants(models.ExportFormatText) {
		total += rows * RowOverhead
		if opts.IncludePhotos {
			total += photos * maxFileNameLen
		}
	}
	if opts.Wants(models.ExportFormatCSV) {
		total += rows * RowOverhead
	}
	if opts.Wants(models.ExportFormatPhotoFolder) && opts.IncludePhotos {
		total += originalBytes(agg)
	}
	return total
}

// CheckAvailable fails with INSUFFICIENT_STORAGE when the free space of the
// volume holding targetDir is below estimate times the safety factor.
func (b *StorageBudgeter) CheckAvailable(targetDir string, estimate int64) error {
	if estimate <= 0 {
		return nil
	}
	probe := nearestExistingDir(targetDir)
	free, err := b.freeSpace(probe)
	if err != nil {
		if errors.Is(err, errFreeSpaceUnknown) {
			return nil
		}
		if errors.Is(err, fs.ErrPermission) {
			return appErrors.At(appErrors.ErrPermissionDenied, string(models.StageBudgeting), targetDir, err)
		}
		return appErrors.At(appErrors.ErrInsufficientStorage, string(models.StageBudgeting), targetDir, err)
	}

	required := uint64(math.Ceil(float64(estimate) * b.safetyFactor))
	if free < required {
		e := appErrors.At(appErrors.ErrInsufficientStorage, string(models.StageBudgeting), targetDir, nil)
		e.Message = fmt.Sprintf("insufficient free space: need %d bytes, %d available", required, free)
		return e
	}
	return nil
}

func originalBytes(agg *models.CheckUpAggregate) int64 {
	var total int64
	for _, section := range agg.Sections {
		for _, item := range section.Items {
			for _, photo := range item.Photos {
				if photo.SizeBytes > 0 {
					total += photo.SizeBytes
					continue
				}
				if info, err := os.Stat(photo.Path); err == nil {
					total += info.Size()
				}
			}
		}
	}
	return total
}

// nearestExistingDir walks up from dir until it finds a path that exists, so
// a target directory that is about to be created can still be probed.
func nearestExistingDir(dir string) string {
	current := filepath.Clean(dir)
	for {
		if _, err := os.Stat(current); err == nil {
			return current
		}
		parent := filepath.Dir(current)
		if parent == current {
			return current
		}
		current = parent
	}
}
