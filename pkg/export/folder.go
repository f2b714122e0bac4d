package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/noah-isme/checkup-export-api/internal/models"
	appErrors "github.com/noah-isme/checkup-export-api/pkg/errors"
	"github.com/noah-isme/checkup-export-api/pkg/storage"
)

// PhotoFolderName is the subdirectory holding the original photos.
const PhotoFolderName = "FOTO"

// FolderExporter copies original-quality photos into the FOTO folder under
// the names chosen by the run's NamingResolver.
type FolderExporter struct{}

// NewFolderExporter constructs a folder exporter.
func NewFolderExporter() *FolderExporter {
	return &FolderExporter{}
}

// Export copies every photo of agg into targetDir/FOTO. Missing sources become
// PHOTO_NOT_FOUND warnings; a destination that cannot be written is fatal.
// Written files are recorded in writes so the caller can roll them back. With
// a nil writes the exporter settles its own set before returning.
func (e *FolderExporter) Export(ctx context.Context, agg *models.CheckUpAggregate, targetDir string, resolver *NamingResolver, opts models.ExportOptions, writes *storage.WriteSet) (_ *models.ExportManifest, err error) {
	manifest := models.NewExportManifest()
	if agg == nil || !opts.IncludePhotos || agg.PhotoCount() == 0 {
		return manifest, nil
	}
	if writes == nil {
		writes = storage.NewWriteSet()
		defer func() {
			if err != nil {
				_ = writes.Rollback()
				return
			}
			_ = writes.Commit()
		}()
	}

	dir := filepath.Join(targetDir, PhotoFolderName)
	if err := writes.MkdirAll(dir); err != nil {
		return nil, appErrors.At(appErrors.ErrPermissionDenied, string(models.StageWriting), dir, err)
	}

	for si, section := range agg.Sections {
		for _, item := range section.Items {
			for pi, photo := range item.Photos {
				if err := ctx.Err(); err != nil {
					return nil, appErrors.At(appErrors.ErrCancelled, string(models.StageWriting), photo.Path, err)
				}
				name := resolver.Resolve(si, section.Title, item, pi, photo.Caption)
				dest := filepath.Join(dir, name)

				exported, err := copyOriginal(photo.Path, dest, writes)
				if err != nil {
					var appErr *appErrors.Error
					if errors.As(err, &appErr) && appErr.Code == appErrors.ErrPhotoNotFound.Code {
						manifest.AddWarning(models.ExportWarning{
							Code:     appErr.Code,
							Stage:    string(models.StageWriting),
							Resource: photo.Path,
							Message:  "photo not found, skipped from photo folder",
						})
						continue
					}
					return nil, err
				}
				exported.FileName = name
				manifest.Photos = append(manifest.Photos, *exported)
				manifest.AddFile(dest, exported.Size, models.ExportFormatPhotoFolder)
			}
		}
	}
	return manifest, nil
}

func copyOriginal(src, dest string, writes *storage.WriteSet) (*models.ExportedPhoto, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, appErrors.At(appErrors.ErrPhotoNotFound, string(models.StageWriting), src, err)
	}
	defer in.Close() //nolint:errcheck

	info, err := in.Stat()
	if err != nil || info.IsDir() {
		return nil, appErrors.At(appErrors.ErrPhotoNotFound, string(models.StageWriting), src, err)
	}

	n, err := writes.CopyFile(dest, in)
	if err != nil {
		return nil, appErrors.At(appErrors.ErrPermissionDenied, string(models.StageWriting), dest, err)
	}
	return &models.ExportedPhoto{Path: dest, Size: n}, nil
}
