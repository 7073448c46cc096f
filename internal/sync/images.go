package sync

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"

	"github.com/disintegration/imaging"

	"github.com/zicerhq/zicer-sync/internal/catalog"
	"github.com/zicerhq/zicer-sync/internal/config"
	"github.com/zicerhq/zicer-sync/internal/logging"
	"github.com/zicerhq/zicer-sync/internal/models"
)

// syncImages uploads the product's images to its listing, skipping any
// whose content digest already matches what was uploaded before.
// Positions follow the catalog order, featured image first, so a
// changed image re-uploads into the slot it already occupies. Failures
// are logged and the remaining images still get their turn; digests
// update only after a successful upload, so a failed image retries on
// the next sync.
func (e *Engine) syncImages(ctx context.Context, p *catalog.Product, parent *catalog.Product, rec *models.ListingRecord) {
	if e.cfg.SyncImages == config.ImagesNone || rec.ListingID == "" {
		return
	}

	images := e.selectImages(p, parent)
	if len(images) == 0 {
		return
	}
	if rec.SyncedImages == nil {
		rec.SyncedImages = make(map[string]string)
	}

	for i, img := range images {
		data, err := e.catalog.ReadImage(ctx, &img)
		if err != nil {
			logging.Warn("failed to read product image", map[string]interface{}{
				"product_id": p.ID, "image_id": img.ID, "error": err.Error(),
			})
			continue
		}

		sum := md5.Sum(data)
		digest := hex.EncodeToString(sum[:])
		if rec.SyncedImages[img.ID] == digest {
			continue
		}

		upload := data
		if e.cfg.MaxImageDimension > 0 {
			if scaled, err := downscale(data, img.FileName, e.cfg.MaxImageDimension); err == nil {
				upload = scaled
			} else {
				logging.Warn("failed to downscale image, uploading original", map[string]interface{}{
					"product_id": p.ID, "image_id": img.ID, "error": err.Error(),
				})
			}
		}

		if _, err := e.api.UploadMedia(ctx, rec.ListingID, img.FileName, upload, i); err != nil {
			logging.Warn("image upload failed", map[string]interface{}{
				"product_id": p.ID, "image_id": img.ID, "error": err.Error(),
			})
			continue
		}
		rec.SyncedImages[img.ID] = digest
	}
}

// selectImages picks the images to sync per the configured mode, the
// featured image first. A variant without images of its own inherits
// the parent's.
func (e *Engine) selectImages(p *catalog.Product, parent *catalog.Product) []catalog.Image {
	featured := p.FeaturedImage
	gallery := p.GalleryImages
	if featured == nil && len(gallery) == 0 && parent != nil {
		featured = parent.FeaturedImage
		gallery = parent.GalleryImages
	}

	var images []catalog.Image
	if featured != nil {
		images = append(images, *featured)
	}
	if e.cfg.SyncImages == config.ImagesAll {
		images = append(images, gallery...)
	}
	if e.cfg.MaxImages > 0 && len(images) > e.cfg.MaxImages {
		images = images[:e.cfg.MaxImages]
	}
	return images
}

// downscale fits an image within max pixels on its longest side,
// keeping the original when it already fits.
func downscale(data []byte, fileName string, max int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() <= max && bounds.Dy() <= max {
		return data, nil
	}

	fitted := imaging.Fit(img, max, max, imaging.Lanczos)
	format, err := imaging.FormatFromFilename(fileName)
	if err != nil {
		format = imaging.JPEG
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
