// Package sync implements the engine that converges one product's
// marketplace state with its catalog state. Each call is idempotent:
// running it twice in a row performs the same remote writes or none.
package sync

import (
	"context"
	"fmt"
	"net/http"

	"github.com/zicerhq/zicer-sync/internal/catalog"
	"github.com/zicerhq/zicer-sync/internal/config"
	"github.com/zicerhq/zicer-sync/internal/errors"
	"github.com/zicerhq/zicer-sync/internal/listing"
	"github.com/zicerhq/zicer-sync/internal/logging"
	"github.com/zicerhq/zicer-sync/internal/models"
	"github.com/zicerhq/zicer-sync/internal/zicer"
)

// API is the marketplace surface the engine writes through.
type API interface {
	CreateListing(ctx context.Context, payload *zicer.ListingPayload) (*zicer.Listing, error)
	UpdateListing(ctx context.Context, listingID string, payload *zicer.ListingPayload) (*zicer.Listing, error)
	DeleteListing(ctx context.Context, listingID string) error
	UploadMedia(ctx context.Context, listingID, fileName string, data []byte, position int) (*zicer.Media, error)
}

// Clock supplies the current unix time, swapped out in tests.
type Clock func() int64

// Outcome reports what one engine run did.
type Outcome struct {
	ListingID string
	Created   bool
	Deleted   bool
	Skipped   string
	// Variants carries per-variant results when the product fans out.
	Variants map[string]error
}

// Engine performs sync and delete operations for single products.
type Engine struct {
	api     API
	catalog catalog.Adapter
	meta    catalog.MetaStore
	builder *listing.Builder
	cfg     config.Config
	now     Clock
}

// NewEngine creates an Engine.
func NewEngine(api API, cat catalog.Adapter, meta catalog.MetaStore, builder *listing.Builder, cfg config.Config, now Clock) *Engine {
	return &Engine{api: api, catalog: cat, meta: meta, builder: builder, cfg: cfg, now: now}
}

// SyncOne converges the marketplace listing for one product. A product
// with variants fans out: each variant gets its own independent
// listing and the parent never gets one. Per-variant failures are
// reported in the Outcome but do not fail the run as a whole.
func (e *Engine) SyncOne(ctx context.Context, productID string) (*Outcome, error) {
	p, err := e.catalog.Product(ctx, productID)
	if errors.Is(err, errors.ErrProductNotFound) {
		// Product vanished from the catalog; remove its listing.
		return e.deleteByMeta(ctx, productID)
	}
	if err != nil {
		return nil, err
	}

	if p.Excluded {
		outcome, err := e.deleteByMeta(ctx, productID)
		if err != nil {
			return nil, err
		}
		outcome.Skipped = "excluded"
		return outcome, nil
	}

	if p.HasVariants() {
		return e.syncVariants(ctx, p)
	}

	var parent *catalog.Product
	if p.IsVariant() {
		parent, err = e.catalog.Product(ctx, p.ParentID)
		if err != nil {
			return nil, err
		}
	}
	return e.syncSingle(ctx, p, parent)
}

// syncVariants runs every variant independently. The parent-level run
// succeeds regardless of per-variant outcomes; individual failures
// surface through logs and the Outcome and are retried the next time
// the parent syncs.
func (e *Engine) syncVariants(ctx context.Context, parent *catalog.Product) (*Outcome, error) {
	// A parent that grew variants may still hold a listing of its own.
	if _, err := e.deleteByMeta(ctx, parent.ID); err != nil {
		logging.Warn("failed to remove parent listing", map[string]interface{}{
			"product_id": parent.ID, "error": err.Error(),
		})
	}

	outcome := &Outcome{Variants: make(map[string]error, len(parent.VariantIDs))}
	for _, variantID := range parent.VariantIDs {
		variant, err := e.catalog.Product(ctx, variantID)
		if err != nil {
			outcome.Variants[variantID] = err
			logging.Error("failed to load variant", err, map[string]interface{}{
				"product_id": parent.ID, "variant_id": variantID,
			})
			continue
		}
		if _, err := e.syncSingle(ctx, variant, parent); err != nil {
			outcome.Variants[variantID] = err
			logging.Error("variant sync failed", err, map[string]interface{}{
				"product_id": parent.ID, "variant_id": variantID,
			})
		}
	}
	return outcome, nil
}

func (e *Engine) syncSingle(ctx context.Context, p *catalog.Product, parent *catalog.Product) (*Outcome, error) {
	rec, err := e.meta.SyncMeta(p.ID)
	if err != nil {
		return nil, err
	}

	if !e.builder.Available(p) {
		if rec.ListingID == "" {
			// Never create a listing for an unavailable product. The
			// queue counts this as a failed attempt.
			return nil, errors.Newf(errors.ErrNotAvailable, "product %s is not available", p.ID)
		}
		if e.cfg.DeleteOnUnavailable {
			return e.deleteListing(ctx, p.ID, rec)
		}
		// keep the listing; the update below carries isAvailable=false
	}

	payload, err := e.builder.Build(p, parent)
	if err != nil {
		e.recordError(p.ID, rec, err)
		return nil, err
	}

	outcome := &Outcome{ListingID: rec.ListingID}
	if rec.ListingID == "" {
		created, err := e.api.CreateListing(ctx, payload)
		if err != nil {
			e.recordError(p.ID, rec, err)
			return nil, err
		}
		rec.ListingID = created.ID.String()
		// fresh listing, every image needs uploading again
		rec.SyncedImages = nil
		outcome.ListingID = rec.ListingID
		outcome.Created = true
	} else {
		if _, err := e.api.UpdateListing(ctx, rec.ListingID, payload); err != nil {
			e.recordError(p.ID, rec, err)
			return nil, err
		}
	}

	// Image sync is best effort; a failed upload never fails the run.
	e.syncImages(ctx, p, parent, rec)

	rec.LastSync = e.now()
	rec.LastError = ""
	if err := e.meta.SetSyncMeta(p.ID, rec); err != nil {
		return nil, err
	}
	return outcome, nil
}

// recordError persists the failure on the listing record. A 404 from
// an update means the remote listing vanished; it is marked stale so
// the operator can clear-and-recreate instead of blind retries.
func (e *Engine) recordError(productID string, rec *models.ListingRecord, cause error) {
	message := cause.Error()
	if errors.StatusOf(cause) == http.StatusNotFound && rec.ListingID != "" {
		message = fmt.Sprintf("%s listing %s no longer exists", models.StaleListingPrefix, rec.ListingID)
	}
	rec.LastError = message
	if err := e.meta.SetSyncMeta(productID, rec); err != nil {
		logging.Error("failed to record sync error", err, map[string]interface{}{"product_id": productID})
	}
}

// DeleteOne removes the marketplace listing(s) for a product. Variants
// are deleted individually; a product with no listing is a no-op.
func (e *Engine) DeleteOne(ctx context.Context, productID string) (*Outcome, error) {
	p, err := e.catalog.Product(ctx, productID)
	if err == nil && p.HasVariants() {
		outcome := &Outcome{Variants: make(map[string]error, len(p.VariantIDs))}
		for _, variantID := range p.VariantIDs {
			if _, err := e.deleteByMeta(ctx, variantID); err != nil {
				outcome.Variants[variantID] = err
				logging.Error("variant delete failed", err, map[string]interface{}{
					"product_id": productID, "variant_id": variantID,
				})
			}
		}
		// The parent may hold a listing from before it had variants.
		if _, err := e.deleteByMeta(ctx, productID); err != nil {
			return nil, err
		}
		return outcome, nil
	}
	// A missing product still gets its listing cleaned up by meta.
	return e.deleteByMeta(ctx, productID)
}

func (e *Engine) deleteByMeta(ctx context.Context, productID string) (*Outcome, error) {
	rec, err := e.meta.SyncMeta(productID)
	if err != nil {
		return nil, err
	}
	if rec.ListingID == "" {
		return &Outcome{}, nil
	}
	return e.deleteListing(ctx, productID, rec)
}

// deleteListing removes the remote listing and the local record. A 404
// means the listing is already gone; that converges to the same state
// and counts as success.
func (e *Engine) deleteListing(ctx context.Context, productID string, rec *models.ListingRecord) (*Outcome, error) {
	err := e.api.DeleteListing(ctx, rec.ListingID)
	if err != nil && errors.StatusOf(err) != http.StatusNotFound {
		e.recordError(productID, rec, err)
		return nil, err
	}
	if err := e.meta.ClearSyncMeta(productID); err != nil {
		return nil, err
	}
	return &Outcome{ListingID: rec.ListingID, Deleted: true}, nil
}

// ClearStale drops the local record of a listing that 404ed, so the
// next sync creates a fresh one. It reports whether anything was
// cleared.
func (e *Engine) ClearStale(productID string) (bool, error) {
	rec, err := e.meta.SyncMeta(productID)
	if err != nil {
		return false, err
	}
	if !rec.IsStale() {
		return false, nil
	}
	if err := e.meta.ClearSyncMeta(productID); err != nil {
		return false, err
	}
	return true, nil
}
