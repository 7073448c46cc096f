// Package catalog defines the merchant-side product model and the
// adapter interface the sync engine reads products through. The engine
// never talks to the host shop directly; everything arrives through an
// Adapter.
package catalog

import (
	"context"

	"github.com/zicerhq/zicer-sync/internal/models"
)

// Image is one product photo.
type Image struct {
	ID       string
	URL      string
	FileName string
	Position int
}

// Product is the catalog-side view of a product or variant. For a
// variant, ParentID names the parent and most display fields may be
// empty, to be filled from the parent at build time.
type Product struct {
	ID               string
	ParentID         string
	Name             string
	SKU              string
	Price            float64
	Description      string
	ShortDescription string
	CategoryIDs      []int64
	FeaturedImage    *Image
	GalleryImages    []Image
	VariantIDs       []string
	ManageStock      bool
	StockQuantity    int
	InStock          bool
	Published        bool

	// Per-product overrides from the merchant
	CategoryOverride string
	Condition        string
	Excluded         bool
}

// IsVariant reports whether the product is a variation of a parent.
func (p *Product) IsVariant() bool {
	return p.ParentID != ""
}

// HasVariants reports whether the product fans out to variations.
func (p *Product) HasVariants() bool {
	return len(p.VariantIDs) > 0
}

// CatalogCategory is one category of the host shop's own taxonomy,
// used to walk ancestors when resolving marketplace categories.
type CatalogCategory struct {
	ID       int64
	ParentID int64
	Name     string
}

// Adapter reads products from the host catalog.
type Adapter interface {
	// Product fetches a product or variant by id. Returns an error
	// with code PRODUCT_NOT_FOUND when the id does not exist.
	Product(ctx context.Context, id string) (*Product, error)

	// ReadImage downloads the bytes of a product image.
	ReadImage(ctx context.Context, img *Image) ([]byte, error)

	// SyncableIDs lists ids of all products eligible for syncing
	// (published, visible, not excluded).
	SyncableIDs(ctx context.Context) ([]string, error)

	// Categories lists the host taxonomy for ancestor walks.
	Categories(ctx context.Context) ([]CatalogCategory, error)
}

// MetaStore persists per-product listing metadata.
type MetaStore interface {
	SyncMeta(productID string) (*models.ListingRecord, error)
	SetSyncMeta(productID string, rec *models.ListingRecord) error
	ClearSyncMeta(productID string) error
}
