// Package listing builds marketplace listing payloads from catalog
// products. Building is pure: no I/O, no clocks, fully testable.
package listing

import (
	"fmt"
	"math"
	"strings"

	"github.com/zicerhq/zicer-sync/internal/catalog"
	"github.com/zicerhq/zicer-sync/internal/category"
	"github.com/zicerhq/zicer-sync/internal/config"
	"github.com/zicerhq/zicer-sync/internal/errors"
	"github.com/zicerhq/zicer-sync/internal/zicer"
)

// listingType is the only sale type the marketplace accepts from shop
// integrations.
const listingType = "Prodaja"

const shortDescriptionWords = 30

// Builder turns products into listing payloads using the operator's
// configuration and category mapping.
type Builder struct {
	cfg      config.Config
	resolver *category.Resolver
}

// NewBuilder creates a Builder.
func NewBuilder(cfg config.Config, resolver *category.Resolver) *Builder {
	return &Builder{cfg: cfg, resolver: resolver}
}

// Available decides whether a product should be listed as available.
// Managed stock compares quantity against the configured threshold;
// unmanaged stock trusts the catalog's in-stock flag.
func (b *Builder) Available(p *catalog.Product) bool {
	if p.ManageStock {
		return p.StockQuantity > b.cfg.StockThreshold
	}
	return p.InStock
}

// Build constructs the payload for a product. parent carries the
// parent product when p is a variant and fills fields the variant
// leaves empty; it is nil otherwise.
//
// Errors use NO_CATEGORY and NO_LOCATION codes so the queue can report
// configuration gaps distinctly from transient failures.
func (b *Builder) Build(p *catalog.Product, parent *catalog.Product) (*zicer.ListingPayload, error) {
	categoryID, err := b.resolveCategory(p, parent)
	if err != nil {
		return nil, err
	}

	if b.cfg.DefaultRegion == "" || b.cfg.DefaultCity == "" {
		return nil, errors.New(errors.ErrNoLocation, "no region or city configured")
	}

	name := p.Name
	if name == "" && parent != nil {
		name = parent.Name
	}
	description := p.Description
	if description == "" && parent != nil {
		description = parent.Description
	}
	shortDescription := p.ShortDescription
	if shortDescription == "" && parent != nil {
		shortDescription = parent.ShortDescription
	}
	if shortDescription == "" {
		shortDescription = description
	}

	condition := p.Condition
	if condition == "" && parent != nil {
		condition = parent.Condition
	}
	if condition == "" {
		condition = b.cfg.DefaultCondition
	}

	payload := &zicer.ListingPayload{
		Title:            b.buildTitle(name),
		Description:      b.buildDescription(description, name, p),
		ShortDescription: TrimWords(StripTags(shortDescription), shortDescriptionWords),
		SKU:              p.SKU,
		Price:            int(math.Round(p.Price * b.cfg.PriceConversion)),
		Condition:        condition,
		Type:             listingType,
		IsActive:         true,
		IsAvailable:      b.Available(p),
		Category:         zicer.CategoryIRI(categoryID),
		Region:           zicer.RegionIRI(b.cfg.DefaultRegion),
		City:             zicer.CityIRI(b.cfg.DefaultCity),
	}
	return payload, nil
}

// resolveCategory applies, in order: the product's own override, the
// parent's override for variants, the mapped ancestor walk over the
// product's (or parent's) catalog categories, and the global fallback.
func (b *Builder) resolveCategory(p *catalog.Product, parent *catalog.Product) (string, error) {
	if p.CategoryOverride != "" {
		return p.CategoryOverride, nil
	}
	if parent != nil && parent.CategoryOverride != "" {
		return parent.CategoryOverride, nil
	}

	categoryIDs := p.CategoryIDs
	if len(categoryIDs) == 0 && parent != nil {
		categoryIDs = parent.CategoryIDs
	}
	if id, ok := b.resolver.Resolve(categoryIDs); ok {
		return id, nil
	}
	if fallback := b.resolver.Fallback(); fallback != "" {
		return fallback, nil
	}
	return "", errors.Newf(errors.ErrNoCategory, "no marketplace category for product %s", p.ID)
}

// buildTitle truncates on rune boundaries so multi-byte titles never
// split mid-character.
func (b *Builder) buildTitle(name string) string {
	if !b.cfg.TruncateTitle || b.cfg.TitleMaxLength <= 3 {
		return name
	}
	runes := []rune(name)
	if len(runes) <= b.cfg.TitleMaxLength {
		return name
	}
	return string(runes[:b.cfg.TitleMaxLength-3]) + "..."
}

func (b *Builder) buildDescription(description, name string, p *catalog.Product) string {
	switch b.cfg.DescriptionMode {
	case config.DescriptionReplace:
		return b.expandTemplate(name, p)
	case config.DescriptionPrepend:
		return b.expandTemplate(name, p) + "\n\n" + description
	case config.DescriptionAppend:
		return description + "\n\n" + b.expandTemplate(name, p)
	default:
		return description
	}
}

// expandTemplate substitutes the merchant-facing template variables.
func (b *Builder) expandTemplate(name string, p *catalog.Product) string {
	price := int(math.Round(p.Price * b.cfg.PriceConversion))
	replacer := strings.NewReplacer(
		"{product_name}", name,
		"{product_price}", fmt.Sprintf("%d", price),
		"{product_sku}", p.SKU,
		"{shop_name}", b.cfg.ShopName,
	)
	return replacer.Replace(b.cfg.DescriptionTemplate)
}
