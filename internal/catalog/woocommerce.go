package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/zicerhq/zicer-sync/internal/errors"
)

// Meta keys carrying per-product overrides in the shop.
const (
	metaExclude          = "_zicer_exclude"
	metaCategoryOverride = "_zicer_category_override"
	metaCondition        = "_zicer_condition"
)

// WooCommerce reads products over the WooCommerce REST API (wc/v3)
// using key/secret basic auth.
type WooCommerce struct {
	baseURL string
	key     string
	secret  string
	http    *http.Client
}

// NewWooCommerce creates an adapter for the shop at baseURL.
func NewWooCommerce(baseURL, key, secret string) *WooCommerce {
	return &WooCommerce{
		baseURL: baseURL,
		key:     key,
		secret:  secret,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// wcProduct is the wire shape of a WooCommerce product or variation.
type wcProduct struct {
	ID               int64    `json:"id"`
	ParentID         int64    `json:"parent_id"`
	Name             string   `json:"name"`
	SKU              string   `json:"sku"`
	Price            string   `json:"price"`
	Description      string   `json:"description"`
	ShortDescription string   `json:"short_description"`
	Status           string   `json:"status"`
	CatalogVisible   string   `json:"catalog_visibility"`
	ManageStock      bool     `json:"manage_stock"`
	StockQuantity    *int     `json:"stock_quantity"`
	StockStatus      string   `json:"stock_status"`
	Variations       []int64  `json:"variations"`
	Categories       []wcTerm `json:"categories"`
	Images           []struct {
		ID   int64  `json:"id"`
		Src  string `json:"src"`
		Name string `json:"name"`
	} `json:"images"`
	Image *struct {
		ID   int64  `json:"id"`
		Src  string `json:"src"`
		Name string `json:"name"`
	} `json:"image"`
	MetaData []struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	} `json:"meta_data"`
}

type wcTerm struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Parent int64  `json:"parent"`
}

func (w *WooCommerce) get(ctx context.Context, endpoint string, query url.Values, out interface{}) (http.Header, error) {
	u := w.baseURL + "/wp-json/wc/v3" + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build catalog request", err)
	}
	req.SetBasicAuth(w.key, w.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransport, "catalog request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransport, "failed to read catalog response", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Newf(errors.ErrProductNotFound, "catalog resource %s not found", endpoint)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Newf(errors.ErrAPI, "catalog returned status %d for %s", resp.StatusCode, endpoint)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, errors.Wrap(errors.ErrAPI, "failed to decode catalog response", err)
		}
	}
	return resp.Header, nil
}

// Product fetches a product by id. A variation id resolves through its
// parent's variations endpoint transparently: WooCommerce serves both
// under /products/{id}, with parent_id distinguishing variants.
func (w *WooCommerce) Product(ctx context.Context, id string) (*Product, error) {
	var wp wcProduct
	if _, err := w.get(ctx, "/products/"+url.PathEscape(id), nil, &wp); err != nil {
		return nil, err
	}
	return w.convert(&wp), nil
}

func (w *WooCommerce) convert(wp *wcProduct) *Product {
	p := &Product{
		ID:               strconv.FormatInt(wp.ID, 10),
		Name:             wp.Name,
		SKU:              wp.SKU,
		Description:      wp.Description,
		ShortDescription: wp.ShortDescription,
		ManageStock:      wp.ManageStock,
		InStock:          wp.StockStatus == "instock",
		Published:        wp.Status == "publish",
	}
	if wp.ParentID > 0 {
		p.ParentID = strconv.FormatInt(wp.ParentID, 10)
	}
	if price, err := strconv.ParseFloat(wp.Price, 64); err == nil {
		p.Price = price
	}
	if wp.StockQuantity != nil {
		p.StockQuantity = *wp.StockQuantity
	}
	for _, v := range wp.Variations {
		p.VariantIDs = append(p.VariantIDs, strconv.FormatInt(v, 10))
	}
	for _, c := range wp.Categories {
		p.CategoryIDs = append(p.CategoryIDs, c.ID)
	}
	if wp.Image != nil {
		p.FeaturedImage = &Image{
			ID:       strconv.FormatInt(wp.Image.ID, 10),
			URL:      wp.Image.Src,
			FileName: fileNameOf(wp.Image.Src, wp.Image.Name),
		}
	}
	for i, img := range wp.Images {
		image := Image{
			ID:       strconv.FormatInt(img.ID, 10),
			URL:      img.Src,
			FileName: fileNameOf(img.Src, img.Name),
			Position: i,
		}
		if i == 0 && p.FeaturedImage == nil {
			featured := image
			p.FeaturedImage = &featured
			continue
		}
		p.GalleryImages = append(p.GalleryImages, image)
	}
	for _, meta := range wp.MetaData {
		var value string
		if err := json.Unmarshal(meta.Value, &value); err != nil {
			continue
		}
		switch meta.Key {
		case metaExclude:
			p.Excluded = value == "yes" || value == "1"
		case metaCategoryOverride:
			p.CategoryOverride = value
		case metaCondition:
			p.Condition = value
		}
	}
	return p
}

func fileNameOf(src, name string) string {
	if u, err := url.Parse(src); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return name
}

// ReadImage downloads the image bytes from the shop's media storage.
func (w *WooCommerce) ReadImage(ctx context.Context, img *Image) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build image request", err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransport, "image download failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrAPI, "image download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// SyncableIDs lists ids of all published products, walking every page.
// Exclusion flags are per-product metadata and re-checked at sync time.
func (w *WooCommerce) SyncableIDs(ctx context.Context) ([]string, error) {
	var ids []string
	page := 1
	for {
		query := url.Values{
			"status":   {"publish"},
			"per_page": {"100"},
			"page":     {strconv.Itoa(page)},
		}
		var products []wcProduct
		header, err := w.get(ctx, "/products", query, &products)
		if err != nil {
			return nil, err
		}
		for _, wp := range products {
			ids = append(ids, strconv.FormatInt(wp.ID, 10))
		}
		totalPages, _ := strconv.Atoi(header.Get("X-WP-TotalPages"))
		if page >= totalPages || len(products) == 0 {
			return ids, nil
		}
		page++
	}
}

// Categories lists the shop's own category taxonomy.
func (w *WooCommerce) Categories(ctx context.Context) ([]CatalogCategory, error) {
	var all []CatalogCategory
	page := 1
	for {
		query := url.Values{
			"per_page": {"100"},
			"page":     {strconv.Itoa(page)},
		}
		var terms []wcTerm
		header, err := w.get(ctx, "/products/categories", query, &terms)
		if err != nil {
			return nil, err
		}
		for _, t := range terms {
			all = append(all, CatalogCategory{ID: t.ID, ParentID: t.Parent, Name: t.Name})
		}
		totalPages, _ := strconv.Atoi(header.Get("X-WP-TotalPages"))
		if page >= totalPages || len(terms) == 0 {
			return all, nil
		}
		page++
	}
}

var _ Adapter = (*WooCommerce)(nil)

// Helpful in logs when the shop URL is misconfigured.
func (w *WooCommerce) String() string {
	return fmt.Sprintf("woocommerce(%s)", w.baseURL)
}
