package listing

import (
	"strings"
	"testing"

	"github.com/zicerhq/zicer-sync/internal/catalog"
	"github.com/zicerhq/zicer-sync/internal/category"
	"github.com/zicerhq/zicer-sync/internal/config"
	"github.com/zicerhq/zicer-sync/internal/errors"
)

func testConfig() config.Config {
	return config.Config{
		ShopName:         "Test Shop",
		DefaultRegion:    "1",
		DefaultCity:      "7",
		DefaultCondition: "Novo",
		DescriptionMode:  config.DescriptionProduct,
		PriceConversion:  1,
		TitleMaxLength:   65,
	}
}

func testResolver() *category.Resolver {
	r := category.NewResolver("")
	r.SetMapping(map[int64]string{10: "500"})
	return r
}

func testProduct() *catalog.Product {
	return &catalog.Product{
		ID:          "42",
		Name:        "Test Product",
		SKU:         "SKU-1",
		Price:       99.5,
		Description: "<p>Nice product</p>",
		CategoryIDs: []int64{10},
		InStock:     true,
	}
}

func TestBuildBasicPayload(t *testing.T) {
	b := NewBuilder(testConfig(), testResolver())

	payload, err := b.Build(testProduct(), nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if payload.Title != "Test Product" {
		t.Errorf("unexpected title %q", payload.Title)
	}
	if payload.Price != 100 {
		t.Errorf("expected rounded price 100, got %d", payload.Price)
	}
	if payload.Category != "/api/categories/500" {
		t.Errorf("unexpected category IRI %q", payload.Category)
	}
	if payload.Region != "/api/regions/1" || payload.City != "/api/cities/7" {
		t.Errorf("unexpected location IRIs %q %q", payload.Region, payload.City)
	}
	if payload.Type != "Prodaja" || !payload.IsActive || !payload.IsAvailable {
		t.Errorf("unexpected flags: %+v", payload)
	}
	if payload.Condition != "Novo" {
		t.Errorf("unexpected condition %q", payload.Condition)
	}
}

func TestBuildPriceConversion(t *testing.T) {
	cfg := testConfig()
	cfg.PriceConversion = 1.95583
	b := NewBuilder(cfg, testResolver())

	p := testProduct()
	p.Price = 100
	payload, err := b.Build(p, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if payload.Price != 196 {
		t.Errorf("expected 196 after conversion, got %d", payload.Price)
	}
}

func TestBuildTitleTruncationOnRunes(t *testing.T) {
	cfg := testConfig()
	cfg.TruncateTitle = true
	cfg.TitleMaxLength = 10
	b := NewBuilder(cfg, testResolver())

	p := testProduct()
	p.Name = "čćžšđ čćžšđ čćžšđ"
	payload, err := b.Build(p, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	runes := []rune(payload.Title)
	if len(runes) != 10 {
		t.Errorf("expected 10 runes, got %d (%q)", len(runes), payload.Title)
	}
	if !strings.HasSuffix(payload.Title, "...") {
		t.Errorf("expected ellipsis suffix, got %q", payload.Title)
	}
	if strings.Contains(payload.Title, "�") {
		t.Errorf("title split mid-character: %q", payload.Title)
	}
}

func TestBuildTitleNotTruncatedWhenShort(t *testing.T) {
	cfg := testConfig()
	cfg.TruncateTitle = true
	b := NewBuilder(cfg, testResolver())

	payload, err := b.Build(testProduct(), nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if payload.Title != "Test Product" {
		t.Errorf("short title must not change, got %q", payload.Title)
	}
}

func TestBuildDescriptionModes(t *testing.T) {
	tests := []struct {
		mode     string
		template string
		want     string
	}{
		{config.DescriptionProduct, "ignored", "<p>Nice product</p>"},
		{config.DescriptionReplace, "Buy {product_name} for {product_price} from {shop_name} ({product_sku})",
			"Buy Test Product for 100 from Test Shop (SKU-1)"},
		{config.DescriptionPrepend, "Intro", "Intro\n\n<p>Nice product</p>"},
		{config.DescriptionAppend, "Outro", "<p>Nice product</p>\n\nOutro"},
	}

	for _, tt := range tests {
		cfg := testConfig()
		cfg.DescriptionMode = tt.mode
		cfg.DescriptionTemplate = tt.template
		b := NewBuilder(cfg, testResolver())

		payload, err := b.Build(testProduct(), nil)
		if err != nil {
			t.Fatalf("mode %s: build failed: %v", tt.mode, err)
		}
		if payload.Description != tt.want {
			t.Errorf("mode %s: got %q, want %q", tt.mode, payload.Description, tt.want)
		}
	}
}

func TestBuildShortDescriptionStripsAndTrims(t *testing.T) {
	b := NewBuilder(testConfig(), testResolver())

	p := testProduct()
	words := make([]string, 40)
	for i := range words {
		words[i] = "word"
	}
	p.ShortDescription = "<b>" + strings.Join(words, " ") + "</b>"

	payload, err := b.Build(p, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if strings.Contains(payload.ShortDescription, "<b>") {
		t.Errorf("expected HTML stripped, got %q", payload.ShortDescription)
	}
	got := strings.Fields(payload.ShortDescription)
	if len(got) != 30 {
		t.Errorf("expected 30 words, got %d", len(got))
	}
	if !strings.HasSuffix(payload.ShortDescription, "...") {
		t.Error("expected ellipsis after trim")
	}
}

func TestBuildCategoryOverridePrecedence(t *testing.T) {
	b := NewBuilder(testConfig(), testResolver())

	p := testProduct()
	p.CategoryOverride = "777"
	payload, err := b.Build(p, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if payload.Category != "/api/categories/777" {
		t.Errorf("override must win over mapping, got %q", payload.Category)
	}
}

func TestBuildVariantInheritsParentOverride(t *testing.T) {
	b := NewBuilder(testConfig(), testResolver())

	variant := &catalog.Product{ID: "43", ParentID: "42", Name: "Variant", Price: 10, InStock: true}
	parent := testProduct()
	parent.CategoryOverride = "888"

	payload, err := b.Build(variant, parent)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if payload.Category != "/api/categories/888" {
		t.Errorf("expected parent override, got %q", payload.Category)
	}
}

func TestBuildVariantFallsBackToParentFields(t *testing.T) {
	b := NewBuilder(testConfig(), testResolver())

	variant := &catalog.Product{ID: "43", ParentID: "42", SKU: "SKU-V", Price: 10, InStock: true}
	payload, err := b.Build(variant, testProduct())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if payload.Title != "Test Product" {
		t.Errorf("expected parent name, got %q", payload.Title)
	}
	if payload.SKU != "SKU-V" {
		t.Errorf("variant SKU must win, got %q", payload.SKU)
	}
}

func TestBuildFallbackCategory(t *testing.T) {
	r := category.NewResolver("999")
	b := NewBuilder(testConfig(), r)

	payload, err := b.Build(testProduct(), nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if payload.Category != "/api/categories/999" {
		t.Errorf("expected fallback category, got %q", payload.Category)
	}
}

func TestBuildNoCategoryError(t *testing.T) {
	b := NewBuilder(testConfig(), category.NewResolver(""))

	_, err := b.Build(testProduct(), nil)
	if !errors.Is(err, errors.ErrNoCategory) {
		t.Fatalf("expected NO_CATEGORY, got %v", err)
	}
}

func TestBuildNoLocationError(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultCity = ""
	b := NewBuilder(cfg, testResolver())

	_, err := b.Build(testProduct(), nil)
	if !errors.Is(err, errors.ErrNoLocation) {
		t.Fatalf("expected NO_LOCATION, got %v", err)
	}
}

func TestAvailableManagedStock(t *testing.T) {
	cfg := testConfig()
	cfg.StockThreshold = 2
	b := NewBuilder(cfg, testResolver())

	p := testProduct()
	p.ManageStock = true
	p.InStock = false

	p.StockQuantity = 2
	if b.Available(p) {
		t.Error("quantity at threshold must not be available")
	}
	p.StockQuantity = 3
	if !b.Available(p) {
		t.Error("quantity above threshold must be available")
	}
}

func TestAvailableUnmanagedStock(t *testing.T) {
	b := NewBuilder(testConfig(), testResolver())

	p := testProduct()
	p.ManageStock = false
	p.InStock = true
	p.StockQuantity = 0
	if !b.Available(p) {
		t.Error("unmanaged stock must trust the in-stock flag")
	}
}

func TestStripTags(t *testing.T) {
	got := StripTags("<p>Hello <b>world</b></p>\n<ul><li>one</li></ul>")
	if got != "Hello world one" {
		t.Errorf("unexpected stripped text %q", got)
	}
}

func TestTrimWords(t *testing.T) {
	if got := TrimWords("one two three", 5); got != "one two three" {
		t.Errorf("short text must not change, got %q", got)
	}
	if got := TrimWords("one two three", 2); got != "one two..." {
		t.Errorf("expected trimmed text, got %q", got)
	}
}
