// Package config loads the daemon configuration from the environment.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Description modes.
const (
	DescriptionProduct = "product"
	DescriptionReplace = "replace"
	DescriptionPrepend = "prepend"
	DescriptionAppend  = "append"
)

// Image sync modes.
const (
	ImagesAll      = "all"
	ImagesFeatured = "featured"
	ImagesNone     = "none"
)

// Config is the typed settings bag shared by all components. It is
// constructed once at startup and passed explicitly; nothing reads the
// environment after Load returns.
type Config struct {
	ListenAddr string
	DataDir    string

	// Marketplace connection
	APIBaseURL string
	APIToken   string
	ShopName   string

	// Host catalog (WooCommerce REST API)
	CatalogURL    string
	CatalogKey    string
	CatalogSecret string

	// Sync behaviour
	RealtimeSync        bool
	DeleteOnUnavailable bool
	StockThreshold      int
	SyncImages          string
	MaxImages           int
	MaxImageDimension   int

	// Listing content
	TruncateTitle       bool
	TitleMaxLength      int
	DescriptionMode     string
	DescriptionTemplate string
	PriceConversion     float64
	DefaultCondition    string
	DefaultRegion       string
	DefaultCity         string
	FallbackCategory    string

	// Queue processing
	QueueBatchSize  int
	ProcessInterval time.Duration

	DebugLogging bool
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoiEnv(key string, def int) int {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("invalid int env %s=%s, using default %d", key, v, def)
		return def
	}
	return n
}

func floatEnv(key string, def float64) float64 {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("invalid float env %s=%s, using default %g", key, v, def)
		return def
	}
	return f
}

func boolEnv(key string, def bool) bool {
	v := getenv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("invalid bool env %s=%s, using default %v", key, v, def)
		return def
	}
	return b
}

// Load reads configuration from the environment, falling back to the
// defaults the original plugin ships with.
func Load() Config {
	return Config{
		ListenAddr: getenv("ZICER_LISTEN_ADDR", ":8084"),
		DataDir:    getenv("ZICER_DATA_DIR", "./data"),

		APIBaseURL: getenv("ZICER_API_URL", "https://api.zicer.ba/api"),
		APIToken:   getenv("ZICER_API_TOKEN", ""),
		ShopName:   getenv("ZICER_SHOP_NAME", ""),

		CatalogURL:    getenv("ZICER_CATALOG_URL", ""),
		CatalogKey:    getenv("ZICER_CATALOG_KEY", ""),
		CatalogSecret: getenv("ZICER_CATALOG_SECRET", ""),

		RealtimeSync:        boolEnv("ZICER_REALTIME_SYNC", true),
		DeleteOnUnavailable: boolEnv("ZICER_DELETE_ON_UNAVAILABLE", true),
		StockThreshold:      atoiEnv("ZICER_STOCK_THRESHOLD", 0),
		SyncImages:          getenv("ZICER_SYNC_IMAGES", ImagesAll),
		MaxImages:           atoiEnv("ZICER_MAX_IMAGES", 10),
		MaxImageDimension:   atoiEnv("ZICER_MAX_IMAGE_DIMENSION", 0),

		TruncateTitle:       boolEnv("ZICER_TRUNCATE_TITLE", false),
		TitleMaxLength:      atoiEnv("ZICER_TITLE_MAX_LENGTH", 65),
		DescriptionMode:     getenv("ZICER_DESCRIPTION_MODE", DescriptionProduct),
		DescriptionTemplate: getenv("ZICER_DESCRIPTION_TEMPLATE", ""),
		PriceConversion:     floatEnv("ZICER_PRICE_CONVERSION", 1),
		DefaultCondition:    getenv("ZICER_DEFAULT_CONDITION", "Novo"),
		DefaultRegion:       getenv("ZICER_DEFAULT_REGION", ""),
		DefaultCity:         getenv("ZICER_DEFAULT_CITY", ""),
		FallbackCategory:    getenv("ZICER_FALLBACK_CATEGORY", ""),

		QueueBatchSize:  atoiEnv("ZICER_QUEUE_BATCH_SIZE", 10),
		ProcessInterval: time.Duration(atoiEnv("ZICER_PROCESS_INTERVAL_SEC", 60)) * time.Second,

		DebugLogging: boolEnv("ZICER_DEBUG_LOGGING", false),
	}
}
