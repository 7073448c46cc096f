package zicer

import "encoding/json"

// Account is the authenticated user returned by /me.
type Account struct {
	ID       json.Number `json:"id"`
	Email    string      `json:"email"`
	Username string      `json:"username"`
	ShopName string      `json:"shopName"`
}

// Shop is the merchant's shop profile on the marketplace.
type Shop struct {
	ID    json.Number `json:"id"`
	Title string      `json:"title"`
	Slug  string      `json:"slug,omitempty"`
}

// Category is one node of the marketplace category tree.
type Category struct {
	ID       json.Number `json:"id"`
	Title    string      `json:"title"`
	Parent   string      `json:"parent,omitempty"`
	Children []Category  `json:"children,omitempty"`
	HasAds   bool        `json:"hasAds,omitempty"`
}

// Region is a top-level location with optional child cantons.
type Region struct {
	ID      json.Number `json:"id"`
	Title   string      `json:"title"`
	Cantons []Region    `json:"cantons,omitempty"`
}

// City is a settlement within a region.
type City struct {
	ID    json.Number `json:"id"`
	Title string      `json:"title"`
}

// ListingPayload is the request body for creating or updating a
// listing. Category, Region and City are IRI references, e.g.
// "/api/categories/123".
type ListingPayload struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	ShortDescription string `json:"shortDescription"`
	SKU              string `json:"sku,omitempty"`
	Price            int    `json:"price"`
	Condition        string `json:"condition"`
	Type             string `json:"type"`
	IsActive         bool   `json:"isActive"`
	IsAvailable      bool   `json:"isAvailable"`
	Category         string `json:"category"`
	Region           string `json:"region,omitempty"`
	City             string `json:"city,omitempty"`
}

// Listing is the remote listing representation.
type Listing struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	Price       int         `json:"price"`
	IsActive    bool        `json:"isActive"`
	IsAvailable bool        `json:"isAvailable"`
	SKU         string      `json:"sku,omitempty"`
	CreatedAt   string      `json:"createdAt,omitempty"`
}

// Media is the response from uploading a listing image.
type Media struct {
	ID       json.Number `json:"id"`
	URL      string      `json:"url,omitempty"`
	Position int         `json:"position,omitempty"`
}

// Credits is the shop's promotion credit balance.
type Credits struct {
	Balance json.Number `json:"balance"`
}

// PromotionPrice is a quote for promoting a listing.
type PromotionPrice struct {
	Price      json.Number `json:"price"`
	Credits    json.Number `json:"credits,omitempty"`
	CanPromote bool        `json:"canPromote"`
}

// pageMeta carries the pagination trailer on collection responses.
type pageMeta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	Total       int `json:"total"`
}

// collection decodes both envelope shapes the API serves: a "data"
// array (with optional "meta") and a hydra "hydra:member" array.
type collection struct {
	Data        json.RawMessage `json:"data"`
	HydraMember json.RawMessage `json:"hydra:member"`
	Meta        *pageMeta       `json:"meta"`
}

func (c *collection) members() json.RawMessage {
	if len(c.Data) > 0 {
		return c.Data
	}
	return c.HydraMember
}
