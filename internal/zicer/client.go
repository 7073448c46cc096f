// Package zicer is the HTTP client for the Zicer marketplace API. It
// tracks the server's rate-limit headers and refuses to start requests
// once the window is exhausted, so queue items fail fast and retry on a
// later cycle instead of blocking a worker.
package zicer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/zicerhq/zicer-sync/internal/errors"
	"github.com/zicerhq/zicer-sync/internal/logging"
	"github.com/zicerhq/zicer-sync/internal/models"
)

const (
	defaultTimeout = 30 * time.Second
	uploadTimeout  = 120 * time.Second

	// persist the rate-limit snapshot when remaining drops below this,
	// or when this much time passed since the last persist
	persistRemainingFloor = 10
	persistInterval       = 30 * time.Second
)

// StateStore persists the rate-limit snapshot across restarts.
type StateStore interface {
	RateLimit() (models.RateLimitInfo, bool, error)
	SaveRateLimit(models.RateLimitInfo) error
}

// Client talks to the marketplace API. Safe for concurrent use.
type Client struct {
	baseURL      string
	http         *http.Client
	uploadClient *http.Client
	store        StateStore

	mu          sync.Mutex
	token       string
	limit       models.RateLimitInfo
	loaded      bool
	lastPersist time.Time

	now func() time.Time
}

// NewClient creates a client for the API at baseURL. store may be nil,
// in which case the rate-limit snapshot only lives in memory.
func NewClient(baseURL, token string, store StateStore) *Client {
	return &Client{
		baseURL:      baseURL,
		token:        token,
		store:        store,
		http:         &http.Client{Timeout: defaultTimeout},
		uploadClient: &http.Client{Timeout: uploadTimeout},
		now:          time.Now,
	}
}

// SetToken replaces the bearer token, e.g. after the operator
// reconnects the account.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// RateLimitStatus returns the last rate-limit snapshot seen from the
// server, loading the persisted one on first call.
func (c *Client) RateLimitStatus() models.RateLimitInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLimitLocked()
	return c.limit
}

func (c *Client) loadLimitLocked() {
	if c.loaded || c.store == nil {
		c.loaded = true
		return
	}
	c.loaded = true
	info, ok, err := c.store.RateLimit()
	if err != nil {
		logging.Warn("failed to load persisted rate limit", map[string]interface{}{"error": err.Error()})
		return
	}
	if ok {
		c.limit = info
		c.lastPersist = time.Unix(info.Updated, 0)
	}
}

// checkRateLimit fails fast when the window is known to be exhausted.
// The check never sleeps; callers retry on a later queue cycle.
func (c *Client) checkRateLimit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLimitLocked()

	now := c.now()
	if c.limit.Exhausted(now) {
		return &errors.AppError{
			Code:       errors.ErrRateLimited,
			Message:    fmt.Sprintf("rate limit exhausted, resets in %ds", c.limit.ResetIn(now)),
			RetryAfter: c.limit.ResetIn(now),
		}
	}
	return nil
}

// captureRateLimit records the rate-limit headers from a response. The
// server headers are authoritative; local counts are never decremented
// speculatively.
func (c *Client) captureRateLimit(resp *http.Response) {
	limitH := resp.Header.Get("X-RateLimit-Limit")
	remainingH := resp.Header.Get("X-RateLimit-Remaining")
	resetH := resp.Header.Get("X-RateLimit-Reset")
	if limitH == "" && remainingH == "" && resetH == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if n, err := strconv.Atoi(limitH); err == nil {
		c.limit.Limit = n
	}
	if n, err := strconv.Atoi(remainingH); err == nil {
		c.limit.Remaining = n
	}
	if n, err := strconv.ParseInt(resetH, 10, 64); err == nil {
		c.limit.Reset = n
	}

	now := c.now()
	shouldPersist := c.lastPersist.IsZero() ||
		c.limit.Remaining < persistRemainingFloor ||
		now.Sub(c.lastPersist) > persistInterval
	if shouldPersist && c.store != nil {
		c.limit.Updated = now.Unix()
		if err := c.store.SaveRateLimit(c.limit); err != nil {
			logging.Warn("failed to persist rate limit", map[string]interface{}{"error": err.Error()})
		} else {
			c.lastPersist = now
		}
	}
}

// apiError extracts the error message from a non-2xx response body.
// The API reports errors under "detail" or "message" depending on the
// endpoint.
func apiError(status int, body []byte) *errors.AppError {
	message := fmt.Sprintf("API returned status %d", status)
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err == nil {
		if detail, ok := payload["detail"].(string); ok && detail != "" {
			message = detail
		} else if msg, ok := payload["message"].(string); ok && msg != "" {
			message = msg
		}
	}
	return &errors.AppError{
		Code:    errors.ErrAPI,
		Message: message,
		Status:  status,
	}
}

// do executes one API request and decodes the JSON response into out
// (when out is non-nil). body is JSON-encoded when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return c.doWith(ctx, c.http, method, path, body, "application/json", out)
}

func (c *Client) doWith(ctx context.Context, hc *http.Client, method, path string, body interface{}, contentType string, out interface{}) error {
	if err := c.checkRateLimit(); err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.ErrInternal, "failed to encode request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrap(errors.ErrTransport, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	c.captureRateLimit(resp)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(errors.ErrTransport, "failed to read response body", err)
	}

	logging.Debug("api response", map[string]interface{}{
		"method": method, "path": path, "status": resp.StatusCode, "bytes": len(data),
	})

	if resp.StatusCode == http.StatusTooManyRequests {
		c.mu.Lock()
		retryAfter := c.limit.ResetIn(c.now())
		c.mu.Unlock()
		return &errors.AppError{
			Code:       errors.ErrRateLimited,
			Message:    "rate limited by server",
			Status:     resp.StatusCode,
			RetryAfter: retryAfter,
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(errors.ErrAPI, "failed to decode response", err)
		}
	}
	return nil
}

// Me returns the authenticated account, validating the token.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.do(ctx, http.MethodGet, "/me", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// Shop returns the authenticated account's shop profile.
func (c *Client) Shop(ctx context.Context) (*Shop, error) {
	var shop Shop
	if err := c.do(ctx, http.MethodGet, "/shop", nil, &shop); err != nil {
		return nil, err
	}
	return &shop, nil
}

// Categories fetches one page of the category tree and reports the
// last page number.
func (c *Client) Categories(ctx context.Context, page int) ([]Category, int, error) {
	var envelope collection
	path := fmt.Sprintf("/categories?page=%d&itemsPerPage=100", page)
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, 0, err
	}
	var categories []Category
	if members := envelope.members(); len(members) > 0 {
		if err := json.Unmarshal(members, &categories); err != nil {
			return nil, 0, errors.Wrap(errors.ErrAPI, "failed to decode categories", err)
		}
	}
	lastPage := page
	if envelope.Meta != nil && envelope.Meta.LastPage > 0 {
		lastPage = envelope.Meta.LastPage
	}
	return categories, lastPage, nil
}

// AllCategories walks every page of the category tree.
func (c *Client) AllCategories(ctx context.Context) ([]Category, error) {
	var all []Category
	page := 1
	for {
		categories, lastPage, err := c.Categories(ctx, page)
		if err != nil {
			return nil, err
		}
		all = append(all, categories...)
		if page >= lastPage {
			return all, nil
		}
		page++
	}
}

// CategorySuggestions asks the API for categories matching a title.
func (c *Client) CategorySuggestions(ctx context.Context, query string) ([]Category, error) {
	var envelope collection
	path := "/categories/suggest?title=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	var categories []Category
	if members := envelope.members(); len(members) > 0 {
		if err := json.Unmarshal(members, &categories); err != nil {
			return nil, errors.Wrap(errors.ErrAPI, "failed to decode category suggestions", err)
		}
	}
	return categories, nil
}

// Regions fetches the top-level regions, cantons nested under parents.
func (c *Client) Regions(ctx context.Context) ([]Region, error) {
	var envelope collection
	if err := c.do(ctx, http.MethodGet, "/regions?exists[parent]=false&itemsPerPage=100", nil, &envelope); err != nil {
		return nil, err
	}
	var regions []Region
	if members := envelope.members(); len(members) > 0 {
		if err := json.Unmarshal(members, &regions); err != nil {
			return nil, errors.Wrap(errors.ErrAPI, "failed to decode regions", err)
		}
	}
	return regions, nil
}

// Cities fetches the cities of a region.
func (c *Client) Cities(ctx context.Context, regionID string) ([]City, error) {
	var envelope collection
	path := "/regions/" + url.PathEscape(regionID) + "/cities?itemsPerPage=500"
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	var cities []City
	if members := envelope.members(); len(members) > 0 {
		if err := json.Unmarshal(members, &cities); err != nil {
			return nil, errors.Wrap(errors.ErrAPI, "failed to decode cities", err)
		}
	}
	return cities, nil
}

// CreateListing creates a new listing and returns it.
func (c *Client) CreateListing(ctx context.Context, payload *ListingPayload) (*Listing, error) {
	var listing Listing
	if err := c.do(ctx, http.MethodPost, "/listings", payload, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// UpdateListing applies a merge patch to an existing listing.
func (c *Client) UpdateListing(ctx context.Context, listingID string, payload *ListingPayload) (*Listing, error) {
	var listing Listing
	path := "/listings/" + url.PathEscape(listingID)
	if err := c.doWith(ctx, c.http, http.MethodPatch, path, payload, "application/merge-patch+json", &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// DeleteListing removes a listing.
func (c *Client) DeleteListing(ctx context.Context, listingID string) error {
	return c.do(ctx, http.MethodDelete, "/listings/"+url.PathEscape(listingID), nil, nil)
}

// GetListing fetches a single listing.
func (c *Client) GetListing(ctx context.Context, listingID string) (*Listing, error) {
	var listing Listing
	if err := c.do(ctx, http.MethodGet, "/listings/"+url.PathEscape(listingID), nil, &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

// Listings fetches one page of the shop's listings.
func (c *Client) Listings(ctx context.Context, page, perPage int) ([]Listing, int, error) {
	var envelope collection
	path := fmt.Sprintf("/listings?page=%d&itemsPerPage=%d", page, perPage)
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, 0, err
	}
	var listings []Listing
	if members := envelope.members(); len(members) > 0 {
		if err := json.Unmarshal(members, &listings); err != nil {
			return nil, 0, errors.Wrap(errors.ErrAPI, "failed to decode listings", err)
		}
	}
	lastPage := page
	if envelope.Meta != nil && envelope.Meta.LastPage > 0 {
		lastPage = envelope.Meta.LastPage
	}
	return listings, lastPage, nil
}

// Credits returns the shop's promotion credit balance.
func (c *Client) Credits(ctx context.Context) (*Credits, error) {
	var credits Credits
	if err := c.do(ctx, http.MethodGet, "/credits", nil, &credits); err != nil {
		return nil, err
	}
	return &credits, nil
}

// PromotionPrice quotes the cost of a promotion of the given length.
// super selects the premium promotion tier.
func (c *Client) PromotionPrice(ctx context.Context, days int, super bool) (*PromotionPrice, error) {
	var price PromotionPrice
	body := map[string]interface{}{"days": days, "super": super}
	if err := c.do(ctx, http.MethodPost, "/listings/promote/price", body, &price); err != nil {
		return nil, err
	}
	return &price, nil
}

// PromoteListing spends credits to promote a listing.
func (c *Client) PromoteListing(ctx context.Context, listingID string, days int, super bool) error {
	path := "/listings/" + url.PathEscape(listingID) + "/promote"
	body := map[string]interface{}{"days": days, "super": super, "promote": true}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

// CategoryIRI builds the IRI reference for a category id.
func CategoryIRI(id string) string {
	return "/api/categories/" + id
}

// RegionIRI builds the IRI reference for a region id.
func RegionIRI(id string) string {
	return "/api/regions/" + id
}

// CityIRI builds the IRI reference for a city id.
func CityIRI(id string) string {
	return "/api/cities/" + id
}
