// Package api exposes the operator-facing HTTP surface: queue
// management, direct sync actions, category mapping and marketplace
// lookups.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/zicerhq/zicer-sync/internal/catalog"
	"github.com/zicerhq/zicer-sync/internal/category"
	"github.com/zicerhq/zicer-sync/internal/errors"
	"github.com/zicerhq/zicer-sync/internal/logging"
	"github.com/zicerhq/zicer-sync/internal/models"
	"github.com/zicerhq/zicer-sync/internal/queue"
	syncer "github.com/zicerhq/zicer-sync/internal/sync"
	"github.com/zicerhq/zicer-sync/internal/zicer"
)

const defaultListLimit = 100

// mappingStateKey is where the category mapping persists.
const mappingStateKey = "category_mapping"

// StateStore persists operator settings across restarts and owns the
// bulk reset of listing metadata.
type StateStore interface {
	AppState(key string) (string, bool, error)
	SetAppState(key, value string) error
	ClearAllSyncMeta() (int64, error)
}

// Server is the HTTP API.
type Server struct {
	queue    *queue.Queue
	engine   *syncer.Engine
	client   *zicer.Client
	catalog  catalog.Adapter
	resolver *category.Resolver
	state    StateStore

	// realtime kicks a processing cycle right after an enqueue
	// instead of waiting for the scheduler's next tick.
	realtime bool

	httpServer *http.Server
}

// NewServer wires the HTTP routes.
func NewServer(addr string, q *queue.Queue, engine *syncer.Engine, client *zicer.Client, cat catalog.Adapter, resolver *category.Resolver, state StateStore, realtime bool) *Server {
	s := &Server{
		queue:    q,
		engine:   engine,
		client:   client,
		catalog:  cat,
		resolver: resolver,
		state:    state,
		realtime: realtime,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/queue/stats", s.handleQueueStats)
	mux.HandleFunc("POST /api/queue/process", s.handleQueueProcess)
	mux.HandleFunc("POST /api/queue/retry-failed", s.handleRetryFailed)
	mux.HandleFunc("POST /api/queue/clear-failed", s.handleClearFailed)
	mux.HandleFunc("POST /api/queue/clear-completed", s.handleClearCompleted)
	mux.HandleFunc("GET /api/queue/pending", s.handlePendingItems)
	mux.HandleFunc("GET /api/queue/failed", s.handleFailedItems)
	mux.HandleFunc("DELETE /api/queue/items/{id}", s.handleRemoveItem)

	mux.HandleFunc("POST /api/products/{id}/sync", s.handleProductSync)
	mux.HandleFunc("POST /api/products/{id}/delete", s.handleProductDelete)
	mux.HandleFunc("POST /api/products/{id}/enqueue", s.handleProductEnqueue)
	mux.HandleFunc("DELETE /api/products/{id}/queue", s.handleProductDequeue)
	mux.HandleFunc("POST /api/products/{id}/clear-stale", s.handleClearStale)

	mux.HandleFunc("POST /api/sync/bulk", s.handleBulkSync)
	mux.HandleFunc("POST /api/sync/reset", s.handleSyncReset)
	mux.HandleFunc("GET /api/rate-limit", s.handleRateLimit)

	mux.HandleFunc("GET /api/categories", s.handleCategories)
	mux.HandleFunc("GET /api/categories/suggest", s.handleCategorySuggest)
	mux.HandleFunc("GET /api/categories/mapping", s.handleGetMapping)
	mux.HandleFunc("PUT /api/categories/mapping", s.handlePutMapping)

	mux.HandleFunc("GET /api/regions", s.handleRegions)
	mux.HandleFunc("GET /api/regions/{id}/cities", s.handleCities)

	mux.HandleFunc("GET /api/shop", s.handleShop)
	mux.HandleFunc("GET /api/credits", s.handleCredits)
	mux.HandleFunc("POST /api/listings/promotion-price", s.handlePromotionPrice)
	mux.HandleFunc("POST /api/listings/{id}/promote", s.handlePromote)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown.
func (s *Server) ListenAndServe() error {
	logging.Info("http server listening", map[string]interface{}{"addr": s.httpServer.Addr})
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", err)
	}
}

// writeError maps error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.CodeOf(err) {
	case errors.ErrInvalid:
		status = http.StatusBadRequest
	case errors.ErrProductNotFound:
		status = http.StatusNotFound
	case errors.ErrRateLimited:
		status = http.StatusTooManyRequests
	case errors.ErrNoCategory, errors.ErrNoLocation:
		status = http.StatusUnprocessableEntity
	case errors.ErrAPI:
		if s := errors.StatusOf(err); s >= 400 {
			status = http.StatusBadGateway
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func limitParam(r *http.Request) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueueProcess(w http.ResponseWriter, r *http.Request) {
	processed, err := s.queue.ProcessBatch(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.RetryFailed()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"retried": n})
}

func (s *Server) handleClearFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.ClearFailed()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}

func (s *Server) handleClearCompleted(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.ClearCompleted()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}

func (s *Server) handlePendingItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.PendingItems(limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleFailedItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.FailedItems(limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	removed, err := s.queue.Remove(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "item not found"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleProductSync runs the engine immediately, bypassing the queue.
func (s *Server) handleProductSync(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.engine.SyncOne(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse(outcome))
}

func (s *Server) handleProductDelete(w http.ResponseWriter, r *http.Request) {
	outcome, err := s.engine.DeleteOne(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse(outcome))
}

func outcomeResponse(outcome *syncer.Outcome) map[string]interface{} {
	resp := map[string]interface{}{
		"listing_id": outcome.ListingID,
		"created":    outcome.Created,
		"deleted":    outcome.Deleted,
	}
	if outcome.Skipped != "" {
		resp["skipped"] = outcome.Skipped
	}
	if len(outcome.Variants) > 0 {
		variants := make(map[string]string, len(outcome.Variants))
		for id, err := range outcome.Variants {
			if err != nil {
				variants[id] = err.Error()
			} else {
				variants[id] = "ok"
			}
		}
		resp["variants"] = variants
	}
	return resp
}

func (s *Server) handleProductEnqueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action models.Action `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if body.Action != models.ActionSync && body.Action != models.ActionDelete {
		writeError(w, errors.Newf(errors.ErrInvalid, "unknown action %q", body.Action))
		return
	}
	id, err := s.queue.Enqueue(r.PathValue("id"), body.Action)
	if err != nil {
		writeError(w, err)
		return
	}
	s.kickProcessing()
	writeJSON(w, http.StatusAccepted, map[string]string{"item_id": id})
}

// kickProcessing drains the queue in the background when realtime sync
// is on. Claims are atomic, so racing the scheduler is harmless.
func (s *Server) kickProcessing() {
	if !s.realtime {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.queue.ProcessBatch(ctx); err != nil {
			logging.Error("realtime processing cycle failed", err)
		}
	}()
}

func (s *Server) handleProductDequeue(w http.ResponseWriter, r *http.Request) {
	removed, err := s.queue.RemovePending(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

func (s *Server) handleClearStale(w http.ResponseWriter, r *http.Request) {
	cleared, err := s.engine.ClearStale(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": cleared})
}

// handleBulkSync enqueues a sync for every syncable product. Dedupe in
// the queue makes repeated bulk requests cheap.
func (s *Server) handleBulkSync(w http.ResponseWriter, r *http.Request) {
	ids, err := s.catalog.SyncableIDs(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	enqueued := 0
	for _, id := range ids {
		if _, err := s.queue.Enqueue(id, models.ActionSync); err != nil {
			writeError(w, err)
			return
		}
		enqueued++
	}
	s.kickProcessing()
	writeJSON(w, http.StatusAccepted, map[string]int{"enqueued": enqueued})
}

// handleSyncReset forgets every listing association, for when the
// operator reconnects with a different marketplace account. The next
// bulk sync recreates everything from scratch.
func (s *Server) handleSyncReset(w http.ResponseWriter, r *http.Request) {
	n, err := s.state.ClearAllSyncMeta()
	if err != nil {
		writeError(w, errors.Wrap(errors.ErrDatabase, "failed to reset sync metadata", err))
		return
	}
	logging.Warn("sync metadata reset", map[string]interface{}{"records": n})
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": n})
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	info := s.client.RateLimitStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset":     info.Reset,
		"reset_in":  info.ResetIn(time.Now()),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	tree, err := s.client.AllCategories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"categories": category.FlattenCategories(tree),
	})
}

// handleCategorySuggest matches a catalog category name against the
// marketplace tree, locally first, via the API's suggester on demand.
func (s *Server) handleCategorySuggest(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, errors.New(errors.ErrInvalid, "missing query parameter q"))
		return
	}

	if r.URL.Query().Get("remote") == "true" {
		suggestions, err := s.client.CategorySuggestions(r.Context(), query)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"suggestions": suggestions})
		return
	}

	tree, err := s.client.AllCategories(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	flat := category.FlattenCategories(tree)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions": category.MatchTitles(query, flat, 10),
	})
}

func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	mapping := s.resolver.Mapping()
	out := make(map[string]string, len(mapping))
	for k, v := range mapping {
		out[strconv.FormatInt(k, 10)] = v
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"mapping": out})
}

// handlePutMapping replaces the category mapping, persists it and
// refreshes the catalog taxonomy's parent links for ancestor walks.
func (s *Server) handlePutMapping(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mapping map[string]string `json:"mapping"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}

	mapping := make(map[int64]string, len(body.Mapping))
	for k, v := range body.Mapping {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			writeError(w, errors.Newf(errors.ErrInvalid, "invalid catalog category id %q", k))
			return
		}
		mapping[id] = v
	}

	data, err := json.Marshal(body.Mapping)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.state.SetAppState(mappingStateKey, string(data)); err != nil {
		writeError(w, errors.Wrap(errors.ErrDatabase, "failed to persist mapping", err))
		return
	}
	s.resolver.SetMapping(mapping)

	if terms, err := s.catalog.Categories(r.Context()); err == nil {
		parents := make(map[int64]int64, len(terms))
		for _, t := range terms {
			parents[t.ID] = t.ParentID
		}
		s.resolver.SetParents(parents)
	} else {
		logging.Warn("failed to refresh catalog taxonomy", map[string]interface{}{"error": err.Error()})
	}

	writeJSON(w, http.StatusOK, map[string]int{"entries": len(mapping)})
}

// LoadMapping restores the persisted category mapping into the
// resolver at startup.
func LoadMapping(state StateStore, resolver *category.Resolver) error {
	value, ok, err := state.AppState(mappingStateKey)
	if err != nil || !ok {
		return err
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		return err
	}
	mapping := make(map[int64]string, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		mapping[id] = v
	}
	resolver.SetMapping(mapping)
	return nil
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.client.Regions(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"regions": category.FlattenRegions(regions),
	})
}

func (s *Server) handleCities(w http.ResponseWriter, r *http.Request) {
	cities, err := s.client.Cities(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cities": cities})
}

func (s *Server) handleCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := s.client.Credits(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, credits)
}

func (s *Server) handleShop(w http.ResponseWriter, r *http.Request) {
	shop, err := s.client.Shop(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shop)
}

type promotionRequest struct {
	Days  int  `json:"days"`
	Super bool `json:"super"`
}

func (p *promotionRequest) validate() error {
	if p.Days <= 0 {
		return errors.New(errors.ErrInvalid, "days must be positive")
	}
	return nil
}

func (s *Server) handlePromotionPrice(w http.ResponseWriter, r *http.Request) {
	var body promotionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, err)
		return
	}
	price, err := s.client.PromotionPrice(r.Context(), body.Days, body.Super)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, price)
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	var body promotionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, errors.Wrap(errors.ErrInvalid, "invalid request body", err))
		return
	}
	if err := body.validate(); err != nil {
		writeError(w, err)
		return
	}
	if err := s.client.PromoteListing(r.Context(), r.PathValue("id"), body.Days, body.Super); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"promoted": true})
}
