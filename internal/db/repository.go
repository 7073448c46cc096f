package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zicerhq/zicer-sync/internal/models"
)

// Repository provides the durable operations backing the queue, the
// listing metadata store and persisted app state. All queue state
// transitions go through here; the database is the sole arbiter.
type Repository struct {
	db *sql.DB

	// now is swapped out in tests
	now func() time.Time
}

// NewRepository creates a new Repository instance.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db.DB, now: time.Now}
}

// =====================================================
// Queue operations
// =====================================================

const queueColumns = "id, product_id, action, status, attempts, error_message, created_at, processed_at"

func scanQueueItem(row interface{ Scan(...interface{}) error }) (*models.QueueItem, error) {
	var item models.QueueItem
	var errMsg sql.NullString
	var processedAt sql.NullInt64
	err := row.Scan(&item.ID, &item.ProductID, &item.Action, &item.Status,
		&item.Attempts, &errMsg, &item.CreatedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	item.ErrorMessage = errMsg.String
	item.ProcessedAt = processedAt.Int64
	return &item, nil
}

// EnqueueItem inserts a pending queue item for (productID, action).
// Enqueueing is atomic with respect to the dedupe and conflict rules:
// an identical pending item is returned as-is, and any pending item
// with the opposite action is cancelled (latest request wins).
func (r *Repository) EnqueueItem(productID string, action models.Action) (string, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRow(
		"SELECT id FROM sync_queue WHERE product_id = ? AND action = ? AND status = ?",
		productID, action, models.StatusPending,
	).Scan(&existing)
	if err == nil {
		return existing, tx.Commit()
	}
	if err != sql.ErrNoRows {
		return "", err
	}

	opposite := models.ActionDelete
	if action == models.ActionDelete {
		opposite = models.ActionSync
	}
	if _, err := tx.Exec(
		"DELETE FROM sync_queue WHERE product_id = ? AND action = ? AND status = ?",
		productID, opposite, models.StatusPending,
	); err != nil {
		return "", err
	}

	id := uuid.New().String()
	if _, err := tx.Exec(
		"INSERT INTO sync_queue (id, product_id, action, status, attempts, created_at) VALUES (?, ?, ?, ?, 0, ?)",
		id, productID, action, models.StatusPending, r.now().Unix(),
	); err != nil {
		return "", err
	}

	return id, tx.Commit()
}

// PendingBatch returns up to maxItems pending items that still have
// attempts left, oldest first.
func (r *Repository) PendingBatch(maxItems, maxAttempts int) ([]models.QueueItem, error) {
	rows, err := r.db.Query(
		"SELECT "+queueColumns+" FROM sync_queue WHERE status = ? AND attempts < ? ORDER BY created_at ASC, id ASC LIMIT ?",
		models.StatusPending, maxAttempts, maxItems,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// ClaimItem transitions one item from pending to processing and
// increments its attempt count, as a single atomic step scoped by id.
// It returns the post-increment attempt count, the authoritative value
// for the failed/pending decision: the count read earlier from
// PendingBatch may be stale by the time the claim lands. It reports
// false when the item was already claimed by a concurrent cycle (or
// removed).
func (r *Repository) ClaimItem(id string) (int, bool, error) {
	var attempts int
	err := r.db.QueryRow(
		"UPDATE sync_queue SET status = ?, attempts = attempts + 1 WHERE id = ? AND status = ? RETURNING attempts",
		models.StatusProcessing, id, models.StatusPending,
	).Scan(&attempts)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return attempts, true, nil
}

// ReleaseItem returns a claimed item to pending and refunds the
// attempt, for runs aborted before any remote call was made (rate
// limit exhausted, shutdown mid-batch).
func (r *Repository) ReleaseItem(id string) error {
	_, err := r.db.Exec(
		"UPDATE sync_queue SET status = ?, attempts = attempts - 1 WHERE id = ? AND status = ?",
		models.StatusPending, id, models.StatusProcessing,
	)
	return err
}

// FinishItem records the outcome of a processing attempt.
func (r *Repository) FinishItem(id string, status models.Status, errorMessage string) error {
	var errMsg interface{}
	if errorMessage != "" {
		errMsg = errorMessage
	}
	_, err := r.db.Exec(
		"UPDATE sync_queue SET status = ?, error_message = ?, processed_at = ? WHERE id = ?",
		status, errMsg, r.now().Unix(), id,
	)
	return err
}

// GetItem retrieves a queue item by id.
func (r *Repository) GetItem(id string) (*models.QueueItem, error) {
	row := r.db.QueryRow("SELECT "+queueColumns+" FROM sync_queue WHERE id = ?", id)
	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// QueueStats returns the per-status item counts.
func (r *Repository) QueueStats() (models.QueueStats, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
	if err != nil {
		return models.QueueStats{}, err
	}
	defer rows.Close()

	var stats models.QueueStats
	for rows.Next() {
		var status models.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return models.QueueStats{}, err
		}
		switch status {
		case models.StatusPending:
			stats.Pending = count
		case models.StatusProcessing:
			stats.Processing = count
		case models.StatusCompleted:
			stats.Completed = count
		case models.StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

// RetryFailed resets all failed items to pending with a fresh attempt
// budget.
func (r *Repository) RetryFailed() (int64, error) {
	res, err := r.db.Exec(
		"UPDATE sync_queue SET status = ?, attempts = 0, error_message = NULL WHERE status = ?",
		models.StatusPending, models.StatusFailed,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearFailed deletes all failed items.
func (r *Repository) ClearFailed() (int64, error) {
	return r.deleteByStatus(models.StatusFailed)
}

// ClearCompleted deletes all completed items.
func (r *Repository) ClearCompleted() (int64, error) {
	return r.deleteByStatus(models.StatusCompleted)
}

func (r *Repository) deleteByStatus(status models.Status) (int64, error) {
	res, err := r.db.Exec("DELETE FROM sync_queue WHERE status = ?", status)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RemoveItem deletes a single queue item by id.
func (r *Repository) RemoveItem(id string) (bool, error) {
	res, err := r.db.Exec("DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// RemovePendingFor deletes any pending items for a product.
func (r *Repository) RemovePendingFor(productID string) (bool, error) {
	res, err := r.db.Exec(
		"DELETE FROM sync_queue WHERE product_id = ? AND status = ?",
		productID, models.StatusPending,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteCompletedBefore garbage-collects completed items processed
// before the cutoff. Failed items are never auto-deleted.
func (r *Repository) DeleteCompletedBefore(cutoff int64) (int64, error) {
	res, err := r.db.Exec(
		"DELETE FROM sync_queue WHERE status = ? AND processed_at < ?",
		models.StatusCompleted, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PendingItems returns pending and processing items, oldest first.
func (r *Repository) PendingItems(limit int) ([]models.QueueItem, error) {
	return r.listItems(
		"SELECT "+queueColumns+" FROM sync_queue WHERE status IN (?, ?) ORDER BY created_at ASC LIMIT ?",
		models.StatusPending, models.StatusProcessing, limit,
	)
}

// FailedItems returns failed items, most recently processed first.
func (r *Repository) FailedItems(limit int) ([]models.QueueItem, error) {
	return r.listItems(
		"SELECT "+queueColumns+" FROM sync_queue WHERE status = ? ORDER BY processed_at DESC LIMIT ?",
		models.StatusFailed, limit,
	)
}

func (r *Repository) listItems(query string, args ...interface{}) ([]models.QueueItem, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// =====================================================
// Listing metadata operations
// =====================================================

// SyncMeta retrieves the listing record for a product. A product that
// has never synced gets an empty record, not an error.
func (r *Repository) SyncMeta(productID string) (*models.ListingRecord, error) {
	var rec models.ListingRecord
	var listingID, lastError, syncedImages sql.NullString
	var lastSync sql.NullInt64

	err := r.db.QueryRow(
		"SELECT listing_id, last_sync, last_error, synced_images FROM listing_meta WHERE product_id = ?",
		productID,
	).Scan(&listingID, &lastSync, &lastError, &syncedImages)
	if err == sql.ErrNoRows {
		return &models.ListingRecord{}, nil
	}
	if err != nil {
		return nil, err
	}

	rec.ListingID = listingID.String
	rec.LastSync = lastSync.Int64
	rec.LastError = lastError.String
	if syncedImages.Valid && syncedImages.String != "" {
		if err := json.Unmarshal([]byte(syncedImages.String), &rec.SyncedImages); err != nil {
			return nil, fmt.Errorf("corrupt synced_images for product %s: %w", productID, err)
		}
	}
	return &rec, nil
}

// SetSyncMeta upserts the listing record for a product.
func (r *Repository) SetSyncMeta(productID string, rec *models.ListingRecord) error {
	var syncedImages interface{}
	if len(rec.SyncedImages) > 0 {
		data, err := json.Marshal(rec.SyncedImages)
		if err != nil {
			return err
		}
		syncedImages = string(data)
	}

	_, err := r.db.Exec(`
	INSERT INTO listing_meta (product_id, listing_id, last_sync, last_error, synced_images, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(product_id) DO UPDATE SET
		listing_id = excluded.listing_id,
		last_sync = excluded.last_sync,
		last_error = excluded.last_error,
		synced_images = excluded.synced_images,
		updated_at = excluded.updated_at`,
		productID, nullable(rec.ListingID), rec.LastSync, nullable(rec.LastError),
		syncedImages, r.now().Unix(),
	)
	return err
}

// ClearSyncMeta removes all sync metadata for a product.
func (r *Repository) ClearSyncMeta(productID string) error {
	_, err := r.db.Exec("DELETE FROM listing_meta WHERE product_id = ?", productID)
	return err
}

// ClearAllSyncMeta removes sync metadata for every product. Used when
// the operator reconnects with a different marketplace account.
func (r *Repository) ClearAllSyncMeta() (int64, error) {
	res, err := r.db.Exec("DELETE FROM listing_meta")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// =====================================================
// App state operations
// =====================================================

// AppState retrieves a persisted state value by key.
func (r *Repository) AppState(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM app_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetAppState upserts a persisted state value.
func (r *Repository) SetAppState(key, value string) error {
	_, err := r.db.Exec(`
	INSERT INTO app_state (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, r.now().Unix(),
	)
	return err
}

// rateLimitKey is where the client's rate-limit snapshot persists.
const rateLimitKey = "rate_limit_info"

// RateLimit loads the persisted rate-limit snapshot.
func (r *Repository) RateLimit() (models.RateLimitInfo, bool, error) {
	var info models.RateLimitInfo
	value, ok, err := r.AppState(rateLimitKey)
	if err != nil || !ok {
		return info, false, err
	}
	if err := json.Unmarshal([]byte(value), &info); err != nil {
		return info, false, err
	}
	return info, true, nil
}

// SaveRateLimit persists the rate-limit snapshot.
func (r *Repository) SaveRateLimit(info models.RateLimitInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return r.SetAppState(rateLimitKey, string(data))
}
