// Package queue drives the durable sync queue: enqueueing work,
// claiming it for processing and bounding retries. The database is the
// sole arbiter of item state; every transition goes through the
// repository's atomic operations, so concurrent processors never run
// the same item twice.
package queue

import (
	"context"
	"time"

	"github.com/zicerhq/zicer-sync/internal/errors"
	"github.com/zicerhq/zicer-sync/internal/logging"
	"github.com/zicerhq/zicer-sync/internal/models"
	syncer "github.com/zicerhq/zicer-sync/internal/sync"
)

const (
	// MaxAttempts bounds how often one item is tried before it goes
	// to failed and waits for the operator.
	MaxAttempts = 3

	// completedRetention is how long completed items stay around for
	// inspection before garbage collection. Failed items are kept
	// until the operator retries or clears them.
	completedRetention = 7 * 24 * time.Hour
)

// Engine is the per-item work the queue dispatches to.
type Engine interface {
	SyncOne(ctx context.Context, productID string) (*syncer.Outcome, error)
	DeleteOne(ctx context.Context, productID string) (*syncer.Outcome, error)
}

// Store is the durable state the queue runs against.
type Store interface {
	EnqueueItem(productID string, action models.Action) (string, error)
	PendingBatch(maxItems, maxAttempts int) ([]models.QueueItem, error)
	ClaimItem(id string) (int, bool, error)
	ReleaseItem(id string) error
	FinishItem(id string, status models.Status, errorMessage string) error
	GetItem(id string) (*models.QueueItem, error)
	QueueStats() (models.QueueStats, error)
	RetryFailed() (int64, error)
	ClearFailed() (int64, error)
	ClearCompleted() (int64, error)
	RemoveItem(id string) (bool, error)
	RemovePendingFor(productID string) (bool, error)
	DeleteCompletedBefore(cutoff int64) (int64, error)
	PendingItems(limit int) ([]models.QueueItem, error)
	FailedItems(limit int) ([]models.QueueItem, error)
}

// Queue coordinates enqueueing and batch processing.
type Queue struct {
	store     Store
	engine    Engine
	batchSize int
	now       func() time.Time
}

// New creates a Queue processing up to batchSize items per cycle.
func New(store Store, engine Engine, batchSize int) *Queue {
	return &Queue{
		store:     store,
		engine:    engine,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Enqueue records a sync or delete request for a product. An identical
// pending request dedupes; a pending request for the opposite action
// is cancelled, the newest intent winning.
func (q *Queue) Enqueue(productID string, action models.Action) (string, error) {
	id, err := q.store.EnqueueItem(productID, action)
	if err != nil {
		return "", errors.Wrap(errors.ErrDatabase, "failed to enqueue item", err)
	}
	logging.Debug("enqueued queue item", map[string]interface{}{
		"item_id": id, "product_id": productID, "action": string(action),
	})
	return id, nil
}

// ProcessBatch claims and runs up to the batch size of pending items,
// oldest first. It returns the number of items that reached a terminal
// state this cycle. Claiming is atomic per item, so a concurrent cycle
// skips items this one took. When the rate limit window is exhausted
// the rest of the batch is released back to pending untouched.
func (q *Queue) ProcessBatch(ctx context.Context) (int, error) {
	if n, err := q.store.DeleteCompletedBefore(q.now().Add(-completedRetention).Unix()); err != nil {
		logging.Warn("completed item GC failed", map[string]interface{}{"error": err.Error()})
	} else if n > 0 {
		logging.Debug("garbage collected completed items", map[string]interface{}{"count": n})
	}

	batch, err := q.store.PendingBatch(q.batchSize, MaxAttempts)
	if err != nil {
		return 0, errors.Wrap(errors.ErrDatabase, "failed to load pending batch", err)
	}

	processed := 0
	for _, item := range batch {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		attempts, claimed, err := q.store.ClaimItem(item.ID)
		if err != nil {
			return processed, errors.Wrap(errors.ErrDatabase, "failed to claim item", err)
		}
		if !claimed {
			continue
		}

		runErr := q.run(ctx, &item)
		if errors.Is(runErr, errors.ErrRateLimited) {
			// No remote call happened; refund the attempt and stop,
			// the whole window is exhausted.
			if err := q.store.ReleaseItem(item.ID); err != nil {
				logging.Error("failed to release rate-limited item", err, map[string]interface{}{"item_id": item.ID})
			}
			logging.Info("rate limit exhausted, deferring batch", map[string]interface{}{
				"item_id": item.ID, "remaining_items": len(batch) - processed,
			})
			return processed, nil
		}

		if runErr == nil {
			if err := q.store.FinishItem(item.ID, models.StatusCompleted, ""); err != nil {
				return processed, errors.Wrap(errors.ErrDatabase, "failed to complete item", err)
			}
			processed++
			continue
		}

		// Decide from the claim's attempt count, not the batch read:
		// a concurrent cycle may have spent an attempt in between.
		status := models.StatusPending
		if attempts >= MaxAttempts {
			status = models.StatusFailed
		}
		if err := q.store.FinishItem(item.ID, status, runErr.Error()); err != nil {
			return processed, errors.Wrap(errors.ErrDatabase, "failed to record item failure", err)
		}
		logging.Error("queue item attempt failed", runErr, map[string]interface{}{
			"item_id": item.ID, "product_id": item.ProductID,
			"action": string(item.Action), "attempts": attempts, "status": string(status),
		})
		if status == models.StatusFailed {
			processed++
		}
	}
	return processed, nil
}

func (q *Queue) run(ctx context.Context, item *models.QueueItem) error {
	switch item.Action {
	case models.ActionSync:
		_, err := q.engine.SyncOne(ctx, item.ProductID)
		return err
	case models.ActionDelete:
		_, err := q.engine.DeleteOne(ctx, item.ProductID)
		return err
	default:
		return errors.Newf(errors.ErrInvalid, "unknown queue action %q", item.Action)
	}
}

// Stats returns the per-status queue counts.
func (q *Queue) Stats() (models.QueueStats, error) {
	return q.store.QueueStats()
}

// RetryFailed returns all failed items to pending with fresh attempts.
func (q *Queue) RetryFailed() (int64, error) {
	return q.store.RetryFailed()
}

// ClearFailed discards all failed items.
func (q *Queue) ClearFailed() (int64, error) {
	return q.store.ClearFailed()
}

// ClearCompleted discards all completed items.
func (q *Queue) ClearCompleted() (int64, error) {
	return q.store.ClearCompleted()
}

// Remove deletes a single item by id.
func (q *Queue) Remove(id string) (bool, error) {
	return q.store.RemoveItem(id)
}

// RemovePending cancels any pending work for a product.
func (q *Queue) RemovePending(productID string) (bool, error) {
	return q.store.RemovePendingFor(productID)
}

// PendingItems lists items awaiting or in processing, oldest first.
func (q *Queue) PendingItems(limit int) ([]models.QueueItem, error) {
	return q.store.PendingItems(limit)
}

// FailedItems lists failed items, newest first.
func (q *Queue) FailedItems(limit int) ([]models.QueueItem, error) {
	return q.store.FailedItems(limit)
}
