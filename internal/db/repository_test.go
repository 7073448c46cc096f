package db

import (
	"testing"
	"time"

	"github.com/zicerhq/zicer-sync/internal/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	database, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := Migrate(database.DB); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return NewRepository(database)
}

func TestEnqueueDedupesPendingItems(t *testing.T) {
	repo := newTestRepo(t)

	first, err := repo.EnqueueItem("42", models.ActionSync)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	second, err := repo.EnqueueItem("42", models.ActionSync)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if first != second {
		t.Errorf("expected dedupe to return existing item %s, got %s", first, second)
	}

	stats, err := repo.QueueStats()
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("expected 1 pending item, got %d", stats.Pending)
	}
}

func TestEnqueueCancelsOppositeAction(t *testing.T) {
	repo := newTestRepo(t)

	syncID, err := repo.EnqueueItem("42", models.ActionSync)
	if err != nil {
		t.Fatalf("enqueue sync failed: %v", err)
	}
	deleteID, err := repo.EnqueueItem("42", models.ActionDelete)
	if err != nil {
		t.Fatalf("enqueue delete failed: %v", err)
	}

	gone, err := repo.GetItem(syncID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if gone != nil {
		t.Error("expected pending sync item to be cancelled by delete request")
	}

	item, err := repo.GetItem(deleteID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if item == nil || item.Action != models.ActionDelete {
		t.Fatalf("expected pending delete item, got %+v", item)
	}
}

func TestEnqueueDoesNotCancelProcessingItems(t *testing.T) {
	repo := newTestRepo(t)

	syncID, _ := repo.EnqueueItem("42", models.ActionSync)
	if _, ok, err := repo.ClaimItem(syncID); err != nil || !ok {
		t.Fatalf("claim failed: ok=%v err=%v", ok, err)
	}

	if _, err := repo.EnqueueItem("42", models.ActionDelete); err != nil {
		t.Fatalf("enqueue delete failed: %v", err)
	}

	item, err := repo.GetItem(syncID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if item == nil || item.Status != models.StatusProcessing {
		t.Fatalf("expected processing item to survive opposite enqueue, got %+v", item)
	}
}

func TestPendingBatchOrderAndLimit(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Now().Unix()
	for i := 0; i < 15; i++ {
		repo.now = func() time.Time { return time.Unix(base+int64(i), 0) }
		if _, err := repo.EnqueueItem(string(rune('a'+i)), models.ActionSync); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	batch, err := repo.PendingBatch(10, 3)
	if err != nil {
		t.Fatalf("pending batch failed: %v", err)
	}
	if len(batch) != 10 {
		t.Fatalf("expected batch of 10, got %d", len(batch))
	}
	for i := 1; i < len(batch); i++ {
		if batch[i].CreatedAt < batch[i-1].CreatedAt {
			t.Errorf("batch not ordered oldest first at index %d", i)
		}
	}
	if batch[0].ProductID != "a" {
		t.Errorf("expected oldest item first, got product %s", batch[0].ProductID)
	}
}

func TestPendingBatchSkipsExhaustedAttempts(t *testing.T) {
	repo := newTestRepo(t)
	id, _ := repo.EnqueueItem("42", models.ActionSync)

	for i := 0; i < 3; i++ {
		if _, ok, _ := repo.ClaimItem(id); !ok {
			t.Fatalf("claim %d failed", i)
		}
		if err := repo.FinishItem(id, models.StatusPending, "boom"); err != nil {
			t.Fatalf("finish failed: %v", err)
		}
	}

	batch, err := repo.PendingBatch(10, 3)
	if err != nil {
		t.Fatalf("pending batch failed: %v", err)
	}
	if len(batch) != 0 {
		t.Errorf("expected no items with attempts >= 3, got %d", len(batch))
	}
}

func TestClaimItemIsExclusive(t *testing.T) {
	repo := newTestRepo(t)
	id, _ := repo.EnqueueItem("42", models.ActionSync)

	attempts, first, err := repo.ClaimItem(id)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	_, second, err := repo.ClaimItem(id)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !first || second {
		t.Errorf("expected exactly one successful claim, got first=%v second=%v", first, second)
	}
	if attempts != 1 {
		t.Errorf("expected claim to report 1 attempt, got %d", attempts)
	}

	item, _ := repo.GetItem(id)
	if item.Attempts != 1 {
		t.Errorf("expected 1 attempt after single claim, got %d", item.Attempts)
	}
}

func TestClaimItemReturnsPostIncrementAttempts(t *testing.T) {
	repo := newTestRepo(t)
	id, _ := repo.EnqueueItem("42", models.ActionSync)

	for want := 1; want <= 3; want++ {
		attempts, ok, err := repo.ClaimItem(id)
		if err != nil || !ok {
			t.Fatalf("claim %d failed: ok=%v err=%v", want, ok, err)
		}
		if attempts != want {
			t.Errorf("expected claim to report %d attempts, got %d", want, attempts)
		}
		if err := repo.FinishItem(id, models.StatusPending, "boom"); err != nil {
			t.Fatalf("finish failed: %v", err)
		}
	}
}

func TestReleaseItemRefundsAttempt(t *testing.T) {
	repo := newTestRepo(t)
	id, _ := repo.EnqueueItem("42", models.ActionSync)

	if _, ok, _ := repo.ClaimItem(id); !ok {
		t.Fatal("claim failed")
	}
	if err := repo.ReleaseItem(id); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	item, _ := repo.GetItem(id)
	if item.Status != models.StatusPending {
		t.Errorf("expected pending after release, got %s", item.Status)
	}
	if item.Attempts != 0 {
		t.Errorf("expected attempt refunded, got %d", item.Attempts)
	}
}

func TestRetryFailedResetsAttempts(t *testing.T) {
	repo := newTestRepo(t)
	id, _ := repo.EnqueueItem("42", models.ActionSync)
	repo.ClaimItem(id)
	repo.FinishItem(id, models.StatusFailed, "boom")

	n, err := repo.RetryFailed()
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 retried item, got %d", n)
	}

	item, _ := repo.GetItem(id)
	if item.Status != models.StatusPending || item.Attempts != 0 || item.ErrorMessage != "" {
		t.Errorf("expected clean pending item after retry, got %+v", item)
	}
}

func TestDeleteCompletedBeforeKeepsFailed(t *testing.T) {
	repo := newTestRepo(t)

	done, _ := repo.EnqueueItem("1", models.ActionSync)
	repo.ClaimItem(done)
	repo.FinishItem(done, models.StatusCompleted, "")

	failed, _ := repo.EnqueueItem("2", models.ActionSync)
	repo.ClaimItem(failed)
	repo.FinishItem(failed, models.StatusFailed, "boom")

	n, err := repo.DeleteCompletedBefore(time.Now().Add(time.Hour).Unix())
	if err != nil {
		t.Fatalf("gc failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 collected item, got %d", n)
	}

	if item, _ := repo.GetItem(failed); item == nil {
		t.Error("failed item must survive garbage collection")
	}
}

func TestSyncMetaRoundTrip(t *testing.T) {
	repo := newTestRepo(t)

	rec, err := repo.SyncMeta("42")
	if err != nil {
		t.Fatalf("get meta failed: %v", err)
	}
	if rec.ListingID != "" {
		t.Errorf("expected empty record for unknown product, got %+v", rec)
	}

	rec.ListingID = "900"
	rec.LastSync = 1700000000
	rec.SyncedImages = map[string]string{"img1": "abc123"}
	if err := repo.SetSyncMeta("42", rec); err != nil {
		t.Fatalf("set meta failed: %v", err)
	}

	got, err := repo.SyncMeta("42")
	if err != nil {
		t.Fatalf("get meta failed: %v", err)
	}
	if got.ListingID != "900" || got.LastSync != 1700000000 {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.SyncedImages["img1"] != "abc123" {
		t.Errorf("synced images not persisted: %+v", got.SyncedImages)
	}

	if err := repo.ClearSyncMeta("42"); err != nil {
		t.Fatalf("clear meta failed: %v", err)
	}
	got, _ = repo.SyncMeta("42")
	if got.ListingID != "" {
		t.Error("expected record cleared")
	}
}

func TestRateLimitPersistence(t *testing.T) {
	repo := newTestRepo(t)

	if _, ok, err := repo.RateLimit(); err != nil || ok {
		t.Fatalf("expected no snapshot initially, ok=%v err=%v", ok, err)
	}

	info := models.RateLimitInfo{Limit: 100, Remaining: 5, Reset: 1700000060, Updated: 1700000000}
	if err := repo.SaveRateLimit(info); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok, err := repo.RateLimit()
	if err != nil || !ok {
		t.Fatalf("load failed: ok=%v err=%v", ok, err)
	}
	if got != info {
		t.Errorf("expected %+v, got %+v", info, got)
	}
}
