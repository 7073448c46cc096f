package queue

import (
	"context"
	"testing"

	"github.com/zicerhq/zicer-sync/internal/db"
	"github.com/zicerhq/zicer-sync/internal/errors"
	"github.com/zicerhq/zicer-sync/internal/models"
	syncer "github.com/zicerhq/zicer-sync/internal/sync"
)

type fakeEngine struct {
	synced   []string
	deleted  []string
	errs     map[string]error
	runOrder []string
}

func (f *fakeEngine) SyncOne(ctx context.Context, productID string) (*syncer.Outcome, error) {
	f.synced = append(f.synced, productID)
	f.runOrder = append(f.runOrder, productID)
	return &syncer.Outcome{}, f.errs[productID]
}

func (f *fakeEngine) DeleteOne(ctx context.Context, productID string) (*syncer.Outcome, error) {
	f.deleted = append(f.deleted, productID)
	f.runOrder = append(f.runOrder, productID)
	return &syncer.Outcome{}, f.errs[productID]
}

func newTestQueue(t *testing.T, engine *fakeEngine, batchSize int) (*Queue, *db.Repository) {
	t.Helper()
	database, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.Migrate(database.DB); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	repo := db.NewRepository(database)
	return New(repo, engine, batchSize), repo
}

func TestProcessBatchCompletesItems(t *testing.T) {
	engine := &fakeEngine{errs: map[string]error{}}
	q, repo := newTestQueue(t, engine, 10)

	q.Enqueue("1", models.ActionSync)
	q.Enqueue("2", models.ActionDelete)

	processed, err := q.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if processed != 2 {
		t.Errorf("expected 2 processed, got %d", processed)
	}
	if len(engine.synced) != 1 || engine.synced[0] != "1" {
		t.Errorf("unexpected syncs: %v", engine.synced)
	}
	if len(engine.deleted) != 1 || engine.deleted[0] != "2" {
		t.Errorf("unexpected deletes: %v", engine.deleted)
	}

	stats, _ := repo.QueueStats()
	if stats.Completed != 2 || stats.Pending != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestProcessBatchHonorsBatchSize(t *testing.T) {
	engine := &fakeEngine{errs: map[string]error{}}
	q, repo := newTestQueue(t, engine, 10)

	for i := 0; i < 50; i++ {
		if _, err := repo.EnqueueItem(string(rune('A'+i)), models.ActionSync); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	processed, err := q.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if processed != 10 {
		t.Errorf("expected batch of 10, got %d", processed)
	}

	stats, _ := repo.QueueStats()
	if stats.Pending != 40 || stats.Completed != 10 {
		t.Errorf("unexpected stats after one cycle: %+v", stats)
	}
}

func TestFailingItemRetriesExactlyMaxAttempts(t *testing.T) {
	engine := &fakeEngine{errs: map[string]error{
		"42": errors.New(errors.ErrTransport, "connection refused"),
	}}
	q, repo := newTestQueue(t, engine, 10)

	id, _ := q.Enqueue("42", models.ActionSync)

	for cycle := 0; cycle < 5; cycle++ {
		if _, err := q.ProcessBatch(context.Background()); err != nil {
			t.Fatalf("cycle %d failed: %v", cycle, err)
		}
	}

	if len(engine.synced) != MaxAttempts {
		t.Errorf("expected exactly %d attempts, got %d", MaxAttempts, len(engine.synced))
	}

	item, _ := repo.GetItem(id)
	if item.Status != models.StatusFailed {
		t.Errorf("expected failed status, got %s", item.Status)
	}
	if item.Attempts != MaxAttempts {
		t.Errorf("expected %d attempts recorded, got %d", MaxAttempts, item.Attempts)
	}
	if item.ErrorMessage == "" {
		t.Error("expected last error recorded")
	}
}

// racingStore lets a test interleave a rival cycle's work between the
// batch read and this cycle's claim.
type racingStore struct {
	*db.Repository
	beforeClaim func(id string)
}

func (s *racingStore) ClaimItem(id string) (int, bool, error) {
	if s.beforeClaim != nil {
		hook := s.beforeClaim
		s.beforeClaim = nil
		hook(id)
	}
	return s.Repository.ClaimItem(id)
}

func TestFailedStatusUsesPostClaimAttempts(t *testing.T) {
	engine := &fakeEngine{errs: map[string]error{
		"42": errors.New(errors.ErrTransport, "boom"),
	}}
	_, repo := newTestQueue(t, engine, 10)

	id, _ := repo.EnqueueItem("42", models.ActionSync)

	// one attempt already spent by an earlier cycle
	repo.ClaimItem(id)
	repo.FinishItem(id, models.StatusPending, "boom")

	// a rival cycle claims, fails and reverts the item after this
	// cycle read its batch but before it claims
	store := &racingStore{Repository: repo, beforeClaim: func(itemID string) {
		if _, ok, _ := repo.ClaimItem(itemID); !ok {
			t.Fatal("rival claim failed")
		}
		repo.FinishItem(itemID, models.StatusPending, "boom")
	}}

	q := New(store, engine, 10)
	if _, err := q.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// this cycle's claim was the third attempt; the item must land in
	// failed, not slip back to pending where the attempts filter would
	// hide it forever
	item, _ := repo.GetItem(id)
	if item.Status != models.StatusFailed {
		t.Errorf("expected failed status, got %s", item.Status)
	}
	if item.Attempts != MaxAttempts {
		t.Errorf("expected %d attempts recorded, got %d", MaxAttempts, item.Attempts)
	}
}

func TestFailedItemRunsAgainAfterRetry(t *testing.T) {
	engine := &fakeEngine{errs: map[string]error{
		"42": errors.New(errors.ErrTransport, "boom"),
	}}
	q, repo := newTestQueue(t, engine, 10)

	id, _ := q.Enqueue("42", models.ActionSync)
	for cycle := 0; cycle < 3; cycle++ {
		q.ProcessBatch(context.Background())
	}

	delete(engine.errs, "42")
	if n, _ := q.RetryFailed(); n != 1 {
		t.Fatal("expected one item retried")
	}

	if _, err := q.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	item, _ := repo.GetItem(id)
	if item.Status != models.StatusCompleted {
		t.Errorf("expected completion after retry, got %s", item.Status)
	}
}

func TestRateLimitDefersRestOfBatch(t *testing.T) {
	engine := &fakeEngine{errs: map[string]error{
		"1": &errors.AppError{Code: errors.ErrRateLimited, Message: "exhausted", RetryAfter: 30},
	}}
	q, repo := newTestQueue(t, engine, 10)

	first, _ := q.Enqueue("1", models.ActionSync)
	q.Enqueue("2", models.ActionSync)

	processed, err := q.ProcessBatch(context.Background())
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if processed != 0 {
		t.Errorf("expected nothing processed, got %d", processed)
	}
	if len(engine.runOrder) != 1 {
		t.Errorf("expected batch abandoned after rate limit, ran %v", engine.runOrder)
	}

	// the rate-limited attempt is refunded
	item, _ := repo.GetItem(first)
	if item.Status != models.StatusPending || item.Attempts != 0 {
		t.Errorf("expected released item, got %+v", item)
	}

	stats, _ := repo.QueueStats()
	if stats.Pending != 2 {
		t.Errorf("expected both items still pending, got %+v", stats)
	}
}

func TestProcessBatchStopsOnContextCancel(t *testing.T) {
	engine := &fakeEngine{errs: map[string]error{}}
	q, repo := newTestQueue(t, engine, 10)

	q.Enqueue("1", models.ActionSync)
	q.Enqueue("2", models.ActionSync)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.ProcessBatch(ctx); err == nil {
		t.Fatal("expected context error")
	}
	stats, _ := repo.QueueStats()
	if stats.Pending != 2 {
		t.Errorf("expected untouched queue, got %+v", stats)
	}
}

func TestEnqueueConflictLatestWins(t *testing.T) {
	engine := &fakeEngine{errs: map[string]error{}}
	q, repo := newTestQueue(t, engine, 10)

	q.Enqueue("42", models.ActionSync)
	q.Enqueue("42", models.ActionDelete)
	q.Enqueue("42", models.ActionSync)

	stats, _ := repo.QueueStats()
	if stats.Pending != 1 {
		t.Fatalf("expected a single pending item, got %+v", stats)
	}

	if _, err := q.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(engine.synced) != 1 || len(engine.deleted) != 0 {
		t.Errorf("expected the latest intent (sync) to run, synced=%v deleted=%v", engine.synced, engine.deleted)
	}
}

func TestRemovePendingCancelsQueuedWork(t *testing.T) {
	engine := &fakeEngine{errs: map[string]error{}}
	q, _ := newTestQueue(t, engine, 10)

	q.Enqueue("42", models.ActionSync)
	removed, err := q.RemovePending("42")
	if err != nil || !removed {
		t.Fatalf("remove pending failed: removed=%v err=%v", removed, err)
	}

	processed, _ := q.ProcessBatch(context.Background())
	if processed != 0 || len(engine.runOrder) != 0 {
		t.Errorf("expected nothing to run, processed=%d ran=%v", processed, engine.runOrder)
	}
}
