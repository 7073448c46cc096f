// Command zicer-syncd is the sync daemon: it watches nothing itself,
// but serves the HTTP API the shop pushes product events to and drains
// the durable queue against the marketplace on a fixed interval.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zicerhq/zicer-sync/internal/api"
	"github.com/zicerhq/zicer-sync/internal/catalog"
	"github.com/zicerhq/zicer-sync/internal/category"
	"github.com/zicerhq/zicer-sync/internal/config"
	"github.com/zicerhq/zicer-sync/internal/db"
	"github.com/zicerhq/zicer-sync/internal/listing"
	"github.com/zicerhq/zicer-sync/internal/logging"
	"github.com/zicerhq/zicer-sync/internal/queue"
	"github.com/zicerhq/zicer-sync/internal/scheduler"
	syncer "github.com/zicerhq/zicer-sync/internal/sync"
	"github.com/zicerhq/zicer-sync/internal/zicer"
)

func main() {
	cfg := config.Load()

	level := logging.LevelInfo
	if cfg.DebugLogging {
		level = logging.LevelDebug
	}
	logging.Init(os.Stdout, level)

	if err := run(cfg); err != nil {
		logging.Error("daemon exited with error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database.DB); err != nil {
		return err
	}

	repo := db.NewRepository(database)
	client := zicer.NewClient(cfg.APIBaseURL, cfg.APIToken, repo)
	adapter := catalog.NewWooCommerce(cfg.CatalogURL, cfg.CatalogKey, cfg.CatalogSecret)

	resolver := category.NewResolver(cfg.FallbackCategory)
	if err := api.LoadMapping(repo, resolver); err != nil {
		logging.Warn("failed to load category mapping", map[string]interface{}{"error": err.Error()})
	}
	refreshTaxonomy(adapter, resolver)

	builder := listing.NewBuilder(cfg, resolver)
	engine := syncer.NewEngine(client, adapter, repo, builder, cfg, func() int64 { return time.Now().Unix() })
	q := queue.New(repo, engine, cfg.QueueBatchSize)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(q, cfg.ProcessInterval)
	sched.Start(ctx)

	server := api.NewServer(cfg.ListenAddr, q, engine, client, adapter, resolver, repo, cfg.RealtimeSync)
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info("shutting down", map[string]interface{}{"signal": sig.String()})
	case err := <-errCh:
		return err
	}

	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// refreshTaxonomy loads the catalog's category parent links so the
// resolver can walk ancestors. Startup tolerates an unreachable shop;
// the links refresh again when the operator saves the mapping.
func refreshTaxonomy(adapter catalog.Adapter, resolver *category.Resolver) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	terms, err := adapter.Categories(ctx)
	if err != nil {
		logging.Warn("failed to load catalog taxonomy", map[string]interface{}{"error": err.Error()})
		return
	}
	parents := make(map[int64]int64, len(terms))
	for _, t := range terms {
		parents[t.ID] = t.ParentID
	}
	resolver.SetParents(parents)
}
