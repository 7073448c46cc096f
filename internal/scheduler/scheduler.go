// Package scheduler runs the queue processor on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/zicerhq/zicer-sync/internal/logging"
)

// Processor is one unit of periodic work.
type Processor interface {
	ProcessBatch(ctx context.Context) (int, error)
}

// Scheduler ticks the processor until stopped. Cycles never overlap;
// a slow cycle simply delays the next tick.
type Scheduler struct {
	processor Processor
	interval  time.Duration

	mu        sync.Mutex
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a Scheduler.
func New(processor Processor, interval time.Duration) *Scheduler {
	return &Scheduler{
		processor: processor,
		interval:  interval,
	}
}

// Start begins periodic processing. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx, s.stopCh)

	logging.Info("scheduler started", map[string]interface{}{
		"interval": s.interval.String(),
	})
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	processed, err := s.processor.ProcessBatch(ctx)
	if err != nil {
		logging.Error("queue processing cycle failed", err)
		return
	}
	if processed > 0 {
		logging.Info("queue processing cycle finished", map[string]interface{}{
			"processed": processed,
		})
	}
}

// Stop halts periodic processing and waits for an in-flight cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	logging.Info("scheduler stopped")
}
