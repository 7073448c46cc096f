package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type countingProcessor struct {
	cycles atomic.Int64
}

func (c *countingProcessor) ProcessBatch(ctx context.Context) (int, error) {
	c.cycles.Add(1)
	return 0, nil
}

func TestSchedulerTicksProcessor(t *testing.T) {
	processor := &countingProcessor{}
	s := New(processor, 10*time.Millisecond)

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for processor.cycles.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 cycles, got %d", processor.cycles.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSchedulerStopHaltsTicks(t *testing.T) {
	processor := &countingProcessor{}
	s := New(processor, 10*time.Millisecond)

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	after := processor.cycles.Load()
	time.Sleep(50 * time.Millisecond)
	if processor.cycles.Load() != after {
		t.Error("processor ran after Stop")
	}
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	processor := &countingProcessor{}
	s := New(processor, time.Hour)

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	// a second Stop must not panic either
	s.Stop()
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	processor := &countingProcessor{}
	s := New(processor, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	time.Sleep(30 * time.Millisecond)

	after := processor.cycles.Load()
	time.Sleep(50 * time.Millisecond)
	if processor.cycles.Load() != after {
		t.Error("processor ran after context cancel")
	}
	s.Stop()
}
