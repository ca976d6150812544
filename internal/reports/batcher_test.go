package reports

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collectingSink struct {
	mu      sync.Mutex
	batches [][]Report
	flushed chan struct{}
}

func newCollectingSink() *collectingSink {
	return &collectingSink{flushed: make(chan struct{}, 16)}
}

func (s *collectingSink) PublishDeletions(_ context.Context, batch []Report) error {
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
	s.flushed <- struct{}{}
	return nil
}

func (s *collectingSink) snapshot() [][]Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Report(nil), s.batches...)
}

func report(index int) Report {
	return Report{DiscordID: fmt.Sprintf("member-%d", index), Reason: "User exited the server."}
}

func TestBatcherFlushesFullBatch(t *testing.T) {
	sink := newCollectingSink()
	batcher, err := NewBatcher(Config{Sinks: []Sink{sink}, BatchSize: 3, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("failed to create batcher: %v", err)
	}
	batcher.Start()
	defer func() { _ = batcher.Stop(context.Background()) }()

	for index := range 3 {
		if !batcher.Enqueue(report(index)) {
			t.Fatalf("enqueue %d rejected", index)
		}
	}

	select {
	case <-sink.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected batch flush")
	}
	batches := sink.snapshot()
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("unexpected batches %+v", batches)
	}
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	sink := newCollectingSink()
	batcher, err := NewBatcher(Config{Sinks: []Sink{sink}, BatchSize: 50, FlushInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to create batcher: %v", err)
	}
	batcher.Start()
	defer func() { _ = batcher.Stop(context.Background()) }()

	batcher.Enqueue(report(1))
	select {
	case <-sink.flushed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected interval flush")
	}
}

func TestBatcherStopFlushesRemainder(t *testing.T) {
	sink := newCollectingSink()
	batcher, err := NewBatcher(Config{Sinks: []Sink{sink}, BatchSize: 50, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("failed to create batcher: %v", err)
	}
	batcher.Start()
	batcher.Enqueue(report(1))
	batcher.Enqueue(report(2))

	if err := batcher.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	batches := sink.snapshot()
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("expected remainder flushed on stop, got %+v", batches)
	}
	if batcher.Enqueue(report(3)) {
		t.Fatalf("expected enqueue after stop to be rejected")
	}
}

func TestBatcherDropsWhenFull(t *testing.T) {
	sink := newCollectingSink()
	core, logs := observer.New(zap.WarnLevel)
	batcher, err := NewBatcher(Config{Sinks: []Sink{sink}, Capacity: 1, BatchSize: 10, FlushInterval: time.Hour, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to create batcher: %v", err)
	}
	if !batcher.Enqueue(report(1)) {
		t.Fatalf("first enqueue should fit")
	}
	if batcher.Enqueue(report(2)) {
		t.Fatalf("second enqueue should be dropped")
	}
	if logs.FilterMessage("deletion report queue full, dropping report").Len() != 1 {
		t.Fatalf("expected drop warning")
	}
	if err := batcher.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestNewBatcherRequiresSink(t *testing.T) {
	if _, err := NewBatcher(Config{}); err == nil {
		t.Fatalf("expected missing sink error")
	}
}
