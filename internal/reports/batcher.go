// Package reports batches member deletion reports for the log channel.
package reports

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCapacity      = 256
	defaultBatchSize     = 10
	defaultFlushInterval = 30 * time.Second
)

var errMissingSink = errors.New("reports: sink is required")

// Report describes a record removed because the member left the guild.
type Report struct {
	DiscordID      string    `json:"discord_id"`
	DiscordTag     string    `json:"discord_tag"`
	RobloxUserID   int64     `json:"roblox_user_id"`
	RobloxUsername string    `json:"roblox_username"`
	Reason         string    `json:"reason"`
	RemovedAt      time.Time `json:"removed_at"`
}

// Sink receives flushed batches.
type Sink interface {
	PublishDeletions(ctx context.Context, batch []Report) error
}

// Recorder observes queue activity; metrics.Collectors satisfies it.
type Recorder interface {
	ReportQueued()
	ReportDropped()
	ReportsFlushed(count int)
}

// Config bundles the batcher settings.
type Config struct {
	Sinks         []Sink
	Capacity      int
	BatchSize     int
	FlushInterval time.Duration
	Recorder      Recorder
	Logger        *zap.Logger
}

// Batcher owns a bounded queue of reports and flushes it to every sink when
// a batch fills up or the flush interval elapses.
type Batcher struct {
	sinks         []Sink
	queue         chan Report
	batchSize     int
	flushInterval time.Duration
	recorder      Recorder
	logger        *zap.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	done      chan struct{}
}

// NewBatcher validates the configuration.
func NewBatcher(cfg Config) (*Batcher, error) {
	sinks := make([]Sink, 0, len(cfg.Sinks))
	for _, sink := range cfg.Sinks {
		if sink != nil {
			sinks = append(sinks, sink)
		}
	}
	if len(sinks) == 0 {
		return nil, errMissingSink
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{
		sinks:         sinks,
		queue:         make(chan Report, capacity),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		recorder:      cfg.Recorder,
		logger:        logger,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Start launches the flush loop. Calling it more than once has no effect.
func (b *Batcher) Start() {
	b.startOnce.Do(func() {
		go b.run()
	})
}

// Enqueue adds a report without blocking. A full queue drops the report.
func (b *Batcher) Enqueue(report Report) bool {
	select {
	case <-b.stopCh:
		b.logger.Warn("deletion report dropped after stop", zap.String("discord_id", report.DiscordID))
		b.recordDropped()
		return false
	default:
	}
	select {
	case b.queue <- report:
		if b.recorder != nil {
			b.recorder.ReportQueued()
		}
		return true
	default:
		b.logger.Warn("deletion report queue full, dropping report",
			zap.String("discord_id", report.DiscordID),
			zap.Int("capacity", cap(b.queue)))
		b.recordDropped()
		return false
	}
}

func (b *Batcher) recordDropped() {
	if b.recorder != nil {
		b.recorder.ReportDropped()
	}
}

// Stop flushes pending reports and waits for the loop to exit or ctx to end.
func (b *Batcher) Stop(ctx context.Context) error {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
	b.Start()
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Batcher) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	pending := make([]Report, 0, b.batchSize)
	for {
		select {
		case report := <-b.queue:
			pending = append(pending, report)
			if len(pending) >= b.batchSize {
				pending = b.flush(pending)
			}
		case <-ticker.C:
			pending = b.flush(pending)
		case <-b.stopCh:
			for {
				select {
				case report := <-b.queue:
					pending = append(pending, report)
				default:
					b.flush(pending)
					return
				}
			}
		}
	}
}

func (b *Batcher) flush(pending []Report) []Report {
	if len(pending) == 0 {
		return pending
	}
	batch := append([]Report(nil), pending...)
	for _, sink := range b.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), b.flushInterval)
		if err := sink.PublishDeletions(ctx, batch); err != nil {
			b.logger.Error("deletion report flush failed",
				zap.Int("reports", len(batch)),
				zap.Error(err))
		}
		cancel()
	}
	if b.recorder != nil {
		b.recorder.ReportsFlushed(len(batch))
	}
	return pending[:0]
}
