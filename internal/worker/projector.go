// Package worker holds the background consumers of the usage event stream.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmehdipour/reader-gateway/internal/kafka"
	"github.com/jmehdipour/reader-gateway/internal/metrics"
	"github.com/jmehdipour/reader-gateway/internal/model"
	"go.uber.org/zap"
)

// Source is the subset of the Kafka consumer the projector needs.
type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// Sink receives decoded usage events in batches.
type Sink interface {
	InsertBatch(ctx context.Context, events []model.UsageEvent) error
}

// Projector copies usage events from the outbox topic into the analytics
// store. Offsets are committed only after the batch holding them has been
// written, so delivery is at-least-once; the store collapses duplicates by
// event id.
type Projector struct {
	Source Source
	Sink   Sink
	Logger *zap.Logger

	BatchSize    int           // max events per insert
	BatchWait    time.Duration // max time an event waits before a flush
	FlushTimeout time.Duration // bound on the final flush during shutdown
	RetryBackoff time.Duration // pause after a failed fetch
}

func NewProjector(src Source, sink Sink, log *zap.Logger) *Projector {
	return &Projector{
		Source:       src,
		Sink:         sink,
		Logger:       log,
		BatchSize:    500,
		BatchWait:    time.Second,
		FlushTimeout: 5 * time.Second,
		RetryBackoff: 200 * time.Millisecond,
	}
}

type batch struct {
	events []model.UsageEvent
	msgs   []kafka.Message // every fetched message, poison included
}

func (b *batch) len() int { return len(b.msgs) }

// reset drops the slices rather than truncating them; the sink may keep
// the previous ones.
func (b *batch) reset() {
	b.events = nil
	b.msgs = nil
}

// Run blocks until ctx is cancelled, then flushes what it holds and returns.
func (p *Projector) Run(ctx context.Context) error {
	if p.Source == nil || p.Sink == nil {
		return errors.New("projector: source and sink are required")
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 500
	}
	if p.BatchWait <= 0 {
		p.BatchWait = time.Second
	}
	if p.FlushTimeout <= 0 {
		p.FlushTimeout = 5 * time.Second
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = 200 * time.Millisecond
	}

	msgCh := make(chan kafka.Message, p.BatchSize)
	go p.fetchLoop(ctx, msgCh)

	tick := time.NewTicker(p.BatchWait)
	defer tick.Stop()

	b := &batch{}
	for {
		// A full batch that failed to flush stops intake until it drains.
		in := msgCh
		if b.len() >= p.BatchSize {
			in = nil
		}

		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.Background(), p.FlushTimeout)
			_ = p.flush(fctx, b)
			cancel()
			return nil

		case m := <-in:
			p.add(b, m)
			if b.len() >= p.BatchSize {
				_ = p.flush(ctx, b)
			}

		case <-tick.C:
			_ = p.flush(ctx, b)
		}
	}
}

func (p *Projector) fetchLoop(ctx context.Context, out chan<- kafka.Message) {
	for {
		m, err := p.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.Logger.Warn("projector: fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.RetryBackoff):
			}
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Projector) add(b *batch, m kafka.Message) {
	b.msgs = append(b.msgs, m)

	var ev model.UsageEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.ID == "" {
		metrics.ProjectedEvents.WithLabelValues("skipped").Inc()
		p.Logger.Warn("projector: skipping undecodable event",
			zap.Int64("offset", m.Offset), zap.Int("partition", m.Partition), zap.Error(err))
		return
	}
	b.events = append(b.events, ev)
}

// flush writes the batch and commits its offsets. On failure the batch is
// kept and retried on the next tick.
func (p *Projector) flush(ctx context.Context, b *batch) error {
	if b.len() == 0 {
		return nil
	}

	if len(b.events) > 0 {
		if err := p.Sink.InsertBatch(ctx, b.events); err != nil {
			metrics.ProjectedEvents.WithLabelValues("failed").Add(float64(len(b.events)))
			p.Logger.Error("projector: insert batch failed",
				zap.Int("events", len(b.events)), zap.Error(err))
			return err
		}
		metrics.ProjectedEvents.WithLabelValues("ok").Add(float64(len(b.events)))
	}

	if err := p.Source.Commit(ctx, b.msgs...); err != nil {
		// Rows are already written; redelivery only produces duplicates
		// that the store collapses.
		p.Logger.Warn("projector: commit failed", zap.Int("messages", len(b.msgs)), zap.Error(err))
	}

	p.Logger.Debug("projector: flushed", zap.Int("events", len(b.events)), zap.Int("messages", len(b.msgs)))
	b.reset()
	return nil
}
