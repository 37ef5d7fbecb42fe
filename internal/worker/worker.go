// Package worker runs the background delivery machinery: a bounded pool of
// stream consumers for fresh deliveries, a pending catch-up poll, and the
// retry scheduler.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderlane/webhook-engine/internal/dispatch"
	"github.com/orderlane/webhook-engine/internal/model"
	"github.com/orderlane/webhook-engine/internal/store"
)

type Worker struct {
	store        *store.Store
	dispatcher   *dispatch.Dispatcher
	queue        *RedisQueue // nil: poll-only
	concurrency  int
	pollInterval time.Duration
	batch        int
}

func New(s *store.Store, d *dispatch.Dispatcher, q *RedisQueue, concurrency int, pollInterval time.Duration, batch int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	if batch < 1 {
		batch = 100
	}
	return &Worker{
		store:        s,
		dispatcher:   d,
		queue:        q,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		batch:        batch,
	}
}

// Start launches the stream consumers and the catch-up poll. All goroutines
// exit when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if w.queue != nil {
		if err := w.queue.ensureGroup(ctx); err != nil {
			return err
		}
		for i := range w.concurrency {
			consumer := fmt.Sprintf("worker-%d", i)
			go w.queue.consume(ctx, consumer, w.process)
		}
	}
	go w.pollPending(ctx)
	return nil
}

// process claims and dispatches one pending delivery. A lost claim means
// another worker (or an overlapping poll cycle) owns it.
func (w *Worker) process(ctx context.Context, deliveryID uuid.UUID) {
	d, err := w.store.Deliveries.GetAny(ctx, deliveryID)
	if err != nil {
		slog.Error("failed to load delivery", "error", err, "delivery_id", deliveryID)
		return
	}
	if d.Status != model.DeliveryPending {
		return
	}

	claimed, err := w.store.Deliveries.Claim(ctx, d.ID, d.Version)
	if err != nil {
		slog.Error("failed to claim delivery", "error", err, "delivery_id", d.ID)
		return
	}
	if !claimed {
		return
	}

	if _, err := w.dispatcher.Attempt(ctx, d); err != nil {
		slog.Error("dispatch attempt error", "error", err, "delivery_id", d.ID)
	}
}

// pollPending sweeps for pending deliveries the stream never handed over.
func (w *Worker) pollPending(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepPending(ctx)
		}
	}
}

func (w *Worker) sweepPending(ctx context.Context) {
	deliveries, err := w.store.Deliveries.ListPending(ctx, w.batch)
	if err != nil {
		slog.Error("poll pending error", "error", err)
		return
	}
	for _, d := range deliveries {
		slog.Info("catch-up: dispatching pending delivery", "delivery_id", d.ID)
		w.process(ctx, d.ID)
	}
}
