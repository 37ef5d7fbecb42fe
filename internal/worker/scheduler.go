package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/orderlane/webhook-engine/internal/dispatch"
	"github.com/orderlane/webhook-engine/internal/store"
)

// Scheduler is the recurring retry process: each poll it selects retrying
// deliveries whose next attempt time has elapsed, oldest due first, claims
// each one, and re-dispatches it. Restart-safe: no state beyond the ledger.
type Scheduler struct {
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	interval   time.Duration
	batch      int
}

func NewScheduler(s *store.Store, d *dispatch.Dispatcher, interval time.Duration, batch int) *Scheduler {
	if batch < 1 {
		batch = 100
	}
	return &Scheduler{store: s, dispatcher: d, interval: interval, batch: batch}
}

// Start runs the poll loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

// runOnce processes one poll cycle. The claim guarantees each due delivery
// is dispatched at most once even under overlapping cycles or multiple
// engine instances.
func (s *Scheduler) runOnce(ctx context.Context) {
	due, err := s.store.Deliveries.ListDue(ctx, time.Now(), s.batch)
	if err != nil {
		slog.Error("poll retries error", "error", err)
		return
	}
	for _, d := range due {
		if ctx.Err() != nil {
			return
		}
		claimed, err := s.store.Deliveries.Claim(ctx, d.ID, d.Version)
		if err != nil {
			slog.Error("failed to claim due delivery", "error", err, "delivery_id", d.ID)
			continue
		}
		if !claimed {
			continue
		}
		if _, err := s.dispatcher.Attempt(ctx, &d); err != nil {
			slog.Error("retry dispatch error", "error", err, "delivery_id", d.ID)
		}
	}
}
