// Package emitter is the producer-facing entry point: domain workflows call
// Emit after a committed state transition. Emit never fails the caller;
// everything downstream is captured as delivery state.
package emitter

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/metrics"
	"github.com/orderlane/webhook-engine/internal/model"
	"github.com/orderlane/webhook-engine/internal/store"
)

// Queue is the fast-path hand-off to dispatch workers. Enqueue is
// best-effort: a delivery that never reaches the queue is still picked up by
// the pending catch-up poll.
type Queue interface {
	Enqueue(ctx context.Context, deliveryID uuid.UUID) error
}

type Emitter struct {
	store *store.Store
	queue Queue // nil means poll-only delivery
}

func New(s *store.Store, q Queue) *Emitter {
	return &Emitter{store: s, queue: q}
}

// Emit creates one pending delivery per matching active subscription of the
// tenant. Zero matching subscriptions is a silent no-op.
func (e *Emitter) Emit(ctx context.Context, tenantID string, kind event.Kind, data any) {
	if !event.Valid(kind) {
		slog.Error("emit called with unknown event kind", "event", kind, "tenant_id", tenantID)
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		slog.Error("failed to serialize event data", "error", err, "event", kind, "tenant_id", tenantID)
		return
	}

	subs, err := e.store.Subscriptions.ListActiveForEvent(ctx, tenantID, kind)
	if err != nil {
		slog.Error("failed to list subscriptions for event", "error", err, "event", kind, "tenant_id", tenantID)
		return
	}
	if len(subs) == 0 {
		return
	}

	for _, sub := range subs {
		id := uuid.New()
		payload, err := model.NewEnvelope(id, kind, raw)
		if err != nil {
			slog.Error("failed to build envelope", "error", err, "event", kind, "subscription_id", sub.ID)
			continue
		}
		d := &model.Delivery{
			ID:             id,
			SubscriptionID: sub.ID,
			TenantID:       tenantID,
			Event:          kind,
			Payload:        payload,
			Status:         model.DeliveryPending,
		}
		if err := e.store.Deliveries.Create(ctx, d); err != nil {
			slog.Error("failed to create delivery", "error", err, "event", kind, "subscription_id", sub.ID)
			continue
		}
		metrics.EmittedDeliveries.WithLabelValues(string(kind)).Inc()

		if e.queue != nil {
			if err := e.queue.Enqueue(ctx, d.ID); err != nil {
				// pending catch-up poll will deliver it
				slog.Error("failed to enqueue delivery", "error", err, "delivery_id", d.ID)
			}
		}
	}
}
