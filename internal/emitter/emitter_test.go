package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/model"
	"github.com/orderlane/webhook-engine/internal/store"
)

type recordQueue struct {
	ids []uuid.UUID
	err error
}

func (q *recordQueue) Enqueue(ctx context.Context, id uuid.UUID) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func addSubscription(t *testing.T, s *store.Store, tenant string, active bool, kinds ...event.Kind) *model.Subscription {
	t.Helper()
	sub := &model.Subscription{
		ID:             uuid.New(),
		TenantID:       tenant,
		Name:           "sub",
		TargetURL:      "https://example.com/hook",
		Events:         kinds,
		Secret:         "s",
		IsActive:       active,
		MaxRetries:     3,
		TimeoutSeconds: 30,
	}
	require.NoError(t, s.Subscriptions.Create(context.Background(), sub))
	return sub
}

func listAll(t *testing.T, s *store.Store, tenant string) []model.Delivery {
	t.Helper()
	items, _, err := s.Deliveries.List(context.Background(), tenant, store.DeliveryFilter{PerPage: 200})
	require.NoError(t, err)
	return items
}

func TestEmitCreatesOneDeliveryPerMatchingSubscription(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	q := &recordQueue{}
	e := New(s, q)

	matching1 := addSubscription(t, s, "t1", true, event.OrderCreated, event.OrderCancelled)
	matching2 := addSubscription(t, s, "t1", true, event.OrderCreated)
	addSubscription(t, s, "t1", true, event.ShipmentDelivered) // different event
	addSubscription(t, s, "t1", false, event.OrderCreated)     // inactive
	addSubscription(t, s, "t2", true, event.OrderCreated)      // different tenant

	e.Emit(ctx, "t1", event.OrderCreated, map[string]string{"order_id": "o-1"})

	deliveries := listAll(t, s, "t1")
	require.Len(t, deliveries, 2)
	subIDs := map[uuid.UUID]bool{}
	for _, d := range deliveries {
		assert.Equal(t, model.DeliveryPending, d.Status)
		assert.Equal(t, event.OrderCreated, d.Event)
		subIDs[d.SubscriptionID] = true

		var env model.Envelope
		require.NoError(t, json.Unmarshal(d.Payload, &env))
		assert.Equal(t, d.ID, env.ID)
		assert.Equal(t, event.OrderCreated, env.Event)
	}
	assert.True(t, subIDs[matching1.ID])
	assert.True(t, subIDs[matching2.ID])
	assert.Len(t, q.ids, 2)
}

func TestEmitNoMatchingSubscriptionsIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	e := New(s, &recordQueue{})

	addSubscription(t, s, "t1", true, event.ShipmentDelivered)

	e.Emit(ctx, "t1", event.OrderCreated, map[string]string{"order_id": "o-1"})

	assert.Empty(t, listAll(t, s, "t1"))
}

func TestEmitSurvivesQueueFailure(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	q := &recordQueue{err: errors.New("redis down")}
	e := New(s, q)

	addSubscription(t, s, "t1", true, event.OrderCreated)

	// must not panic or propagate; delivery stays pending for the catch-up poll
	e.Emit(ctx, "t1", event.OrderCreated, map[string]string{"order_id": "o-1"})

	deliveries := listAll(t, s, "t1")
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.DeliveryPending, deliveries[0].Status)
}

func TestEmitWithoutQueue(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	e := New(s, nil)

	addSubscription(t, s, "t1", true, event.NDRResolved)
	e.Emit(ctx, "t1", event.NDRResolved, map[string]any{"ndr_id": "n-1", "resolution": "reattempt"})

	require.Len(t, listAll(t, s, "t1"), 1)
}

func TestEmitUnknownKindIsIgnored(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	e := New(s, nil)

	addSubscription(t, s, "t1", true, event.OrderCreated)
	e.Emit(ctx, "t1", event.Kind("order.teleported"), nil)

	assert.Empty(t, listAll(t, s, "t1"))
}
