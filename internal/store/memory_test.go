package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/model"
)

func seedSubscription(t *testing.T, s *Store, tenant string, active bool) *model.Subscription {
	t.Helper()
	sub := &model.Subscription{
		ID:             uuid.New(),
		TenantID:       tenant,
		Name:           "test",
		TargetURL:      "https://example.com/hook",
		Events:         []event.Kind{event.OrderCreated, event.ShipmentDelivered},
		Secret:         "s3cret",
		IsActive:       active,
		MaxRetries:     3,
		TimeoutSeconds: 30,
	}
	require.NoError(t, s.Subscriptions.Create(context.Background(), sub))
	return sub
}

func seedDelivery(t *testing.T, s *Store, sub *model.Subscription, kind event.Kind, status model.DeliveryStatus) *model.Delivery {
	t.Helper()
	d := &model.Delivery{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		Event:          kind,
		Payload:        []byte(`{}`),
		Status:         status,
	}
	require.NoError(t, s.Deliveries.Create(context.Background(), d))
	return d
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	sub := seedSubscription(t, s, "t1", true)
	d := seedDelivery(t, s, sub, event.OrderCreated, model.DeliveryPending)

	ok, err := s.Deliveries.Claim(ctx, d.ID, d.Version)
	require.NoError(t, err)
	assert.True(t, ok)

	// second claim with the stale version loses
	ok, err = s.Deliveries.Claim(ctx, d.ID, d.Version)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimedDeliveryInvisibleToPolls(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	sub := seedSubscription(t, s, "t1", true)
	d := seedDelivery(t, s, sub, event.OrderCreated, model.DeliveryPending)

	ok, err := s.Deliveries.Claim(ctx, d.ID, d.Version)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err := s.Deliveries.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	due, err := s.Deliveries.ListDue(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestListDueSkipsInactiveSubscriptions(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	sub := seedSubscription(t, s, "t1", true)
	d := seedDelivery(t, s, sub, event.OrderCreated, model.DeliveryPending)

	next := time.Now().Add(-time.Minute)
	require.NoError(t, s.Deliveries.MarkRetrying(ctx, d.ID, 1, nil, nil, nil, next, 0))

	due, err := s.Deliveries.ListDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	_, err = s.Subscriptions.SetActive(ctx, "t1", sub.ID, false)
	require.NoError(t, err)

	due, err = s.Deliveries.ListDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestListFiltersAndPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	sub := seedSubscription(t, s, "t1", true)
	other := seedSubscription(t, s, "t1", true)

	for range 3 {
		seedDelivery(t, s, sub, event.OrderCreated, model.DeliveryDelivered)
	}
	seedDelivery(t, s, sub, event.ShipmentDelivered, model.DeliveryFailed)
	seedDelivery(t, s, other, event.OrderCreated, model.DeliveryPending)

	status := model.DeliveryDelivered
	items, total, err := s.Deliveries.List(ctx, "t1", DeliveryFilter{
		SubscriptionID: &sub.ID,
		Status:         &status,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, items, 3)

	items, total, err = s.Deliveries.List(ctx, "t1", DeliveryFilter{Page: 1, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, items, 2)

	items, _, err = s.Deliveries.List(ctx, "t2", DeliveryFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestRecordDispatchCounters(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	sub := seedSubscription(t, s, "t1", true)

	now := time.Now()
	require.NoError(t, s.Subscriptions.RecordDispatch(ctx, sub.ID, now, model.OutcomeRetrying))
	require.NoError(t, s.Subscriptions.RecordDispatch(ctx, sub.ID, now, model.OutcomeDelivered))
	require.NoError(t, s.Subscriptions.RecordDispatch(ctx, sub.ID, now, model.OutcomeExhausted))

	got, err := s.Subscriptions.Get(ctx, "t1", sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TotalDeliveries)
	assert.Equal(t, int64(1), got.SuccessfulDeliveries)
	assert.Equal(t, int64(1), got.FailedDeliveries)
	require.NotNil(t, got.LastTriggeredAt)
}

func TestStatsWindow(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	sub := seedSubscription(t, s, "t1", true)

	for range 3 {
		seedDelivery(t, s, sub, event.OrderCreated, model.DeliveryDelivered)
	}
	seedDelivery(t, s, sub, event.OrderCreated, model.DeliveryFailed)
	seedDelivery(t, s, sub, event.ShipmentDelivered, model.DeliveryRetrying)

	stats, err := s.Deliveries.Stats(ctx, "t1", nil, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(3), stats.Delivered)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Retrying)
	assert.InDelta(t, 0.75, stats.SuccessRate, 1e-9)
	require.Len(t, stats.ByEvent, 2)
	assert.Equal(t, event.OrderCreated, stats.ByEvent[0].Event)
	assert.InDelta(t, 0.75, stats.ByEvent[0].SuccessRate, 1e-9)
}

func TestDeleteRetainsHistory(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	sub := seedSubscription(t, s, "t1", true)
	d := seedDelivery(t, s, sub, event.OrderCreated, model.DeliveryDelivered)

	require.NoError(t, s.Subscriptions.Delete(ctx, "t1", sub.ID))
	assert.ErrorIs(t, s.Subscriptions.Delete(ctx, "t1", sub.ID), ErrNotFound)

	got, err := s.Deliveries.Get(ctx, "t1", d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
}
