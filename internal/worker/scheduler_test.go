package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderlane/webhook-engine/internal/dispatch"
	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/model"
	"github.com/orderlane/webhook-engine/internal/retry"
	"github.com/orderlane/webhook-engine/internal/store"
)

func fixture(t *testing.T, url string, maxRetries int) (*store.Store, *dispatch.Dispatcher, *model.Subscription, *model.Delivery) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	sub := &model.Subscription{
		ID:             uuid.New(),
		TenantID:       "t1",
		Name:           "sub",
		TargetURL:      url,
		Events:         []event.Kind{event.OrderCreated},
		Secret:         "s",
		IsActive:       true,
		MaxRetries:     maxRetries,
		TimeoutSeconds: 5,
	}
	require.NoError(t, s.Subscriptions.Create(ctx, sub))

	id := uuid.New()
	payload, err := model.NewEnvelope(id, event.OrderCreated, json.RawMessage(`{}`))
	require.NoError(t, err)
	d := &model.Delivery{
		ID:             id,
		SubscriptionID: sub.ID,
		TenantID:       "t1",
		Event:          event.OrderCreated,
		Payload:        payload,
		Status:         model.DeliveryPending,
	}
	require.NoError(t, s.Deliveries.Create(ctx, d))

	dp := dispatch.New(s, retry.Policy{Base: time.Minute, Max: time.Hour})
	return s, dp, sub, d
}

func markDue(t *testing.T, s *store.Store, id uuid.UUID, attempts int) {
	t.Helper()
	past := time.Now().Add(-time.Minute)
	require.NoError(t, s.Deliveries.MarkRetrying(context.Background(), id, attempts, nil, nil, nil, past, 0))
}

func TestSchedulerRedispatchesDueDelivery(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, dp, _, d := fixture(t, srv.URL, 3)
	dp.WithClient(srv.Client())
	markDue(t, s, d.ID, 1)

	sched := NewScheduler(s, dp, time.Second, 100)
	sched.runOnce(context.Background())

	assert.Equal(t, int32(1), hits.Load())
	got, err := s.Deliveries.GetAny(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDelivered, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
}

func TestSchedulerSkipsFutureRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, dp, _, d := fixture(t, srv.URL, 3)
	dp.WithClient(srv.Client())
	future := time.Now().Add(time.Hour)
	require.NoError(t, s.Deliveries.MarkRetrying(context.Background(), d.ID, 1, nil, nil, nil, future, 0))

	NewScheduler(s, dp, time.Second, 100).runOnce(context.Background())

	assert.Equal(t, int32(0), hits.Load())
}

func TestSchedulerDoesNotDispatchDeactivatedSubscription(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, dp, sub, d := fixture(t, srv.URL, 3)
	dp.WithClient(srv.Client())
	markDue(t, s, d.ID, 1)

	_, err := s.Subscriptions.SetActive(context.Background(), "t1", sub.ID, false)
	require.NoError(t, err)

	NewScheduler(s, dp, time.Second, 100).runOnce(context.Background())

	assert.Equal(t, int32(0), hits.Load())
	got, err := s.Deliveries.GetAny(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestSchedulerExhaustsDeliveryTerminally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, dp, _, d := fixture(t, srv.URL, 1)
	dp.WithClient(srv.Client())
	markDue(t, s, d.ID, 1) // ceiling: 1 initial + 1 retry

	sched := NewScheduler(s, dp, time.Second, 100)
	sched.runOnce(context.Background())

	got, err := s.Deliveries.GetAny(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryFailed, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
	assert.Nil(t, got.NextRetryAt)

	// a terminal delivery is never picked up again
	sched.runOnce(context.Background())
	still, err := s.Deliveries.GetAny(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, still.AttemptCount)
}

func TestOverlappingCyclesClaimAtMostOnce(t *testing.T) {
	s, _, _, d := fixture(t, "http://example.invalid", 3)
	markDue(t, s, d.ID, 1)

	ctx := context.Background()
	due, err := s.Deliveries.ListDue(ctx, time.Now(), 100)
	require.NoError(t, err)
	require.Len(t, due, 1)

	// two cycles see the same due snapshot; only one wins the claim
	first, err := s.Deliveries.Claim(ctx, due[0].ID, due[0].Version)
	require.NoError(t, err)
	second, err := s.Deliveries.Claim(ctx, due[0].ID, due[0].Version)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestWorkerSweepDispatchesPending(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, dp, _, d := fixture(t, srv.URL, 3)
	dp.WithClient(srv.Client())

	w := New(s, dp, nil, 2, time.Second, 100)
	w.sweepPending(context.Background())

	assert.Equal(t, int32(1), hits.Load())
	got, err := s.Deliveries.GetAny(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryDelivered, got.Status)

	// a second sweep finds nothing pending
	w.sweepPending(context.Background())
	assert.Equal(t, int32(1), hits.Load())
}
