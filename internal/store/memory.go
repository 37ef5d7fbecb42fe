package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/model"
)

// memoryState holds the shared in-memory tables behind the two store views.
// Used by tests and DB-less local development.
type memoryState struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]*model.Subscription
	deliveries map[uuid.UUID]*model.Delivery
}

// SubscriptionMem and DeliveryMem are in-memory implementations of the store
// interfaces over one shared state.
type SubscriptionMem struct{ st *memoryState }
type DeliveryMem struct{ st *memoryState }

// NewMemory returns a Store backed by a single in-memory instance.
func NewMemory() *Store {
	st := &memoryState{
		subs:       map[uuid.UUID]*model.Subscription{},
		deliveries: map[uuid.UUID]*model.Delivery{},
	}
	return &Store{Subscriptions: &SubscriptionMem{st}, Deliveries: &DeliveryMem{st}}
}

func copySub(s *model.Subscription) *model.Subscription {
	c := *s
	c.Events = append([]event.Kind(nil), s.Events...)
	if s.Headers != nil {
		c.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

func copyDelivery(d *model.Delivery) *model.Delivery {
	c := *d
	return &c
}

func (m *SubscriptionMem) Create(ctx context.Context, sub *model.Subscription) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	m.st.subs[sub.ID] = copySub(sub)
	return nil
}

func (m *SubscriptionMem) Get(ctx context.Context, tenantID string, id uuid.UUID) (*model.Subscription, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.subs[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copySub(s), nil
}

func (m *SubscriptionMem) List(ctx context.Context, tenantID string) ([]model.Subscription, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.st.subs {
		if s.TenantID == tenantID {
			out = append(out, *copySub(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *SubscriptionMem) Update(ctx context.Context, tenantID string, id uuid.UUID, patch SubscriptionPatch) (*model.Subscription, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.subs[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	if patch.Name != nil {
		s.Name = *patch.Name
	}
	if patch.TargetURL != nil {
		s.TargetURL = *patch.TargetURL
	}
	if patch.Events != nil {
		s.Events = append([]event.Kind(nil), patch.Events...)
	}
	if patch.Headers != nil {
		s.Headers = patch.Headers
	}
	if patch.MaxRetries != nil {
		s.MaxRetries = *patch.MaxRetries
	}
	if patch.TimeoutSeconds != nil {
		s.TimeoutSeconds = *patch.TimeoutSeconds
	}
	s.UpdatedAt = time.Now()
	return copySub(s), nil
}

func (m *SubscriptionMem) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.subs[id]
	if !ok || s.TenantID != tenantID {
		return ErrNotFound
	}
	delete(m.st.subs, id)
	// delivery history is retained for audit
	return nil
}

func (m *SubscriptionMem) SetActive(ctx context.Context, tenantID string, id uuid.UUID, active bool) (*model.Subscription, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.subs[id]
	if !ok || s.TenantID != tenantID {
		return nil, ErrNotFound
	}
	s.IsActive = active
	s.UpdatedAt = time.Now()
	return copySub(s), nil
}

func (m *SubscriptionMem) SetSecret(ctx context.Context, tenantID string, id uuid.UUID, secret string) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.subs[id]
	if !ok || s.TenantID != tenantID {
		return ErrNotFound
	}
	s.Secret = secret
	s.UpdatedAt = time.Now()
	return nil
}

func (m *SubscriptionMem) ListActiveForEvent(ctx context.Context, tenantID string, kind event.Kind) ([]model.Subscription, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.Subscription
	for _, s := range m.st.subs {
		if s.TenantID == tenantID && s.IsActive && s.Listens(kind) {
			out = append(out, *copySub(s))
		}
	}
	return out, nil
}

func (m *SubscriptionMem) RecordDispatch(ctx context.Context, id uuid.UUID, at time.Time, outcome model.DispatchOutcome) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	s, ok := m.st.subs[id]
	if !ok {
		return nil // subscription may have been deleted; counters are advisory
	}
	t := at
	s.LastTriggeredAt = &t
	switch outcome {
	case model.OutcomeDelivered:
		s.SuccessfulDeliveries++
		s.TotalDeliveries++
	case model.OutcomeExhausted:
		s.FailedDeliveries++
		s.TotalDeliveries++
	}
	return nil
}

func (m *DeliveryMem) Create(ctx context.Context, d *model.Delivery) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	d.CreatedAt = time.Now()
	m.st.deliveries[d.ID] = copyDelivery(d)
	return nil
}

func (m *DeliveryMem) Get(ctx context.Context, tenantID string, id uuid.UUID) (*model.Delivery, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	d, ok := m.st.deliveries[id]
	if !ok || d.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return copyDelivery(d), nil
}

func (m *DeliveryMem) GetAny(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	d, ok := m.st.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDelivery(d), nil
}

func (m *DeliveryMem) List(ctx context.Context, tenantID string, f DeliveryFilter) ([]model.Delivery, int64, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var matched []model.Delivery
	for _, d := range m.st.deliveries {
		if d.TenantID != tenantID {
			continue
		}
		if f.SubscriptionID != nil && d.SubscriptionID != *f.SubscriptionID {
			continue
		}
		if f.Status != nil && d.Status != *f.Status {
			continue
		}
		if f.Event != nil && d.Event != *f.Event {
			continue
		}
		if f.From != nil && d.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && d.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, *copyDelivery(d))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := int64(len(matched))
	lo := f.Offset()
	if lo > len(matched) {
		lo = len(matched)
	}
	hi := lo + f.Limit()
	if hi > len(matched) {
		hi = len(matched)
	}
	return matched[lo:hi], total, nil
}

func (m *DeliveryMem) ListPending(ctx context.Context, limit int) ([]model.Delivery, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.Delivery
	for _, d := range m.st.deliveries {
		if d.Status == model.DeliveryPending {
			out = append(out, *copyDelivery(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *DeliveryMem) ListDue(ctx context.Context, now time.Time, limit int) ([]model.Delivery, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	var out []model.Delivery
	for _, d := range m.st.deliveries {
		if d.Status != model.DeliveryRetrying || d.NextRetryAt == nil || d.NextRetryAt.After(now) {
			continue
		}
		sub, ok := m.st.subs[d.SubscriptionID]
		if !ok || !sub.IsActive {
			continue
		}
		out = append(out, *copyDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *DeliveryMem) Claim(ctx context.Context, id uuid.UUID, version int64) (bool, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	d, ok := m.st.deliveries[id]
	if !ok || d.Version != version {
		return false, nil
	}
	if d.Status != model.DeliveryPending && d.Status != model.DeliveryRetrying {
		return false, nil
	}
	d.Status = model.DeliveryRetrying
	d.NextRetryAt = nil
	d.Version++
	return true, nil
}

func (m *DeliveryMem) MarkDelivered(ctx context.Context, id uuid.UUID, attemptCount, statusCode int, body *string, at time.Time, duration time.Duration) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	d, ok := m.st.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	d.Status = model.DeliveryDelivered
	d.AttemptCount = attemptCount
	d.HTTPStatusCode = &statusCode
	d.ErrorMessage = nil
	d.ResponseBody = body
	d.DeliveredAt = &t
	d.NextRetryAt = nil
	d.Duration = duration
	d.Version++
	return nil
}

func (m *DeliveryMem) MarkRetrying(ctx context.Context, id uuid.UUID, attemptCount int, statusCode *int, errMsg, body *string, nextRetryAt time.Time, duration time.Duration) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	d, ok := m.st.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	next := nextRetryAt
	d.Status = model.DeliveryRetrying
	d.AttemptCount = attemptCount
	d.HTTPStatusCode = statusCode
	d.ErrorMessage = errMsg
	d.ResponseBody = body
	d.NextRetryAt = &next
	d.Duration = duration
	d.Version++
	return nil
}

func (m *DeliveryMem) MarkFailed(ctx context.Context, id uuid.UUID, attemptCount int, statusCode *int, errMsg, body *string, duration time.Duration) error {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	d, ok := m.st.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = model.DeliveryFailed
	d.AttemptCount = attemptCount
	d.HTTPStatusCode = statusCode
	d.ErrorMessage = errMsg
	d.ResponseBody = body
	d.NextRetryAt = nil
	d.Duration = duration
	d.Version++
	return nil
}

func (m *DeliveryMem) Stats(ctx context.Context, tenantID string, subscriptionID *uuid.UUID, since time.Time) (*model.DeliveryStats, error) {
	m.st.mu.Lock()
	defer m.st.mu.Unlock()
	stats := &model.DeliveryStats{Since: since}
	byEvent := map[event.Kind]*model.EventStats{}
	for _, d := range m.st.deliveries {
		if d.TenantID != tenantID || d.CreatedAt.Before(since) {
			continue
		}
		if subscriptionID != nil && d.SubscriptionID != *subscriptionID {
			continue
		}
		stats.Total++
		switch d.Status {
		case model.DeliveryDelivered:
			stats.Delivered++
		case model.DeliveryFailed:
			stats.Failed++
		case model.DeliveryPending:
			stats.Pending++
		case model.DeliveryRetrying:
			stats.Retrying++
		}
		es, ok := byEvent[d.Event]
		if !ok {
			es = &model.EventStats{Event: d.Event}
			byEvent[d.Event] = es
		}
		es.Total++
		if d.Status == model.DeliveryDelivered {
			es.Delivered++
		}
	}
	for _, es := range byEvent {
		if es.Total > 0 {
			es.SuccessRate = float64(es.Delivered) / float64(es.Total)
		}
		stats.ByEvent = append(stats.ByEvent, *es)
	}
	sort.Slice(stats.ByEvent, func(i, j int) bool { return stats.ByEvent[i].Event < stats.ByEvent[j].Event })
	if terminal := stats.Delivered + stats.Failed; terminal > 0 {
		stats.SuccessRate = float64(stats.Delivered) / float64(terminal)
	}
	return stats, nil
}
