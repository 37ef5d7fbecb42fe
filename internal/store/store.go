// Package store defines the persistence boundary of the delivery engine. The
// dispatch and scheduling logic is written against these interfaces so the
// surrounding system can inject tenant-schema routing without touching the
// core.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/model"
)

// ErrNotFound is returned when a subscription or delivery id is unknown.
var ErrNotFound = errors.New("not found")

// SubscriptionPatch carries a partial update; nil fields are left untouched.
type SubscriptionPatch struct {
	Name           *string
	TargetURL      *string
	Events         []event.Kind
	Headers        map[string]string
	MaxRetries     *int
	TimeoutSeconds *int
}

// DeliveryFilter narrows ledger queries. Zero Page means first page.
type DeliveryFilter struct {
	SubscriptionID *uuid.UUID
	Status         *model.DeliveryStatus
	Event          *event.Kind
	From           *time.Time
	To             *time.Time
	Page           int
	PerPage        int
}

// Limit returns the effective page size.
func (f DeliveryFilter) Limit() int {
	if f.PerPage <= 0 || f.PerPage > 200 {
		return 50
	}
	return f.PerPage
}

// Offset returns the effective row offset.
func (f DeliveryFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit()
}

type SubscriptionStore interface {
	Create(ctx context.Context, sub *model.Subscription) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*model.Subscription, error)
	List(ctx context.Context, tenantID string) ([]model.Subscription, error)
	Update(ctx context.Context, tenantID string, id uuid.UUID, patch SubscriptionPatch) (*model.Subscription, error)
	Delete(ctx context.Context, tenantID string, id uuid.UUID) error
	SetActive(ctx context.Context, tenantID string, id uuid.UUID, active bool) (*model.Subscription, error)
	SetSecret(ctx context.Context, tenantID string, id uuid.UUID, secret string) error
	ListActiveForEvent(ctx context.Context, tenantID string, kind event.Kind) ([]model.Subscription, error)

	// RecordDispatch is the dispatcher-only write path: bumps LastTriggeredAt
	// on every attempt and the terminal counters per outcome. Counters are
	// advisory; plain increments, no serializability required.
	RecordDispatch(ctx context.Context, id uuid.UUID, at time.Time, outcome model.DispatchOutcome) error
}

type DeliveryStore interface {
	Create(ctx context.Context, d *model.Delivery) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*model.Delivery, error)
	// GetAny loads a delivery without tenant scoping; worker-side use only.
	GetAny(ctx context.Context, id uuid.UUID) (*model.Delivery, error)
	List(ctx context.Context, tenantID string, f DeliveryFilter) ([]model.Delivery, int64, error)

	// ListPending feeds the catch-up poll: oldest pending rows first.
	ListPending(ctx context.Context, limit int) ([]model.Delivery, error)
	// ListDue selects retrying deliveries whose next attempt time has elapsed,
	// oldest due first, skipping deliveries of inactive subscriptions.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.Delivery, error)

	// Claim takes exclusive ownership of a pending or retrying delivery via a
	// version compare-and-swap. Returns false when another worker won.
	Claim(ctx context.Context, id uuid.UUID, version int64) (bool, error)

	MarkDelivered(ctx context.Context, id uuid.UUID, attemptCount, statusCode int, body *string, at time.Time, duration time.Duration) error
	MarkRetrying(ctx context.Context, id uuid.UUID, attemptCount int, statusCode *int, errMsg, body *string, nextRetryAt time.Time, duration time.Duration) error
	MarkFailed(ctx context.Context, id uuid.UUID, attemptCount int, statusCode *int, errMsg, body *string, duration time.Duration) error

	Stats(ctx context.Context, tenantID string, subscriptionID *uuid.UUID, since time.Time) (*model.DeliveryStats, error)
}

// Store aggregates the persistence interfaces handed to services.
type Store struct {
	Subscriptions SubscriptionStore
	Deliveries    DeliveryStore
}

// New returns a Postgres-backed store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		Subscriptions: &SubscriptionPG{pool: pool},
		Deliveries:    &DeliveryPG{pool: pool},
	}
}
