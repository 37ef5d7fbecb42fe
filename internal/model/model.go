package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/orderlane/webhook-engine/internal/event"
)

// Defaults applied by the registry when a create request omits the fields.
const (
	DefaultMaxRetries     = 3
	DefaultTimeoutSeconds = 30
)

// Subscription is a tenant's registration of a target URL plus the set of
// event kinds it wants to receive. Counters and LastTriggeredAt are written
// only by the dispatcher, never by the registry CRUD path.
type Subscription struct {
	ID             uuid.UUID         `json:"id"`
	TenantID       string            `json:"tenant_id"`
	Name           string            `json:"name"`
	TargetURL      string            `json:"target_url"`
	Events         []event.Kind      `json:"events"`
	Secret         string            `json:"secret,omitempty"`
	IsActive       bool              `json:"is_active"`
	MaxRetries     int               `json:"max_retries"`
	TimeoutSeconds int               `json:"timeout_seconds"`
	Headers        map[string]string `json:"headers,omitempty"`

	TotalDeliveries      int64      `json:"total_deliveries"`
	SuccessfulDeliveries int64      `json:"successful_deliveries"`
	FailedDeliveries     int64      `json:"failed_deliveries"`
	LastTriggeredAt      *time.Time `json:"last_triggered_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Listens reports whether the subscription's event set contains k.
func (s *Subscription) Listens(k event.Kind) bool {
	for _, e := range s.Events {
		if e == k {
			return true
		}
	}
	return false
}

// Timeout returns the per-dispatch timeout.
func (s *Subscription) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Redacted returns a copy safe for list/get responses. The secret is only
// revealed by create and regenerate.
func (s Subscription) Redacted() Subscription {
	s.Secret = ""
	return s
}

type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryRetrying  DeliveryStatus = "retrying"
)

// ValidDeliveryStatus reports whether s is a known ledger status.
func ValidDeliveryStatus(s DeliveryStatus) bool {
	switch s {
	case DeliveryPending, DeliveryDelivered, DeliveryFailed, DeliveryRetrying:
		return true
	}
	return false
}

// Delivery is one logical notification of an event to one subscription,
// potentially spanning multiple dispatch attempts. Payload is the serialized
// envelope and is immutable once created. Version backs the optimistic claim
// that gives each in-flight delivery a single owner.
type Delivery struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	TenantID       string          `json:"tenant_id"`
	Event          event.Kind      `json:"event"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	AttemptCount   int             `json:"attempt_count"`
	HTTPStatusCode *int            `json:"http_status_code,omitempty"`
	ErrorMessage   *string         `json:"error_message,omitempty"`
	ResponseBody   *string         `json:"response_body,omitempty"`
	Duration       time.Duration   `json:"duration_ms"`
	CreatedAt      time.Time       `json:"created_at"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	NextRetryAt    *time.Time      `json:"next_retry_at,omitempty"`
	Version        int64           `json:"-"`
}

// DispatchOutcome classifies a single attempt for counter bookkeeping.
type DispatchOutcome int

const (
	// OutcomeRetrying: attempt failed, retries remain. Only LastTriggeredAt moves.
	OutcomeRetrying DispatchOutcome = iota
	// OutcomeDelivered: terminal success.
	OutcomeDelivered
	// OutcomeExhausted: terminal failure after the retry ceiling.
	OutcomeExhausted
)

// Envelope is the signed JSON body sent to the receiver. ID equals the
// delivery id and is stable across retries, so receivers can deduplicate.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Event     event.Kind      `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEnvelope serializes the envelope for a delivery.
func NewEnvelope(deliveryID uuid.UUID, kind event.Kind, data json.RawMessage) (json.RawMessage, error) {
	return json.Marshal(Envelope{
		ID:        deliveryID,
		Event:     kind,
		Timestamp: time.Now().UTC(),
		Data:      data,
	})
}

// EventStats is a per-event slice of the trailing-window statistics.
type EventStats struct {
	Event       event.Kind `json:"event"`
	Total       int64      `json:"total"`
	Delivered   int64      `json:"delivered"`
	SuccessRate float64    `json:"success_rate"`
}

// DeliveryStats aggregates ledger outcomes over a trailing window for
// subscription health reporting.
type DeliveryStats struct {
	Since       time.Time    `json:"since"`
	Total       int64        `json:"total"`
	Delivered   int64        `json:"delivered"`
	Failed      int64        `json:"failed"`
	Pending     int64        `json:"pending"`
	Retrying    int64        `json:"retrying"`
	SuccessRate float64      `json:"success_rate"`
	ByEvent     []EventStats `json:"by_event"`
}
