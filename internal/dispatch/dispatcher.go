// Package dispatch performs the single outbound HTTP attempt for a delivery
// and records its outcome in the ledger.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/orderlane/webhook-engine/internal/metrics"
	"github.com/orderlane/webhook-engine/internal/model"
	"github.com/orderlane/webhook-engine/internal/retry"
	"github.com/orderlane/webhook-engine/internal/signing"
	"github.com/orderlane/webhook-engine/internal/store"
)

// Reserved outbound headers. Subscription custom headers cannot override
// these.
const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Delivery-ID"
)

// maxResponseBytes caps stored response bodies to bound ledger growth.
const maxResponseBytes = 10 * 1024

// Dispatcher executes one attempt per call. The caller must hold the claim on
// the delivery; attempts for one delivery are therefore strictly sequential.
type Dispatcher struct {
	store  *store.Store
	client *http.Client
	policy retry.Policy
}

func New(s *store.Store, policy retry.Policy) *Dispatcher {
	return &Dispatcher{
		store:  s,
		policy: policy,
		client: &http.Client{
			// Redirects are not followed: an open redirect on the receiver
			// must not turn a registered URL into an arbitrary target.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// WithClient swaps the HTTP client; tests point it at httptest servers.
func (dp *Dispatcher) WithClient(c *http.Client) *Dispatcher {
	redirectGuard := dp.client.CheckRedirect
	dp.client = c
	if dp.client.CheckRedirect == nil {
		dp.client.CheckRedirect = redirectGuard
	}
	return dp
}

// Attempt performs one dispatch try and transitions the delivery. All
// failures are captured as delivery state; the returned error covers store
// problems only.
func (dp *Dispatcher) Attempt(ctx context.Context, d *model.Delivery) (model.DeliveryStatus, error) {
	sub, err := dp.store.Subscriptions.Get(ctx, d.TenantID, d.SubscriptionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return dp.park(ctx, d, "subscription deleted")
		}
		return d.Status, fmt.Errorf("load subscription: %w", err)
	}
	if !sub.IsActive {
		return dp.park(ctx, d, "subscription inactive")
	}

	attempt := d.AttemptCount + 1
	code, body, callErr, duration := dp.post(ctx, sub, d)
	now := time.Now()

	if callErr == nil && code >= 200 && code < 300 {
		if err := dp.store.Deliveries.MarkDelivered(ctx, d.ID, attempt, code, body, now, duration); err != nil {
			return d.Status, err
		}
		dp.record(ctx, sub, now, model.OutcomeDelivered)
		dp.observe(d, "delivered", duration)
		return model.DeliveryDelivered, nil
	}

	var codePtr *int
	errMsg := ""
	if callErr != nil {
		errMsg = callErr.Error()
	} else {
		codePtr = &code
		errMsg = fmt.Sprintf("HTTP %d", code)
	}

	if attempt <= sub.MaxRetries {
		next := dp.policy.NextRetryAt(now, attempt)
		if err := dp.store.Deliveries.MarkRetrying(ctx, d.ID, attempt, codePtr, &errMsg, body, next, duration); err != nil {
			return d.Status, err
		}
		dp.record(ctx, sub, now, model.OutcomeRetrying)
		dp.observe(d, "retrying", duration)
		return model.DeliveryRetrying, nil
	}

	if err := dp.store.Deliveries.MarkFailed(ctx, d.ID, attempt, codePtr, &errMsg, body, duration); err != nil {
		return d.Status, err
	}
	dp.record(ctx, sub, now, model.OutcomeExhausted)
	dp.observe(d, "failed", duration)
	return model.DeliveryFailed, nil
}

// post issues the signed POST with the subscription's timeout. The payload is
// the envelope serialized at emit time; retries send identical bytes, so the
// envelope id and signature are stable across attempts.
func (dp *Dispatcher) post(ctx context.Context, sub *model.Subscription, d *model.Delivery) (code int, body *string, callErr error, duration time.Duration) {
	callCtx, cancel := context.WithTimeout(ctx, sub.Timeout())
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, sub.TargetURL, bytes.NewReader(d.Payload))
	if err != nil {
		return 0, nil, err, 0
	}

	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signing.Sign(d.Payload, sub.Secret))
	req.Header.Set(HeaderEvent, string(d.Event))
	req.Header.Set(HeaderDeliveryID, d.ID.String())

	start := time.Now()
	resp, err := dp.client.Do(req)
	duration = time.Since(start)
	if err != nil {
		return 0, nil, err, duration
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if len(raw) > 0 {
		s := string(raw)
		body = &s
	}
	return resp.StatusCode, body, nil, duration
}

// park terminates a delivery whose subscription is gone or deactivated.
// Counters are untouched: no attempt was made.
func (dp *Dispatcher) park(ctx context.Context, d *model.Delivery, reason string) (model.DeliveryStatus, error) {
	if err := dp.store.Deliveries.MarkFailed(ctx, d.ID, d.AttemptCount, nil, &reason, nil, 0); err != nil {
		return d.Status, err
	}
	slog.Info("delivery parked", "delivery_id", d.ID, "reason", reason)
	return model.DeliveryFailed, nil
}

func (dp *Dispatcher) record(ctx context.Context, sub *model.Subscription, at time.Time, outcome model.DispatchOutcome) {
	if err := dp.store.Subscriptions.RecordDispatch(ctx, sub.ID, at, outcome); err != nil {
		slog.Error("failed to record dispatch on subscription", "error", err, "subscription_id", sub.ID)
	}
}

func (dp *Dispatcher) observe(d *model.Delivery, outcome string, duration time.Duration) {
	metrics.Dispatches.WithLabelValues(string(d.Event), outcome).Inc()
	metrics.DispatchLatency.WithLabelValues(string(d.Event), outcome).Observe(float64(duration.Milliseconds()))
}
