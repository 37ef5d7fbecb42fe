package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/model"
)

// SubscriptionPG is the Postgres subscription store.
type SubscriptionPG struct {
	pool *pgxpool.Pool
}

const subscriptionCols = `id, tenant_id, name, target_url, events, secret, is_active,
	max_retries, timeout_seconds, headers,
	total_deliveries, successful_deliveries, failed_deliveries, last_triggered_at,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var sub model.Subscription
	var events []string
	var headers []byte
	err := row.Scan(&sub.ID, &sub.TenantID, &sub.Name, &sub.TargetURL, &events, &sub.Secret,
		&sub.IsActive, &sub.MaxRetries, &sub.TimeoutSeconds, &headers,
		&sub.TotalDeliveries, &sub.SuccessfulDeliveries, &sub.FailedDeliveries, &sub.LastTriggeredAt,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sub.Events = make([]event.Kind, len(events))
	for i, e := range events {
		sub.Events[i] = event.Kind(e)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &sub.Headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
	}
	return &sub, nil
}

func kindsToStrings(kinds []event.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func headersToJSON(h map[string]string) ([]byte, error) {
	if len(h) == 0 {
		return nil, nil
	}
	return json.Marshal(h)
}

func (s *SubscriptionPG) Create(ctx context.Context, sub *model.Subscription) error {
	headers, err := headersToJSON(sub.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO webhook_subscriptions
			(id, tenant_id, name, target_url, events, secret, is_active, max_retries, timeout_seconds, headers)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING `+subscriptionCols,
		sub.ID, sub.TenantID, sub.Name, sub.TargetURL, kindsToStrings(sub.Events),
		sub.Secret, sub.IsActive, sub.MaxRetries, sub.TimeoutSeconds, headers,
	)
	created, err := scanSubscription(row)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	*sub = *created
	return nil
}

func (s *SubscriptionPG) Get(ctx context.Context, tenantID string, id uuid.UUID) (*model.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionCols+` FROM webhook_subscriptions WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionPG) List(ctx context.Context, tenantID string) ([]model.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionCols+` FROM webhook_subscriptions WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (s *SubscriptionPG) Update(ctx context.Context, tenantID string, id uuid.UUID, patch SubscriptionPatch) (*model.Subscription, error) {
	var events []string
	if patch.Events != nil {
		events = kindsToStrings(patch.Events)
	}
	var headers []byte
	if patch.Headers != nil {
		var err error
		headers, err = headersToJSON(patch.Headers)
		if err != nil {
			return nil, fmt.Errorf("encode headers: %w", err)
		}
	}
	row := s.pool.QueryRow(ctx,
		`UPDATE webhook_subscriptions SET
			name            = COALESCE($3, name),
			target_url      = COALESCE($4, target_url),
			events          = COALESCE($5, events),
			headers         = COALESCE($6, headers),
			max_retries     = COALESCE($7, max_retries),
			timeout_seconds = COALESCE($8, timeout_seconds),
			updated_at      = $9
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+subscriptionCols,
		tenantID, id, patch.Name, patch.TargetURL, events, headers,
		patch.MaxRetries, patch.TimeoutSeconds, time.Now(),
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionPG) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_subscriptions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SubscriptionPG) SetActive(ctx context.Context, tenantID string, id uuid.UUID, active bool) (*model.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE webhook_subscriptions SET is_active = $3, updated_at = $4
		 WHERE tenant_id = $1 AND id = $2
		 RETURNING `+subscriptionCols,
		tenantID, id, active, time.Now(),
	)
	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("set subscription active: %w", err)
	}
	return sub, nil
}

func (s *SubscriptionPG) SetSecret(ctx context.Context, tenantID string, id uuid.UUID, secret string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_subscriptions SET secret = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, secret, time.Now())
	if err != nil {
		return fmt.Errorf("set subscription secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SubscriptionPG) ListActiveForEvent(ctx context.Context, tenantID string, kind event.Kind) ([]model.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionCols+`
		 FROM webhook_subscriptions
		 WHERE tenant_id = $1 AND is_active = true AND $2 = ANY(events)`,
		tenantID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions for event: %w", err)
	}
	defer rows.Close()
	return collectSubscriptions(rows)
}

func (s *SubscriptionPG) RecordDispatch(ctx context.Context, id uuid.UUID, at time.Time, outcome model.DispatchOutcome) error {
	var okDelta, failDelta int
	switch outcome {
	case model.OutcomeDelivered:
		okDelta = 1
	case model.OutcomeExhausted:
		failDelta = 1
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_subscriptions SET
			last_triggered_at     = $2,
			total_deliveries      = total_deliveries + $3 + $4,
			successful_deliveries = successful_deliveries + $3,
			failed_deliveries     = failed_deliveries + $4
		 WHERE id = $1`,
		id, at, okDelta, failDelta,
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}
