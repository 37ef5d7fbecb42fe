package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/orderlane/webhook-engine/internal/event"
	"github.com/orderlane/webhook-engine/internal/model"
)

// DeliveryPG is the Postgres delivery ledger.
type DeliveryPG struct {
	pool *pgxpool.Pool
}

const deliveryCols = `id, subscription_id, tenant_id, event, payload, status, attempt_count,
	http_status_code, error_message, response_body, duration_ms,
	created_at, delivered_at, next_retry_at, version`

func scanDelivery(row pgx.Row) (*model.Delivery, error) {
	var d model.Delivery
	var ev string
	var durationMs int64
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.TenantID, &ev, &d.Payload, &d.Status,
		&d.AttemptCount, &d.HTTPStatusCode, &d.ErrorMessage, &d.ResponseBody, &durationMs,
		&d.CreatedAt, &d.DeliveredAt, &d.NextRetryAt, &d.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	d.Event = event.Kind(ev)
	d.Duration = time.Duration(durationMs) * time.Millisecond
	return &d, nil
}

func collectDeliveries(rows pgx.Rows) ([]model.Delivery, error) {
	var out []model.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *DeliveryPG) Create(ctx context.Context, d *model.Delivery) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO webhook_deliveries (id, subscription_id, tenant_id, event, payload, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+deliveryCols,
		d.ID, d.SubscriptionID, d.TenantID, string(d.Event), d.Payload, d.Status,
	)
	created, err := scanDelivery(row)
	if err != nil {
		return fmt.Errorf("create delivery: %w", err)
	}
	*d = *created
	return nil
}

func (s *DeliveryPG) Get(ctx context.Context, tenantID string, id uuid.UUID) (*model.Delivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryCols+` FROM webhook_deliveries WHERE tenant_id = $1 AND id = $2`,
		tenantID, id)
	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

func (s *DeliveryPG) GetAny(ctx context.Context, id uuid.UUID) (*model.Delivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryCols+` FROM webhook_deliveries WHERE id = $1`, id)
	d, err := scanDelivery(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

func (s *DeliveryPG) List(ctx context.Context, tenantID string, f DeliveryFilter) ([]model.Delivery, int64, error) {
	where := `WHERE tenant_id = $1`
	args := []any{tenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		where += fmt.Sprintf(" AND "+cond, len(args))
	}
	if f.SubscriptionID != nil {
		add("subscription_id = $%d", *f.SubscriptionID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.Event != nil {
		add("event = $%d", string(*f.Event))
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_deliveries `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	query := fmt.Sprintf(`SELECT `+deliveryCols+` FROM webhook_deliveries %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, f.Limit(), f.Offset())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()
	out, err := collectDeliveries(rows)
	return out, total, err
}

func (s *DeliveryPG) ListPending(ctx context.Context, limit int) ([]model.Delivery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryCols+` FROM webhook_deliveries
		 WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending deliveries: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

func (s *DeliveryPG) ListDue(ctx context.Context, now time.Time, limit int) ([]model.Delivery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryColsPrefixed("d")+`
		 FROM webhook_deliveries d
		 JOIN webhook_subscriptions s ON s.id = d.subscription_id
		 WHERE d.status = 'retrying' AND d.next_retry_at IS NOT NULL AND d.next_retry_at <= $1
		   AND s.is_active = true
		 ORDER BY d.next_retry_at ASC LIMIT $2`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due deliveries: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

func deliveryColsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.subscription_id, ` + alias + `.tenant_id, ` + alias + `.event, ` +
		alias + `.payload, ` + alias + `.status, ` + alias + `.attempt_count, ` +
		alias + `.http_status_code, ` + alias + `.error_message, ` + alias + `.response_body, ` +
		alias + `.duration_ms, ` + alias + `.created_at, ` + alias + `.delivered_at, ` +
		alias + `.next_retry_at, ` + alias + `.version`
}

// Claim moves a pending/retrying delivery to exclusive in-flight ownership:
// status becomes retrying with next_retry_at cleared so neither the catch-up
// poll nor the scheduler selects it again, and version advances so a
// concurrent claim of the same snapshot loses.
func (s *DeliveryPG) Claim(ctx context.Context, id uuid.UUID, version int64) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE webhook_deliveries
		 SET status = 'retrying', next_retry_at = NULL, version = version + 1
		 WHERE id = $1 AND version = $2 AND status IN ('pending', 'retrying')`,
		id, version)
	if err != nil {
		return false, fmt.Errorf("claim delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *DeliveryPG) MarkDelivered(ctx context.Context, id uuid.UUID, attemptCount, statusCode int, body *string, at time.Time, duration time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_deliveries SET
			status           = 'delivered',
			attempt_count    = $2,
			http_status_code = $3,
			error_message    = NULL,
			response_body    = $4,
			delivered_at     = $5,
			next_retry_at    = NULL,
			duration_ms      = $6,
			version          = version + 1
		 WHERE id = $1`,
		id, attemptCount, statusCode, body, at, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

func (s *DeliveryPG) MarkRetrying(ctx context.Context, id uuid.UUID, attemptCount int, statusCode *int, errMsg, body *string, nextRetryAt time.Time, duration time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_deliveries SET
			status           = 'retrying',
			attempt_count    = $2,
			http_status_code = $3,
			error_message    = $4,
			response_body    = $5,
			next_retry_at    = $6,
			duration_ms      = $7,
			version          = version + 1
		 WHERE id = $1`,
		id, attemptCount, statusCode, errMsg, body, nextRetryAt, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("mark retrying: %w", err)
	}
	return nil
}

func (s *DeliveryPG) MarkFailed(ctx context.Context, id uuid.UUID, attemptCount int, statusCode *int, errMsg, body *string, duration time.Duration) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE webhook_deliveries SET
			status           = 'failed',
			attempt_count    = $2,
			http_status_code = $3,
			error_message    = $4,
			response_body    = $5,
			next_retry_at    = NULL,
			duration_ms      = $6,
			version          = version + 1
		 WHERE id = $1`,
		id, attemptCount, statusCode, errMsg, body, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (s *DeliveryPG) Stats(ctx context.Context, tenantID string, subscriptionID *uuid.UUID, since time.Time) (*model.DeliveryStats, error) {
	where := `WHERE tenant_id = $1 AND created_at >= $2`
	args := []any{tenantID, since}
	if subscriptionID != nil {
		args = append(args, *subscriptionID)
		where += fmt.Sprintf(` AND subscription_id = $%d`, len(args))
	}

	stats := &model.DeliveryStats{Since: since}

	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM webhook_deliveries `+where+` GROUP BY status`, args...)
	if err != nil {
		return nil, fmt.Errorf("delivery stats by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.Total += n
		switch model.DeliveryStatus(status) {
		case model.DeliveryDelivered:
			stats.Delivered = n
		case model.DeliveryFailed:
			stats.Failed = n
		case model.DeliveryPending:
			stats.Pending = n
		case model.DeliveryRetrying:
			stats.Retrying = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	evRows, err := s.pool.Query(ctx,
		`SELECT event, COUNT(*), COUNT(*) FILTER (WHERE status = 'delivered')
		 FROM webhook_deliveries `+where+` GROUP BY event ORDER BY event`, args...)
	if err != nil {
		return nil, fmt.Errorf("delivery stats by event: %w", err)
	}
	defer evRows.Close()
	for evRows.Next() {
		var es model.EventStats
		var ev string
		if err := evRows.Scan(&ev, &es.Total, &es.Delivered); err != nil {
			return nil, fmt.Errorf("scan event stats: %w", err)
		}
		es.Event = event.Kind(ev)
		if es.Total > 0 {
			es.SuccessRate = float64(es.Delivered) / float64(es.Total)
		}
		stats.ByEvent = append(stats.ByEvent, es)
	}
	if err := evRows.Err(); err != nil {
		return nil, err
	}

	if terminal := stats.Delivered + stats.Failed; terminal > 0 {
		stats.SuccessRate = float64(stats.Delivered) / float64(terminal)
	}
	return stats, nil
}
