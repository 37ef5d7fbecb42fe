package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	streamName    = "webhook_deliveries"
	consumerGroup = "dispatch-workers"
)

// RedisQueue hands freshly emitted delivery ids to dispatch workers over a
// redis stream. It is a latency fast path, not a durability mechanism: the
// pending catch-up poll redelivers anything the stream loses.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Enqueue(ctx context.Context, deliveryID uuid.UUID) error {
	return q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]any{"delivery_id": deliveryID.String()},
	}).Err()
}

func (q *RedisQueue) ensureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, streamName, consumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// consume reads delivery ids for one consumer until the context is done.
// Every message is acked, valid or not; the DB is the source of truth.
func (q *RedisQueue) consume(ctx context.Context, consumer string, handle func(context.Context, uuid.UUID)) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumer,
			Streams:  []string{streamName, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			slog.Error("xreadgroup error", "error", err, "consumer", consumer)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if id, ok := deliveryIDFrom(msg); ok {
					handle(ctx, id)
				} else {
					slog.Error("invalid delivery_id in stream message", "msg_id", msg.ID)
				}
				q.rdb.XAck(ctx, streamName, consumerGroup, msg.ID)
			}
		}
	}
}

func deliveryIDFrom(msg redis.XMessage) (uuid.UUID, bool) {
	raw, ok := msg.Values["delivery_id"].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
