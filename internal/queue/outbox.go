package queue

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Outbox 把事件追加到 Redis Stream，由 Relay 异步转发 Kafka。
// 调用方只依赖 Redis 可用，Kafka 抖动不影响下单/验签链路。
type Outbox struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

func NewOutbox(rdb *rd.Client, stream string) *Outbox {
	return &Outbox{rdb: rdb, stream: stream, maxLen: 100000}
}

func (o *Outbox) Publish(ctx context.Context, ev OrderEvent) error {
	return o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]any{
			"event_id":    ev.EventID,
			"order_id":    ev.OrderID,
			"status":      string(ev.Status),
			"reason":      ev.Reason,
			"occurred_at": ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}
