package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"print_kiosk/internal/model"

	"github.com/segmentio/kafka-go"
)

// EventSink 审计事件落库，重复 EventID 需按成功处理。
type EventSink interface {
	PutOrderEvent(ctx context.Context, ev *model.OrderEvent) error
}

// Consumer 消费 Kafka 订单事件，写入 order_events 审计表。
type Consumer struct {
	r    *kafka.Reader
	sink EventSink
}

func NewConsumer(brokers []string, topic, groupID string, sink EventSink) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		sink: sink,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}
		if err := handleEvent(ctx, c.sink, m.Value); err != nil {
			slog.Warn("consumer handle event", "offset", m.Offset, "error", err)
		}
	}
}

// handleEvent 解码并落库一条事件；脏消息返回错误但不阻塞消费。
func handleEvent(ctx context.Context, sink EventSink, value []byte) error {
	var ev OrderEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return sink.PutOrderEvent(ctx, ev.Record())
}
