package queue

import (
	"context"
	"fmt"
	"time"

	"print_kiosk/internal/model"

	"github.com/google/uuid"
)

// OrderEvent 订单状态变更事件，写入 Redis Stream outbox 后由 Relay 转发到 Kafka。
type OrderEvent struct {
	EventID    string            `json:"event_id"`
	OrderID    string            `json:"order_id"`
	Status     model.OrderStatus `json:"status"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewOrderEvent 生成带唯一 EventID 的事件，EventID 用于下游幂等。
func NewOrderEvent(orderID string, status model.OrderStatus, reason string) OrderEvent {
	return OrderEvent{
		EventID:    uuid.NewString(),
		OrderID:    orderID,
		Status:     status,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e OrderEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.OrderID == "" {
		return fmt.Errorf("order_id is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}
	return nil
}

// Record 转换为审计表记录。
func (e OrderEvent) Record() *model.OrderEvent {
	return &model.OrderEvent{
		EventID:    e.EventID,
		OrderID:    e.OrderID,
		Status:     e.Status,
		Reason:     e.Reason,
		OccurredAt: e.OccurredAt,
	}
}

// Publisher 事件发布方。
type Publisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
}
