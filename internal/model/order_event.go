package model

import "time"

// OrderEvent 订单状态变更审计记录，由 Kafka 消费者写入。
// EventID 唯一，重复投递按幂等成功处理。
type OrderEvent struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`

	EventID    string      `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	OrderID    string      `gorm:"size:64;not null;index" json:"order_id"`
	Status     OrderStatus `gorm:"size:16;not null" json:"status"`
	Reason     string      `gorm:"size:255" json:"reason,omitempty"`
	OccurredAt time.Time   `gorm:"not null" json:"occurred_at"`
}

func (OrderEvent) TableName() string { return "order_events" }
