package model

import (
	"time"

	"gorm.io/gorm"
)

// OrderStatus 描述订单生命周期状态机。
type OrderStatus string

const (
	OrderCreated   OrderStatus = "created"   // 已建单，待支付
	OrderPaid      OrderStatus = "paid"      // 支付已验签，待入打印队列
	OrderPrinting  OrderStatus = "printing"  // 打印任务已入队
	OrderCompleted OrderStatus = "completed" // 打印完成（终态）
	OrderFailed    OrderStatus = "failed"    // 重试耗尽（终态）
	OrderCancelled OrderStatus = "cancelled" // 排队中被用户取消（终态）
)

// orderTransitions 只允许单步前进，不允许跳步或回退。
var orderTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderCreated:   {OrderPaid: true},
	OrderPaid:      {OrderPrinting: true},
	OrderPrinting:  {OrderCompleted: true, OrderFailed: true, OrderCancelled: true},
	OrderCompleted: {},
	OrderFailed:    {},
	OrderCancelled: {},
}

// CanTransition 判断 from → to 是否为合法状态迁移。
func CanTransition(from, to OrderStatus) bool {
	return orderTransitions[from][to]
}

// Valid 判断状态值是否已知，用于过滤查询参数。
func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// Terminal 终态订单不再被核心逻辑修改。
func (s OrderStatus) Terminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// Settled 表示已完成验签（paid 之后的任一非失败状态），重复回调直接返回已记录结果。
func (s OrderStatus) Settled() bool {
	return s == OrderPaid || s == OrderPrinting || s == OrderCompleted
}

// Order 打印订单。Amount 在建单时确定，之后不再重算。
type Order struct {
	ID        uint           `gorm:"primarykey" json:"-"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	OrderID  string        `gorm:"size:64;uniqueIndex;not null" json:"order_id"`
	FileID   string        `gorm:"size:128;not null;index" json:"file_id"`
	Settings PrintSettings `gorm:"serializer:json;not null" json:"print_settings"`
	Amount   int64         `gorm:"not null" json:"amount"` // 货币主单位，与支付网关下单金额一致
	Currency string        `gorm:"size:8;not null" json:"currency"`
	Email    string        `gorm:"size:255" json:"email"`
	Phone    string        `gorm:"size:32" json:"phone"`

	Status         OrderStatus `gorm:"size:16;not null;default:created;index" json:"status"`
	PaymentID      string      `gorm:"size:64" json:"payment_id,omitempty"`
	CollectionCode int         `json:"collection_code,omitempty"`
	PrintJobID     string      `gorm:"size:64;index" json:"print_job_id,omitempty"`
	FailureReason  string      `gorm:"size:255" json:"failure_reason,omitempty"`

	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (Order) TableName() string { return "orders" }

// Transaction 是交易列表的读视图：订单 + 文件名 + 页数。
type Transaction struct {
	Order
	OriginalName string `json:"original_name"`
	PageCount    int    `json:"page_count"`
}
