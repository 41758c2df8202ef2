// Package payment 负责支付网关下单与回调验签。
package payment

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"print_kiosk/internal/model"
	"print_kiosk/internal/store"
)

var (
	// ErrSignatureMismatch 验签失败；不改变任何状态，也不透露细节。
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	// ErrInvalidOrderState 订单当前状态不允许确认支付（例如已失败）。
	ErrInvalidOrderState = errors.New("invalid order state for payment")
)

// VerifyRequest 网关回调参数。OrderID 为空时取 RemoteOrderID。
type VerifyRequest struct {
	OrderID       string
	PaymentID     string
	RemoteOrderID string
	Signature     string
}

// VerifiedPayment 确认支付后的结果；重复回调返回同一份记录。
type VerifiedPayment struct {
	OrderID        string            `json:"order_id"`
	PaymentID      string            `json:"payment_id"`
	CollectionCode int               `json:"collection_code"`
	PrintJobID     string            `json:"print_job_id,omitempty"`
	Status         model.OrderStatus `json:"status"`
}

// OrderStore Gate 只需要读订单与条件更新。
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
	UpdateOrder(ctx context.Context, orderID string, expect model.OrderStatus, patch store.OrderPatch) error
}

// Gate 幂等验签门。调用方需按 orderID 串行化 Verify（见 order.Service）。
type Gate struct {
	secret string
	store  OrderStore
	code   func() (int, error)
	now    func() time.Time
}

func NewGate(secret string, st OrderStore) *Gate {
	return &Gate{secret: secret, store: st, code: CollectionCode, now: time.Now}
}

// Verify 验签并把订单从 created 推进到 paid。
// 返回的 bool 表示是否为首次确认；订单已处于 paid/printing/completed 时
// 直接返回已记录的结果（fresh=false），不会生成新的取件码。
func (g *Gate) Verify(ctx context.Context, req VerifyRequest) (VerifiedPayment, bool, error) {
	if req.OrderID == "" {
		req.OrderID = req.RemoteOrderID
	}
	if !VerifySignature(g.secret, req.RemoteOrderID, req.PaymentID, req.Signature) {
		return VerifiedPayment{}, false, ErrSignatureMismatch
	}
	// 签名只覆盖 RemoteOrderID，必须和被确认的订单一致。
	if req.OrderID != req.RemoteOrderID {
		return VerifiedPayment{}, false, ErrSignatureMismatch
	}

	o, err := g.store.GetOrder(ctx, req.OrderID)
	if err != nil {
		return VerifiedPayment{}, false, err
	}

	switch {
	case o.Status.Settled():
		return recorded(o), false, nil
	case o.Status != model.OrderCreated:
		return VerifiedPayment{}, false, fmt.Errorf("%w: order %s is %s", ErrInvalidOrderState, o.OrderID, o.Status)
	}

	code, err := g.code()
	if err != nil {
		return VerifiedPayment{}, false, fmt.Errorf("generate collection code: %w", err)
	}
	paid := model.OrderPaid
	now := g.now()
	err = g.store.UpdateOrder(ctx, o.OrderID, model.OrderCreated, store.OrderPatch{
		Status:         &paid,
		PaymentID:      &req.PaymentID,
		CollectionCode: &code,
		PaidAt:         &now,
	})
	if errors.Is(err, store.ErrStaleStatus) {
		// 并发回调抢先完成了迁移，返回它记录的结果。
		latest, gerr := g.store.GetOrder(ctx, o.OrderID)
		if gerr != nil {
			return VerifiedPayment{}, false, gerr
		}
		if latest.Status.Settled() {
			return recorded(latest), false, nil
		}
		return VerifiedPayment{}, false, fmt.Errorf("%w: order %s is %s", ErrInvalidOrderState, latest.OrderID, latest.Status)
	}
	if err != nil {
		return VerifiedPayment{}, false, err
	}

	return VerifiedPayment{
		OrderID:        o.OrderID,
		PaymentID:      req.PaymentID,
		CollectionCode: code,
		Status:         model.OrderPaid,
	}, true, nil
}

func recorded(o *model.Order) VerifiedPayment {
	return VerifiedPayment{
		OrderID:        o.OrderID,
		PaymentID:      o.PaymentID,
		CollectionCode: o.CollectionCode,
		PrintJobID:     o.PrintJobID,
		Status:         o.Status,
	}
}

// CollectionCode 生成 [1000, 9999] 的四位取件码。
// 取件码只用于柜台人工核对，不是安全凭证，允许碰撞。
func CollectionCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return 0, err
	}
	return 1000 + int(n.Int64()), nil
}
