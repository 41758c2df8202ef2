package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// RemoteOrder 支付网关返回的订单句柄。
type RemoteOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Oracle 支付网关下单接口。
type Oracle interface {
	CreateRemoteOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (RemoteOrder, error)
	// KeyID 前端拉起支付所需的公开 key，本地模式为空。
	KeyID() string
}

// LocalOracle 本地生成订单号，用于演示环境和测试；
// 回调签名用同一个 secret 通过 Sign 计算。
type LocalOracle struct{}

func (LocalOracle) CreateRemoteOrder(_ context.Context, amount int64, currency string, _ map[string]string) (RemoteOrder, error) {
	if amount < 0 {
		return RemoteOrder{}, fmt.Errorf("amount must be >= 0")
	}
	id := "order_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	return RemoteOrder{ID: id, Amount: amount, Currency: currency}, nil
}

func (LocalOracle) KeyID() string { return "" }
