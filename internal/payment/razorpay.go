package payment

import (
	"context"
	"fmt"
	"time"

	razorpay "github.com/razorpay/razorpay-go"
)

// orderCreator 是 SDK 中 Order 资源的下单方法，测试时可替换。
type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayOracle 通过 Razorpay 官方 SDK 下单。
// 网关金额以最小货币单位计（paise），因此乘以 100。
type RazorpayOracle struct {
	keyID  string
	orders orderCreator
}

func NewRazorpayOracle(keyID, keySecret string) *RazorpayOracle {
	client := razorpay.NewClient(keyID, keySecret)
	return &RazorpayOracle{keyID: keyID, orders: client.Order}
}

func (r *RazorpayOracle) KeyID() string { return r.keyID }

func (r *RazorpayOracle) CreateRemoteOrder(ctx context.Context, amount int64, currency string, notes map[string]string) (RemoteOrder, error) {
	if err := ctx.Err(); err != nil {
		return RemoteOrder{}, err
	}

	data := map[string]interface{}{
		"amount":   amount * 100,
		"currency": currency,
		"receipt":  fmt.Sprintf("receipt_%d", time.Now().UnixMilli()),
	}
	if len(notes) > 0 {
		data["notes"] = notes
	}

	body, err := r.orders.Create(data, nil)
	if err != nil {
		return RemoteOrder{}, fmt.Errorf("razorpay create order: %w", err)
	}
	id, _ := body["id"].(string)
	if id == "" {
		return RemoteOrder{}, fmt.Errorf("razorpay create order: response without id")
	}
	if cur, ok := body["currency"].(string); ok && cur != "" {
		currency = cur
	}
	return RemoteOrder{ID: id, Amount: amount, Currency: currency}, nil
}
