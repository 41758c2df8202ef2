package redis

import "fmt"

// OrderLockKey 订单级互斥锁，串行化同一订单的验签与状态迁移。
func OrderLockKey(orderID string) string {
	return fmt.Sprintf("print_kiosk:order:lock:%s", orderID)
}

// RateLimitKey 接口限流计数键，scope 为路由名，subject 为客户端标识。
func RateLimitKey(scope, subject string) string {
	return fmt.Sprintf("print_kiosk:rate_limit:%s:%s", scope, subject)
}
