package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch 仅当锁值匹配 token 时才删除，避免误删他人续上的锁。
const luaReleaseLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// ErrLockTimeout 在 MaxWait 内没拿到锁。
var ErrLockTimeout = errors.New("redis lock wait timeout")

// Locker 基于 SET NX PX 的分布式互斥锁，用于多实例部署时串行化同一订单的回调。
type Locker struct {
	rdb *rd.Client

	TTL       time.Duration // 锁自动过期时间，防止持有者崩溃后死锁
	MaxWait   time.Duration
	RetryWait time.Duration
}

func NewLocker(rdb *rd.Client) *Locker {
	return &Locker{
		rdb:       rdb,
		TTL:       30 * time.Second,
		MaxWait:   10 * time.Second,
		RetryWait: 25 * time.Millisecond,
	}
}

// Lock 阻塞直到获得 key 对应的锁；返回的 unlock 只释放自己持有的锁。
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := OrderLockKey(key)
	token := uuid.NewString()
	deadline := time.Now().Add(l.MaxWait)

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", lockKey, err)
		}
		if ok {
			return func() { l.release(lockKey, token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		timer := time.NewTimer(l.RetryWait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locker) release(lockKey, token string) {
	// 请求 ctx 可能已取消，释放锁使用独立的短超时。
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = l.rdb.Eval(ctx, luaReleaseLockIfMatch, []string{lockKey}, token).Err()
}
