package confirm

import (
	"context"
	"time"

	"github.com/ariefcatur/go-secure-checkout/internal/logging"
	"github.com/ariefcatur/go-secure-checkout/internal/redisx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StatusCache answers "has this order left PENDING". Orders never return to
// PENDING, so only positive answers are cached.
type StatusCache struct {
	rdb    redis.Cmdable
	orders OrderService
	ttl    time.Duration
	log    *zap.Logger
}

func NewStatusCache(rdb redis.Cmdable, svc OrderService, log *zap.Logger) *StatusCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatusCache{rdb: rdb, orders: svc, ttl: redisx.TTLConfirmedCache, log: log}
}

func (c *StatusCache) Confirmed(ctx context.Context, orderID string) (bool, error) {
	log := logging.FromContext(ctx, c.log)
	key := redisx.OrderConfirmedKey(orderID)

	hit, err := redisx.Exists(ctx, c.rdb, key)
	if err != nil {
		log.Warn("confirmation_cache_read_failed", zap.Error(err))
	} else if hit {
		return true, nil
	}

	ok, err := c.orders.IsConfirmed(ctx, orderID)
	if err != nil || !ok {
		return false, err
	}
	if err := c.rdb.Set(ctx, key, "1", c.ttl).Err(); err != nil {
		log.Warn("confirmation_cache_write_failed", zap.Error(err))
	}
	return true, nil
}
