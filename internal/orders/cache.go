package orders

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-saga/internal/redisx"
)

// RedisCache keeps the latest order snapshot for reads. The database stays
// authoritative; cache errors are logged and treated as misses.
type RedisCache struct {
	rdb redis.Cmdable
	log *zap.Logger
}

func NewRedisCache(rdb redis.Cmdable, log *zap.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, log: log}
}

func (c *RedisCache) Get(ctx context.Context, id string) (Order, bool) {
	s, err := c.rdb.Get(ctx, redisx.OrderKey(id)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("order cache read failed", zap.String("order_id", id), zap.Error(err))
		}
		return Order{}, false
	}
	var o Order
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return Order{}, false
	}
	return o, true
}

func (c *RedisCache) Set(ctx context.Context, o Order) {
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisx.OrderKey(o.ID), b, redisx.TTLOrderSnapshot).Err(); err != nil {
		c.log.Warn("order cache write failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}
