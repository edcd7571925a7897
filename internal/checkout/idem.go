package checkout

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hydrolia/checkout/internal/redisx"
)

// RedisIdem maps a checkout attempt to the order it produced.
type RedisIdem struct {
	Client *redis.Client
}

func (s *RedisIdem) LookupAttempt(ctx context.Context, attemptID string) (string, bool) {
	id, err := s.Client.Get(ctx, fmt.Sprintf(redisx.KeyIdemCheckout, attemptID)).Result()
	return id, err == nil && id != ""
}

func (s *RedisIdem) RememberAttempt(ctx context.Context, attemptID, orderID string) {
	key := fmt.Sprintf(redisx.KeyIdemCheckout, attemptID)
	_ = s.Client.Set(ctx, key, orderID, redisx.TTLIdempotency).Err()
}
