package cache

import (
	"context"
	"time"
)

// Claimer grants a key to the first caller within its TTL. Used to suppress
// duplicate signals across one process or, with Redis, across replicas.
type Claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
