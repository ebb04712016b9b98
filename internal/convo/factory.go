package convo

import (
	"context"
	"strings"
	"time"
)

// NewStore picks the session backend: Redis when configured (the intended
// multi-instance deployment), then Postgres (durable single-cache option),
// then the in-process map for dev.
func NewStore(ctx context.Context, redisAddr, redisPassword string, redisDB int, ttl time.Duration, databaseURL string) (Store, error) {
	if strings.TrimSpace(redisAddr) != "" {
		return NewRedisStore(ctx, redisAddr, redisPassword, redisDB, ttl)
	}
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	return NewMemoryStore(), nil
}
