package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"github.com/zulandar/jigged/internal/config"
)

// ErrRateLimited is returned when a company exceeds its analyze quota.
var ErrRateLimited = errors.New("too many requests, please wait before trying again")

const limiterPrefix = "jigged:import:analyze"

// NewLimiter builds the per-company analyze limiter from cfg.
func NewLimiter(cfg config.ImportConfig) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("importer: rate limit %q: %w", cfg.RateLimit, err)
	}
	var store limiter.Store
	switch cfg.RateLimitStore {
	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("importer: redis url: %w", err)
		}
		store, err = sredis.NewStoreWithOptions(redis.NewClient(opts), limiter.StoreOptions{Prefix: limiterPrefix})
		if err != nil {
			return nil, fmt.Errorf("importer: redis store: %w", err)
		}
	default:
		store = memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: limiterPrefix})
	}
	return limiter.New(store, rate), nil
}

// allow consumes one request for key.
func allow(ctx context.Context, l *limiter.Limiter, key string) error {
	if l == nil {
		return nil
	}
	lc, err := l.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("importer: rate limit: %w", err)
	}
	if lc.Reached {
		return ErrRateLimited
	}
	return nil
}
