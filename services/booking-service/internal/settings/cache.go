package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
)

const DefaultCacheKey = "slotdesk:availability_config"

type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedProvider keeps the configuration in Redis for ttl. Redis failures are
// logged and the wrapped provider is used directly.
type CachedProvider struct {
	next   Provider
	rdb    redisClient
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedProvider(next Provider, rdb redisClient, ttl time.Duration, logger *slog.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedProvider{next: next, rdb: rdb, key: DefaultCacheKey, ttl: ttl, logger: logger}
}

func (p *CachedProvider) Get(ctx context.Context) (model.AvailabilityConfig, error) {
	raw, err := p.rdb.Get(ctx, p.key).Bytes()
	switch {
	case err == nil:
		var cfg model.AvailabilityConfig
		if err := json.Unmarshal(raw, &cfg); err == nil {
			return cfg, nil
		}
		p.logger.Warn("discarding undecodable cached settings", "key", p.key)
	case !errors.Is(err, redis.Nil):
		p.logger.Warn("settings cache unavailable", "err", err)
		return p.next.Get(ctx)
	}

	cfg, err := p.next.Get(ctx)
	if err != nil {
		return model.AvailabilityConfig{}, err
	}
	if body, err := json.Marshal(cfg); err == nil {
		if err := p.rdb.Set(ctx, p.key, body, p.ttl).Err(); err != nil {
			p.logger.Warn("settings cache write failed", "err", err)
		}
	}
	return cfg, nil
}

func (p *CachedProvider) Save(ctx context.Context, cfg model.AvailabilityConfig) error {
	if err := p.next.Save(ctx, cfg); err != nil {
		return err
	}
	if err := p.rdb.Del(ctx, p.key).Err(); err != nil {
		p.logger.Warn("settings cache invalidation failed", "err", err)
	}
	return nil
}
