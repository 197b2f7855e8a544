package handlers

import (
	"context"
	"encoding/json"
	"time"

	"ledgercore/internal/repositories/cache"

	"go.uber.org/zap"
)

// StatsTTL is how long aggregated dashboards are served from cache.
const StatsTTL = 30 * time.Second

// StatsCache is the subset of the redis cache service used for dashboards.
type StatsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// statsCache serves aggregate reads through StatsCache. A nil cache or a
// cache error falls through to the loader.
type statsCache struct {
	store  StatsCache
	logger *zap.Logger
}

func newStatsCache(store StatsCache, logger *zap.Logger) *statsCache {
	return &statsCache{store: store, logger: logger}
}

func statsKey(name string) string {
	return cache.GenerateKey("stats", "dashboard", name)
}

func (s *statsCache) load(ctx context.Context, name string, dest interface{}, loader func() (interface{}, error)) error {
	if s.store != nil {
		found, err := s.store.Get(ctx, statsKey(name), dest)
		if err == nil && found {
			return nil
		}
		if err != nil {
			s.logger.Warn("stats cache read failed", zap.String("key", statsKey(name)), zap.Error(err))
		}
	}

	v, err := loader()
	if err != nil {
		return err
	}
	// round-trip through JSON so dest has the same shape as a cache hit
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return err
	}

	if s.store != nil {
		if err := s.store.SetWithTTL(ctx, statsKey(name), v, StatsTTL); err != nil {
			s.logger.Warn("stats cache write failed", zap.String("key", statsKey(name)), zap.Error(err))
		}
	}
	return nil
}

func (s *statsCache) invalidate(ctx context.Context, name string) {
	if s.store == nil {
		return
	}
	if err := s.store.Delete(ctx, statsKey(name)); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.String("key", statsKey(name)), zap.Error(err))
	}
}
