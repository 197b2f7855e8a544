package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ledgercore/internal/repositories/cache"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrStoreConflict is returned when an optimistic update keeps losing races.
var ErrStoreConflict = errors.New("circuit state update conflicted too many times")

// Store persists circuit state. Update must apply fn atomically with respect
// to other Update calls for the same name and return the state it wrote.
type Store interface {
	Load(ctx context.Context, name string) (CircuitState, error)
	Update(ctx context.Context, name string, fn func(*CircuitState)) (CircuitState, error)
	Delete(ctx context.Context, name string) error
}

// MemoryStore keeps state in process. State is not shared between instances.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]CircuitState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]CircuitState)}
}

func (s *MemoryStore) Load(_ context.Context, name string) (CircuitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[name], nil
}

func (s *MemoryStore) Update(_ context.Context, name string, fn func(*CircuitState)) (CircuitState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[name]
	fn(&st)
	s.states[name] = st
	return st, nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, name)
	return nil
}

const redisWatchRetries = 8

// RedisStore shares state between instances. Updates run inside WATCH/MULTI
// so concurrent writers never lose a transition.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func stateKey(name string) string {
	return cache.GenerateKey("circuit", "state", name)
}

func (s *RedisStore) Load(ctx context.Context, name string) (CircuitState, error) {
	return s.read(ctx, s.client, stateKey(name))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c getter, key string) (CircuitState, error) {
	var st CircuitState
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return st, nil
		}
		return st, fmt.Errorf("failed to read circuit state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("failed to decode circuit state: %w", err)
	}
	return st, nil
}

func (s *RedisStore) Update(ctx context.Context, name string, fn func(*CircuitState)) (CircuitState, error) {
	key := stateKey(name)
	var written CircuitState

	for i := 0; i < redisWatchRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			st, err := s.read(ctx, tx, key)
			if err != nil {
				return err
			}
			fn(&st)
			data, err := json.Marshal(st)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			written = st
			return err
		}, key)

		if err == nil {
			return written, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return CircuitState{}, err
		}
	}
	return CircuitState{}, ErrStoreConflict
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	return s.client.Del(ctx, stateKey(name)).Err()
}

// FallbackStore prefers primary and degrades to fallback when primary errors.
// While degraded, instances no longer agree on breaker state.
type FallbackStore struct {
	primary  Store
	fallback Store
	logger   *zap.Logger
	degraded atomic.Bool
}

func NewFallbackStore(primary, fallback Store, logger *zap.Logger) *FallbackStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackStore{primary: primary, fallback: fallback, logger: logger}
}

// Degraded reports whether the last primary call failed.
func (s *FallbackStore) Degraded() bool {
	return s.degraded.Load()
}

func (s *FallbackStore) observe(err error) {
	if err != nil {
		if !s.degraded.Swap(true) {
			s.logger.Warn("circuit state store unavailable, using in-memory fallback", zap.Error(err))
		}
		return
	}
	if s.degraded.Swap(false) {
		s.logger.Info("circuit state store recovered")
	}
}

func (s *FallbackStore) Load(ctx context.Context, name string) (CircuitState, error) {
	st, err := s.primary.Load(ctx, name)
	s.observe(err)
	if err != nil {
		return s.fallback.Load(ctx, name)
	}
	return st, nil
}

func (s *FallbackStore) Update(ctx context.Context, name string, fn func(*CircuitState)) (CircuitState, error) {
	st, err := s.primary.Update(ctx, name, fn)
	s.observe(err)
	if err != nil {
		return s.fallback.Update(ctx, name, fn)
	}
	return st, nil
}

// Delete clears both stores. A primary failure is returned even though the
// local copy was cleared, since other instances still see the old state.
func (s *FallbackStore) Delete(ctx context.Context, name string) error {
	err := s.primary.Delete(ctx, name)
	s.observe(err)
	if ferr := s.fallback.Delete(ctx, name); ferr != nil {
		return ferr
	}
	if err != nil {
		return fmt.Errorf("shared circuit state not cleared: %w", err)
	}
	return nil
}

// timeoutStore bounds every call so a hung store cannot stall requests.
type timeoutStore struct {
	Store
	timeout time.Duration
}

// WithTimeout bounds each store call to d.
func WithTimeout(s Store, d time.Duration) Store {
	return &timeoutStore{Store: s, timeout: d}
}

func (s *timeoutStore) Load(ctx context.Context, name string) (CircuitState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.Store.Load(ctx, name)
}

func (s *timeoutStore) Update(ctx context.Context, name string, fn func(*CircuitState)) (CircuitState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.Store.Update(ctx, name, fn)
}

func (s *timeoutStore) Delete(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.Store.Delete(ctx, name)
}
