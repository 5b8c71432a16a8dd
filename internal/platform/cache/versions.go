package cache

import (
	"context"
	"errors"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/JesusGarciaValadez/lumasachi-backend-sub001/internal/repositories"
)

// RedisVersionStore keeps one INCR counter per namespace.
type RedisVersionStore struct {
	client *redis.Client
	prefix string
}

var _ repositories.CacheVersionRepository = (*RedisVersionStore)(nil)

// NewRedisVersionStore constructs a version store whose keys are prefix + "cache-version:" + namespace.
func NewRedisVersionStore(client *redis.Client, prefix string) (*RedisVersionStore, error) {
	if client == nil {
		return nil, errors.New("cache: redis client is required")
	}
	return &RedisVersionStore{client: client, prefix: prefix}, nil
}

func (s *RedisVersionStore) key(namespace string) string {
	return s.prefix + "cache-version:" + namespace
}

// Bump increments the namespace counter in one round trip. Missing keys start at 1.
func (s *RedisVersionStore) Bump(ctx context.Context, namespace string) (int64, error) {
	const op = "cache.bump"
	ns, err := repositories.ValidateNamespace(op, namespace)
	if err != nil {
		return 0, err
	}
	value, err := s.client.Incr(ctx, s.key(ns)).Result()
	if err != nil {
		return 0, repositories.NewVersionError(op, repositories.VersionErrorUnavailable, "redis incr failed", err)
	}
	return value, nil
}

// Current returns zero for namespaces that were never bumped.
func (s *RedisVersionStore) Current(ctx context.Context, namespace string) (int64, error) {
	const op = "cache.current"
	ns, err := repositories.ValidateNamespace(op, namespace)
	if err != nil {
		return 0, err
	}
	value, err := s.client.Get(ctx, s.key(ns)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, repositories.NewVersionError(op, repositories.VersionErrorUnavailable, "redis get failed", err)
	}
	return value, nil
}

// MemoryVersionStore is the single-process store used in tests and local runs.
type MemoryVersionStore struct {
	mu       sync.Mutex
	versions map[string]int64
}

var _ repositories.CacheVersionRepository = (*MemoryVersionStore)(nil)

func NewMemoryVersionStore() *MemoryVersionStore {
	return &MemoryVersionStore{versions: make(map[string]int64)}
}

func (s *MemoryVersionStore) Bump(_ context.Context, namespace string) (int64, error) {
	ns, err := repositories.ValidateNamespace("cache.bump", namespace)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[ns]++
	return s.versions[ns], nil
}

func (s *MemoryVersionStore) Current(_ context.Context, namespace string) (int64, error) {
	ns, err := repositories.ValidateNamespace("cache.current", namespace)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[ns], nil
}
