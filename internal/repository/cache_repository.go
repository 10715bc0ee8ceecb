package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/scissor-app/scissor/internal/models"
)

var ErrCacheMiss = errors.New("cache miss")

// CacheRepository is the derived, disposable view in front of the mapping
// store. Entries are keyed both per code (single-mapping resolution) and per
// owner (list endpoints). Every mutation to a mapping must call Invalidate
// for both keys before the mutation is acknowledged; the TTL is only a
// backstop against missed invalidations.
type CacheRepository interface {
	GetMapping(ctx context.Context, code string) (*models.ShortMapping, error)
	SetMapping(ctx context.Context, m *models.ShortMapping) error
	GetOwnerList(ctx context.Context, ownerID int64) ([]models.ShortMapping, error)
	SetOwnerList(ctx context.Context, ownerID int64, mappings []models.ShortMapping) error
	Invalidate(ctx context.Context, code string, ownerID int64) error
}

type cacheRepository struct {
	redis *RedisDB
	ttl   time.Duration
}

func NewCacheRepository(redis *RedisDB, ttl time.Duration) CacheRepository {
	return &cacheRepository{redis: redis, ttl: ttl}
}

func (r *cacheRepository) GetMapping(ctx context.Context, code string) (*models.ShortMapping, error) {
	data, err := r.redis.Client.Get(ctx, codeKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get failed: %w", err)
	}

	var m models.ShortMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached mapping: %w", err)
	}

	return &m, nil
}

func (r *cacheRepository) SetMapping(ctx context.Context, m *models.ShortMapping) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	return r.redis.Client.Set(ctx, codeKey(m.Code), data, r.ttl).Err()
}

func (r *cacheRepository) GetOwnerList(ctx context.Context, ownerID int64) ([]models.ShortMapping, error) {
	data, err := r.redis.Client.Get(ctx, ownerKey(ownerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("cache get failed: %w", err)
	}

	var mappings []models.ShortMapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached owner list: %w", err)
	}

	return mappings, nil
}

func (r *cacheRepository) SetOwnerList(ctx context.Context, ownerID int64, mappings []models.ShortMapping) error {
	data, err := json.Marshal(mappings)
	if err != nil {
		return fmt.Errorf("failed to marshal owner list: %w", err)
	}

	return r.redis.Client.Set(ctx, ownerKey(ownerID), data, r.ttl).Err()
}

func (r *cacheRepository) Invalidate(ctx context.Context, code string, ownerID int64) error {
	return r.redis.Client.Del(ctx, codeKey(code), ownerKey(ownerID)).Err()
}

func codeKey(code string) string {
	return "mapping:code:" + code
}

func ownerKey(ownerID int64) string {
	return fmt.Sprintf("mapping:owner:%d", ownerID)
}
