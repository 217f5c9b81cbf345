package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"escra/internal/models"

	"github.com/redis/go-redis/v9"
)

// CacheService caches read paths (wallet balances, project snapshots). It is
// never consulted for writes; every ledger mutation reads committed state.
type CacheService struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCacheService(client *redis.Client, defaultTTL time.Duration) *CacheService {
	return &CacheService{
		client: client,
		ttl:    defaultTTL,
	}
}

// Base operations
func (s *CacheService) Set(ctx context.Context, key string, value interface{}) error {
	return s.SetWithTTL(ctx, key, value, s.ttl)
}

func (s *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to get cache value: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return true, nil
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

// Key generation
func (s *CacheService) GenerateKey(entityType, keyType string, value interface{}) string {
	return fmt.Sprintf("%s:%s:%v", entityType, keyType, value)
}

// Wallet caching
func (s *CacheService) CacheWallet(ctx context.Context, wallet *models.Wallet) error {
	key := s.GenerateKey("wallet", "id", wallet.ID)
	return s.Set(ctx, key, wallet)
}

func (s *CacheService) GetWallet(ctx context.Context, walletID uint) (*models.Wallet, error) {
	key := s.GenerateKey("wallet", "id", walletID)
	var wallet models.Wallet
	found, err := s.Get(ctx, key, &wallet)
	if err != nil || !found {
		return nil, err
	}
	return &wallet, nil
}

func (s *CacheService) InvalidateWallet(ctx context.Context, walletID uint) error {
	return s.Delete(ctx, s.GenerateKey("wallet", "id", walletID))
}

// Project caching
func (s *CacheService) CacheProject(ctx context.Context, project *models.Project) error {
	key := s.GenerateKey("project", "id", project.ID)
	return s.Set(ctx, key, project)
}

func (s *CacheService) GetProject(ctx context.Context, projectID uint) (*models.Project, error) {
	key := s.GenerateKey("project", "id", projectID)
	var project models.Project
	found, err := s.Get(ctx, key, &project)
	if err != nil || !found {
		return nil, err
	}
	return &project, nil
}

func (s *CacheService) InvalidateProject(ctx context.Context, projectID uint) error {
	return s.Delete(ctx, s.GenerateKey("project", "id", projectID))
}

// HealthCheck pings redis.
func (s *CacheService) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	return nil
}

// FlushAll flushes all keys from the cache
func (s *CacheService) FlushAll(ctx context.Context) error {
	return s.client.FlushAll(ctx).Err()
}

// Close closes the Redis client connection
func (s *CacheService) Close() error {
	return s.client.Close()
}
