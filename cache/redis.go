package cache

import (
	"context"
	"fmt"
	"time"

	"SpotWire/config"
	"SpotWire/logger"

	"github.com/redis/go-redis/v9"
)

// RedisClient 是全局Redis客户端
var RedisClient *redis.Client

// ConnectRedis 初始化Redis连接
func ConnectRedis(cfg *config.Config) error {
	RedisClient = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := RedisClient.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return nil
}

// CloseRedis 关闭Redis连接
func CloseRedis() error {
	if RedisClient != nil {
		return RedisClient.Close()
	}
	return nil
}

// TestRedis 测试Redis连接和基本操作
func TestRedis() error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	ctx := context.Background()

	if err := RedisClient.Set(ctx, "spotwire:test", "ok", time.Minute).Err(); err != nil {
		return fmt.Errorf("failed to set Redis key: %w", err)
	}
	val, err := RedisClient.Get(ctx, "spotwire:test").Result()
	if err != nil {
		return fmt.Errorf("failed to get Redis key: %w", err)
	}
	if val != "ok" {
		return fmt.Errorf("unexpected value from Redis: got %s", val)
	}
	if _, err := RedisClient.Del(ctx, "spotwire:test").Result(); err != nil {
		return fmt.Errorf("failed to delete Redis key: %w", err)
	}

	return nil
}

const (
	credentialKeyPrefix = "spotwire:auth:"
	clusterKey          = "spotwire:cluster"
)

// CredentialStore 基于Redis的凭证缓存，跨进程重启保留token。
// 所有操作都是尽力而为：Redis不可用只记日志，绝不让上层失败。
type CredentialStore struct{}

// NewCredentialStore returns a store backed by the global Redis client.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{}
}

// LoadCredential returns the cached raw credential payload, or nil.
func (s *CredentialStore) LoadCredential(ctx context.Context, kind string) []byte {
	if RedisClient == nil {
		return nil
	}
	raw, err := RedisClient.Get(ctx, credentialKeyPrefix+kind).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("credential cache read failed", logger.ErrorField(err))
		}
		return nil
	}
	return raw
}

// SaveCredential caches a raw credential payload for its remaining
// validity.
func (s *CredentialStore) SaveCredential(ctx context.Context, kind string, raw []byte, ttl time.Duration) {
	if RedisClient == nil {
		return
	}
	if err := RedisClient.Set(ctx, credentialKeyPrefix+kind, raw, ttl).Err(); err != nil {
		logger.Warn("credential cache write failed", logger.ErrorField(err))
	}
}

// SaveCluster 缓存最新的完整cluster快照（JSON），供状态服务与重启后查看。
func SaveCluster(ctx context.Context, raw []byte) {
	if RedisClient == nil {
		return
	}
	if err := RedisClient.Set(ctx, clusterKey, raw, 24*time.Hour).Err(); err != nil {
		logger.Warn("cluster cache write failed", logger.ErrorField(err))
	}
}

// LoadCluster returns the last cached cluster snapshot, or nil.
func LoadCluster(ctx context.Context) []byte {
	if RedisClient == nil {
		return nil
	}
	raw, err := RedisClient.Get(ctx, clusterKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warn("cluster cache read failed", logger.ErrorField(err))
		}
		return nil
	}
	return raw
}
