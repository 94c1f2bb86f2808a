package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Brownie44l1/neucomp/internal/config"
)

const cachePrefix = "neucomp:result:"

// ResultCache stores JSON encoded compression results in Redis.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache returns a cache for cfg, or nil when no address is set.
func NewResultCache(cfg config.RedisConfig) *ResultCache {
	if cfg.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &ResultCache{client: client, ttl: cfg.TTL}
}

func (c *ResultCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetJSON decodes the value under key into v. It reports false on a miss.
func (c *ResultCache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, cachePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode cached result %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key for the configured TTL.
func (c *ResultCache) SetJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cachePrefix+key, data, c.ttl).Err()
}

func (c *ResultCache) Close() error {
	return c.client.Close()
}

// CacheKey identifies the result of compressing content with the given
// hash, model family and quality.
func CacheKey(contentMD5, family string, quality int) string {
	return fmt.Sprintf("%s:%s:%d", contentMD5, family, quality)
}

// FileMD5 returns the hex MD5 of a file's content.
func FileMD5(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	hash := md5.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
