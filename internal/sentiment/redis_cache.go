package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"confluence/internal/config"
)

const historyKey = "fear_greed:history"

// RedisCache 把指数历史以 JSON 存入 Redis。
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache 连接并 ping Redis。
func NewRedisCache(ctx context.Context, cfg config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return newRedisCache(client, cfg.Prefix, time.Duration(cfg.TTLHours)*time.Hour), nil
}

func newRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Load(ctx context.Context) ([]Point, error) {
	data, err := c.client.Get(ctx, c.key()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var points []Point
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, fmt.Errorf("decode cached history: %w", err)
	}
	return points, nil
}

func (c *RedisCache) Store(ctx context.Context, points []Point) error {
	data, err := json.Marshal(points)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(), data, c.ttl).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) key() string {
	if c.prefix == "" {
		return historyKey
	}
	return fmt.Sprintf("%s:%s", c.prefix, historyKey)
}
