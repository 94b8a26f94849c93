package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redislib "github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix   = "streamlayer:cache:"
	redisIndexSuffix = ":index"
	redisOpTimeout   = 3 * time.Second
)

// RedisStore implements Store on Redis, for embedders that already run one
// and want the cache shared across player instances. Entries live under
// streamlayer:cache:<store>:<key>; a per-store sorted set scored by write
// timestamp drives oldest-first eviction.
type RedisStore struct {
	client *redislib.Client
	maxAge time.Duration
	logger *slog.Logger

	now func() time.Time
}

// RedisConfig carries the connection settings for a Redis-backed cache.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := redislib.NewClient(&redislib.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		client: client,
		maxAge: DefaultMaxAge,
		logger: logger,
		now:    time.Now,
	}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Set(store, key string, value []byte) error {
	env := envelope{
		Timestamp: s.now().UnixMilli(),
		Size:      len(value),
		Value:     value,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, entryKey(store, key), data, 0)
	pipe.ZAdd(ctx, indexKey(store), redislib.Z{Score: float64(env.Timestamp), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return s.evict(ctx, store)
}

func (s *RedisStore) Get(store, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	data, err := s.client.Get(ctx, entryKey(store, key)).Bytes()
	if err == redislib.Nil {
		return nil, false
	}
	if err != nil {
		s.logger.Error("cache read failed", "store", store, "key", key, "error", err)
		return nil, false
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Error("cache entry corrupt", "store", store, "key", key, "error", err)
		return nil, false
	}

	if s.now().Sub(time.UnixMilli(env.Timestamp)) > s.maxAge {
		go func() {
			if err := s.Delete(store, key); err != nil {
				s.logger.Error("expired entry delete failed", "store", store, "key", key, "error", err)
			}
		}()
		return nil, false
	}

	return env.Value, true
}

func (s *RedisStore) Delete(store, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKey(store, key))
	pipe.ZRem(ctx, indexKey(store), key)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Clear(store string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	keys, err := s.client.ZRange(ctx, indexKey(store), 0, -1).Result()
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, entryKey(store, key))
	}
	pipe.Del(ctx, indexKey(store))
	_, err = pipe.Exec(ctx)
	return err
}

// evict trims the store back to its item ceiling, oldest-written first.
func (s *RedisStore) evict(ctx context.Context, store string) error {
	limit := int64(storeLimit(store))

	count, err := s.client.ZCard(ctx, indexKey(store)).Result()
	if err != nil {
		return err
	}
	if count <= limit {
		return nil
	}

	oldest, err := s.client.ZPopMin(ctx, indexKey(store), count-limit).Result()
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, z := range oldest {
		if key, ok := z.Member.(string); ok {
			pipe.Del(ctx, entryKey(store, key))
		}
	}
	_, err = pipe.Exec(ctx)
	return err
}

func entryKey(store, key string) string {
	return redisKeyPrefix + store + ":" + key
}

func indexKey(store string) string {
	return redisKeyPrefix + store + redisIndexSuffix
}
