package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/relaybot/core/logger"
	"log/slog"
)

// Options configures the Redis-backed key-value substrate.
type Options struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// KV is a typed accessor layer over Redis. Every persistent entity of the bot
// (challenges, attempt counters, verified marks, block flags, route map,
// notification timestamps) is a row behind one of its methods.
type KV struct {
	rdb *redis.Client
	ns  string
}

// Open connects to Redis and verifies connectivity.
func Open(opts Options) (*KV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		logger.Store.Error("redis connect failed",
			slog.String("event", "storage.connect"),
			slog.String("host", opts.Addr),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("storage connect: %w", err)
	}

	logger.Store.Info("redis connected",
		slog.String("event", "storage.connect"),
		slog.String("host", opts.Addr),
		slog.Int("db", opts.DB),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)

	return New(client, opts.Namespace), nil
}

// New wraps an existing client. Used directly by tests.
func New(client *redis.Client, namespace string) *KV {
	if namespace == "" {
		namespace = "relaybot"
	}
	return &KV{rdb: client, ns: namespace}
}

// Close releases the underlying connection pool.
func (k *KV) Close() error {
	return k.rdb.Close()
}

func (k *KV) full(key string) string {
	return k.ns + ":" + key
}

// PutJSON stores val as JSON under key. A zero ttl means no expiry.
func (k *KV) PutJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("storage marshal %s: %w", key, err)
	}
	if err := k.rdb.Set(ctx, k.full(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("storage put %s: %w", key, err)
	}
	return nil
}

// GetJSON loads key into dest. The first return value reports presence.
func (k *KV) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := k.rdb.Get(ctx, k.full(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("storage unmarshal %s: %w", key, err)
	}
	return true, nil
}

// PutString stores a raw string value. A zero ttl means no expiry.
func (k *KV) PutString(ctx context.Context, key, val string, ttl time.Duration) error {
	if err := k.rdb.Set(ctx, k.full(key), val, ttl).Err(); err != nil {
		return fmt.Errorf("storage put %s: %w", key, err)
	}
	return nil
}

// GetString loads a raw string value. The second return value reports presence.
func (k *KV) GetString(ctx context.Context, key string) (string, bool, error) {
	val, err := k.rdb.Get(ctx, k.full(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("storage get %s: %w", key, err)
	}
	return val, true, nil
}

// Delete removes the given keys. Missing keys are not an error.
func (k *KV) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = k.full(key)
	}
	if err := k.rdb.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("storage delete: %w", err)
	}
	return nil
}

// Decr atomically decrements the integer stored under key and returns the
// new value. Decrementing a missing key yields -1, which callers treat as
// an expired counter.
func (k *KV) Decr(ctx context.Context, key string) (int64, error) {
	val, err := k.rdb.Decr(ctx, k.full(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("storage decr %s: %w", key, err)
	}
	return val, nil
}

// MGetStrings reads several keys in one round trip. Absent keys come back nil.
func (k *KV) MGetStrings(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	full := make([]string, len(keys))
	for i, key := range keys {
		full[i] = k.full(key)
	}
	raw, err := k.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("storage mget: %w", err)
	}
	out := make([]*string, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			out[i] = &s
		}
	}
	return out, nil
}
