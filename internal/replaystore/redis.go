package replaystore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis connection RedisStore uses, trimmed to
// the fields a replay-history list needs.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	KeyPrefix    string
	UseTLS       bool
}

// DefaultRedisConfig reads REPLAYSTORE_REDIS_* environment variables,
// falling back to the common REDIS_URL/REDIS_PASSWORD variables where it
// makes sense to share them.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:        getEnv("REPLAYSTORE_REDIS_ADDR", getEnv("REDIS_URL", "localhost:6379")),
		Password:    getEnv("REPLAYSTORE_REDIS_PASSWORD", getEnv("REDIS_PASSWORD", "")),
		DB:          getEnvInt("REPLAYSTORE_REDIS_DB", 0),
		PoolSize:    getEnvInt("REPLAYSTORE_REDIS_POOL_SIZE", 10),
		DialTimeout: getEnvDuration("REPLAYSTORE_REDIS_DIAL_TIMEOUT", 5*time.Second),
		KeyPrefix:   getEnv("REPLAYSTORE_REDIS_KEY_PREFIX", "fluxpipe:replay:"),
		UseTLS:      getEnvBool("REPLAYSTORE_REDIS_USE_TLS", false),
	}
}

// RedisStore persists each subject's replay history as a Redis list of
// JSON-encoded entries — an append-only per-subject list rather than a
// get/set key-value cache.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

type redisEntry struct {
	Seq       int64     `json:"seq"`
	Value     []byte    `json:"value"`
	Timestamp time.Time `json:"ts"`
}

// NewRedisStore connects to Redis using dsn as the address (host:port); an
// empty dsn falls back to DefaultRedisConfig's address.
func NewRedisStore(dsn string) (*RedisStore, error) {
	config := DefaultRedisConfig()
	if dsn != "" {
		config.Addr = dsn
	}

	opts := &redis.Options{
		Addr:        config.Addr,
		Password:    config.Password,
		DB:          config.DB,
		PoolSize:    config.PoolSize,
		DialTimeout: config.DialTimeout,
	}
	if config.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("replaystore: connect to redis: %w", err)
	}

	return &RedisStore{client: client, keyPrefix: config.KeyPrefix}, nil
}

func (r *RedisStore) key(subjectID string) string {
	return r.keyPrefix + subjectID
}

func (r *RedisStore) seqKey(subjectID string) string {
	return r.keyPrefix + subjectID + ":seq"
}

func (r *RedisStore) Append(ctx context.Context, subjectID string, value []byte, ts time.Time) (int64, error) {
	seq, err := r.client.Incr(ctx, r.seqKey(subjectID)).Result()
	if err != nil {
		return 0, fmt.Errorf("replaystore: incr seq: %w", err)
	}
	seq-- // Incr returns the post-increment value; first Append should be seq 0

	entry := redisEntry{Seq: seq, Value: value, Timestamp: ts}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("replaystore: encode entry: %w", err)
	}

	if err := r.client.RPush(ctx, r.key(subjectID), encoded).Err(); err != nil {
		return 0, fmt.Errorf("replaystore: rpush: %w", err)
	}
	return seq, nil
}

func (r *RedisStore) Replay(ctx context.Context, subjectID string, bufferSize int, windowTime time.Duration, now time.Time) ([]Entry, error) {
	raw, err := r.client.LRange(ctx, r.key(subjectID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("replaystore: lrange: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, s := range raw {
		var e redisEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("replaystore: decode entry: %w", err)
		}
		entries = append(entries, Entry{Seq: e.Seq, Value: e.Value, Timestamp: e.Timestamp})
	}

	start := 0
	if windowTime > 0 {
		floor := now.Add(-windowTime)
		start = len(entries)
		for i, e := range entries {
			if e.Timestamp.After(floor) {
				start = i
				break
			}
		}
	}
	entries = entries[start:]

	if bufferSize > 0 && len(entries) > bufferSize {
		entries = entries[len(entries)-bufferSize:]
	}
	return entries, nil
}

func (r *RedisStore) Close() error {
	if err := r.client.Close(); err != nil {
		return fmt.Errorf("replaystore: close redis: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
