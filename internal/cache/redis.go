package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mwistrand/aussie-sub004/internal/monitoring"
)

// ErrCacheMiss reports a key that does not exist. Callers that treat
// absence as a normal outcome match on it with errors.Is.
var ErrCacheMiss = errors.New("cache miss")

// RevocationChannel carries cross-instance revocation events.
const RevocationChannel = "aussie:revocations"

// PKCEKey is the redis key holding the stored challenge for an
// authorization flow, keyed by the OAuth state parameter.
func PKCEKey(state string) string {
	return "pkce:challenge:" + state
}

// CacheService is the shared-state surface the auth core needs from redis:
// plain get/set, atomic get-and-delete for one-time-use records, and
// pub/sub for cross-instance revocation fan-out.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// GetDel atomically reads and removes a key. Returns ErrCacheMiss when
	// the key does not exist. This is the primitive behind single-use PKCE
	// challenge consumption.
	GetDel(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error

	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channels ...string) <-chan *redis.Message

	Ping(ctx context.Context) error
	Close() error
}

type CacheConfig struct {
	Addr     string
	Password string
	DB       int
}

// RedisCache backs CacheService with a single go-redis client. Pool
// sizing and timeouts stay on the client defaults.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(config *CacheConfig) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", config.Addr, err)
	}

	logrus.WithField("addr", config.Addr).Info("Connected to Redis")

	return &RedisCache{client: rdb}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := r.client.Get(ctx, key).Bytes()
	monitoring.RecordCacheOperation("get", "redis", time.Since(start))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			monitoring.RecordCacheMiss("redis")
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	monitoring.RecordCacheHit("redis")
	return val, nil
}

// Set stores value under key for ttl. A zero ttl stores without expiry.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := EncodeValue(value)
	if err != nil {
		return err
	}

	start := time.Now()
	err = r.client.Set(ctx, key, data, ttl).Err()
	monitoring.RecordCacheOperation("set", "redis", time.Since(start))
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// GetDel reads and deletes in one round trip (GETDEL, redis >= 6.2), so
// two racing consumers can never both observe the value.
func (r *RedisCache) GetDel(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := r.client.GetDel(ctx, key).Bytes()
	monitoring.RecordCacheOperation("getdel", "redis", time.Since(start))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			monitoring.RecordCacheMiss("redis")
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis getdel: %w", err)
	}
	monitoring.RecordCacheHit("redis")
	return val, nil
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisCache) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := EncodeValue(message)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe returns the delivery channel for messages published to the
// given channels. Consumers own their shutdown; the channel closes only
// when the client does.
func (r *RedisCache) Subscribe(ctx context.Context, channels ...string) <-chan *redis.Message {
	return r.client.Subscribe(ctx, channels...).Channel()
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close is nil-safe so shutdown paths need not branch on whether redis
// was configured.
func (r *RedisCache) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// EncodeValue turns a value into the byte form stored in redis. Strings
// and byte slices pass through; everything else is JSON.
func EncodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encoding cache value: %w", err)
		}
		return data, nil
	}
}

var _ CacheService = (*RedisCache)(nil)
