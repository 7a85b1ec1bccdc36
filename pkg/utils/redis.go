package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the marker store connection. Zero fields take defaults.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

var defaultRedis = RedisConfig{
	DialTimeout:  3 * time.Second,
	ReadTimeout:  2 * time.Second,
	WriteTimeout: 2 * time.Second,
	PoolSize:     20,
	PingTimeout:  2 * time.Second,
}

func (c RedisConfig) options() (*redis.Options, time.Duration, error) {
	if c.Addr == "" {
		return nil, 0, errors.New("redis addr is required")
	}
	if c.DB < 0 {
		return nil, 0, fmt.Errorf("redis db must be >= 0, got %d", c.DB)
	}
	pick := func(v, def time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return def
	}
	pool := c.PoolSize
	if pool <= 0 {
		pool = defaultRedis.PoolSize
	}
	return &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     pick(c.DialTimeout, defaultRedis.DialTimeout),
		ReadTimeout:     pick(c.ReadTimeout, defaultRedis.ReadTimeout),
		WriteTimeout:    pick(c.WriteTimeout, defaultRedis.WriteTimeout),
		PoolSize:        pool,
		ConnMaxIdleTime: 5 * time.Minute,
	}, pick(c.PingTimeout, defaultRedis.PingTimeout), nil
}

// OpenRedis builds a client and pings it once.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	opts, pingTimeout, err := cfg.options()
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// markScript sets a marker only if absent and always refreshes its TTL.
// Returns 1 when the marker was newly set, 0 when it already existed.
var markScript = redis.NewScript(`
-- KEYS[1] = marker key
-- ARGV[1] = ttl_ms (int)
local created = redis.call('SET', KEYS[1], '1', 'NX', 'PX', ARGV[1])
if created then
  return 1
end
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 0
`)

// SetMarker records that key has been handled, for ttl.
// It reports whether the marker was newly created.
func SetMarker(ctx context.Context, rdb *redis.Client, key string, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return false, fmt.Errorf("key is required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}
	res, err := markScript.Run(ctx, rdb, []string{key}, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// HasMarker reports whether key has been marked and not yet expired.
func HasMarker(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return false, fmt.Errorf("key is required")
	}
	n, err := rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
