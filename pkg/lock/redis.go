package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/soundprediction/chronograph/pkg/config"
	"github.com/soundprediction/chronograph/pkg/utils"
)

const (
	defaultRedisTTL   = 30 * time.Second
	defaultRetryDelay = 25 * time.Millisecond
	redisKeyPrefix    = "chronograph:lock:"
)

// Both scripts act only when the key still carries our token.
var (
	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker is an advisory lock shared by every process using the same
// redis. Each key is taken with SET NX PX and a random token, kept alive while
// held, and released only by its owner.
type RedisLocker struct {
	rdb    *goredis.Client
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewRedisLocker wraps an existing client. A non-positive ttl uses 30s.
func NewRedisLocker(rdb *goredis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		rdb:    rdb,
		ttl:    ttl,
		retry:  defaultRetryDelay,
		logger: logger,
	}
}

// NewRedisLockerFromConfig connects to cfg.Addr and checks the connection.
func NewRedisLockerFromConfig(cfg config.LockConfig, logger *slog.Logger) (*RedisLocker, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis lock: missing addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisLocker(rdb, cfg.TTL, logger), nil
}

// Lock implements Locker.
func (r *RedisLocker) Lock(ctx context.Context, keys ...string) (Unlock, error) {
	keys = sortedKeys(keys)
	token := utils.GenerateUUID()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := r.acquire(ctx, redisKeyPrefix+key, token); err != nil {
			r.releaseAll(held, token)
			return nil, err
		}
		held = append(held, redisKeyPrefix+key)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.keepAlive(held, token, stop)
	}()

	return once(func() {
		close(stop)
		<-done
		r.releaseAll(held, token)
	}), nil
}

func (r *RedisLocker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		t := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// keepAlive extends the keys' expiry every third of the ttl until stop closes.
func (r *RedisLocker) keepAlive(keys []string, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			for _, key := range keys {
				n, err := refreshScript.Run(ctx, r.rdb, []string{key}, token, r.ttl.Milliseconds()).Int()
				if err != nil {
					r.logger.Warn("failed to refresh redis lock", "key", key, "error", err)
				} else if n == 0 {
					r.logger.Warn("redis lock lost before release", "key", key)
				}
			}
			cancel()
		}
	}
}

func (r *RedisLocker) releaseAll(keys []string, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(keys) - 1; i >= 0; i-- {
		err := releaseScript.Run(ctx, r.rdb, []string{keys[i]}, token).Err()
		if err != nil && !errors.Is(err, goredis.Nil) {
			r.logger.Warn("failed to release redis lock", "key", keys[i], "error", err)
		}
	}
}

// Close closes the underlying client.
func (r *RedisLocker) Close() error {
	return r.rdb.Close()
}
