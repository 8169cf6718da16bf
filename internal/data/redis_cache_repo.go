package data

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	apperrors "github.com/target/taskrelay/internal/errors"
)

// ErrEmptyKey is returned when a cache operation is attempted with an empty key.
var ErrEmptyKey = errors.New("key cannot be empty")

// minClaimTTL keeps SET NX claims from being written without expiry.
const minClaimTTL = time.Second

// KEYS[1] is written, KEYS[2] is the guard. ARGV[2] is the ttl in milliseconds, 0 for none.
var setUnlessGuardedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// RedisCacheRepo implements core.CacheRepository on top of Redis. Transport failures
// surface as apperrors with code unavailable; context errors pass through untouched.
type RedisCacheRepo struct {
	client redis.UniversalClient
	prefix string
}

// RedisCacheRepoOptions configures a RedisCacheRepo.
type RedisCacheRepoOptions struct {
	Client redis.UniversalClient
	// Prefix is prepended to every key so several deployments can share one Redis.
	Prefix string
}

// NewRedisCacheRepo creates a new RedisCacheRepo.
func NewRedisCacheRepo(opts RedisCacheRepoOptions) *RedisCacheRepo {
	return &RedisCacheRepo{client: opts.Client, prefix: opts.Prefix}
}

func (r *RedisCacheRepo) key(k string) (string, error) {
	if k == "" {
		return "", ErrEmptyKey
	}
	return r.prefix + k, nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "redis "+op)
}

// Set stores value under key. A zero ttl stores without expiry.
func (r *RedisCacheRepo) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	k, err := r.key(key)
	if err != nil {
		return err
	}
	return storeErr("set", r.client.Set(ctx, k, value, ttl).Err())
}

// Get retrieves a value by key. A missing key yields (nil, nil).
func (r *RedisCacheRepo) Get(ctx context.Context, key string) ([]byte, error) {
	k, err := r.key(key)
	if err != nil {
		return nil, err
	}
	b, err := r.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	return b, nil
}

// Delete removes a key and reports whether it existed.
func (r *RedisCacheRepo) Delete(ctx context.Context, key string) (bool, error) {
	k, err := r.key(key)
	if err != nil {
		return false, err
	}
	n, err := r.client.Del(ctx, k).Result()
	return n > 0, storeErr("del", err)
}

// Exists reports whether a live entry is stored under key.
func (r *RedisCacheRepo) Exists(ctx context.Context, key string) (bool, error) {
	k, err := r.key(key)
	if err != nil {
		return false, err
	}
	n, err := r.client.Exists(ctx, k).Result()
	return n > 0, storeErr("exists", err)
}

// SetIfNotExists is a single SET NX PX, so the claim and its expiry land together.
// Terminal claims and PENDING placeholders both go through here.
func (r *RedisCacheRepo) SetIfNotExists(
	ctx context.Context,
	key string,
	value []byte,
	ttl time.Duration,
) (bool, error) {
	k, err := r.key(key)
	if err != nil {
		return false, err
	}
	status, err := r.client.SetArgs(ctx, k, value, redis.SetArgs{Mode: "NX", TTL: max(ttl, minClaimTTL)}).Result()
	if errors.Is(err, redis.Nil) {
		// NX miss comes back as a nil reply.
		return false, nil
	}
	if err != nil {
		return false, storeErr("set nx", err)
	}
	return status == "OK", nil
}

// SetUnlessGuarded writes key only while guard is absent, in one script call.
func (r *RedisCacheRepo) SetUnlessGuarded(
	ctx context.Context,
	key, guard string,
	value []byte,
	ttl time.Duration,
) (bool, error) {
	k, err := r.key(key)
	if err != nil {
		return false, err
	}
	g, err := r.key(guard)
	if err != nil {
		return false, err
	}
	n, err := setUnlessGuardedScript.Run(ctx, r.client, []string{k, g}, value, max(ttl, 0).Milliseconds()).Int()
	if err != nil {
		return false, storeErr("set guarded", err)
	}
	return n == 1, nil
}

// Health pings Redis.
func (r *RedisCacheRepo) Health(ctx context.Context) error {
	return storeErr("ping", r.client.Ping(ctx).Err())
}
