package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/redis/go-redis/v9"
)

var _ domain.Store = (*Redis)(nil)

// RedisOptions selects the Redis deployment. Several addresses build a cluster client.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// Redis is a domain.Store over a go-redis universal client.
type Redis struct {
	rdb redis.UniversalClient
}

// NewRedis dials lazily; the first command establishes the connection.
func NewRedis(opts RedisOptions) *Redis {
	addrs := strings.Split(opts.Addr, ",")
	if opts.Addr == "" {
		addrs = []string{"localhost:6379"}
	}
	return &Redis{rdb: redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    addrs,
		Password: opts.Password,
		DB:       opts.DB,
	})}
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return domain.ErrNotFound
	}
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "WRONGTYPE"):
		return ErrWrongType
	case strings.Contains(msg, "no such key"), strings.Contains(msg, "index out of range"):
		return domain.ErrNotFound
	}
	return err
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, translate(err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return translate(r.rdb.Set(ctx, key, value, ttl).Err())
}

func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, key, value, ttl).Result()
	return ok, translate(err)
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return translate(r.rdb.Del(ctx, key).Err())
}

func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return translate(r.rdb.Persist(ctx, key).Err())
	}
	return translate(r.rdb.Expire(ctx, key, ttl).Err())
}

func (r *Redis) ListPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return translate(r.rdb.RPush(ctx, key, args...).Err())
}

func (r *Redis) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	out, err := r.rdb.LRange(ctx, key, start, stop).Result()
	return out, translate(err)
}

func (r *Redis) ListIndex(ctx context.Context, key string, index int64) (string, error) {
	v, err := r.rdb.LIndex(ctx, key, index).Result()
	return v, translate(err)
}

func (r *Redis) ListSet(ctx context.Context, key string, index int64, value string) error {
	return translate(r.rdb.LSet(ctx, key, index, value).Err())
}

func (r *Redis) ListRemove(ctx context.Context, key string, count int64, value string) (int64, error) {
	n, err := r.rdb.LRem(ctx, key, count, value).Result()
	return n, translate(err)
}

func (r *Redis) ListLen(ctx context.Context, key string) (int64, error) {
	n, err := r.rdb.LLen(ctx, key).Result()
	return n, translate(err)
}

func (r *Redis) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return translate(r.rdb.LTrim(ctx, key, start, stop).Err())
}

func (r *Redis) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, v := range members {
		args[i] = v
	}
	return translate(r.rdb.SAdd(ctx, key, args...).Err())
}

func (r *Redis) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, v := range members {
		args[i] = v
	}
	return translate(r.rdb.SRem(ctx, key, args...).Err())
}

func (r *Redis) SetMembers(ctx context.Context, key string) ([]string, error) {
	out, err := r.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, translate(err)
	}
	sort.Strings(out)
	return out, nil
}
