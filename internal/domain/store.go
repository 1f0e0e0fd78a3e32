package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by list accessors addressing a missing key or index.
var ErrNotFound = errors.New("not found")

// Store is the shared coordination/cache store every control-plane process talks to.
// A zero ttl means the key does not expire. Implementations must make SetNX atomic.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	ListPush(ctx context.Context, key string, values ...string) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListIndex(ctx context.Context, key string, index int64) (string, error)
	ListSet(ctx context.Context, key string, index int64, value string) error
	// ListRemove removes up to count occurrences of value from the head; count 0 removes all.
	ListRemove(ctx context.Context, key string, count int64, value string) (int64, error)
	ListLen(ctx context.Context, key string) (int64, error)
	ListTrim(ctx context.Context, key string, start, stop int64) error

	SetAdd(ctx context.Context, key string, members ...string) error
	SetRemove(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
}
