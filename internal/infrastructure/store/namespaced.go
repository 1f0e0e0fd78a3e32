package store

import (
	"context"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
)

var _ domain.Store = (*Namespaced)(nil)

// Namespaced prefixes every key before delegating, isolating one tenant or deployment
// inside a shared store.
type Namespaced struct {
	inner  domain.Store
	prefix string
}

// NewNamespaced wraps inner so that every key is stored as prefix+key.
func NewNamespaced(inner domain.Store, prefix string) *Namespaced {
	return &Namespaced{inner: inner, prefix: prefix}
}

// Prefix returns the namespace prefix.
func (n *Namespaced) Prefix() string { return n.prefix }

func (n *Namespaced) k(key string) string { return n.prefix + key }

func (n *Namespaced) Get(ctx context.Context, key string) (string, bool, error) {
	return n.inner.Get(ctx, n.k(key))
}

func (n *Namespaced) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return n.inner.Set(ctx, n.k(key), value, ttl)
}

func (n *Namespaced) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return n.inner.SetNX(ctx, n.k(key), value, ttl)
}

func (n *Namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.k(key))
}

func (n *Namespaced) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return n.inner.Expire(ctx, n.k(key), ttl)
}

func (n *Namespaced) ListPush(ctx context.Context, key string, values ...string) error {
	return n.inner.ListPush(ctx, n.k(key), values...)
}

func (n *Namespaced) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return n.inner.ListRange(ctx, n.k(key), start, stop)
}

func (n *Namespaced) ListIndex(ctx context.Context, key string, index int64) (string, error) {
	return n.inner.ListIndex(ctx, n.k(key), index)
}

func (n *Namespaced) ListSet(ctx context.Context, key string, index int64, value string) error {
	return n.inner.ListSet(ctx, n.k(key), index, value)
}

func (n *Namespaced) ListRemove(ctx context.Context, key string, count int64, value string) (int64, error) {
	return n.inner.ListRemove(ctx, n.k(key), count, value)
}

func (n *Namespaced) ListLen(ctx context.Context, key string) (int64, error) {
	return n.inner.ListLen(ctx, n.k(key))
}

func (n *Namespaced) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return n.inner.ListTrim(ctx, n.k(key), start, stop)
}

func (n *Namespaced) SetAdd(ctx context.Context, key string, members ...string) error {
	return n.inner.SetAdd(ctx, n.k(key), members...)
}

func (n *Namespaced) SetRemove(ctx context.Context, key string, members ...string) error {
	return n.inner.SetRemove(ctx, n.k(key), members...)
}

func (n *Namespaced) SetMembers(ctx context.Context, key string) ([]string, error) {
	return n.inner.SetMembers(ctx, n.k(key))
}
