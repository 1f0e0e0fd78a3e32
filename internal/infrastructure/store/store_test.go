package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/config"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) domain.Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) domain.Store { return NewMemory(nil) },
		"redis": func(t *testing.T) domain.Store {
			mr := miniredis.RunT(t)
			r := NewRedis(RedisOptions{Addr: mr.Addr()})
			t.Cleanup(func() { _ = r.Close() })
			return r
		},
		"badger": func(t *testing.T) domain.Store {
			b, err := NewBadger(BadgerConfig{InMemory: true})
			require.NoError(t, err)
			t.Cleanup(func() { _ = b.Close() })
			return b
		},
		"namespaced": func(t *testing.T) domain.Store { return NewNamespaced(NewMemory(nil), "tenant:") },
	}
}

func TestStore_Strings(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			_, ok, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Set(ctx, "k", "v1", 0))
			v, ok, err := s.Get(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "v1", v)

			stored, err := s.SetNX(ctx, "k", "v2", time.Minute)
			require.NoError(t, err)
			assert.False(t, stored)

			stored, err = s.SetNX(ctx, "fresh", "v2", time.Minute)
			require.NoError(t, err)
			assert.True(t, stored)

			require.NoError(t, s.Delete(ctx, "k"))
			_, ok, err = s.Get(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_Lists(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, s.ListPush(ctx, "l", "a", "b", "c", "b"))
			n, err := s.ListLen(ctx, "l")
			require.NoError(t, err)
			assert.Equal(t, int64(4), n)

			all, err := s.ListRange(ctx, "l", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b", "c", "b"}, all)

			tail, err := s.ListRange(ctx, "l", -2, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "b"}, tail)

			v, err := s.ListIndex(ctx, "l", -1)
			require.NoError(t, err)
			assert.Equal(t, "b", v)

			_, err = s.ListIndex(ctx, "l", 10)
			assert.ErrorIs(t, err, domain.ErrNotFound)

			require.NoError(t, s.ListSet(ctx, "l", 0, "z"))
			assert.ErrorIs(t, s.ListSet(ctx, "l", 9, "z"), domain.ErrNotFound)

			removed, err := s.ListRemove(ctx, "l", 1, "b")
			require.NoError(t, err)
			assert.Equal(t, int64(1), removed)

			all, err = s.ListRange(ctx, "l", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"z", "c", "b"}, all)

			require.NoError(t, s.ListTrim(ctx, "l", -2, -1))
			all, err = s.ListRange(ctx, "l", 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"c", "b"}, all)

			empty, err := s.ListRange(ctx, "nothing", 0, -1)
			require.NoError(t, err)
			assert.Empty(t, empty)

			require.NoError(t, s.Set(ctx, "str", "x", 0))
			assert.Error(t, s.ListPush(ctx, "str", "y"))
		})
	}
}

func TestStore_Sets(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			require.NoError(t, s.SetAdd(ctx, "s", "b", "a", "b"))
			members, err := s.SetMembers(ctx, "s")
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, members)

			require.NoError(t, s.SetRemove(ctx, "s", "a"))
			members, err = s.SetMembers(ctx, "s")
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, members)

			members, err = s.SetMembers(ctx, "none")
			require.NoError(t, err)
			assert.Empty(t, members)
		})
	}
}

func TestStore_SetNXIsAtomic(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)

			var wins int32
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := s.SetNX(ctx, "lock", "x", time.Minute)
					if err == nil && ok {
						atomic.AddInt32(&wins, 1)
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, int32(1), wins)
		})
	}
}

func TestMemory_TTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, m.ListPush(ctx, "l", "a"))
	require.NoError(t, m.Expire(ctx, "l", 30*time.Second))

	now = now.Add(31 * time.Second)
	n, err := m.ListLen(ctx, "l")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(30 * time.Second)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)

	stored, err := m.SetNX(ctx, "k", "again", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestBadger_ExpiryRoundsUp(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sec := uint64(base.Unix())

	assert.Zero(t, expiryAt(base, 0))
	assert.Equal(t, sec+1, expiryAt(base, time.Second))
	assert.Equal(t, sec+1, expiryAt(base, 300*time.Millisecond))
	assert.Equal(t, sec+2, expiryAt(base.Add(900*time.Millisecond), 300*time.Millisecond))
	assert.Equal(t, sec+2, expiryAt(base.Add(500*time.Millisecond), 1500*time.Millisecond))
}

func TestBadger_SubSecondTTLIsHonoured(t *testing.T) {
	ctx := context.Background()
	b, err := NewBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, b.Set(ctx, "cooldown", "1", 800*time.Millisecond))
	_, ok, err := b.Get(ctx, "cooldown")
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := b.SetNX(ctx, "cooldown", "2", time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestRedis_TTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	r := NewRedis(RedisOptions{Addr: mr.Addr()})
	defer r.Close()

	require.NoError(t, r.Ping(ctx))
	stored, err := r.SetNX(ctx, "lock", "1", time.Minute)
	require.NoError(t, err)
	require.True(t, stored)

	mr.FastForward(2 * time.Minute)
	stored, err = r.SetNX(ctx, "lock", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestNamespaced_IsolatesKeys(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory(nil)
	a := NewNamespaced(inner, "a:")
	b := NewNamespaced(inner, "b:")

	require.NoError(t, a.Set(ctx, "k", "from-a", 0))
	_, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := inner.Get(ctx, "a:k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-a", v)
	assert.Equal(t, "a:", a.Prefix())
}

func TestNew(t *testing.T) {
	s, closeFn, err := New(config.StoreConfig{Driver: "memory", KeyPrefix: "qp:"})
	require.NoError(t, err)
	defer closeFn()
	_, isNamespaced := s.(*Namespaced)
	assert.True(t, isNamespaced)

	s, closeFn, err = New(config.StoreConfig{Driver: "badger"})
	require.NoError(t, err)
	assert.NoError(t, closeFn())
	assert.NotNil(t, s)

	_, _, err = New(config.StoreConfig{Driver: "etcd"})
	assert.Error(t, err)
}

func TestListRemove(t *testing.T) {
	list := []string{"x", "a", "x", "b", "x"}

	out, n := listRemove(list, 0, "x")
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []string{"a", "b"}, out)

	out, n = listRemove(list, -1, "x")
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"x", "a", "x", "b"}, out)

	out, n = listRemove(list, 2, "x")
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{"a", "b", "x"}, out)
}
