// Package store implements domain.Store over an in-process map, Redis and BadgerDB.
// All three follow Redis list semantics: negative indexes count from the tail and
// out-of-range bounds are clamped.
package store

import (
	"errors"
	"fmt"

	"github.com/OliveiraNt/queuepilot/internal/config"
	"github.com/OliveiraNt/queuepilot/internal/domain"
)

// ErrWrongType is returned when a list or set operation addresses a key of another kind.
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// New opens the store selected by cfg.Driver. The returned close function releases
// the underlying connection or database.
func New(cfg config.StoreConfig) (domain.Store, func() error, error) {
	var (
		s       domain.Store
		closeFn func() error
	)
	switch cfg.Driver {
	case "", "memory":
		s, closeFn = NewMemory(nil), func() error { return nil }
	case "redis":
		r := NewRedis(RedisOptions{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB})
		s, closeFn = r, r.Close
	case "badger":
		b, err := NewBadger(BadgerConfig{Dir: cfg.Path, InMemory: cfg.Path == ""})
		if err != nil {
			return nil, nil, err
		}
		s, closeFn = b, b.Close
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if cfg.KeyPrefix != "" {
		s = NewNamespaced(s, cfg.KeyPrefix)
	}
	return s, closeFn, nil
}

// rangeBounds converts Redis-style start/stop into a half-open slice range over n items.
func rangeBounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop + 1, true
}

func indexOf(n, index int64) (int64, bool) {
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return 0, false
	}
	return index, true
}

func listRange(list []string, start, stop int64) []string {
	lo, hi, ok := rangeBounds(int64(len(list)), start, stop)
	if !ok {
		return []string{}
	}
	out := make([]string, hi-lo)
	copy(out, list[lo:hi])
	return out
}

func listTrim(list []string, start, stop int64) []string {
	lo, hi, ok := rangeBounds(int64(len(list)), start, stop)
	if !ok {
		return nil
	}
	return append([]string(nil), list[lo:hi]...)
}

// listRemove drops up to count occurrences of value scanning from the head.
// A negative count scans from the tail, zero removes every occurrence.
func listRemove(list []string, count int64, value string) ([]string, int64) {
	var removed int64
	limit := count
	if limit < 0 {
		limit = -limit
	}
	keep := make([]bool, len(list))
	for i := range keep {
		keep[i] = true
	}
	visit := func(i int) bool {
		if list[i] == value && (limit == 0 || removed < limit) {
			keep[i] = false
			removed++
		}
		return limit == 0 || removed < limit
	}
	if count >= 0 {
		for i := 0; i < len(list) && visit(i); i++ {
		}
	} else {
		for i := len(list) - 1; i >= 0 && visit(i); i-- {
		}
	}
	out := make([]string, 0, len(list)-int(removed))
	for i, v := range list {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out, removed
}
