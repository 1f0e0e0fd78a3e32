package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/dgraph-io/badger/v4"
)

var _ domain.Store = (*Badger)(nil)

// BadgerConfig holds BadgerDB configuration.
type BadgerConfig struct {
	Dir      string // Directory for BadgerDB data
	InMemory bool
}

// Badger is a single-node embedded domain.Store. Every value carries a one-byte kind
// tag; lists and sets are stored as JSON arrays under their key.
type Badger struct {
	db *badger.DB

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// NewBadger opens (or creates) the database described by cfg.
func NewBadger(cfg BadgerConfig) (*Badger, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	b := &Badger{
		db:       db,
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}
	if cfg.InMemory {
		close(b.gcDone)
	} else {
		go b.runGC()
	}
	return b, nil
}

// Close gracefully closes the BadgerDB database.
func (b *Badger) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.gcStopCh)
	<-b.gcDone
	return b.db.Close()
}

func (b *Badger) runGC() {
	defer close(b.gcDone)

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// ErrNoRewrite just means nothing was reclaimable.
			_ = b.db.RunValueLogGC(0.5)
		case <-b.gcStopCh:
			return
		}
	}
}

type badgerValue struct {
	kind      entryKind
	raw       []byte
	expiresAt uint64
}

func (b *Badger) read(txn *badger.Txn, key string) (*badgerValue, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return &badgerValue{kind: entryKind(v[0]), raw: v[1:], expiresAt: item.ExpiresAt()}, nil
}

func write(txn *badger.Txn, key string, kind entryKind, raw []byte, expiresAt uint64) error {
	e := badger.NewEntry([]byte(key), append([]byte{byte(kind)}, raw...))
	e.ExpiresAt = expiresAt
	return txn.SetEntry(e)
}

func ttlExpiry(ttl time.Duration) uint64 {
	return expiryAt(time.Now(), ttl)
}

// expiryAt returns the badger expiry of a ttl starting at now. Badger counts whole
// seconds, so the deadline is rounded up and a key never expires before its ttl.
func expiryAt(now time.Time, ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	deadline := now.Add(ttl)
	secs := deadline.Unix()
	if deadline.Nanosecond() > 0 {
		secs++
	}
	return uint64(secs)
}

// update retries fn on transaction conflicts.
func (b *Badger) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for {
		err := b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (b *Badger) readList(txn *badger.Txn, key string) ([]string, uint64, bool, error) {
	v, err := b.read(txn, key)
	if err != nil || v == nil {
		return nil, 0, false, err
	}
	if v.kind != kindList {
		return nil, 0, false, ErrWrongType
	}
	var list []string
	if err := json.Unmarshal(v.raw, &list); err != nil {
		return nil, 0, false, err
	}
	return list, v.expiresAt, true, nil
}

func writeList(txn *badger.Txn, key string, list []string, expiresAt uint64) error {
	if len(list) == 0 {
		return txn.Delete([]byte(key))
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return err
	}
	return write(txn, key, kindList, raw, expiresAt)
}

func (b *Badger) readSet(txn *badger.Txn, key string) (map[string]struct{}, uint64, error) {
	v, err := b.read(txn, key)
	if err != nil || v == nil {
		return map[string]struct{}{}, 0, err
	}
	if v.kind != kindSet {
		return nil, 0, ErrWrongType
	}
	var members []string
	if err := json.Unmarshal(v.raw, &members); err != nil {
		return nil, 0, err
	}
	set := make(map[string]struct{}, len(members))
	for _, m := range members {
		set[m] = struct{}{}
	}
	return set, v.expiresAt, nil
}

func writeSet(txn *badger.Txn, key string, set map[string]struct{}, expiresAt uint64) error {
	if len(set) == 0 {
		return txn.Delete([]byte(key))
	}
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Strings(members)
	raw, err := json.Marshal(members)
	if err != nil {
		return err
	}
	return write(txn, key, kindSet, raw, expiresAt)
}

func (b *Badger) Get(_ context.Context, key string) (string, bool, error) {
	var (
		out   string
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		v, err := b.read(txn, key)
		if err != nil || v == nil {
			return err
		}
		if v.kind != kindString {
			return ErrWrongType
		}
		out, found = string(v.raw), true
		return nil
	})
	return out, found, err
}

func (b *Badger) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		return write(txn, key, kindString, []byte(value), ttlExpiry(ttl))
	})
}

func (b *Badger) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var stored bool
	err := b.update(ctx, func(txn *badger.Txn) error {
		stored = false
		v, err := b.read(txn, key)
		if err != nil || v != nil {
			return err
		}
		stored = true
		return write(txn, key, kindString, []byte(value), ttlExpiry(ttl))
	})
	return stored, err
}

func (b *Badger) Delete(ctx context.Context, key string) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *Badger) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		v, err := b.read(txn, key)
		if err != nil || v == nil {
			return err
		}
		return write(txn, key, v.kind, v.raw, ttlExpiry(ttl))
	})
}

func (b *Badger) ListPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return b.update(ctx, func(txn *badger.Txn) error {
		list, exp, _, err := b.readList(txn, key)
		if err != nil {
			return err
		}
		return writeList(txn, key, append(list, values...), exp)
	})
}

func (b *Badger) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	out := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		list, _, _, err := b.readList(txn, key)
		if err != nil {
			return err
		}
		out = listRange(list, start, stop)
		return nil
	})
	return out, err
}

func (b *Badger) ListIndex(_ context.Context, key string, index int64) (string, error) {
	var out string
	err := b.db.View(func(txn *badger.Txn) error {
		list, _, _, err := b.readList(txn, key)
		if err != nil {
			return err
		}
		i, ok := indexOf(int64(len(list)), index)
		if !ok {
			return domain.ErrNotFound
		}
		out = list[i]
		return nil
	})
	return out, err
}

func (b *Badger) ListSet(ctx context.Context, key string, index int64, value string) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		list, exp, _, err := b.readList(txn, key)
		if err != nil {
			return err
		}
		i, ok := indexOf(int64(len(list)), index)
		if !ok {
			return domain.ErrNotFound
		}
		list[i] = value
		return writeList(txn, key, list, exp)
	})
}

func (b *Badger) ListRemove(ctx context.Context, key string, count int64, value string) (int64, error) {
	var removed int64
	err := b.update(ctx, func(txn *badger.Txn) error {
		list, exp, found, err := b.readList(txn, key)
		if err != nil || !found {
			removed = 0
			return err
		}
		list, removed = listRemove(list, count, value)
		if removed == 0 {
			return nil
		}
		return writeList(txn, key, list, exp)
	})
	return removed, err
}

func (b *Badger) ListLen(_ context.Context, key string) (int64, error) {
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		list, _, _, err := b.readList(txn, key)
		n = int64(len(list))
		return err
	})
	return n, err
}

func (b *Badger) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		list, exp, found, err := b.readList(txn, key)
		if err != nil || !found {
			return err
		}
		return writeList(txn, key, listTrim(list, start, stop), exp)
	})
}

func (b *Badger) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return b.update(ctx, func(txn *badger.Txn) error {
		set, exp, err := b.readSet(txn, key)
		if err != nil {
			return err
		}
		for _, m := range members {
			set[m] = struct{}{}
		}
		return writeSet(txn, key, set, exp)
	})
}

func (b *Badger) SetRemove(ctx context.Context, key string, members ...string) error {
	return b.update(ctx, func(txn *badger.Txn) error {
		set, exp, err := b.readSet(txn, key)
		if err != nil || len(set) == 0 {
			return err
		}
		for _, m := range members {
			delete(set, m)
		}
		return writeSet(txn, key, set, exp)
	})
}

func (b *Badger) SetMembers(_ context.Context, key string) ([]string, error) {
	out := []string{}
	err := b.db.View(func(txn *badger.Txn) error {
		set, _, err := b.readSet(txn, key)
		if err != nil {
			return err
		}
		for m := range set {
			out = append(out, m)
		}
		sort.Strings(out)
		return nil
	})
	return out, err
}
