package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
)

var _ domain.Store = (*Memory)(nil)

type entryKind int

const (
	kindString entryKind = iota
	kindList
	kindSet
)

type entry struct {
	kind    entryKind
	str     string
	list    []string
	set     map[string]struct{}
	expires time.Time
}

// Memory is a process-local store. Expired keys are dropped lazily on access.
type Memory struct {
	mu   sync.Mutex
	data map[string]*entry
	now  domain.Clock
}

// NewMemory creates an empty store. A nil clock uses time.Now.
func NewMemory(now domain.Clock) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{data: make(map[string]*entry), now: now}
}

// lookup returns the live entry for key, evicting it first if expired. Caller holds mu.
func (m *Memory) lookup(key string) *entry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		delete(m.data, key)
		return nil
	}
	return e
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return "", false, nil
	}
	if e.kind != kindString {
		return "", false, ErrWrongType
	}
	return e.str, true, nil
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &entry{kind: kindString, str: value, expires: m.expiry(ttl)}
	return nil
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookup(key) != nil {
		return false, nil
	}
	m.data[key] = &entry{kind: kindString, str: value, expires: m.expiry(ttl)}
	return true, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.lookup(key); e != nil {
		e.expires = m.expiry(ttl)
	}
	return nil
}

// listEntry returns the list at key, creating it when create is set. Caller holds mu.
func (m *Memory) listEntry(key string, create bool) (*entry, error) {
	e := m.lookup(key)
	if e == nil {
		if !create {
			return nil, nil
		}
		e = &entry{kind: kindList}
		m.data[key] = e
		return e, nil
	}
	if e.kind != kindList {
		return nil, ErrWrongType
	}
	return e, nil
}

func (m *Memory) ListPush(_ context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.listEntry(key, true)
	if err != nil {
		return err
	}
	e.list = append(e.list, values...)
	return nil
}

func (m *Memory) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.listEntry(key, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return []string{}, nil
	}
	return listRange(e.list, start, stop), nil
}

func (m *Memory) ListIndex(_ context.Context, key string, index int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.listEntry(key, false)
	if err != nil {
		return "", err
	}
	if e == nil {
		return "", domain.ErrNotFound
	}
	i, ok := indexOf(int64(len(e.list)), index)
	if !ok {
		return "", domain.ErrNotFound
	}
	return e.list[i], nil
}

func (m *Memory) ListSet(_ context.Context, key string, index int64, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.listEntry(key, false)
	if err != nil {
		return err
	}
	if e == nil {
		return domain.ErrNotFound
	}
	i, ok := indexOf(int64(len(e.list)), index)
	if !ok {
		return domain.ErrNotFound
	}
	e.list[i] = value
	return nil
}

func (m *Memory) ListRemove(_ context.Context, key string, count int64, value string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.listEntry(key, false)
	if err != nil || e == nil {
		return 0, err
	}
	var removed int64
	e.list, removed = listRemove(e.list, count, value)
	if len(e.list) == 0 {
		delete(m.data, key)
	}
	return removed, nil
}

func (m *Memory) ListLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.listEntry(key, false)
	if err != nil || e == nil {
		return 0, err
	}
	return int64(len(e.list)), nil
}

func (m *Memory) ListTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.listEntry(key, false)
	if err != nil || e == nil {
		return err
	}
	e.list = listTrim(e.list, start, stop)
	if len(e.list) == 0 {
		delete(m.data, key)
	}
	return nil
}

func (m *Memory) setEntry(key string, create bool) (*entry, error) {
	e := m.lookup(key)
	if e == nil {
		if !create {
			return nil, nil
		}
		e = &entry{kind: kindSet, set: make(map[string]struct{})}
		m.data[key] = e
		return e, nil
	}
	if e.kind != kindSet {
		return nil, ErrWrongType
	}
	return e, nil
}

func (m *Memory) SetAdd(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.setEntry(key, true)
	if err != nil {
		return err
	}
	for _, v := range members {
		e.set[v] = struct{}{}
	}
	return nil
}

func (m *Memory) SetRemove(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.setEntry(key, false)
	if err != nil || e == nil {
		return err
	}
	for _, v := range members {
		delete(e.set, v)
	}
	if len(e.set) == 0 {
		delete(m.data, key)
	}
	return nil
}

func (m *Memory) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.setEntry(key, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(e.set))
	for v := range e.set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}
