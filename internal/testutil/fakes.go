package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
)

// ErrUnknownTopic is returned by FakeBroker admin calls for topics it does not know.
var ErrUnknownTopic = errors.New("unknown topic")

// MaxRedeliveries bounds how often FakeBroker hands out a record whose handler keeps failing.
const MaxRedeliveries = 3

// Published is one record written through FakeBroker.
type Published struct {
	Topic     string
	Payload   []byte
	Partition int32
}

// FakeBroker is a test double implementing every broker-facing domain interface with
// configurable failures.
type FakeBroker struct {
	mu sync.Mutex

	Published   []Published
	Committed   []domain.Message
	Partitions  map[string]int
	Lags        map[string]map[string]int64
	Inbox       []domain.Message
	Delivered   []domain.Message
	HandlerErrs []error
	Assignments [][]int32

	// PublishErrs fail the next publishes, one entry each, before PublishErr applies.
	PublishErrs  []error
	PublishErr   error
	CommitErr    error
	InitErr      error
	BeginErr     error
	CommitTxErr  error
	AbortErr     error
	AdminErr     error
	InitCalls    int
	AbortCalls   int
	Transactions int
}

func NewFakeBroker() *FakeBroker {
	return &FakeBroker{Partitions: map[string]int{}}
}

func (f *FakeBroker) Publish(_ context.Context, topic string, payload []byte, partition int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.PublishErrs) > 0 {
		err := f.PublishErrs[0]
		f.PublishErrs = f.PublishErrs[1:]
		return err
	}
	if f.PublishErr != nil {
		return f.PublishErr
	}
	f.Published = append(f.Published, Published{Topic: topic, Payload: append([]byte(nil), payload...), Partition: partition})
	return nil
}

func (f *FakeBroker) CommitSync(_ context.Context, msg domain.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Committed = append(f.Committed, msg)
	return nil
}

func (f *FakeBroker) CommitAsync(msg domain.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Committed = append(f.Committed, msg)
}

func (f *FakeBroker) InitTransactions(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InitCalls++
	return f.InitErr
}

func (f *FakeBroker) BeginTransaction() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.BeginErr == nil {
		f.Transactions++
	}
	return f.BeginErr
}

func (f *FakeBroker) CommitTransaction(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CommitTxErr
}

func (f *FakeBroker) AbortTransaction(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AbortCalls++
	return f.AbortErr
}

func (f *FakeBroker) Flush(_ context.Context) error { return nil }

// Consume hands every Inbox message whose topic is in topics to handler, then blocks
// until ctx is done.
func (f *FakeBroker) Consume(ctx context.Context, topics []string, handler domain.MessageHandler) error {
	want := map[string]bool{}
	for _, t := range topics {
		want[t] = true
	}
	f.deliver(ctx, func(m domain.Message) bool { return want[m.Topic] }, handler)
	<-ctx.Done()
	return ctx.Err()
}

// ConsumePartitions hands the uncommitted Inbox messages of the given partitions of topic
// to handler, then blocks until ctx is done.
func (f *FakeBroker) ConsumePartitions(ctx context.Context, topic string, partitions []int32, handler domain.MessageHandler) error {
	want := map[int32]bool{}
	for _, p := range partitions {
		want[p] = true
	}
	f.mu.Lock()
	f.Assignments = append(f.Assignments, append([]int32{}, partitions...))
	f.mu.Unlock()
	f.deliver(ctx, func(m domain.Message) bool {
		return m.Topic == topic && want[m.Partition] && !f.committed(m)
	}, handler)
	<-ctx.Done()
	return ctx.Err()
}

// deliver runs handler over the matching Inbox messages in order. A failed message is
// handed out again before anything after it, up to MaxRedeliveries times.
func (f *FakeBroker) deliver(ctx context.Context, match func(domain.Message) bool, handler domain.MessageHandler) {
	f.mu.Lock()
	inbox := append([]domain.Message(nil), f.Inbox...)
	f.mu.Unlock()
	var pending []domain.Message
	for _, m := range inbox {
		if match(m) {
			pending = append(pending, m)
		}
	}
	type at struct {
		topic     string
		partition int32
		offset    int64
	}
	retries := map[at]int{}
	for len(pending) > 0 && ctx.Err() == nil {
		m := pending[0]
		k := at{m.Topic, m.Partition, m.Offset}
		err := handler(ctx, m)
		f.mu.Lock()
		f.Delivered = append(f.Delivered, m)
		f.HandlerErrs = append(f.HandlerErrs, err)
		f.mu.Unlock()
		if err != nil && retries[k] < MaxRedeliveries {
			retries[k]++
			continue
		}
		pending = pending[1:]
	}
}

func (f *FakeBroker) committed(m domain.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.Committed {
		if c.Topic == m.Topic && c.Partition == m.Partition && c.Offset >= m.Offset {
			return true
		}
	}
	return false
}

// DeliveredOffsets returns the offsets handed to handlers, in order.
func (f *FakeBroker) DeliveredOffsets() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.Delivered))
	for i, m := range f.Delivered {
		out[i] = m.Offset
	}
	return out
}

// LastAssignment returns the partitions of the latest ConsumePartitions call.
func (f *FakeBroker) LastAssignment() ([]int32, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Assignments) == 0 {
		return nil, false
	}
	return f.Assignments[len(f.Assignments)-1], true
}

func (f *FakeBroker) BrokerPartitions(_ context.Context, topic string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AdminErr != nil {
		return 0, f.AdminErr
	}
	n, ok := f.Partitions[topic]
	if !ok {
		return 0, ErrUnknownTopic
	}
	return n, nil
}

func (f *FakeBroker) IncreasePartitions(_ context.Context, topic string, total int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AdminErr != nil {
		return f.AdminErr
	}
	f.Partitions[topic] = total
	return nil
}

func (f *FakeBroker) TopicLag(_ context.Context, topic string) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AdminErr != nil {
		return nil, f.AdminErr
	}
	out := map[string]int64{}
	for group, lag := range f.Lags[topic] {
		out[group] = lag
	}
	return out, nil
}

// PublishedTo returns the records written to topic.
func (f *FakeBroker) PublishedTo(topic string) []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Published
	for _, p := range f.Published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// FakeAlertSender records alerts.
type FakeAlertSender struct {
	mu     sync.Mutex
	N      string
	Alerts []domain.Alert
	Err    error
}

func (f *FakeAlertSender) Name() string { return f.N }

func (f *FakeAlertSender) Send(_ context.Context, a domain.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Alerts = append(f.Alerts, a)
	return nil
}

// Sent returns how many alerts were delivered.
func (f *FakeAlertSender) Sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Alerts)
}

// Clock is a manually advanced clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
