package application

import (
	"cmp"
	"container/heap"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

const (
	// sweepInterval is how often held records are checked for being due.
	sweepInterval = time.Second
	// releaseRetry delays a held record whose republish failed.
	releaseRetry = 5 * time.Second
)

// DelayedSweeper consumes <queue>_delayed topics and returns each message to its original
// queue once available_at has passed. Records that are not yet due are held in memory
// without blocking the consume loop. A partition is committed only up to its lowest
// record still held, so a restart redelivers every record not yet republished.
type DelayedSweeper struct {
	consumer  domain.Consumer
	publisher domain.Publisher
	committer domain.Committer
	maxWait   time.Duration
	interval  time.Duration
	now       domain.Clock

	mu      sync.Mutex
	held    heldQueue
	pending map[partitionKey][]*trackedOffset

	commitMu  sync.Mutex
	committed map[partitionKey]int64
}

type partitionKey struct {
	topic     string
	partition int32
}

type trackedOffset struct {
	msg      domain.Message
	released bool
}

// heldRecord is a record waiting for its due time.
type heldRecord struct {
	msg     domain.Message
	target  string
	payload []byte
	due     time.Time
	index   int
}

// heldQueue is a min-heap of held records ordered by due time.
type heldQueue []*heldRecord

func (q heldQueue) Len() int           { return len(q) }
func (q heldQueue) Less(i, j int) bool { return q[i].due.Before(q[j].due) }
func (q heldQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *heldQueue) Push(x any) {
	r := x.(*heldRecord)
	r.index = len(*q)
	*q = append(*q, r)
}

func (q *heldQueue) Pop() any {
	old := *q
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*q = old[:n-1]
	return r
}

// NewDelayedSweeper creates a sweeper. maxWait bounds how long one record may be held.
func NewDelayedSweeper(consumer domain.Consumer, publisher domain.Publisher, committer domain.Committer, maxWait time.Duration) *DelayedSweeper {
	if maxWait <= 0 {
		maxWait = MaxBackoff
	}
	return &DelayedSweeper{
		consumer:  consumer,
		publisher: publisher,
		committer: committer,
		maxWait:   maxWait,
		interval:  sweepInterval,
		now:       time.Now,
		pending:   make(map[partitionKey][]*trackedOffset),
		committed: make(map[partitionKey]int64),
	}
}

// Run sweeps the delayed topics of queues until ctx is done.
func (s *DelayedSweeper) Run(ctx context.Context, queues []string) error {
	topics := make([]string, len(queues))
	for i, q := range queues {
		topics[i] = DelayedTopic(q)
	}
	utils.Logger.Info("delayed sweeper started", "topics", topics)

	go s.releaseLoop(ctx)
	return s.consumer.Consume(ctx, topics, s.Handle)
}

func (s *DelayedSweeper) releaseLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ReleaseDue(ctx)
		}
	}
}

// Handle republishes msg to its original queue when it is due and holds it otherwise.
// It never waits for a held record.
func (s *DelayedSweeper) Handle(ctx context.Context, msg domain.Message) error {
	env, _ := domain.ParseEnvelope(msg.Payload)

	target, ok := env.OriginalQueue()
	if !ok {
		target = strings.TrimSuffix(msg.Topic, delayedSuffix)
	}
	if target == msg.Topic || target == "" {
		utils.Logger.Error("dropping delayed message without original queue", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		s.mu.Lock()
		s.track(msg)
		s.mu.Unlock()
		s.settle(ctx, msg)
		return nil
	}

	now := s.now()
	due := now
	if at, ok := env.AvailableAt(); ok && at.After(now) {
		due = at
		if limit := now.Add(s.maxWait); due.After(limit) {
			due = limit
		}
	}

	delete(env, domain.FieldAvailableAt)
	delete(env, domain.FieldOriginalQueue)
	payload, err := env.Marshal()
	if err != nil {
		utils.Logger.Error("dropping undecodable delayed message", "topic", msg.Topic, "offset", msg.Offset, "err", err)
		s.mu.Lock()
		s.track(msg)
		s.mu.Unlock()
		s.settle(ctx, msg)
		return nil
	}
	rec := &heldRecord{msg: msg, target: target, payload: payload, due: due}

	s.mu.Lock()
	if !s.track(msg) {
		s.mu.Unlock()
		return nil
	}
	if due.After(now) {
		heap.Push(&s.held, rec)
		s.mu.Unlock()
		utils.Logger.Debug("holding delayed message", "queue", target, "due", due)
		return nil
	}
	s.mu.Unlock()

	if err := s.publish(ctx, rec); err != nil {
		s.mu.Lock()
		s.untrack(msg)
		s.mu.Unlock()
		return err
	}
	s.settle(ctx, msg)
	return nil
}

// ReleaseDue republishes every held record whose due time has passed and returns how many
// were released. A record that fails to republish is held for another releaseRetry.
func (s *DelayedSweeper) ReleaseDue(ctx context.Context) int {
	released := 0
	for ctx.Err() == nil {
		s.mu.Lock()
		if len(s.held) == 0 || s.held[0].due.After(s.now()) {
			s.mu.Unlock()
			return released
		}
		rec := heap.Pop(&s.held).(*heldRecord)
		s.mu.Unlock()

		if err := s.publish(ctx, rec); err != nil {
			rec.due = s.now().Add(releaseRetry)
			s.mu.Lock()
			heap.Push(&s.held, rec)
			s.mu.Unlock()
			return released
		}
		s.settle(ctx, rec.msg)
		released++
	}
	return released
}

// Held returns the number of records waiting for their due time.
func (s *DelayedSweeper) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

func (s *DelayedSweeper) publish(ctx context.Context, rec *heldRecord) error {
	if err := s.publisher.Publish(ctx, rec.target, rec.payload, domain.AnyPartition); err != nil {
		utils.Logger.Error("delayed republish failed", "queue", rec.target, "err", err)
		return err
	}
	utils.Logger.Debug("delayed message released", "queue", rec.target, "offset", rec.msg.Offset)
	return nil
}

// settle marks msg released and commits its partition up to the lowest record still
// held.
func (s *DelayedSweeper) settle(ctx context.Context, msg domain.Message) {
	s.mu.Lock()
	upto, ok := s.release(msg)
	s.mu.Unlock()
	if !ok {
		return
	}

	k := partitionKey{upto.Topic, upto.Partition}
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if last, seen := s.committed[k]; seen && upto.Offset <= last {
		return
	}
	if err := s.committer.CommitSync(ctx, upto); err != nil {
		utils.Logger.Error("delayed commit failed", "topic", upto.Topic, "partition", upto.Partition, "offset", upto.Offset, "err", err)
		return
	}
	s.committed[k] = upto.Offset
}

func compareOffset(t *trackedOffset, offset int64) int { return cmp.Compare(t.msg.Offset, offset) }

// track records msg as outstanding on its partition. It reports false when msg is
// already outstanding.
func (s *DelayedSweeper) track(msg domain.Message) bool {
	k := partitionKey{msg.Topic, msg.Partition}
	list := s.pending[k]
	i, found := slices.BinarySearchFunc(list, msg.Offset, compareOffset)
	if found {
		return false
	}
	s.pending[k] = slices.Insert(list, i, &trackedOffset{msg: msg})
	return true
}

func (s *DelayedSweeper) untrack(msg domain.Message) {
	k := partitionKey{msg.Topic, msg.Partition}
	list := s.pending[k]
	if i, found := slices.BinarySearchFunc(list, msg.Offset, compareOffset); found {
		s.pending[k] = slices.Delete(list, i, i+1)
	}
}

// release marks msg released and returns the highest record of its partition with no
// outstanding record below it.
func (s *DelayedSweeper) release(msg domain.Message) (domain.Message, bool) {
	k := partitionKey{msg.Topic, msg.Partition}
	list := s.pending[k]
	i, found := slices.BinarySearchFunc(list, msg.Offset, compareOffset)
	if !found {
		return domain.Message{}, false
	}
	list[i].released = true

	var upto domain.Message
	n := 0
	for n < len(list) && list[n].released {
		upto = list[n].msg
		n++
	}
	if n == 0 {
		return domain.Message{}, false
	}
	if n == len(list) {
		delete(s.pending, k)
	} else {
		s.pending[k] = list[n:]
	}
	return upto, true
}
