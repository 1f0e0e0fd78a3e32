package domain

import (
	"context"
	"time"
)

// AnyPartition lets the broker choose the partition of a published record.
const AnyPartition int32 = -1

// Publisher writes records to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, partition int32) error
}

// Committer commits consumed offsets.
type Committer interface {
	CommitSync(ctx context.Context, msg Message) error
	CommitAsync(msg Message)
}

// Transactor exposes broker transactions.
type Transactor interface {
	Publisher
	InitTransactions(ctx context.Context) error
	BeginTransaction() error
	CommitTransaction(ctx context.Context) error
	AbortTransaction(ctx context.Context) error
	Flush(ctx context.Context) error
}

// MessageHandler processes one consumed record. A returned error redelivers the record;
// later records of its partition are not handed out before it succeeds.
type MessageHandler func(ctx context.Context, msg Message) error

// Consumer runs a group consume loop until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, topics []string, handler MessageHandler) error
}

// PartitionConsumer consumes an explicit set of partitions of one topic, resuming from
// the committed offsets, until ctx is done.
type PartitionConsumer interface {
	ConsumePartitions(ctx context.Context, topic string, partitions []int32, handler MessageHandler) error
}

// PartitionAdmin reads and grows broker-side partition counts.
type PartitionAdmin interface {
	BrokerPartitions(ctx context.Context, topic string) (int, error)
	IncreasePartitions(ctx context.Context, topic string, total int) error
}

// LagReader reports how far consumer groups trail a topic.
type LagReader interface {
	TopicLag(ctx context.Context, topic string) (map[string]int64, error)
}

// Clock returns the current time; services take one so tests can drive time.
type Clock func() time.Time
