package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Admin wraps the kadm client with the partition operations the control plane needs.
type Admin struct {
	client *kadm.Client
}

// NewAdmin creates a new Admin
func NewAdmin(client *kadm.Client) *Admin {
	return &Admin{client: client}
}

// BrokerMetadata returns broker metadata (used for health checks)
func (a *Admin) BrokerMetadata(ctx context.Context) (kadm.Metadata, error) {
	return a.client.BrokerMetadata(ctx)
}

// ListTopics returns topics as a simplified map name->partitions
func (a *Admin) ListTopics(ctx context.Context) (map[string]int, error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	m, err := a.client.ListTopics(cctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int, len(m))
	for name, info := range m {
		out[name] = len(info.Partitions)
	}
	return out, nil
}

// BrokerPartitions returns the partition count of one topic.
func (a *Admin) BrokerPartitions(ctx context.Context, topic string) (int, error) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	topics, err := a.client.ListTopics(cctx, topic)
	if err != nil {
		return 0, err
	}
	td, ok := topics[topic]
	if !ok {
		return 0, fmt.Errorf("topic %s: not found", topic)
	}
	if td.Err != nil {
		return 0, fmt.Errorf("topic %s: %w", topic, td.Err)
	}
	return len(td.Partitions), nil
}

// IncreasePartitions grows topic to total partitions. Kafka cannot shrink a topic.
func (a *Admin) IncreasePartitions(ctx context.Context, topic string, total int) error {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := a.client.UpdatePartitions(cctx, total, topic)
	if err != nil {
		return err
	}
	for _, r := range resp {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}

// EnsureTopics creates every topic in names that does not exist yet.
func (a *Admin) EnsureTopics(ctx context.Context, partitions int32, replication int16, names ...string) error {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	existing, err := a.client.ListTopics(cctx, names...)
	if err != nil {
		return err
	}
	var missing []string
	for _, n := range names {
		if td, ok := existing[n]; !ok || td.Err != nil {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	resp, err := a.client.CreateTopics(cctx, partitions, replication, nil, missing...)
	if err != nil {
		return err
	}
	for _, r := range resp {
		if r.Err != nil {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// TopicLag returns, per consumer group committing on topic, the lag summed over the
// partitions of topic.
func (a *Admin) TopicLag(ctx context.Context, topic string) (map[string]int64, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	lags, err := a.client.Lag(cctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for group, l := range lags {
		if err := l.Error(); err != nil {
			utils.Logger.Warn("skipping group without lag", "group", group, "err", err)
			continue
		}
		if tl, ok := l.Lag.TotalByTopic()[topic]; ok {
			out[group] = tl.Lag
		}
	}
	return out, nil
}

// GroupOffsets returns where group resumes on each of partitions of topic. Partitions
// without a committed offset start from the beginning.
func (a *Admin) GroupOffsets(ctx context.Context, group, topic string, partitions []int32) (map[int32]kgo.Offset, error) {
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	resps, err := a.client.FetchOffsets(cctx, group)
	if err != nil {
		return nil, err
	}
	out := make(map[int32]kgo.Offset, len(partitions))
	for _, p := range partitions {
		o, ok := resps.Lookup(topic, p)
		if !ok || o.Err != nil || o.At < 0 {
			out[p] = kgo.NewOffset().AtStart()
			continue
		}
		out[p] = kgo.NewOffset().At(o.At).WithEpoch(o.LeaderEpoch)
	}
	return out, nil
}

// CommitOffset commits the offset after msg for group.
func (a *Admin) CommitOffset(ctx context.Context, group string, msg domain.Message) error {
	offsets := make(kadm.Offsets)
	offsets.Add(kadm.Offset{
		Topic:       msg.Topic,
		Partition:   msg.Partition,
		At:          msg.Offset + 1,
		LeaderEpoch: msg.LeaderEpoch,
	})
	return a.client.CommitAllOffsets(ctx, group, offsets)
}
