package application

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

// PartitionManager owns per-topic partition counts, the registered consumer set and the
// range assignment derived from both.
type PartitionManager struct {
	store    domain.Store
	policies domain.PolicyProvider
	admin    domain.PartitionAdmin
	now      domain.Clock
}

// NewPartitionManager creates a partition manager. admin may be nil, in which case counts
// live only in the coordination store.
func NewPartitionManager(store domain.Store, policies domain.PolicyProvider, admin domain.PartitionAdmin) *PartitionManager {
	return &PartitionManager{store: store, policies: policies, admin: admin, now: time.Now}
}

// PartitionCount returns the cached partition count of topic. On a cache miss the broker
// count (when an admin is wired) or the configured default is cached and returned.
func (m *PartitionManager) PartitionCount(ctx context.Context, topic string) int {
	raw, ok, err := m.store.Get(ctx, partitionCountKey(topic))
	if err != nil {
		utils.Logger.Error("read partition count failed", "topic", topic, "err", err)
	}
	if ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 {
			return n
		}
		utils.Logger.Warn("ignoring invalid cached partition count", "topic", topic, "value", raw)
	}

	n := m.policies.Policy(topic).DefaultPartitions
	if m.admin != nil {
		if bn, err := m.admin.BrokerPartitions(ctx, topic); err == nil && bn >= 1 {
			n = bn
		} else if err != nil {
			utils.Logger.Debug("broker partition lookup failed", "topic", topic, "err", err)
		}
	}
	if n < 1 {
		n = 1
	}
	if err == nil {
		if err := m.store.Set(ctx, partitionCountKey(topic), strconv.Itoa(n), 0); err != nil {
			utils.Logger.Error("cache partition count failed", "topic", topic, "err", err)
		}
	}
	return n
}

// SetPartitionCount persists n as the partition count of topic. Growth is applied to the
// broker when an admin is wired; brokers cannot shrink, so a decrease only moves the
// control-plane target.
func (m *PartitionManager) SetPartitionCount(ctx context.Context, topic string, n int) bool {
	if n < 1 {
		utils.Logger.Warn("rejected partition count", "topic", topic, "count", n, "err", ErrInvalidPartitionCount)
		return false
	}
	previous := m.PartitionCount(ctx, topic)

	if m.admin != nil {
		current, err := m.admin.BrokerPartitions(ctx, topic)
		switch {
		case err != nil:
			utils.Logger.Error("read broker partitions failed", "topic", topic, "err", err)
			return false
		case n > current:
			if err := m.admin.IncreasePartitions(ctx, topic, n); err != nil {
				utils.Logger.Error("increase broker partitions failed", "topic", topic, "from", current, "to", n, "err", err)
				return false
			}
		case n < current:
			utils.Logger.Warn("broker partitions cannot shrink, keeping target only", "topic", topic, "broker", current, "target", n)
		}
	}

	v := strconv.Itoa(n)
	if err := m.store.Set(ctx, partitionCountKey(topic), v, 0); err != nil {
		utils.Logger.Error("persist partition count failed", "topic", topic, "err", err)
		return false
	}
	if err := m.store.Set(ctx, partitionConfigKey(topic), v, 0); err != nil {
		utils.Logger.Error("echo partition count failed", "topic", topic, "err", err)
		return false
	}
	utils.Logger.Info("partition count set", "topic", topic, "before", previous, "after", n)

	if n != previous {
		m.RebalancePartitions(ctx, topic)
	}
	return true
}

// RegisterConsumer adds consumerID to the consumer set of topic and triggers a rebalance.
func (m *PartitionManager) RegisterConsumer(ctx context.Context, topic, consumerID string) bool {
	if consumerID == "" {
		utils.Logger.Warn("rejected consumer registration", "topic", topic, "err", ErrInvalidConsumerID)
		return false
	}
	if err := m.store.SetAdd(ctx, consumersKey(topic), consumerID); err != nil {
		utils.Logger.Error("register consumer failed", "topic", topic, "consumer", consumerID, "err", err)
		return false
	}
	utils.Logger.Info("consumer registered", "topic", topic, "consumer", consumerID)
	return m.RebalancePartitions(ctx, topic)
}

// UnregisterConsumer removes consumerID from topic and triggers a rebalance.
func (m *PartitionManager) UnregisterConsumer(ctx context.Context, topic, consumerID string) bool {
	if err := m.store.SetRemove(ctx, consumersKey(topic), consumerID); err != nil {
		utils.Logger.Error("unregister consumer failed", "topic", topic, "consumer", consumerID, "err", err)
		return false
	}
	utils.Logger.Info("consumer unregistered", "topic", topic, "consumer", consumerID)
	return m.RebalancePartitions(ctx, topic)
}

// Consumers returns the registered consumers of topic in sorted order.
func (m *PartitionManager) Consumers(ctx context.Context, topic string) ([]string, error) {
	ids, err := m.store.SetMembers(ctx, consumersKey(topic))
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// ConsumerPartitions returns the contiguous partition range owned by consumerID,
// registering it first when unknown. The result is recomputed on every call.
func (m *PartitionManager) ConsumerPartitions(ctx context.Context, topic, consumerID string) ([]int, error) {
	if consumerID == "" {
		return nil, ErrInvalidConsumerID
	}
	consumers, err := m.Consumers(ctx, topic)
	if err != nil {
		return nil, err
	}
	idx := sort.SearchStrings(consumers, consumerID)
	if idx == len(consumers) || consumers[idx] != consumerID {
		m.RegisterConsumer(ctx, topic, consumerID)
		if consumers, err = m.Consumers(ctx, topic); err != nil {
			return nil, err
		}
		idx = sort.SearchStrings(consumers, consumerID)
	}
	return assignRange(m.PartitionCount(ctx, topic), len(consumers), idx), nil
}

// Assignment returns the partitions of every registered consumer.
func (m *PartitionManager) Assignment(ctx context.Context, topic string) (map[string][]int, error) {
	consumers, err := m.Consumers(ctx, topic)
	if err != nil {
		return nil, err
	}
	p := m.PartitionCount(ctx, topic)
	out := make(map[string][]int, len(consumers))
	for i, c := range consumers {
		out[c] = assignRange(p, len(consumers), i)
	}
	return out, nil
}

// assignRange returns the i-th of ceil(p/c)-sized contiguous chunks of [0, p).
func assignRange(p, c, i int) []int {
	if c < 1 || i < 0 || i >= c {
		return []int{}
	}
	chunk := (p + c - 1) / c
	start := i * chunk
	end := start + chunk
	if end > p {
		end = p
	}
	if start >= end {
		return []int{}
	}
	out := make([]int, 0, end-start)
	for n := start; n < end; n++ {
		out = append(out, n)
	}
	return out
}

// RebalancePartitions records that the assignment of topic changed.
func (m *PartitionManager) RebalancePartitions(ctx context.Context, topic string) bool {
	ts := m.now().UnixNano()
	if err := m.store.Set(ctx, rebalanceKey(topic), strconv.FormatInt(ts, 10), 0); err != nil {
		utils.Logger.Error("record rebalance failed", "topic", topic, "err", err)
		return false
	}
	utils.Logger.Debug("rebalance recorded", "topic", topic, "at", ts)
	return true
}

// LastRebalance returns when topic was last rebalanced.
func (m *PartitionManager) LastRebalance(ctx context.Context, topic string) (time.Time, bool) {
	raw, ok, err := m.store.Get(ctx, rebalanceKey(topic))
	if err != nil || !ok {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// NeedRebalance reports whether topic was rebalanced after lastSeen.
func (m *PartitionManager) NeedRebalance(ctx context.Context, topic string, lastSeen time.Time) bool {
	ts, ok := m.LastRebalance(ctx, topic)
	return ok && ts.After(lastSeen)
}
