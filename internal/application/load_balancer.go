package application

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

// DefaultCheckInterval spaces partition checks when the caller gives no interval.
const DefaultCheckInterval = 5 * time.Minute

// LoadBalancer tracks a sliding-window message rate per topic and adjusts partition
// counts to follow the consumer population.
type LoadBalancer struct {
	store      domain.Store
	partitions *PartitionManager
	policies   domain.PolicyProvider
	now        domain.Clock
}

// NewLoadBalancer creates a load balancer driving partitions.
func NewLoadBalancer(store domain.Store, partitions *PartitionManager, policies domain.PolicyProvider) *LoadBalancer {
	return &LoadBalancer{store: store, partitions: partitions, policies: policies, now: time.Now}
}

// UpdateMessageRate records count new messages for topic and returns the rate over the
// trailing window. With two or more samples the rate divides by the span between the
// oldest and newest sample; otherwise by the window itself.
func (b *LoadBalancer) UpdateMessageRate(ctx context.Context, topic string, count int64, window time.Duration) (float64, error) {
	if window <= 0 {
		window = b.policies.Policy(topic).RateWindow
	}
	now := b.now()

	samples, err := b.samples(ctx, topic)
	if err != nil {
		utils.Logger.Error("read load samples failed", "topic", topic, "err", err)
		return 0, err
	}
	samples = append(samples, domain.LoadSample{Topic: topic, Count: count, Timestamp: now})

	cutoff := now.Add(-window)
	kept := samples[:0]
	for _, s := range samples {
		if !s.Timestamp.Before(cutoff) {
			kept = append(kept, s)
		}
	}

	var total int64
	for _, s := range kept {
		total += s.Count
	}
	rate := float64(total) / window.Seconds()
	if len(kept) >= 2 {
		if elapsed := kept[len(kept)-1].Timestamp.Sub(kept[0].Timestamp); elapsed > 0 {
			rate = float64(total) / elapsed.Seconds()
		}
	}

	raw, err := json.Marshal(kept)
	if err != nil {
		return 0, err
	}
	if err := b.store.Set(ctx, loadSamplesKey(topic), string(raw), 2*window); err != nil {
		utils.Logger.Error("store load samples failed", "topic", topic, "err", err)
		return 0, err
	}
	if err := b.store.Set(ctx, loadRateKey(topic), strconv.FormatFloat(rate, 'f', -1, 64), 2*window); err != nil {
		utils.Logger.Error("store message rate failed", "topic", topic, "err", err)
		return 0, err
	}
	utils.Logger.Debug("message rate updated", "topic", topic, "samples", len(kept), "rate", rate)
	return rate, nil
}

func (b *LoadBalancer) samples(ctx context.Context, topic string) ([]domain.LoadSample, error) {
	raw, ok, err := b.store.Get(ctx, loadSamplesKey(topic))
	if err != nil || !ok {
		return nil, err
	}
	var out []domain.LoadSample
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		utils.Logger.Warn("discarding corrupt load samples", "topic", topic, "err", err)
		return nil, nil
	}
	return out, nil
}

// MessageRate returns the last computed rate of topic, zero when unknown.
func (b *LoadBalancer) MessageRate(ctx context.Context, topic string) float64 {
	raw, ok, err := b.store.Get(ctx, loadRateKey(topic))
	if err != nil || !ok {
		return 0
	}
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return rate
}

func (b *LoadBalancer) idealPartitions(ctx context.Context, topic string, ratio float64) (int, int) {
	consumers, err := b.partitions.Consumers(ctx, topic)
	if err != nil {
		utils.Logger.Error("read consumers failed", "topic", topic, "err", err)
	}
	ideal := int(math.Ceil(float64(len(consumers)) * ratio))
	if ideal < 1 {
		ideal = 1
	}
	return ideal, len(consumers)
}

// NeedPartitionAdjustment reports whether the partition count of topic is out of line
// with its consumers. Growth is considered above the rate threshold, shrinking only
// below half of it.
func (b *LoadBalancer) NeedPartitionAdjustment(ctx context.Context, topic string) bool {
	policy := b.policies.Policy(topic)
	rate := b.MessageRate(ctx, topic)
	ideal, _ := b.idealPartitions(ctx, topic, policy.ConsumerPartitionRatio)
	current := b.partitions.PartitionCount(ctx, topic)

	switch {
	case rate > policy.MessageRateThreshold:
		return ideal > current
	case rate < policy.MessageRateThreshold/2:
		return ideal < current
	}
	return false
}

// AdjustPartitions moves the partition count of topic to the ideal count. Shrinking is
// skipped while the rate is below the configured minimum.
func (b *LoadBalancer) AdjustPartitions(ctx context.Context, topic string) bool {
	policy := b.policies.Policy(topic)
	rate := b.MessageRate(ctx, topic)
	ideal, consumers := b.idealPartitions(ctx, topic, policy.ConsumerPartitionRatio)
	current := b.partitions.PartitionCount(ctx, topic)

	if ideal == current {
		return false
	}
	if ideal < current && rate < policy.MinMessageRate {
		utils.Logger.Info("partition shrink skipped below minimum rate", "topic", topic, "rate", rate, "min_rate", policy.MinMessageRate)
		return false
	}
	utils.Logger.Info("adjusting partitions", "topic", topic, "before", current, "after", ideal, "consumers", consumers, "rate", rate)
	return b.partitions.SetPartitionCount(ctx, topic, ideal)
}

// CheckAndAdjustPartitions runs the adjustment for topic at most once per interval.
func (b *LoadBalancer) CheckAndAdjustPartitions(ctx context.Context, topic string, interval time.Duration) bool {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	acquired, err := b.store.SetNX(ctx, loadCheckKey(topic), strconv.FormatInt(b.now().Unix(), 10), interval)
	if err != nil {
		utils.Logger.Error("acquire partition check failed", "topic", topic, "err", err)
		return false
	}
	if !acquired {
		return false
	}
	if !b.NeedPartitionAdjustment(ctx, topic) {
		return false
	}
	return b.AdjustPartitions(ctx, topic)
}

// GetTopicLoad returns the latest load estimate of topic.
func (b *LoadBalancer) GetTopicLoad(ctx context.Context, topic string) domain.TopicLoad {
	_, consumers := b.idealPartitions(ctx, topic, 0)
	return domain.TopicLoad{
		Topic:          topic,
		MessageRate:    b.MessageRate(ctx, topic),
		ConsumerCount:  consumers,
		PartitionCount: b.partitions.PartitionCount(ctx, topic),
		UpdatedAt:      b.now().UTC(),
	}
}
