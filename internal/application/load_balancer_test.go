package application

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadBalancer_UpdateMessageRate(t *testing.T) {
	t.Parallel()

	t.Run("two samples use elapsed time", func(t *testing.T) {
		f := newFixture(t)
		lb := f.loadBalancer(f.partitionManager(nil))

		_, err := lb.UpdateMessageRate(f.ctx, "orders", 50, 60*time.Second)
		require.NoError(t, err)
		f.clock.Advance(10 * time.Second)
		rate, err := lb.UpdateMessageRate(f.ctx, "orders", 50, 60*time.Second)
		require.NoError(t, err)
		require.InDelta(t, 10.0, rate, 0.01)
		require.InDelta(t, 10.0, lb.MessageRate(f.ctx, "orders"), 0.01)
	})

	t.Run("single sample uses window", func(t *testing.T) {
		f := newFixture(t)
		lb := f.loadBalancer(f.partitionManager(nil))

		rate, err := lb.UpdateMessageRate(f.ctx, "orders", 100, 60*time.Second)
		require.NoError(t, err)
		require.InDelta(t, 1.67, rate, 0.01)
	})

	t.Run("old samples are pruned", func(t *testing.T) {
		f := newFixture(t)
		lb := f.loadBalancer(f.partitionManager(nil))

		_, err := lb.UpdateMessageRate(f.ctx, "orders", 1000, 60*time.Second)
		require.NoError(t, err)
		f.clock.Advance(90 * time.Second)
		rate, err := lb.UpdateMessageRate(f.ctx, "orders", 60, 60*time.Second)
		require.NoError(t, err)
		require.InDelta(t, 1.0, rate, 0.01)
	})

	t.Run("zero window uses policy window", func(t *testing.T) {
		f := newFixture(t)
		f.policy.RateWindow = 10 * time.Second
		lb := f.loadBalancer(f.partitionManager(nil))

		rate, err := lb.UpdateMessageRate(f.ctx, "orders", 100, 0)
		require.NoError(t, err)
		require.InDelta(t, 10.0, rate, 0.01)
	})
}

func setRate(t *testing.T, f *fixture, topic string, rate float64) {
	t.Helper()
	require.NoError(t, f.store.Set(f.ctx, loadRateKey(topic), strconv.FormatFloat(rate, 'f', -1, 64), 0))
}

func TestLoadBalancer_NeedPartitionAdjustment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.policy.MessageRateThreshold = 1000
	f.policy.ConsumerPartitionRatio = 2
	pm := f.partitionManager(nil)
	lb := f.loadBalancer(pm)

	require.True(t, pm.SetPartitionCount(f.ctx, "orders", 3))
	for _, c := range []string{"a", "b", "c"} {
		require.True(t, pm.RegisterConsumer(f.ctx, "orders", c))
	}

	// ideal 6 > current 3
	setRate(t, f, "orders", 1500)
	require.True(t, lb.NeedPartitionAdjustment(f.ctx, "orders"))

	// inside the band nothing moves
	setRate(t, f, "orders", 700)
	require.False(t, lb.NeedPartitionAdjustment(f.ctx, "orders"))

	// low rate only shrinks
	setRate(t, f, "orders", 100)
	require.False(t, lb.NeedPartitionAdjustment(f.ctx, "orders"))
	require.True(t, pm.SetPartitionCount(f.ctx, "orders", 12))
	require.True(t, lb.NeedPartitionAdjustment(f.ctx, "orders"))
}

func TestLoadBalancer_AdjustPartitions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.policy.ConsumerPartitionRatio = 2
	f.policy.MinMessageRate = 10
	pm := f.partitionManager(nil)
	lb := f.loadBalancer(pm)

	require.True(t, pm.SetPartitionCount(f.ctx, "orders", 8))
	require.True(t, pm.RegisterConsumer(f.ctx, "orders", "a"))

	setRate(t, f, "orders", 9.99)
	require.False(t, lb.AdjustPartitions(f.ctx, "orders"))
	require.Equal(t, 8, pm.PartitionCount(f.ctx, "orders"))

	// the minimum rate itself allows shrinking
	setRate(t, f, "orders", 10)
	require.True(t, lb.AdjustPartitions(f.ctx, "orders"))
	require.Equal(t, 2, pm.PartitionCount(f.ctx, "orders"))

	require.False(t, lb.AdjustPartitions(f.ctx, "orders"))

	// growth ignores the minimum rate
	require.True(t, pm.RegisterConsumer(f.ctx, "orders", "b"))
	setRate(t, f, "orders", 0)
	require.True(t, lb.AdjustPartitions(f.ctx, "orders"))
	require.Equal(t, 4, pm.PartitionCount(f.ctx, "orders"))
}

func TestLoadBalancer_CheckAndAdjustPartitionsRateLimited(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.policy.MessageRateThreshold = 100
	f.policy.ConsumerPartitionRatio = 2
	pm := f.partitionManager(nil)
	lb := f.loadBalancer(pm)

	require.True(t, pm.SetPartitionCount(f.ctx, "orders", 1))
	require.True(t, pm.RegisterConsumer(f.ctx, "orders", "a"))
	setRate(t, f, "orders", 500)

	require.True(t, lb.CheckAndAdjustPartitions(f.ctx, "orders", time.Minute))
	require.Equal(t, 2, pm.PartitionCount(f.ctx, "orders"))

	require.True(t, pm.RegisterConsumer(f.ctx, "orders", "b"))
	require.False(t, lb.CheckAndAdjustPartitions(f.ctx, "orders", time.Minute))
	require.Equal(t, 2, pm.PartitionCount(f.ctx, "orders"))

	f.clock.Advance(61 * time.Second)
	require.True(t, lb.CheckAndAdjustPartitions(f.ctx, "orders", time.Minute))
	require.Equal(t, 4, pm.PartitionCount(f.ctx, "orders"))
}

func TestLoadBalancer_GetTopicLoad(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pm := f.partitionManager(nil)
	lb := f.loadBalancer(pm)

	require.True(t, pm.RegisterConsumer(f.ctx, "orders", "a"))
	setRate(t, f, "orders", 42)

	load := lb.GetTopicLoad(f.ctx, "orders")
	require.Equal(t, "orders", load.Topic)
	require.InDelta(t, 42.0, load.MessageRate, 0.001)
	require.Equal(t, 1, load.ConsumerCount)
	require.Equal(t, 3, load.PartitionCount)
	require.Equal(t, t0, load.UpdatedAt)
}
