package application

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAssignRange(t *testing.T) {
	t.Parallel()
	tests := []struct {
		p, c int
		want [][]int
	}{
		{10, 4, [][]int{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, {9}}},
		{4, 3, [][]int{{0, 1}, {2, 3}, {}}},
		{3, 1, [][]int{{0, 1, 2}}},
		{2, 3, [][]int{{0}, {1}, {}}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("P%d_C%d", tt.p, tt.c), func(t *testing.T) {
			for i, want := range tt.want {
				require.Equal(t, want, assignRange(tt.p, tt.c, i))
			}
		})
	}
}

func TestPartitionManager_AssignmentCoverage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pm := f.partitionManager(nil)

	for p := 1; p <= 12; p++ {
		for c := 1; c <= p; c++ {
			topic := fmt.Sprintf("cov-%d-%d", p, c)
			require.True(t, pm.SetPartitionCount(f.ctx, topic, p))

			for i := 0; i < c; i++ {
				_, err := pm.ConsumerPartitions(f.ctx, topic, fmt.Sprintf("consumer-%02d", i))
				require.NoError(t, err)
			}
			assignment, err := pm.Assignment(f.ctx, topic)
			require.NoError(t, err)
			require.Len(t, assignment, c)

			owned := make(map[int]int)
			for _, parts := range assignment {
				for _, part := range parts {
					owned[part]++
				}
			}
			require.Len(t, owned, p, "P=%d C=%d", p, c)
			for part := 0; part < p; part++ {
				require.Equal(t, 1, owned[part], "P=%d C=%d partition %d", p, c, part)
			}
		}
	}
}

func TestPartitionManager_PartitionCount(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.policy.DefaultPartitions = 0
	pm := f.partitionManager(nil)

	require.Equal(t, 1, pm.PartitionCount(f.ctx, "orders"))

	f2 := newFixture(t)
	pm = f2.partitionManager(nil)
	require.Equal(t, 3, pm.PartitionCount(f2.ctx, "orders"))
	cached, ok, err := f2.store.Get(f2.ctx, partitionCountKey("orders"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "3", cached)

	require.False(t, pm.SetPartitionCount(f2.ctx, "orders", 0))
	require.Equal(t, 3, pm.PartitionCount(f2.ctx, "orders"))

	require.True(t, pm.SetPartitionCount(f2.ctx, "orders", 8))
	require.Equal(t, 8, pm.PartitionCount(f2.ctx, "orders"))
	echo, ok, _ := f2.store.Get(f2.ctx, partitionConfigKey("orders"))
	require.True(t, ok)
	require.Equal(t, "8", echo)
}

func TestPartitionManager_BrokerAdmin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.broker.Partitions["orders"] = 6
	pm := f.partitionManager(f.broker)

	require.Equal(t, 6, pm.PartitionCount(f.ctx, "orders"))

	require.True(t, pm.SetPartitionCount(f.ctx, "orders", 9))
	require.Equal(t, 9, f.broker.Partitions["orders"])

	require.True(t, pm.SetPartitionCount(f.ctx, "orders", 4))
	require.Equal(t, 9, f.broker.Partitions["orders"])
	require.Equal(t, 4, pm.PartitionCount(f.ctx, "orders"))

	require.False(t, pm.SetPartitionCount(f.ctx, "missing", 4))
}

func TestPartitionManager_Rebalance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pm := f.partitionManager(nil)

	lastSeen := f.clock.Now()
	require.False(t, pm.NeedRebalance(f.ctx, "orders", lastSeen))

	f.clock.Advance(time.Second)
	require.True(t, pm.RegisterConsumer(f.ctx, "orders", "a"))
	require.True(t, pm.NeedRebalance(f.ctx, "orders", lastSeen))

	lastSeen, _ = pm.LastRebalance(f.ctx, "orders")
	require.False(t, pm.NeedRebalance(f.ctx, "orders", lastSeen))

	// registration is idempotent but still signals a rebalance
	f.clock.Advance(time.Second)
	require.True(t, pm.RegisterConsumer(f.ctx, "orders", "a"))
	consumers, err := pm.Consumers(f.ctx, "orders")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, consumers)
	require.True(t, pm.NeedRebalance(f.ctx, "orders", lastSeen))

	require.True(t, pm.UnregisterConsumer(f.ctx, "orders", "a"))
	require.True(t, pm.UnregisterConsumer(f.ctx, "orders", "a"))
	consumers, err = pm.Consumers(f.ctx, "orders")
	require.NoError(t, err)
	require.Empty(t, consumers)

	require.False(t, pm.RegisterConsumer(f.ctx, "orders", ""))
}

func TestPartitionManager_ConsumerPartitionsAutoRegisters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	pm := f.partitionManager(nil)
	require.True(t, pm.SetPartitionCount(f.ctx, "orders", 4))

	parts, err := pm.ConsumerPartitions(f.ctx, "orders", "b")
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2, 3}, parts)

	parts, err = pm.ConsumerPartitions(f.ctx, "orders", "a")
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, parts)

	parts, err = pm.ConsumerPartitions(f.ctx, "orders", "b")
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, parts)

	_, err = pm.ConsumerPartitions(f.ctx, "orders", "")
	require.ErrorIs(t, err, ErrInvalidConsumerID)
}
