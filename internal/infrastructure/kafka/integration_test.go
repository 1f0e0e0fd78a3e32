package kafka

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/config"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestBrokerIntegration(t *testing.T) {
	brokers := getTestBrokers(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client, err := NewClient(config.BrokerConfig{Brokers: brokers, ClientID: "qp-it", ConsumerGroup: "qp-it"})
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.Ping(ctx))

	t.Run("partitions", func(t *testing.T) {
		require.NoError(t, client.Admin().EnsureTopics(ctx, 2, 1, "it-orders", "it-orders_delayed"))
		require.NoError(t, client.Admin().EnsureTopics(ctx, 2, 1, "it-orders"))

		n, err := client.BrokerPartitions(ctx, "it-orders")
		require.NoError(t, err)
		require.Equal(t, 2, n)

		require.NoError(t, client.IncreasePartitions(ctx, "it-orders", 4))
		n, err = client.BrokerPartitions(ctx, "it-orders")
		require.NoError(t, err)
		require.Equal(t, 4, n)

		_, err = client.BrokerPartitions(ctx, "it-missing")
		require.Error(t, err)

		topics, err := client.Admin().ListTopics(ctx)
		require.NoError(t, err)
		require.Equal(t, 4, topics["it-orders"])
	})

	t.Run("publish consume commit", func(t *testing.T) {
		require.NoError(t, client.Publish(ctx, "it-orders", []byte(`{"id":"a"}`), 3))

		var (
			mu  sync.Mutex
			got []domain.Message
		)
		cctx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- client.Consume(cctx, []string{"it-orders"}, func(ctx context.Context, m domain.Message) error {
				mu.Lock()
				got = append(got, m)
				mu.Unlock()
				return client.CommitSync(ctx, m)
			})
		}()

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 1
		}, time.Minute, 100*time.Millisecond)
		stop()
		require.ErrorIs(t, <-done, context.Canceled)
		require.Equal(t, int32(3), got[0].Partition)
		require.JSONEq(t, `{"id":"a"}`, string(got[0].Payload))
	})

	t.Run("partition client resumes from committed offset", func(t *testing.T) {
		require.NoError(t, client.Admin().EnsureTopics(ctx, 2, 1, "it-direct"))
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, client.Publish(ctx, "it-direct", []byte(`{"id":"`+id+`"}`), 1))
		}

		direct, err := NewPartitionClient(config.BrokerConfig{Brokers: brokers, ConsumerGroup: "qp-it-direct"})
		require.NoError(t, err)
		defer direct.Close()

		consume := func(stopAfter int) []domain.Message {
			var (
				mu  sync.Mutex
				got []domain.Message
			)
			cctx, stop := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() {
				done <- direct.ConsumePartitions(cctx, "it-direct", []int32{1}, func(ctx context.Context, m domain.Message) error {
					mu.Lock()
					got = append(got, m)
					n := len(got)
					mu.Unlock()
					if n > stopAfter {
						return nil
					}
					return direct.CommitSync(ctx, m)
				})
			}()
			require.Eventually(t, func() bool {
				mu.Lock()
				defer mu.Unlock()
				return len(got) >= stopAfter
			}, time.Minute, 100*time.Millisecond)
			stop()
			require.ErrorIs(t, <-done, context.Canceled)
			return got
		}

		first := consume(1)
		require.JSONEq(t, `{"id":"a"}`, string(first[0].Payload))
		second := consume(2)
		require.JSONEq(t, `{"id":"b"}`, string(second[0].Payload))
	})

	t.Run("transactions", func(t *testing.T) {
		tx, err := NewClient(config.BrokerConfig{Brokers: brokers, TransactionalID: "qp-it-tx"})
		require.NoError(t, err)
		defer tx.Close()

		require.NoError(t, tx.InitTransactions(ctx))
		require.NoError(t, tx.BeginTransaction())
		require.NoError(t, tx.Publish(ctx, "it-orders", []byte(`{"id":"tx"}`), domain.AnyPartition))
		require.NoError(t, tx.CommitTransaction(ctx))

		require.NoError(t, tx.BeginTransaction())
		require.NoError(t, tx.Publish(ctx, "it-orders", []byte(`{"id":"aborted"}`), domain.AnyPartition))
		require.NoError(t, tx.AbortTransaction(ctx))
	})
}
