package application

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

// ProcessFunc handles one message. A returned error nacks the message.
type ProcessFunc func(ctx context.Context, msg domain.Message) error

// WorkerOptions wires a Worker. Idempotency may be nil.
type WorkerOptions struct {
	ID        string
	Queue     string
	Heartbeat time.Duration

	Consumer    domain.PartitionConsumer
	Redelivery  *RedeliveryPolicy
	Idempotency *IdempotencyStore
	Health      *HealthCheck
	Partitions  *PartitionManager
	Load        *LoadBalancer
}

// Worker consumes one queue as a registered consumer: it heartbeats, reports its
// throughput as load, skips duplicates and routes failures through the redelivery policy.
type Worker struct {
	opts      WorkerOptions
	process   ProcessFunc
	processed atomic.Int64
}

// NewWorker creates a worker running process for every message of opts.Queue.
func NewWorker(opts WorkerOptions, process ProcessFunc) *Worker {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 10 * time.Second
	}
	return &Worker{opts: opts, process: process}
}

// Run joins the queue, consumes its assigned partitions until ctx is done and leaves
// again. A rebalance of the queue ends the current assignment and fetches a new one.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.beat(ctx); err != nil {
		return err
	}
	w.opts.Partitions.RegisterConsumer(ctx, w.opts.Queue, w.opts.ID)
	utils.Logger.Info("worker joined", "queue", w.opts.Queue, "consumer", w.opts.ID)

	err := w.consume(ctx)

	leaveCtx := context.WithoutCancel(ctx)
	w.opts.Partitions.UnregisterConsumer(leaveCtx, w.opts.Queue, w.opts.ID)
	if cerr := w.opts.Health.ClearConsumerHeartbeat(leaveCtx, w.opts.ID); cerr != nil {
		utils.Logger.Warn("worker heartbeat not cleared", "consumer", w.opts.ID, "err", cerr)
	}
	utils.Logger.Info("worker left", "queue", w.opts.Queue, "consumer", w.opts.ID, "processed", w.processed.Load())
	return err
}

func (w *Worker) consume(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.Heartbeat)
	defer ticker.Stop()
	var reported int64

	for {
		lastSeen, _ := w.opts.Partitions.LastRebalance(ctx, w.opts.Queue)
		owned, err := w.opts.Partitions.ConsumerPartitions(ctx, w.opts.Queue, w.opts.ID)
		if err != nil {
			return err
		}
		partitions := make([]int32, len(owned))
		for i, p := range owned {
			partitions[i] = int32(p)
		}
		utils.Logger.Info("worker assigned", "queue", w.opts.Queue, "consumer", w.opts.ID, "partitions", partitions)

		round, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- w.opts.Consumer.ConsumePartitions(round, w.opts.Queue, partitions, w.Handle)
		}()

		rebalanced := false
		for !rebalanced {
			select {
			case err := <-done:
				cancel()
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return err
			case <-ctx.Done():
				cancel()
				<-done
				return ctx.Err()
			case <-ticker.C:
			}
			reported = w.tick(ctx, reported)
			rebalanced = w.opts.Partitions.NeedRebalance(ctx, w.opts.Queue, lastSeen)
		}

		cancel()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		utils.Logger.Info("worker rebalancing", "queue", w.opts.Queue, "consumer", w.opts.ID)
	}
}

func (w *Worker) beat(ctx context.Context) error {
	return w.opts.Health.UpdateHeartbeat(ctx, domain.Heartbeat{ConsumerID: w.opts.ID, Topic: w.opts.Queue}, 0)
}

// tick heartbeats and reports the messages processed since reported.
func (w *Worker) tick(ctx context.Context, reported int64) int64 {
	if err := w.beat(ctx); err != nil {
		utils.Logger.Error("worker heartbeat failed", "consumer", w.opts.ID, "err", err)
	}
	n := w.processed.Load()
	if _, err := w.opts.Load.UpdateMessageRate(ctx, w.opts.Queue, n-reported, 0); err != nil {
		utils.Logger.Error("worker load report failed", "queue", w.opts.Queue, "err", err)
		return reported
	}
	return n
}

// Handle processes msg once: duplicates are acked unprocessed, failures are nacked with
// their cause.
func (w *Worker) Handle(ctx context.Context, msg domain.Message) error {
	env, _ := domain.ParseEnvelope(msg.Payload)
	id := messageID(env, msg)

	if w.opts.Idempotency != nil {
		meta := map[string]string{
			"partition": strconv.Itoa(int(msg.Partition)),
			"offset":    strconv.FormatInt(msg.Offset, 10),
		}
		won, err := w.opts.Idempotency.TryMarkAsProcessed(ctx, msg.Topic, id, meta)
		if err != nil {
			return err
		}
		if !won {
			return w.opts.Redelivery.Ack(ctx, msg)
		}
	}

	err := w.process(ctx, msg)
	w.processed.Add(1)
	if err == nil {
		return w.opts.Redelivery.Ack(ctx, msg)
	}

	utils.Logger.Warn("message processing failed", "queue", msg.Topic, "message", id, "attempt", env.Attempts(), "err", err)
	if w.opts.Idempotency != nil {
		if rerr := w.opts.Idempotency.RemoveProcessed(ctx, msg.Topic, id); rerr != nil {
			utils.Logger.Warn("release message id failed", "message", id, "err", rerr)
		}
	}
	return w.opts.Redelivery.NackWithCause(ctx, msg, nil, err)
}
