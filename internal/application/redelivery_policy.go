package application

import (
	"context"
	"fmt"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

const (
	// DefaultMaxTries is the last attempt that is still redelivered.
	DefaultMaxTries = 3
	// MaxBackoff caps the computed redelivery delay.
	MaxBackoff = 900 * time.Second

	deadLetterSuffix = "_dead_letter"
	delayedSuffix    = "_delayed"
)

// DeadLetterTopic is the broker topic that receives exhausted messages of queue.
func DeadLetterTopic(queue string) string { return queue + deadLetterSuffix }

// DelayedTopic is the broker topic that holds delayed redeliveries of queue.
func DelayedTopic(queue string) string { return queue + delayedSuffix }

// BackoffDelay returns min(900, 2^attempts * 10) seconds.
func BackoffDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts >= 7 {
		return MaxBackoff
	}
	d := time.Duration(1<<uint(attempts)) * 10 * time.Second
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// RedeliveryPolicy routes negatively acknowledged messages to a retry, a delayed retry
// or the dead-letter topic, and commits positively acknowledged ones.
type RedeliveryPolicy struct {
	publisher domain.Publisher
	committer domain.Committer
	dlq       *DeadLetterQueue
	maxTries  int
	now       domain.Clock
}

// NewRedeliveryPolicy creates a policy. dlq may be nil.
func NewRedeliveryPolicy(publisher domain.Publisher, committer domain.Committer, dlq *DeadLetterQueue, maxTries int) *RedeliveryPolicy {
	if maxTries <= 0 {
		maxTries = DefaultMaxTries
	}
	return &RedeliveryPolicy{publisher: publisher, committer: committer, dlq: dlq, maxTries: maxTries, now: time.Now}
}

// Ack commits the offset of msg synchronously.
func (p *RedeliveryPolicy) Ack(ctx context.Context, msg domain.Message) error {
	if err := p.committer.CommitSync(ctx, msg); err != nil {
		utils.Logger.Error("ack commit failed", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return err
	}
	return nil
}

// Nack redelivers msg. A nil delay applies the backoff schedule; a zero delay republishes
// immediately.
func (p *RedeliveryPolicy) Nack(ctx context.Context, msg domain.Message, delay *time.Duration) error {
	return p.NackWithCause(ctx, msg, delay, nil)
}

// NackWithCause is Nack recording cause on the dead-letter entry if the message is
// exhausted.
func (p *RedeliveryPolicy) NackWithCause(ctx context.Context, msg domain.Message, delay *time.Duration, cause error) error {
	queue := msg.Topic
	env, _ := domain.ParseEnvelope(msg.Payload)
	attempts := env.Attempts()

	if attempts > p.maxTries {
		if err := p.publisher.Publish(ctx, DeadLetterTopic(queue), msg.Payload, domain.AnyPartition); err != nil {
			utils.Logger.Error("dead-letter publish failed", "queue", queue, "attempts", attempts, "err", err)
			return err
		}
		reason := fmt.Sprintf("exceeded %d attempts", p.maxTries)
		if cause != nil {
			reason = cause.Error()
		}
		if p.dlq != nil {
			p.dlq.Add(ctx, messageID(env, msg), queue, string(msg.Payload), reason)
		}
		utils.Logger.Warn("message exhausted retries", "queue", queue, "attempts", attempts, "max_tries", p.maxTries)
		return p.Ack(ctx, msg)
	}

	d := BackoffDelay(attempts)
	if delay != nil {
		d = *delay
	}
	env.SetAttempts(attempts + 1)

	target := queue
	if d > 0 {
		target = DelayedTopic(queue)
		env.SetAvailableAt(p.now().Add(d))
		env.SetOriginalQueue(queue)
	}
	payload, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("encode redelivery envelope: %w", err)
	}
	if err := p.publisher.Publish(ctx, target, payload, domain.AnyPartition); err != nil {
		utils.Logger.Error("redelivery publish failed", "queue", queue, "target", target, "err", err)
		return err
	}
	utils.Logger.Info("message redelivered", "queue", queue, "target", target, "attempt", attempts+1, "delay", d)
	return p.Ack(ctx, msg)
}

// messageID prefers an id carried in the payload, else the broker coordinates.
func messageID(env domain.Envelope, msg domain.Message) string {
	for _, f := range []string{"message_id", "id"} {
		if id, ok := env.String(f); ok && id != "" {
			return id
		}
	}
	return fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
}
