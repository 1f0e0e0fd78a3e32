package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

const (
	// DefaultDLQExpire is how long an untouched dead-letter list is kept.
	DefaultDLQExpire = 7 * 24 * time.Hour

	metricDLQMessages = "queuepilot_dlq_messages_total"
)

// RetryFunc redelivers a dead-lettered message and reports whether that succeeded.
// It must be idempotent: removal after a successful retry is not atomic with it.
type RetryFunc func(ctx context.Context, entry domain.DeadLetterEntry) bool

// DeadLetterQueue parks permanently failed messages per queue for inspection and retry.
type DeadLetterQueue struct {
	store     domain.Store
	metrics   *MetricsCollector
	senders   []domain.AlertSender
	threshold int
	expire    time.Duration
	now       domain.Clock
}

// NewDeadLetterQueue creates a dead-letter queue. Alerts go to every sender once a queue
// holds threshold entries; a non-positive threshold disables alerting.
func NewDeadLetterQueue(store domain.Store, metrics *MetricsCollector, senders []domain.AlertSender, threshold int, expire time.Duration) *DeadLetterQueue {
	if expire <= 0 {
		expire = DefaultDLQExpire
	}
	metrics.Describe(metricDLQMessages, "Messages moved to the dead-letter queue.", CounterMetric)
	return &DeadLetterQueue{
		store:     store,
		metrics:   metrics,
		senders:   senders,
		threshold: threshold,
		expire:    expire,
		now:       time.Now,
	}
}

// Add parks a failed message and evaluates the alert threshold of its queue.
func (q *DeadLetterQueue) Add(ctx context.Context, messageID, queue, payload, errMsg string) bool {
	if queue == "" {
		utils.Logger.Warn("rejected dead letter without queue", "message", messageID)
		return false
	}
	raw, err := json.Marshal(domain.DeadLetterEntry{
		MessageID: messageID,
		Queue:     queue,
		Payload:   payload,
		Error:     errMsg,
		FailedAt:  q.now().UTC(),
	})
	if err != nil {
		return false
	}
	key := dlqKey(queue)
	if err := q.store.ListPush(ctx, key, string(raw)); err != nil {
		utils.Logger.Error("dead letter append failed", "queue", queue, "message", messageID, "err", err)
		return false
	}
	if err := q.store.Expire(ctx, key, q.expire); err != nil {
		utils.Logger.Warn("dead letter ttl refresh failed", "queue", queue, "err", err)
	}
	_ = q.metrics.Increment(ctx, metricDLQMessages, map[string]string{"queue": queue}, 1)
	utils.Logger.Warn("message dead-lettered", "queue", queue, "message", messageID, "error", errMsg)

	q.CheckAlertThreshold(ctx, queue)
	return true
}

// Messages returns entries start..end (inclusive, negative counts from the tail).
func (q *DeadLetterQueue) Messages(ctx context.Context, queue string, start, end int64) ([]domain.DeadLetterEntry, error) {
	raws, err := q.store.ListRange(ctx, dlqKey(queue), start, end)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeadLetterEntry, 0, len(raws))
	for _, raw := range raws {
		var e domain.DeadLetterEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			utils.Logger.Warn("skipping corrupt dead letter", "queue", queue, "err", err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Count returns the number of parked entries of queue.
func (q *DeadLetterQueue) Count(ctx context.Context, queue string) (int64, error) {
	return q.store.ListLen(ctx, dlqKey(queue))
}

// Republish returns a RetryFunc that publishes an entry back to its queue with a fresh
// attempt count, so the retried message gets the full backoff schedule again. Payloads
// that are not JSON objects are sent unchanged.
func Republish(p domain.Publisher) RetryFunc {
	return func(ctx context.Context, e domain.DeadLetterEntry) bool {
		if p == nil {
			return false
		}
		payload := []byte(e.Payload)
		if env, wrapped := domain.ParseEnvelope(payload); !wrapped {
			if _, ok := env[domain.FieldAttempts]; ok {
				delete(env, domain.FieldAttempts)
				if raw, err := env.Marshal(); err == nil {
					payload = raw
				}
			}
		}
		if err := p.Publish(ctx, e.Queue, payload, domain.AnyPartition); err != nil {
			utils.Logger.Error("dead letter republish failed", "queue", e.Queue, "message", e.MessageID, "err", err)
			return false
		}
		return true
	}
}

// Retry hands the entry at index to fn with its retry count incremented. On success the
// entry is removed; on failure the incremented count is written back in place.
func (q *DeadLetterQueue) Retry(ctx context.Context, queue string, index int64, fn RetryFunc) bool {
	key := dlqKey(queue)
	raw, err := q.store.ListIndex(ctx, key, index)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			utils.Logger.Warn("dead letter retry of missing entry", "queue", queue, "index", index, "err", ErrEntryNotFound)
		} else {
			utils.Logger.Error("dead letter read failed", "queue", queue, "index", index, "err", err)
		}
		return false
	}
	var entry domain.DeadLetterEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		utils.Logger.Error("dead letter decode failed", "queue", queue, "index", index, "err", err)
		return false
	}
	entry.RetryCount++

	if fn(ctx, entry) {
		if _, err := q.store.ListRemove(ctx, key, 1, raw); err != nil {
			utils.Logger.Error("dead letter removal after retry failed", "queue", queue, "message", entry.MessageID, "err", err)
			return false
		}
		utils.Logger.Info("dead letter retried", "queue", queue, "message", entry.MessageID, "retries", entry.RetryCount)
		return true
	}

	updated, err := json.Marshal(entry)
	if err == nil {
		err = q.store.ListSet(ctx, key, index, string(updated))
	}
	if err != nil {
		utils.Logger.Error("dead letter retry count update failed", "queue", queue, "message", entry.MessageID, "err", err)
	}
	utils.Logger.Warn("dead letter retry failed", "queue", queue, "message", entry.MessageID, "retries", entry.RetryCount)
	return false
}

// RetryAll retries every entry of queue once, head first.
func (q *DeadLetterQueue) RetryAll(ctx context.Context, queue string, fn RetryFunc) (succeeded, failed int) {
	n, err := q.Count(ctx, queue)
	if err != nil {
		utils.Logger.Error("dead letter count failed", "queue", queue, "err", err)
		return 0, 0
	}
	var i int64
	for processed := int64(0); processed < n; processed++ {
		if q.Retry(ctx, queue, i, fn) {
			succeeded++
			continue
		}
		failed++
		i++
	}
	return succeeded, failed
}

// Clear drops every entry of queue.
func (q *DeadLetterQueue) Clear(ctx context.Context, queue string) bool {
	if err := q.store.Delete(ctx, dlqKey(queue)); err != nil {
		utils.Logger.Error("dead letter clear failed", "queue", queue, "err", err)
		return false
	}
	utils.Logger.Info("dead letter queue cleared", "queue", queue)
	return true
}

// AnalyzeErrors groups the entries of queue by error, most frequent first.
func (q *DeadLetterQueue) AnalyzeErrors(ctx context.Context, queue string) (domain.ErrorAnalysis, error) {
	entries, err := q.Messages(ctx, queue, 0, -1)
	if err != nil {
		return domain.ErrorAnalysis{}, err
	}
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Error]++
	}
	stats := make([]domain.ErrorStat, 0, len(counts))
	for msg, n := range counts {
		stats = append(stats, domain.ErrorStat{Error: msg, Count: n})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Error < stats[j].Error
	})
	return domain.ErrorAnalysis{Queue: queue, TotalMessages: len(entries), ErrorStats: stats}, nil
}

// CheckAlertThreshold alerts every sender when queue has reached the threshold and
// reports whether an alert was dispatched. Send failures are logged, not retried.
func (q *DeadLetterQueue) CheckAlertThreshold(ctx context.Context, queue string) bool {
	if q.threshold <= 0 || len(q.senders) == 0 {
		return false
	}
	n, err := q.Count(ctx, queue)
	if err != nil {
		utils.Logger.Error("dead letter count failed", "queue", queue, "err", err)
		return false
	}
	if n < int64(q.threshold) {
		return false
	}
	analysis, err := q.AnalyzeErrors(ctx, queue)
	if err != nil {
		utils.Logger.Error("dead letter analysis failed", "queue", queue, "err", err)
		return false
	}
	alert := domain.Alert{
		Queue:     queue,
		Count:     int(n),
		Threshold: q.threshold,
		Analysis:  analysis,
		RaisedAt:  q.now().UTC(),
	}
	for _, s := range q.senders {
		if err := s.Send(ctx, alert); err != nil {
			utils.Logger.Error("dead letter alert failed", "queue", queue, "channel", s.Name(), "err", err)
			continue
		}
		utils.Logger.Info("dead letter alert sent", "queue", queue, "channel", s.Name(), "count", n)
	}
	return true
}

// FormatAnalysis renders an analysis as a short human-readable summary.
func FormatAnalysis(a domain.ErrorAnalysis) string {
	s := fmt.Sprintf("%s: %d messages", a.Queue, a.TotalMessages)
	for _, st := range a.ErrorStats {
		s += fmt.Sprintf("\n  %5d  %s", st.Count, st.Error)
	}
	return s
}
