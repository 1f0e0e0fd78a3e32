package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

const (
	// DefaultHeartbeatTTL is how long a heartbeat record survives without renewal.
	DefaultHeartbeatTTL = 60 * time.Second
	// DefaultHeartbeatTimeout is the maximum heartbeat age of a healthy consumer.
	DefaultHeartbeatTimeout = 30 * time.Second
)

// HealthCheck is the consumer heartbeat registry. Stale entries are filtered on read;
// nothing sweeps them in the background.
type HealthCheck struct {
	store   domain.Store
	metrics *MetricsCollector
	ttl     time.Duration
	timeout time.Duration
	now     domain.Clock
}

// NewHealthCheck creates a registry. Zero durations fall back to the defaults.
func NewHealthCheck(store domain.Store, metrics *MetricsCollector, ttl, timeout time.Duration) *HealthCheck {
	if ttl <= 0 {
		ttl = DefaultHeartbeatTTL
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &HealthCheck{store: store, metrics: metrics, ttl: ttl, timeout: timeout, now: time.Now}
}

// UpdateHeartbeat upserts the heartbeat of hb.ConsumerID, stamped now, and adds it to the
// active set. A zero expire uses the registry TTL.
func (h *HealthCheck) UpdateHeartbeat(ctx context.Context, hb domain.Heartbeat, expire time.Duration) error {
	if hb.ConsumerID == "" {
		return ErrInvalidConsumerID
	}
	if hb.Status == "" {
		hb.Status = domain.ConsumerActive
	}
	if !hb.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, hb.Status)
	}
	if expire <= 0 {
		expire = h.ttl
	}
	hb.LastHeartbeat = h.now().UTC()
	hb.ExpiresAt = hb.LastHeartbeat.Add(expire)
	if err := h.write(ctx, hb, expire); err != nil {
		return err
	}
	if err := h.store.SetAdd(ctx, activeConsumersKey, hb.ConsumerID); err != nil {
		utils.Logger.Error("track active consumer failed", "consumer", hb.ConsumerID, "err", err)
		return err
	}
	return nil
}

func (h *HealthCheck) write(ctx context.Context, hb domain.Heartbeat, expire time.Duration) error {
	raw, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	if err := h.store.Set(ctx, heartbeatKey(hb.ConsumerID), string(raw), expire); err != nil {
		utils.Logger.Error("write heartbeat failed", "consumer", hb.ConsumerID, "err", err)
		return err
	}
	return nil
}

// Heartbeat returns the stored heartbeat of consumerID.
func (h *HealthCheck) Heartbeat(ctx context.Context, consumerID string) (domain.Heartbeat, bool, error) {
	raw, ok, err := h.store.Get(ctx, heartbeatKey(consumerID))
	if err != nil || !ok {
		return domain.Heartbeat{}, false, err
	}
	var hb domain.Heartbeat
	if err := json.Unmarshal([]byte(raw), &hb); err != nil {
		return domain.Heartbeat{}, false, fmt.Errorf("decode heartbeat %s: %w", consumerID, err)
	}
	return hb, true, nil
}

func (h *HealthCheck) healthy(hb domain.Heartbeat, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = h.timeout
	}
	return hb.Status == domain.ConsumerActive && h.now().Sub(hb.LastHeartbeat) <= timeout
}

// IsConsumerHealthy reports whether consumerID is active and beat within timeout.
func (h *HealthCheck) IsConsumerHealthy(ctx context.Context, consumerID string, timeout time.Duration) bool {
	hb, ok, err := h.Heartbeat(ctx, consumerID)
	if err != nil {
		utils.Logger.Error("read heartbeat failed", "consumer", consumerID, "err", err)
		return false
	}
	return ok && h.healthy(hb, timeout)
}

// scan splits the active set into healthy heartbeats and unhealthy ids. Members whose
// record has expired are dropped from the set.
func (h *HealthCheck) scan(ctx context.Context) ([]domain.Heartbeat, []string, error) {
	ids, err := h.store.SetMembers(ctx, activeConsumersKey)
	if err != nil {
		return nil, nil, err
	}
	var (
		healthy   []domain.Heartbeat
		unhealthy []string
		gone      []string
	)
	for _, id := range ids {
		hb, ok, err := h.Heartbeat(ctx, id)
		if err != nil {
			utils.Logger.Warn("skipping unreadable heartbeat", "consumer", id, "err", err)
			unhealthy = append(unhealthy, id)
			continue
		}
		switch {
		case !ok:
			gone = append(gone, id)
		case h.healthy(hb, 0):
			healthy = append(healthy, hb)
		default:
			unhealthy = append(unhealthy, id)
		}
	}
	if len(gone) > 0 {
		if err := h.store.SetRemove(ctx, activeConsumersKey, gone...); err != nil {
			utils.Logger.Warn("prune expired consumers failed", "err", err)
		}
	}
	return healthy, unhealthy, nil
}

// ActiveConsumers returns the ids of every healthy consumer.
func (h *HealthCheck) ActiveConsumers(ctx context.Context) ([]string, error) {
	healthy, _, err := h.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(healthy))
	for _, hb := range healthy {
		out = append(out, hb.ConsumerID)
	}
	return out, nil
}

// ActiveConsumersForTopic returns the healthy consumers that reported topic.
func (h *HealthCheck) ActiveConsumersForTopic(ctx context.Context, topic string) ([]string, error) {
	healthy, _, err := h.scan(ctx)
	if err != nil {
		return nil, err
	}
	out := []string{}
	for _, hb := range healthy {
		if hb.Topic == topic {
			out = append(out, hb.ConsumerID)
		}
	}
	return out, nil
}

// SetConsumerStatus changes the reported status of consumerID without renewing its beat.
// The record keeps the expiry chosen by the last heartbeat.
func (h *HealthCheck) SetConsumerStatus(ctx context.Context, consumerID string, status domain.ConsumerStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	hb, ok, err := h.Heartbeat(ctx, consumerID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConsumerNotFound
	}
	remaining := h.ttl
	if !hb.ExpiresAt.IsZero() {
		remaining = hb.ExpiresAt.Sub(h.now())
		if remaining <= 0 {
			return ErrConsumerNotFound
		}
	}
	before := hb.Status
	hb.Status = status
	if err := h.write(ctx, hb, remaining); err != nil {
		return err
	}
	utils.Logger.Info("consumer status changed", "consumer", consumerID, "before", before, "after", status)
	return nil
}

// ClearConsumerHeartbeat forgets consumerID entirely.
func (h *HealthCheck) ClearConsumerHeartbeat(ctx context.Context, consumerID string) error {
	if err := h.store.Delete(ctx, heartbeatKey(consumerID)); err != nil {
		utils.Logger.Error("clear heartbeat failed", "consumer", consumerID, "err", err)
		return err
	}
	if err := h.store.SetRemove(ctx, activeConsumersKey, consumerID); err != nil {
		utils.Logger.Error("untrack consumer failed", "consumer", consumerID, "err", err)
		return err
	}
	utils.Logger.Info("consumer heartbeat cleared", "consumer", consumerID)
	return nil
}

// HealthStatus aggregates consumer liveness with the metrics snapshot.
func (h *HealthCheck) HealthStatus(ctx context.Context) (domain.HealthReport, error) {
	healthy, unhealthy, err := h.scan(ctx)
	if err != nil {
		return domain.HealthReport{}, err
	}
	report := domain.HealthReport{
		Status:             "healthy",
		ActiveConsumers:    make([]string, 0, len(healthy)),
		UnhealthyConsumers: []string{},
		Metrics:            h.metrics.Snapshot(),
		CheckedAt:          h.now().UTC(),
	}
	for _, hb := range healthy {
		report.ActiveConsumers = append(report.ActiveConsumers, hb.ConsumerID)
	}
	if len(unhealthy) > 0 {
		report.Status = "unhealthy"
		report.UnhealthyConsumers = unhealthy
	}
	return report, nil
}
