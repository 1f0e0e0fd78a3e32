package application

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

const (
	// DefaultHistoryCapacity bounds the scale history kept per topic.
	DefaultHistoryCapacity = 50

	metricScaleActions = "queuepilot_autoscaler_actions_total"
	metricConsumers    = "queuepilot_autoscaler_consumers"
	metricMessageRate  = "queuepilot_autoscaler_message_rate"
)

// AutoScaler turns topic load into a desired consumer count. It never starts or stops
// workers; it publishes the count for an external supervisor to act on.
type AutoScaler struct {
	store      domain.Store
	load       *LoadBalancer
	health     *HealthCheck
	metrics    *MetricsCollector
	policies   domain.PolicyProvider
	historyCap int
	now        domain.Clock
}

// NewAutoScaler creates an auto scaler. A non-positive historyCap uses the default.
func NewAutoScaler(store domain.Store, load *LoadBalancer, health *HealthCheck, metrics *MetricsCollector, policies domain.PolicyProvider, historyCap int) *AutoScaler {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCapacity
	}
	metrics.Describe(metricScaleActions, "Scaling decisions taken per topic and action.", CounterMetric)
	metrics.Describe(metricConsumers, "Healthy consumers observed per topic.", GaugeMetric)
	metrics.Describe(metricMessageRate, "Message rate per topic in messages per second.", GaugeMetric)
	return &AutoScaler{
		store:      store,
		load:       load,
		health:     health,
		metrics:    metrics,
		policies:   policies,
		historyCap: historyCap,
		now:        time.Now,
	}
}

// DesiredFor clamps ceil(rate/messagesPerConsumer) into [min, max].
func DesiredFor(rate float64, p domain.TopicPolicy) int {
	mpc := p.MessagesPerConsumer
	if mpc <= 0 {
		mpc = 1
	}
	desired := int(math.Ceil(rate / mpc))
	if desired < p.MinConsumers {
		desired = p.MinConsumers
	}
	if p.MaxConsumers > 0 && desired > p.MaxConsumers {
		desired = p.MaxConsumers
	}
	return desired
}

// CheckAndScale evaluates topic and records the decision.
func (s *AutoScaler) CheckAndScale(ctx context.Context, topic string) (domain.ScaleDecision, error) {
	if topic == "" {
		return domain.ScaleDecision{}, ErrInvalidTopic
	}
	policy := s.policies.Policy(topic)
	load := s.load.GetTopicLoad(ctx, topic)

	live, err := s.health.ActiveConsumersForTopic(ctx, topic)
	if err != nil {
		utils.Logger.Error("read live consumers failed", "topic", topic, "err", err)
		return domain.ScaleDecision{}, err
	}
	current := len(live)
	desired := DesiredFor(load.MessageRate, policy)

	d := domain.ScaleDecision{
		Topic:       topic,
		Current:     current,
		Desired:     desired,
		Target:      current,
		Action:      domain.ScaleNone,
		MessageRate: load.MessageRate,
		Timestamp:   s.now().UTC(),
	}

	utilization := math.Inf(1)
	if current > 0 && policy.MessagesPerConsumer > 0 {
		utilization = load.MessageRate / (float64(current) * policy.MessagesPerConsumer)
	}

	switch {
	case desired > current && (current < policy.MinConsumers || current == 0 || utilization >= policy.ScaleUpThreshold):
		d.Action = domain.ScaleUp
		d.Target = desired
		if policy.ScaleUpStep > 0 && current+policy.ScaleUpStep < desired {
			d.Target = current + policy.ScaleUpStep
		}
		d.Reason = fmt.Sprintf("utilization %.2f, desired %d", utilization, desired)
	case desired < current && ((policy.MaxConsumers > 0 && current > policy.MaxConsumers) || utilization <= policy.ScaleDownThreshold):
		d.Action = domain.ScaleDown
		d.Target = desired
		if policy.ScaleDownStep > 0 && current-policy.ScaleDownStep > desired {
			d.Target = current - policy.ScaleDownStep
		}
		d.Reason = fmt.Sprintf("utilization %.2f, desired %d", utilization, desired)
	}

	if d.Action != domain.ScaleNone && policy.CooldownPeriod > 0 {
		acquired, err := s.store.SetNX(ctx, cooldownKey(topic, string(d.Action)), strconv.FormatInt(d.Timestamp.Unix(), 10), policy.CooldownPeriod)
		if err != nil {
			utils.Logger.Error("acquire scale cooldown failed", "topic", topic, "action", d.Action, "err", err)
			return domain.ScaleDecision{}, err
		}
		if !acquired {
			utils.Logger.Info("scale action suppressed by cooldown", "topic", topic, "action", d.Action, "current", current, "desired", desired)
			d.Reason = "cooldown active for " + string(d.Action)
			d.Action = domain.ScaleNone
			d.Target = current
			d.Suppressed = true
		}
	}

	if d.Action != domain.ScaleNone {
		if err := s.store.Set(ctx, desiredConsumersKey(topic), strconv.Itoa(d.Target), 0); err != nil {
			utils.Logger.Error("publish desired consumers failed", "topic", topic, "err", err)
			return d, err
		}
		utils.Logger.Info("scaling decision", "topic", topic, "action", d.Action, "before", current, "after", d.Target, "rate", load.MessageRate)
	}

	s.record(ctx, d)
	return d, nil
}

func (s *AutoScaler) record(ctx context.Context, d domain.ScaleDecision) {
	raw, err := json.Marshal(d)
	if err == nil {
		key := scaleHistoryKey(d.Topic)
		if err = s.store.ListPush(ctx, key, string(raw)); err == nil {
			err = s.store.ListTrim(ctx, key, int64(-s.historyCap), -1)
		}
	}
	if err != nil {
		utils.Logger.Warn("record scale history failed", "topic", d.Topic, "err", err)
	}

	labels := map[string]string{"topic": d.Topic}
	_ = s.metrics.Increment(ctx, metricScaleActions, map[string]string{"topic": d.Topic, "action": string(d.Action)}, 1)
	_ = s.metrics.SetGauge(ctx, metricConsumers, labels, float64(d.Current))
	_ = s.metrics.SetGauge(ctx, metricMessageRate, labels, d.MessageRate)
}

// History returns up to limit of the most recent decisions of topic, oldest first.
// A non-positive limit returns the whole history.
func (s *AutoScaler) History(ctx context.Context, topic string, limit int) ([]domain.ScaleDecision, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	raws, err := s.store.ListRange(ctx, scaleHistoryKey(topic), start, -1)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ScaleDecision, 0, len(raws))
	for _, raw := range raws {
		var d domain.ScaleDecision
		if err := json.Unmarshal([]byte(raw), &d); err != nil {
			utils.Logger.Warn("skipping corrupt scale history entry", "topic", topic, "err", err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// DesiredConsumers returns the last published desired consumer count of topic.
func (s *AutoScaler) DesiredConsumers(ctx context.Context, topic string) (int, bool, error) {
	raw, ok, err := s.store.Get(ctx, desiredConsumersKey(topic))
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("decode desired consumers: %w", err)
	}
	return n, true, nil
}
