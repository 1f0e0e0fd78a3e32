package application

import (
	"context"
	"testing"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/infrastructure/store"
	"github.com/OliveiraNt/queuepilot/internal/testutil"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture wires services over one memory store and one manual clock.
type fixture struct {
	ctx     context.Context
	clock   *testutil.Clock
	store   *store.Memory
	broker  *testutil.FakeBroker
	metrics *MetricsCollector
	policy  domain.TopicPolicy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	utils.InitLogger()
	clock := testutil.NewClock(t0)
	s := store.NewMemory(clock.Now)
	return &fixture{
		ctx:     context.Background(),
		clock:   clock,
		store:   s,
		broker:  testutil.NewFakeBroker(),
		metrics: NewMetricsCollector(s),
		policy:  domain.DefaultTopicPolicy(),
	}
}

func (f *fixture) policies() domain.PolicyProvider { return domain.StaticPolicy(f.policy) }

func (f *fixture) partitionManager(admin domain.PartitionAdmin) *PartitionManager {
	pm := NewPartitionManager(f.store, f.policies(), admin)
	pm.now = f.clock.Now
	return pm
}

func (f *fixture) loadBalancer(pm *PartitionManager) *LoadBalancer {
	lb := NewLoadBalancer(f.store, pm, f.policies())
	lb.now = f.clock.Now
	return lb
}

func (f *fixture) healthCheck() *HealthCheck {
	h := NewHealthCheck(f.store, f.metrics, 0, 0)
	h.now = f.clock.Now
	return h
}

func (f *fixture) autoScaler() (*AutoScaler, *LoadBalancer, *HealthCheck) {
	lb := f.loadBalancer(f.partitionManager(nil))
	h := f.healthCheck()
	s := NewAutoScaler(f.store, lb, h, f.metrics, f.policies(), 0)
	s.now = f.clock.Now
	return s, lb, h
}

func (f *fixture) beat(t *testing.T, h *HealthCheck, id, topic string) {
	t.Helper()
	if err := h.UpdateHeartbeat(f.ctx, domain.Heartbeat{ConsumerID: id, Topic: topic}, 0); err != nil {
		t.Fatalf("heartbeat %s: %v", id, err)
	}
}
