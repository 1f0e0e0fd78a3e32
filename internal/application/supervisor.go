package application

import (
	"context"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

// Supervisor periodically runs partition adjustment and auto scaling for managed topics.
type Supervisor struct {
	load          *LoadBalancer
	scaler        *AutoScaler
	topics        func() []string
	interval      time.Duration
	checkInterval time.Duration
}

// NewSupervisor creates a control loop over the topics returned by topics, which is
// re-read on every tick so configuration reloads take effect.
func NewSupervisor(load *LoadBalancer, scaler *AutoScaler, topics func() []string, interval, checkInterval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if checkInterval <= 0 {
		checkInterval = DefaultCheckInterval
	}
	return &Supervisor{load: load, scaler: scaler, topics: topics, interval: interval, checkInterval: checkInterval}
}

// Tick evaluates every managed topic once and returns the scale decisions.
func (s *Supervisor) Tick(ctx context.Context) []domain.ScaleDecision {
	var out []domain.ScaleDecision
	for _, topic := range s.topics() {
		if ctx.Err() != nil {
			break
		}
		if s.load.CheckAndAdjustPartitions(ctx, topic, s.checkInterval) {
			utils.Logger.Info("partitions adjusted", "topic", topic)
		}
		d, err := s.scaler.CheckAndScale(ctx, topic)
		if err != nil {
			utils.Logger.Error("scale check failed", "topic", topic, "err", err)
			continue
		}
		out = append(out, d)
	}
	return out
}

// Run ticks until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	utils.Logger.Info("supervisor started", "interval", s.interval, "check_interval", s.checkInterval)
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			utils.Logger.Info("supervisor stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}
