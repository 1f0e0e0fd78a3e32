package alert

import (
	"context"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"golang.org/x/time/rate"
)

// Limited drops alerts that exceed a token-bucket budget.
type Limited struct {
	inner   domain.AlertSender
	limiter *rate.Limiter
}

// NewLimited wraps inner with a limiter refilling at limit with the given burst.
func NewLimited(inner domain.AlertSender, limit rate.Limit, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	return &Limited{inner: inner, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) Name() string { return l.inner.Name() }

// Unwrap returns the rate-limited sender.
func (l *Limited) Unwrap() domain.AlertSender { return l.inner }

func (l *Limited) Send(ctx context.Context, a domain.Alert) error {
	if !l.limiter.Allow() {
		return ErrRateLimited
	}
	return l.inner.Send(ctx, a)
}
