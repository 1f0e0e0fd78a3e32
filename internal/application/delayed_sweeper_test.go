package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/stretchr/testify/require"
)

func (f *fixture) sweeper(maxWait time.Duration) *DelayedSweeper {
	s := NewDelayedSweeper(f.broker, f.broker, f.broker, maxWait)
	s.now = f.clock.Now
	return s
}

func delayedPayload(t *testing.T, id, queue string, due time.Time) []byte {
	t.Helper()
	env, _ := domain.ParseEnvelope([]byte(`{"id":"` + id + `"}`))
	env.SetAttempts(2)
	env.SetAvailableAt(due)
	if queue != "" {
		env.SetOriginalQueue(queue)
	}
	raw, err := env.Marshal()
	require.NoError(t, err)
	return raw
}

func TestDelayedSweeper_HoldsUntilDue(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.sweeper(0)
	msg := domain.Message{Topic: "orders_delayed", Offset: 9, Payload: delayedPayload(t, "o-1", "orders", t0.Add(20*time.Second))}

	require.NoError(t, s.Handle(f.ctx, msg))
	require.Equal(t, 1, s.Held())
	require.Empty(t, f.broker.Published)
	require.Empty(t, f.broker.Committed)

	f.clock.Advance(19 * time.Second)
	require.Zero(t, s.ReleaseDue(f.ctx))

	f.clock.Advance(time.Second)
	require.Equal(t, 1, s.ReleaseDue(f.ctx))
	require.Zero(t, s.Held())
	out := f.broker.PublishedTo("orders")
	require.Len(t, out, 1)
	require.JSONEq(t, `{"id":"o-1","attempts":2}`, string(out[0].Payload))
	require.Len(t, f.broker.Committed, 1)
	require.Equal(t, int64(9), f.broker.Committed[0].Offset)
}

func TestDelayedSweeper_DueMessageIsNotHeld(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.sweeper(0)

	require.NoError(t, s.Handle(f.ctx, domain.Message{Topic: "orders_delayed", Payload: delayedPayload(t, "o-1", "orders", t0.Add(-time.Minute))}))
	require.Zero(t, s.Held())
	require.Len(t, f.broker.PublishedTo("orders"), 1)
	require.Len(t, f.broker.Committed, 1)
}

func TestDelayedSweeper_WaitIsCapped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.sweeper(15 * time.Minute)

	require.NoError(t, s.Handle(f.ctx, domain.Message{Topic: "orders_delayed", Payload: delayedPayload(t, "o-1", "orders", t0.Add(time.Hour))}))
	f.clock.Advance(15 * time.Minute)
	require.Equal(t, 1, s.ReleaseDue(f.ctx))
	require.Len(t, f.broker.PublishedTo("orders"), 1)
}

func TestDelayedSweeper_LaterShortDelayIsNotBlocked(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.sweeper(0)
	long := domain.Message{Topic: "orders_delayed", Offset: 1, Payload: delayedPayload(t, "long", "orders", t0.Add(80*time.Second))}
	short := domain.Message{Topic: "orders_delayed", Offset: 2, Payload: delayedPayload(t, "short", "orders", t0.Add(20*time.Second))}

	require.NoError(t, s.Handle(f.ctx, long))
	require.NoError(t, s.Handle(f.ctx, short))
	require.Equal(t, 2, s.Held())

	f.clock.Advance(20 * time.Second)
	require.Equal(t, 1, s.ReleaseDue(f.ctx))
	out := f.broker.PublishedTo("orders")
	require.Len(t, out, 1)
	require.Equal(t, "short", decode(t, out[0].Payload)["id"])
	// offset 1 is still held, so nothing may be committed yet
	require.Empty(t, f.broker.Committed)

	f.clock.Advance(60 * time.Second)
	require.Equal(t, 1, s.ReleaseDue(f.ctx))
	out = f.broker.PublishedTo("orders")
	require.Len(t, out, 2)
	require.Equal(t, "long", decode(t, out[1].Payload)["id"])
	require.Len(t, f.broker.Committed, 1)
	require.Equal(t, int64(2), f.broker.Committed[0].Offset)
}

func TestDelayedSweeper_RedeliveredRecordIsHeldOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.sweeper(0)
	msg := domain.Message{Topic: "orders_delayed", Offset: 4, Payload: delayedPayload(t, "o-1", "orders", t0.Add(time.Minute))}

	require.NoError(t, s.Handle(f.ctx, msg))
	require.NoError(t, s.Handle(f.ctx, msg))
	require.Equal(t, 1, s.Held())

	f.clock.Advance(time.Minute)
	require.Equal(t, 1, s.ReleaseDue(f.ctx))
	require.Len(t, f.broker.PublishedTo("orders"), 1)
}

func TestDelayedSweeper_PublishFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.sweeper(0)
	down := errors.New("broker unavailable")

	// a due record is handed back to the consumer
	f.broker.PublishErrs = []error{down}
	due := domain.Message{Topic: "orders_delayed", Offset: 1, Payload: delayedPayload(t, "o-1", "orders", t0)}
	require.ErrorIs(t, s.Handle(f.ctx, due), down)
	require.Empty(t, f.broker.Committed)
	require.NoError(t, s.Handle(f.ctx, due))
	require.Len(t, f.broker.Committed, 1)

	// a held record stays held and is retried later
	held := domain.Message{Topic: "orders_delayed", Offset: 2, Payload: delayedPayload(t, "o-2", "orders", t0.Add(time.Second))}
	require.NoError(t, s.Handle(f.ctx, held))
	f.clock.Advance(time.Second)
	f.broker.PublishErrs = []error{down}
	require.Zero(t, s.ReleaseDue(f.ctx))
	require.Equal(t, 1, s.Held())

	f.clock.Advance(releaseRetry)
	require.Equal(t, 1, s.ReleaseDue(f.ctx))
	require.Len(t, f.broker.PublishedTo("orders"), 2)
	require.Len(t, f.broker.Committed, 2)
	require.Equal(t, int64(2), f.broker.Committed[1].Offset)
}

func TestDelayedSweeper_FallsBackToTopicName(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.sweeper(0)

	require.NoError(t, s.Handle(f.ctx, domain.Message{Topic: "billing_delayed", Payload: delayedPayload(t, "o-1", "", t0)}))
	require.Len(t, f.broker.PublishedTo("billing"), 1)

	// no way to route it back, so it is committed and dropped
	require.NoError(t, s.Handle(f.ctx, domain.Message{Topic: "billing", Offset: 3, Payload: []byte(`{}`)}))
	require.Len(t, f.broker.Published, 1)
	require.Len(t, f.broker.Committed, 2)
	require.Equal(t, int64(3), f.broker.Committed[1].Offset)
}

func TestDelayedSweeper_Run(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.sweeper(0)
	s.interval = 5 * time.Millisecond
	f.broker.Inbox = []domain.Message{
		{Topic: "orders_delayed", Offset: 1, Payload: delayedPayload(t, "now", "orders", t0)},
		{Topic: "orders_delayed", Offset: 2, Payload: delayedPayload(t, "later", "orders", t0.Add(time.Minute))},
		{Topic: "unrelated_delayed", Offset: 1, Payload: delayedPayload(t, "x", "unrelated", t0)},
	}

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, []string{"orders"}) }()

	require.Eventually(t, func() bool { return len(f.broker.PublishedTo("orders")) == 1 && s.Held() == 1 }, time.Second, 5*time.Millisecond)
	f.clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return len(f.broker.PublishedTo("orders")) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.Empty(t, f.broker.PublishedTo("unrelated"))
}
