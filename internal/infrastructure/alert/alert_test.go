package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/config"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	utils.InitLogger()
	os.Exit(m.Run())
}

func sampleAlert() domain.Alert {
	return domain.Alert{
		Queue:     "orders",
		Count:     120,
		Threshold: 100,
		Analysis: domain.ErrorAnalysis{
			Queue:         "orders",
			TotalMessages: 120,
			ErrorStats:    []domain.ErrorStat{{Error: "timeout", Count: 90}, {Error: "bad payload", Count: 30}},
		},
	}
}

func TestWebhook_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer t0k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhook(config.AlertChannelConfig{Name: "ops", URL: srv.URL, Headers: map[string]string{"Authorization": "Bearer t0k"}}, 0, 0)
	require.Equal(t, "ops", w.Name())
	require.NoError(t, w.Send(context.Background(), sampleAlert()))

	require.Equal(t, "orders", got["queue"])
	require.Equal(t, 120.0, got["count"])
	require.Contains(t, got["text"], "timeout")
}

func TestWebhook_BreakerOpensAfterFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(config.AlertChannelConfig{Name: "ops", URL: srv.URL}, 2, time.Hour)
	ctx := context.Background()

	require.ErrorContains(t, w.Send(ctx, sampleAlert()), "unexpected status 502")
	require.Error(t, w.Send(ctx, sampleAlert()))
	require.Equal(t, gobreaker.StateOpen, w.State())

	require.ErrorIs(t, w.Send(ctx, sampleAlert()), gobreaker.ErrOpenState)
	require.Equal(t, int32(2), hits.Load())
}

func TestEmail_Send(t *testing.T) {
	e := NewEmail(config.AlertChannelConfig{
		Name:     "mail",
		SMTPAddr: "smtp.example.com:587",
		SMTPUser: "alerts",
		From:     "queuepilot@example.com",
		To:       "ops@example.com, oncall@example.com",
	}, "secret")
	require.NotNil(t, e.auth)

	var (
		addr string
		to   []string
		msg  string
	)
	e.sendMail = func(a string, _ smtp.Auth, _ string, rcpt []string, m []byte) error {
		addr, to, msg = a, rcpt, string(m)
		return nil
	}

	require.NoError(t, e.Send(context.Background(), sampleAlert()))
	require.Equal(t, "smtp.example.com:587", addr)
	require.Equal(t, []string{"ops@example.com", "oncall@example.com"}, to)
	require.Contains(t, msg, "Subject: [queuepilot] dead-letter queue orders over threshold\r\n")
	require.Contains(t, msg, "holds 120 messages (threshold 100)")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, e.Send(ctx, sampleAlert()), context.Canceled)

	anon := NewEmail(config.AlertChannelConfig{SMTPAddr: "localhost:25", From: "a@b", To: "c@d"}, "")
	require.Nil(t, anon.auth)
}

type countingSender struct {
	n   atomic.Int32
	err error
}

func (c *countingSender) Name() string { return "counting" }

func (c *countingSender) Send(context.Context, domain.Alert) error {
	c.n.Add(1)
	return c.err
}

func TestLimited(t *testing.T) {
	inner := &countingSender{}
	l := NewLimited(inner, 0, 2)
	ctx := context.Background()

	require.NoError(t, l.Send(ctx, sampleAlert()))
	require.NoError(t, l.Send(ctx, sampleAlert()))
	require.ErrorIs(t, l.Send(ctx, sampleAlert()), ErrRateLimited)
	require.Equal(t, int32(2), inner.n.Load())
	require.Equal(t, "counting", l.Name())
	require.Same(t, inner, l.Unwrap())

	failing := NewLimited(&countingSender{err: errors.New("down")}, 1, 0)
	require.EqualError(t, failing.Send(ctx, sampleAlert()), "down")
}

func TestLog_Send(t *testing.T) {
	l := NewLog("log")
	require.Equal(t, "log", l.Name())
	require.NoError(t, l.Send(context.Background(), sampleAlert()))
	require.NoError(t, l.Send(context.Background(), domain.Alert{Queue: "empty"}))
}

func TestNewRegistry(t *testing.T) {
	t.Setenv("QP_SMTP_PASSWORD", "secret")

	senders, err := NewRegistry(config.AlertsConfig{
		RatePerMinute: 6,
		Burst:         1,
		Channels: []config.AlertChannelConfig{
			{Name: "hook", Type: "webhook", URL: "http://localhost:9/hook"},
			{Name: "mail", Type: "EMAIL", SMTPAddr: "localhost:25", From: "a@b", To: "c@d", SMTPUser: "u", PasswordEnv: "QP_SMTP_PASSWORD"},
			{Type: "log"},
		},
	})
	require.NoError(t, err)
	require.Len(t, senders, 3)
	require.Equal(t, "hook", senders[0].Name())
	require.Equal(t, "log-2", senders[2].Name())

	limited, ok := senders[1].(*Limited)
	require.True(t, ok)
	mail, ok := limited.Unwrap().(*Email)
	require.True(t, ok)
	require.NotNil(t, mail.auth)

	plain, err := NewRegistry(config.AlertsConfig{Channels: []config.AlertChannelConfig{{Name: "l", Type: "log"}}})
	require.NoError(t, err)
	_, isLog := plain[0].(*Log)
	require.True(t, isLog)

	bad := []config.AlertsConfig{
		{Channels: []config.AlertChannelConfig{{Name: "x", Type: "pager"}}},
		{Channels: []config.AlertChannelConfig{{Name: "x", Type: "webhook"}}},
		{Channels: []config.AlertChannelConfig{{Name: "x", Type: "email", SMTPAddr: "h:25"}}},
		{Channels: []config.AlertChannelConfig{{Name: "x", Type: "log"}, {Name: "x", Type: "log"}}},
	}
	for _, cfg := range bad {
		_, err := NewRegistry(cfg)
		require.Error(t, err)
	}
	_, err = NewRegistry(bad[0])
	require.ErrorIs(t, err, ErrUnknownChannel)
}
