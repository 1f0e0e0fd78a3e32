package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/config"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/sony/gobreaker"
)

// Webhook posts alerts as JSON behind a circuit breaker.
type Webhook struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type webhookPayload struct {
	domain.Alert
	Text string `json:"text"`
}

// NewWebhook creates a webhook sender. The breaker opens after failureThreshold
// consecutive failures and half-opens after resetTimeout.
func NewWebhook(cfg config.AlertChannelConfig, failureThreshold int, resetTimeout time.Duration) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	threshold := uint32(failureThreshold)
	return &Webhook{
		name:    cfg.Name,
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "alert-" + cfg.Name,
			Timeout: resetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				utils.Logger.Warn("alert circuit breaker changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (w *Webhook) Name() string { return w.name }

// State returns the breaker state.
func (w *Webhook) State() gobreaker.State { return w.breaker.State() }

func (w *Webhook) Send(ctx context.Context, a domain.Alert) error {
	body, err := json.Marshal(webhookPayload{Alert: a, Text: summary(a)})
	if err != nil {
		return err
	}
	_, err = w.breaker.Execute(func() (interface{}, error) {
		return nil, w.post(ctx, body)
	})
	return err
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s: unexpected status %d", w.name, resp.StatusCode)
	}
	return nil
}
