// Package alert implements the dead-letter alert transports and resolves them from
// configuration.
package alert

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/config"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"golang.org/x/time/rate"
)

var (
	// ErrRateLimited is returned when a channel has used up its alert budget.
	ErrRateLimited = errors.New("alert rate limited")
	// ErrUnknownChannel is returned for a channel type the registry cannot build.
	ErrUnknownChannel = errors.New("unknown alert channel type")
)

const defaultTimeout = 10 * time.Second

// NewRegistry builds one sender per configured channel. Every sender is wrapped in the
// shared rate limit when one is configured.
func NewRegistry(cfg config.AlertsConfig) ([]domain.AlertSender, error) {
	senders := make([]domain.AlertSender, 0, len(cfg.Channels))
	seen := map[string]bool{}
	for i, ch := range cfg.Channels {
		if ch.Name == "" {
			ch.Name = fmt.Sprintf("%s-%d", ch.Type, i)
		}
		if seen[ch.Name] {
			return nil, fmt.Errorf("duplicate alert channel %q", ch.Name)
		}
		seen[ch.Name] = true

		var s domain.AlertSender
		switch strings.ToLower(ch.Type) {
		case "webhook":
			if ch.URL == "" {
				return nil, fmt.Errorf("alert channel %s: webhook needs a url", ch.Name)
			}
			s = NewWebhook(ch, cfg.FailureThreshold, cfg.ResetTimeout)
		case "email":
			if ch.SMTPAddr == "" || ch.From == "" || ch.To == "" {
				return nil, fmt.Errorf("alert channel %s: email needs smtp_addr, from and to", ch.Name)
			}
			s = NewEmail(ch, os.Getenv(ch.PasswordEnv))
		case "log":
			s = NewLog(ch.Name)
		default:
			return nil, fmt.Errorf("alert channel %s: %w %q", ch.Name, ErrUnknownChannel, ch.Type)
		}
		if cfg.RatePerMinute > 0 {
			s = NewLimited(s, rate.Limit(cfg.RatePerMinute/60), cfg.Burst)
		}
		senders = append(senders, s)
	}
	return senders, nil
}

// summary renders an alert as plain text.
func summary(a domain.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dead-letter queue %s holds %d messages (threshold %d).\n", a.Queue, a.Count, a.Threshold)
	for _, st := range a.Analysis.ErrorStats {
		fmt.Fprintf(&b, "  %5d  %s\n", st.Count, st.Error)
	}
	return b.String()
}
