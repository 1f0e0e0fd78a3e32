package domain

import (
	"context"
	"time"
)

// Alert is the payload dispatched when a dead-letter queue crosses its threshold.
type Alert struct {
	Queue     string        `json:"queue"`
	Count     int           `json:"count"`
	Threshold int           `json:"threshold"`
	Analysis  ErrorAnalysis `json:"analysis"`
	RaisedAt  time.Time     `json:"raised_at"`
}

// AlertSender delivers alerts over one transport.
type AlertSender interface {
	Name() string
	Send(ctx context.Context, alert Alert) error
}
