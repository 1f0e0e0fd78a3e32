package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays QUEUEPILOT_* environment variables onto cfg.
func FromEnv(cfg *FileConfig) {
	if v := os.Getenv("QUEUEPILOT_BROKERS"); v != "" {
		cfg.Broker.Brokers = splitList(v)
	}
	if v := os.Getenv("QUEUEPILOT_CLIENT_ID"); v != "" {
		cfg.Broker.ClientID = v
	}
	if v := os.Getenv("QUEUEPILOT_TRANSACTIONAL_ID"); v != "" {
		cfg.Broker.TransactionalID = v
	}
	if v := os.Getenv("QUEUEPILOT_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("QUEUEPILOT_STORE_ADDRESS"); v != "" {
		cfg.Store.Address = v
	}
	if v := os.Getenv("QUEUEPILOT_STORE_PASSWORD"); v != "" {
		cfg.Store.Password = v
	}
	if v := os.Getenv("QUEUEPILOT_STORE_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.DB = n
		}
	}
	if v := os.Getenv("QUEUEPILOT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("QUEUEPILOT_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("QUEUEPILOT_MANAGED_TOPICS"); v != "" {
		cfg.Supervisor.ManagedTopics = splitList(v)
	}
	if v := os.Getenv("QUEUEPILOT_DLQ_ALERT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DLQ.AlertThreshold = n
		}
	}
	if v := os.Getenv("QUEUEPILOT_ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Channels = append(cfg.Alerts.Channels, AlertChannelConfig{Name: "env-webhook", Type: "webhook", URL: v})
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
