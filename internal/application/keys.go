package application

import "fmt"

// Coordination store key layout.

func partitionCountKey(topic string) string  { return fmt.Sprintf("partitions:%s:count", topic) }
func partitionConfigKey(topic string) string { return fmt.Sprintf("config:%s:partitions", topic) }
func consumersKey(topic string) string       { return fmt.Sprintf("partitions:%s:consumers", topic) }
func rebalanceKey(topic string) string       { return fmt.Sprintf("partitions:%s:rebalanced_at", topic) }

func loadSamplesKey(topic string) string { return fmt.Sprintf("load:%s:samples", topic) }
func loadRateKey(topic string) string    { return fmt.Sprintf("load:%s:rate", topic) }
func loadCheckKey(topic string) string   { return fmt.Sprintf("load:%s:checked", topic) }

func cooldownKey(topic, direction string) string {
	return fmt.Sprintf("autoscaler:%s:cooldown:%s", topic, direction)
}
func desiredConsumersKey(topic string) string { return fmt.Sprintf("config:%s:desired_consumers", topic) }
func scaleHistoryKey(topic string) string     { return fmt.Sprintf("autoscaler:%s:history", topic) }

func heartbeatKey(consumerID string) string { return "health:heartbeat:" + consumerID }

const activeConsumersKey = "health:active_consumers"

func dlqKey(queue string) string { return "dlq:" + queue }

func idempotencyKey(queue, messageID string) string {
	return fmt.Sprintf("idempotency:%s:%s", queue, messageID)
}

func tenantKey(id string) string   { return "tenants:" + id }
func tenantPrefix(id string) string { return "tenant:" + id + ":" }

const (
	tenantsSetKey      = "tenants"
	metricsSnapshotKey = "metrics:snapshot"
)
