// Package domain defines the core entities of the queue control plane and the contracts it
// requires from its collaborators: the coordination store, the message broker and the alert
// transports.
package domain

import "time"

// Topic is a named, partitioned message stream together with its registered consumers.
type Topic struct {
	Name       string   `json:"name"`
	Partitions int      `json:"partitions"`
	Consumers  []string `json:"consumers"`
}

// ConsumerStatus is the lifecycle state a consumer reports with its heartbeat.
type ConsumerStatus string

const (
	ConsumerActive   ConsumerStatus = "active"
	ConsumerPaused   ConsumerStatus = "paused"
	ConsumerStopping ConsumerStatus = "stopping"
	ConsumerError    ConsumerStatus = "error"
)

// Valid reports whether s is one of the known consumer states.
func (s ConsumerStatus) Valid() bool {
	switch s {
	case ConsumerActive, ConsumerPaused, ConsumerStopping, ConsumerError:
		return true
	}
	return false
}

// Heartbeat is the liveness record a consumer upserts periodically.
type Heartbeat struct {
	ConsumerID    string         `json:"consumer_id"`
	Topic         string         `json:"topic,omitempty"`
	Host          string         `json:"host,omitempty"`
	PID           int            `json:"pid,omitempty"`
	Status        ConsumerStatus `json:"status"`
	LastHeartbeat time.Time      `json:"last_heartbeat"`
	ExpiresAt     time.Time      `json:"expires_at,omitempty"`
}

// HealthReport aggregates consumer liveness with a metrics snapshot.
type HealthReport struct {
	Status             string             `json:"status"`
	ActiveConsumers    []string           `json:"active_consumers"`
	UnhealthyConsumers []string           `json:"unhealthy_consumers"`
	Metrics            map[string]float64 `json:"metrics"`
	CheckedAt          time.Time          `json:"checked_at"`
}

// LoadSample is one observation of message arrivals for a topic.
type LoadSample struct {
	Topic     string    `json:"topic"`
	Count     int64     `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// TopicLoad is the most recent load estimate for a topic.
type TopicLoad struct {
	Topic          string    `json:"topic"`
	MessageRate    float64   `json:"message_rate"`
	ConsumerCount  int       `json:"consumer_count"`
	PartitionCount int       `json:"partition_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ScaleAction is the direction of a scaling intent.
type ScaleAction string

const (
	ScaleNone ScaleAction = "none"
	ScaleUp   ScaleAction = "scale_up"
	ScaleDown ScaleAction = "scale_down"
)

// ScaleDecision is the outcome of one auto-scaler evaluation.
type ScaleDecision struct {
	Topic       string      `json:"topic"`
	Current     int         `json:"current"`
	Desired     int         `json:"desired"`
	Target      int         `json:"target"`
	Action      ScaleAction `json:"action"`
	Suppressed  bool        `json:"suppressed,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	MessageRate float64     `json:"message_rate"`
	Timestamp   time.Time   `json:"timestamp"`
}

// DeadLetterEntry is a permanently failed message parked for inspection.
type DeadLetterEntry struct {
	MessageID  string    `json:"message_id"`
	Queue      string    `json:"queue"`
	Payload    string    `json:"payload"`
	Error      string    `json:"error"`
	FailedAt   time.Time `json:"failed_at"`
	RetryCount int       `json:"retry_count"`
}

// ErrorStat counts dead-letter entries sharing one error string.
type ErrorStat struct {
	Error string `json:"error"`
	Count int    `json:"count"`
}

// ErrorAnalysis groups a dead-letter queue by error, most frequent first.
type ErrorAnalysis struct {
	Queue         string      `json:"queue"`
	TotalMessages int         `json:"total_messages"`
	ErrorStats    []ErrorStat `json:"error_stats"`
}

// IdempotencyRecord proves that a message was already processed.
type IdempotencyRecord struct {
	Queue       string            `json:"queue"`
	MessageID   string            `json:"message_id"`
	ProcessedAt time.Time         `json:"processed_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Tenant is an isolated namespace sharing the physical infrastructure.
type Tenant struct {
	ID        string            `json:"id"`
	Config    map[string]string `json:"config"`
	CreatedAt time.Time         `json:"created_at"`
}

// TxState is the state of a transactional producer.
type TxState string

const (
	TxNone   TxState = "none"
	TxInit   TxState = "init"
	TxBegin  TxState = "begin"
	TxCommit TxState = "commit"
	TxAbort  TxState = "abort"
)

// Message is a consumed broker record as seen by the control plane.
type Message struct {
	Topic       string    `json:"topic"`
	Partition   int32     `json:"partition"`
	Offset      int64     `json:"offset"`
	LeaderEpoch int32     `json:"leader_epoch"`
	Key         []byte    `json:"key,omitempty"`
	Payload     []byte    `json:"payload"`
	Timestamp   time.Time `json:"timestamp"`
}
