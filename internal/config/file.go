// Package config loads the control-plane configuration from YAML, overlays environment
// variables and keeps it fresh through a file watcher.
package config

import (
	"crypto/x509"
	"encoding/pem"
	"os"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"gopkg.in/yaml.v3"
)

// BrokerConfig holds broker connectivity and security configuration.
type BrokerConfig struct {
	Brokers         []string          `yaml:"brokers" json:"brokers"`
	ClientID        string            `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ConsumerGroup   string            `yaml:"consumer_group,omitempty" json:"consumer_group,omitempty"`
	TransactionalID string            `yaml:"transactional_id,omitempty" json:"transactional_id,omitempty"`
	RecordRetries   int               `yaml:"record_retries,omitempty" json:"record_retries,omitempty"`
	Tracing         bool              `yaml:"tracing,omitempty" json:"tracing,omitempty"`
	TLS             *TLSConfig        `yaml:"tls,omitempty" json:"tls,omitempty"`
	SASL            *SASLConfig       `yaml:"sasl,omitempty" json:"sasl,omitempty"`
	AWS             *AWSConfig        `yaml:"aws,omitempty" json:"aws,omitempty"`
	Options         map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
}

// TLSConfig holds TLS related fields.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
}

// SASLConfig holds SASL configuration. Credentials may be provided inline or via env var names.
type SASLConfig struct {
	Mechanism   string `yaml:"mechanism,omitempty" json:"mechanism,omitempty"` // e.g. PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username    string `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string `yaml:"password,omitempty" json:"password,omitempty"`
	UsernameEnv string `yaml:"username_env,omitempty" json:"username_env,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty" json:"password_env,omitempty"`
}

// AWSConfig holds AWS IAM SASL config.
type AWSConfig struct {
	IAM             bool   `yaml:"iam,omitempty" json:"iam,omitempty"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
	AccessKeyEnv    string `yaml:"access_key_env,omitempty" json:"access_key_env,omitempty"`
	SecretKeyEnv    string `yaml:"secret_key_env,omitempty" json:"secret_key_env,omitempty"`
	SessionTokenEnv string `yaml:"session_token_env,omitempty" json:"session_token_env,omitempty"`
}

// StoreConfig selects and configures the coordination store.
type StoreConfig struct {
	Driver    string `yaml:"driver" json:"driver"` // memory, redis, badger
	Address   string `yaml:"address,omitempty" json:"address,omitempty"`
	Password  string `yaml:"password,omitempty" json:"password,omitempty"`
	DB        int    `yaml:"db,omitempty" json:"db,omitempty"`
	Path      string `yaml:"path,omitempty" json:"path,omitempty"`
	KeyPrefix string `yaml:"key_prefix,omitempty" json:"key_prefix,omitempty"`
}

// DLQConfig tunes the dead-letter queue and the redelivery policy.
type DLQConfig struct {
	Expire         time.Duration `yaml:"expire" json:"expire"`
	AlertThreshold int           `yaml:"alert_threshold" json:"alert_threshold"`
	MaxTries       int           `yaml:"max_tries" json:"max_tries"`
}

// AlertChannelConfig describes one alert transport.
type AlertChannelConfig struct {
	Name    string            `yaml:"name" json:"name"`
	Type    string            `yaml:"type" json:"type"` // webhook, email, log
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	SMTPAddr    string `yaml:"smtp_addr,omitempty" json:"smtp_addr,omitempty"`
	SMTPUser    string `yaml:"smtp_user,omitempty" json:"smtp_user,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty" json:"password_env,omitempty"`
	From        string `yaml:"from,omitempty" json:"from,omitempty"`
	To          string `yaml:"to,omitempty" json:"to,omitempty"`
}

// AlertsConfig lists alert channels and the limits applied to all of them.
type AlertsConfig struct {
	Channels         []AlertChannelConfig `yaml:"channels" json:"channels"`
	RatePerMinute    float64              `yaml:"rate_per_minute" json:"rate_per_minute"`
	Burst            int                  `yaml:"burst" json:"burst"`
	FailureThreshold int                  `yaml:"failure_threshold" json:"failure_threshold"`
	ResetTimeout     time.Duration        `yaml:"reset_timeout" json:"reset_timeout"`
}

// HealthConfig tunes heartbeat liveness.
type HealthConfig struct {
	HeartbeatTTL     time.Duration `yaml:"heartbeat_ttl" json:"heartbeat_ttl"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" json:"heartbeat_timeout"`
}

// SupervisorConfig tunes the periodic control loop.
type SupervisorConfig struct {
	Interval        time.Duration `yaml:"interval" json:"interval"`
	PartitionCheck  time.Duration `yaml:"partition_check" json:"partition_check"`
	ManagedTopics   []string      `yaml:"managed_topics" json:"managed_topics"`
	DelayedQueues   []string      `yaml:"delayed_queues" json:"delayed_queues"`
	MaxDelayedWait  time.Duration `yaml:"max_delayed_wait" json:"max_delayed_wait"`
	IdempotencyTTL  time.Duration `yaml:"idempotency_ttl" json:"idempotency_ttl"`
	HistoryCapacity int           `yaml:"history_capacity" json:"history_capacity"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// TenantsConfig holds the defaults every tenant config is merged over.
type TenantsConfig struct {
	Defaults map[string]string `yaml:"defaults" json:"defaults"`
}

// FileConfig is the root of the YAML configuration file.
type FileConfig struct {
	Broker     BrokerConfig                     `yaml:"broker" json:"broker"`
	Store      StoreConfig                      `yaml:"store" json:"store"`
	Defaults   domain.PolicyOverride            `yaml:"defaults" json:"defaults"`
	Topics     map[string]domain.PolicyOverride `yaml:"topics,omitempty" json:"topics,omitempty"`
	DLQ        DLQConfig                        `yaml:"dlq" json:"dlq"`
	Alerts     AlertsConfig                     `yaml:"alerts" json:"alerts"`
	Health     HealthConfig                     `yaml:"health" json:"health"`
	Supervisor SupervisorConfig                 `yaml:"supervisor" json:"supervisor"`
	HTTP       HTTPConfig                       `yaml:"http" json:"http"`
	Tenants    TenantsConfig                    `yaml:"tenants" json:"tenants"`
}

// ReadConfig parses the YAML file at path and fills in defaults.
func ReadConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// WriteConfig renders cfg as YAML at path.
func WriteConfig(path string, cfg FileConfig) error {
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// DefaultPolicy returns the built-in topic policy with the configured defaults applied.
func (c FileConfig) DefaultPolicy() domain.TopicPolicy {
	return domain.DefaultTopicPolicy().Apply(c.Defaults)
}

// Policy returns the effective policy of topic.
func (c FileConfig) Policy(topic string) domain.TopicPolicy {
	return c.DefaultPolicy().Apply(c.Topics[topic])
}

// ApplyDefaults fills every unset field with its built-in value. Topic policy fields stay
// unset; DefaultPolicy resolves them.
func (c *FileConfig) ApplyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = "queuepilot:"
	}
	if c.Broker.ClientID == "" {
		c.Broker.ClientID = "queuepilot"
	}
	if c.Broker.ConsumerGroup == "" {
		c.Broker.ConsumerGroup = "queuepilot"
	}
	if c.Broker.RecordRetries == 0 {
		c.Broker.RecordRetries = 5
	}
	if c.DLQ.Expire == 0 {
		c.DLQ.Expire = 7 * 24 * time.Hour
	}
	if c.DLQ.AlertThreshold == 0 {
		c.DLQ.AlertThreshold = 100
	}
	if c.DLQ.MaxTries == 0 {
		c.DLQ.MaxTries = 3
	}
	if c.Alerts.RatePerMinute == 0 {
		c.Alerts.RatePerMinute = 6
	}
	if c.Alerts.Burst == 0 {
		c.Alerts.Burst = 1
	}
	if c.Alerts.FailureThreshold == 0 {
		c.Alerts.FailureThreshold = 5
	}
	if c.Alerts.ResetTimeout == 0 {
		c.Alerts.ResetTimeout = time.Minute
	}
	if c.Health.HeartbeatTTL == 0 {
		c.Health.HeartbeatTTL = 60 * time.Second
	}
	if c.Health.HeartbeatTimeout == 0 {
		c.Health.HeartbeatTimeout = 30 * time.Second
	}
	if c.Supervisor.Interval == 0 {
		c.Supervisor.Interval = 30 * time.Second
	}
	if c.Supervisor.PartitionCheck == 0 {
		c.Supervisor.PartitionCheck = 5 * time.Minute
	}
	if c.Supervisor.MaxDelayedWait == 0 {
		c.Supervisor.MaxDelayedWait = 15 * time.Minute
	}
	if c.Supervisor.IdempotencyTTL == 0 {
		c.Supervisor.IdempotencyTTL = 24 * time.Hour
	}
	if c.Supervisor.HistoryCapacity == 0 {
		c.Supervisor.HistoryCapacity = 50
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
}

// GetAuthType returns a human-readable authentication type based on the broker config
func (c *BrokerConfig) GetAuthType() string {
	if c.AWS != nil && c.AWS.IAM {
		return "AWS IAM"
	}

	if c.SASL != nil && c.SASL.Mechanism != "" {
		mechanism := c.SASL.Mechanism
		if c.TLS != nil && c.TLS.Enabled {
			return "SASL/" + mechanism + " + TLS"
		}
		return "SASL/" + mechanism
	}

	// mTLS means a client certificate is presented
	if c.TLS != nil && c.TLS.Enabled {
		if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			return "mTLS"
		}
		return "TLS"
	}

	return "PLAINTEXT"
}

// CertificateInfo holds certificate validity information
type CertificateInfo struct {
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
	DaysToExpiry int       `json:"days_to_expiry"`
	Status       string    `json:"status"` // "valid", "warning", "critical", "expired"
}

// GetCertificateInfo reads the client certificate and reports how close it is to expiry.
func (c *BrokerConfig) GetCertificateInfo() (*CertificateInfo, error) {
	if !c.HasCertificate() {
		return nil, nil
	}

	certPEM, err := os.ReadFile(c.TLS.CertFile)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, nil
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	daysToExpiry := int(time.Until(cert.NotAfter).Hours() / 24)

	status := "valid"
	if now.After(cert.NotAfter) {
		status = "expired"
	} else if daysToExpiry <= 7 {
		status = "critical"
	} else if daysToExpiry <= 30 {
		status = "warning"
	}

	return &CertificateInfo{
		NotBefore:    cert.NotBefore,
		NotAfter:     cert.NotAfter,
		DaysToExpiry: daysToExpiry,
		Status:       status,
	}, nil
}

// HasCertificate returns true if the broker connection uses certificate-based authentication
func (c *BrokerConfig) HasCertificate() bool {
	return c.TLS != nil && c.TLS.Enabled && c.TLS.CertFile != ""
}
