package domain

import "time"

// TopicPolicy is the per-topic tuning read by the partition manager, load balancer and
// auto scaler.
type TopicPolicy struct {
	DefaultPartitions      int           `yaml:"default_partitions" json:"default_partitions"`
	MinConsumers           int           `yaml:"min_consumers" json:"min_consumers"`
	MaxConsumers           int           `yaml:"max_consumers" json:"max_consumers"`
	MessagesPerConsumer    float64       `yaml:"messages_per_consumer" json:"messages_per_consumer"`
	ScaleUpThreshold       float64       `yaml:"scale_up_threshold" json:"scale_up_threshold"`
	ScaleDownThreshold     float64       `yaml:"scale_down_threshold" json:"scale_down_threshold"`
	ScaleUpStep            int           `yaml:"scale_up_step" json:"scale_up_step"`
	ScaleDownStep          int           `yaml:"scale_down_step" json:"scale_down_step"`
	CooldownPeriod         time.Duration `yaml:"cooldown_period" json:"cooldown_period"`
	MessageRateThreshold   float64       `yaml:"message_rate_threshold" json:"message_rate_threshold"`
	ConsumerPartitionRatio float64       `yaml:"consumer_partition_ratio" json:"consumer_partition_ratio"`
	MinMessageRate         float64       `yaml:"min_message_rate" json:"min_message_rate"`
	RateWindow             time.Duration `yaml:"rate_window" json:"rate_window"`
}

// DefaultTopicPolicy returns the built-in tuning used when nothing is configured.
func DefaultTopicPolicy() TopicPolicy {
	return TopicPolicy{
		DefaultPartitions:      3,
		MinConsumers:           1,
		MaxConsumers:           10,
		MessagesPerConsumer:    100,
		ScaleUpThreshold:       0.8,
		ScaleDownThreshold:     0.3,
		ScaleUpStep:            0,
		ScaleDownStep:          1,
		CooldownPeriod:         5 * time.Minute,
		MessageRateThreshold:   1000,
		ConsumerPartitionRatio: 2,
		MinMessageRate:         10,
		RateWindow:             60 * time.Second,
	}
}

// PolicyOverride is a partial TopicPolicy. A nil field keeps the underlying value, so an
// override can set a field to zero.
type PolicyOverride struct {
	DefaultPartitions      *int           `yaml:"default_partitions,omitempty" json:"default_partitions,omitempty"`
	MinConsumers           *int           `yaml:"min_consumers,omitempty" json:"min_consumers,omitempty"`
	MaxConsumers           *int           `yaml:"max_consumers,omitempty" json:"max_consumers,omitempty"`
	MessagesPerConsumer    *float64       `yaml:"messages_per_consumer,omitempty" json:"messages_per_consumer,omitempty"`
	ScaleUpThreshold       *float64       `yaml:"scale_up_threshold,omitempty" json:"scale_up_threshold,omitempty"`
	ScaleDownThreshold     *float64       `yaml:"scale_down_threshold,omitempty" json:"scale_down_threshold,omitempty"`
	ScaleUpStep            *int           `yaml:"scale_up_step,omitempty" json:"scale_up_step,omitempty"`
	ScaleDownStep          *int           `yaml:"scale_down_step,omitempty" json:"scale_down_step,omitempty"`
	CooldownPeriod         *time.Duration `yaml:"cooldown_period,omitempty" json:"cooldown_period,omitempty"`
	MessageRateThreshold   *float64       `yaml:"message_rate_threshold,omitempty" json:"message_rate_threshold,omitempty"`
	ConsumerPartitionRatio *float64       `yaml:"consumer_partition_ratio,omitempty" json:"consumer_partition_ratio,omitempty"`
	MinMessageRate         *float64       `yaml:"min_message_rate,omitempty" json:"min_message_rate,omitempty"`
	RateWindow             *time.Duration `yaml:"rate_window,omitempty" json:"rate_window,omitempty"`
}

// Apply returns p with every field set in o applied on top.
func (p TopicPolicy) Apply(o PolicyOverride) TopicPolicy {
	if o.DefaultPartitions != nil {
		p.DefaultPartitions = *o.DefaultPartitions
	}
	if o.MinConsumers != nil {
		p.MinConsumers = *o.MinConsumers
	}
	if o.MaxConsumers != nil {
		p.MaxConsumers = *o.MaxConsumers
	}
	if o.MessagesPerConsumer != nil {
		p.MessagesPerConsumer = *o.MessagesPerConsumer
	}
	if o.ScaleUpThreshold != nil {
		p.ScaleUpThreshold = *o.ScaleUpThreshold
	}
	if o.ScaleDownThreshold != nil {
		p.ScaleDownThreshold = *o.ScaleDownThreshold
	}
	if o.ScaleUpStep != nil {
		p.ScaleUpStep = *o.ScaleUpStep
	}
	if o.ScaleDownStep != nil {
		p.ScaleDownStep = *o.ScaleDownStep
	}
	if o.CooldownPeriod != nil {
		p.CooldownPeriod = *o.CooldownPeriod
	}
	if o.MessageRateThreshold != nil {
		p.MessageRateThreshold = *o.MessageRateThreshold
	}
	if o.ConsumerPartitionRatio != nil {
		p.ConsumerPartitionRatio = *o.ConsumerPartitionRatio
	}
	if o.MinMessageRate != nil {
		p.MinMessageRate = *o.MinMessageRate
	}
	if o.RateWindow != nil {
		p.RateWindow = *o.RateWindow
	}
	return p
}

// Merge returns o with every field set in n replacing its value.
func (o PolicyOverride) Merge(n PolicyOverride) PolicyOverride {
	if n.DefaultPartitions != nil {
		o.DefaultPartitions = n.DefaultPartitions
	}
	if n.MinConsumers != nil {
		o.MinConsumers = n.MinConsumers
	}
	if n.MaxConsumers != nil {
		o.MaxConsumers = n.MaxConsumers
	}
	if n.MessagesPerConsumer != nil {
		o.MessagesPerConsumer = n.MessagesPerConsumer
	}
	if n.ScaleUpThreshold != nil {
		o.ScaleUpThreshold = n.ScaleUpThreshold
	}
	if n.ScaleDownThreshold != nil {
		o.ScaleDownThreshold = n.ScaleDownThreshold
	}
	if n.ScaleUpStep != nil {
		o.ScaleUpStep = n.ScaleUpStep
	}
	if n.ScaleDownStep != nil {
		o.ScaleDownStep = n.ScaleDownStep
	}
	if n.CooldownPeriod != nil {
		o.CooldownPeriod = n.CooldownPeriod
	}
	if n.MessageRateThreshold != nil {
		o.MessageRateThreshold = n.MessageRateThreshold
	}
	if n.ConsumerPartitionRatio != nil {
		o.ConsumerPartitionRatio = n.ConsumerPartitionRatio
	}
	if n.MinMessageRate != nil {
		o.MinMessageRate = n.MinMessageRate
	}
	if n.RateWindow != nil {
		o.RateWindow = n.RateWindow
	}
	return o
}

// IsZero reports whether o sets no field.
func (o PolicyOverride) IsZero() bool {
	return o == PolicyOverride{}
}

// PolicyProvider resolves the effective policy of a topic.
type PolicyProvider interface {
	Policy(topic string) TopicPolicy
}

// StaticPolicy serves the same policy for every topic.
type StaticPolicy TopicPolicy

// Policy implements PolicyProvider.
func (s StaticPolicy) Policy(string) TopicPolicy { return TopicPolicy(s) }
