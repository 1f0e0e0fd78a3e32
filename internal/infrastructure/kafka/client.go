// Package kafka adapts franz-go to the broker contracts of the control plane.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"hash/fnv"
	"os"
	"sync/atomic"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/config"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/aws"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
)

// ErrNotTransactional is returned by transaction calls on a client built without a
// transactional id.
var ErrNotTransactional = errors.New("kafka client has no transactional id")

// ErrNoConsumerGroup is returned when a partition client is built without a group to
// commit for.
var ErrNoConsumerGroup = errors.New("kafka partition client needs a consumer group")

// ErrNotPartitionClient is returned by ConsumePartitions on a group-member client.
var ErrNotPartitionClient = errors.New("kafka client consumes as a group member")

// redeliveryBackoff is the pause after a handler error before the record is fetched again.
var redeliveryBackoff = time.Second

var (
	_ domain.Publisher      = (*Client)(nil)
	_ domain.Committer      = (*Client)(nil)
	_ domain.Consumer          = (*Client)(nil)
	_ domain.PartitionConsumer = (*Client)(nil)
	_ domain.Transactor     = (*Client)(nil)
	_ domain.PartitionAdmin = (*Client)(nil)
	_ domain.LagReader      = (*Client)(nil)
)

// Client implements the broker contracts using franz-go.
type Client struct {
	client *kgo.Client
	admin  *Admin
	config config.BrokerConfig
	// direct clients consume assigned partitions and commit through the admin API.
	direct bool
}

// NewClient creates a new Kafka client from configuration. extra options are appended
// after the configured ones.
func NewClient(cfg config.BrokerConfig, extra ...kgo.Opt) (*Client, error) {
	opts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, extra...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}

	return &Client{
		client: client,
		admin:  NewAdmin(kadm.NewClient(client)),
		config: cfg,
	}, nil
}

// NewPartitionClient creates a client that consumes explicitly assigned partitions instead
// of joining cfg.ConsumerGroup. Offsets are still read from and committed to that group.
func NewPartitionClient(cfg config.BrokerConfig, extra ...kgo.Opt) (*Client, error) {
	if cfg.ConsumerGroup == "" {
		return nil, ErrNoConsumerGroup
	}
	group := cfg.ConsumerGroup
	cfg.ConsumerGroup = ""
	opts := append([]kgo.Opt{kgo.FetchIsolationLevel(kgo.ReadCommitted())}, extra...)
	c, err := NewClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	c.config.ConsumerGroup = group
	c.direct = true
	return c, nil
}

func clientOptions(cfg config.BrokerConfig) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.RecordPartitioner(manualOrHashPartitioner()),
	}

	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if len(cfg.Brokers) > 0 {
		opts = append(opts, kgo.SeedBrokers(cfg.Brokers...))
	}
	if cfg.ConsumerGroup != "" {
		opts = append(opts,
			kgo.ConsumerGroup(cfg.ConsumerGroup),
			kgo.AutoCommitMarks(),
			kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		)
	}
	if cfg.TransactionalID != "" {
		opts = append(opts, kgo.TransactionalID(cfg.TransactionalID))
	}
	if cfg.RecordRetries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.RecordRetries))
	}
	if utils.Logger != nil {
		opts = append(opts, kgo.WithLogger(newLogger(utils.Logger)))
	}
	if cfg.Tracing {
		tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
		opts = append(opts, kgo.WithHooks(kotel.NewKotel(kotel.WithTracer(tracer)).Hooks()...))
	}

	if cfg.TLS != nil && cfg.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.DialTLSConfig(tlsCfg))
	}
	if cfg.SASL != nil && cfg.SASL.Mechanism != "" {
		mech, err := buildSASLMechanism(cfg.SASL)
		if err != nil {
			return nil, err
		}
		if mech != nil {
			opts = append(opts, kgo.SASL(mech))
		}
	}
	if cfg.AWS != nil && cfg.AWS.IAM {
		awsMech, err := buildAWSMechanism(cfg.AWS)
		if err != nil {
			return nil, err
		}
		if awsMech != nil {
			opts = append(opts, kgo.SASL(awsMech))
		}
	}
	return opts, nil
}

// manualOrHashPartitioner honours an explicit record partition, hashes keyed records and
// round-robins the rest.
func manualOrHashPartitioner() kgo.Partitioner {
	return kgo.BasicConsistentPartitioner(func(string) func(*kgo.Record, int) int {
		var next atomic.Uint32
		return func(r *kgo.Record, n int) int {
			if r.Partition >= 0 && int(r.Partition) < n {
				return int(r.Partition)
			}
			if len(r.Key) > 0 {
				h := fnv.New32a()
				_, _ = h.Write(r.Key)
				return int(h.Sum32() % uint32(n))
			}
			return int((next.Add(1) - 1) % uint32(n))
		}
	})
}

// Ping checks that the cluster is reachable.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.admin.BrokerMetadata(ctx)
	return err
}

// Admin returns the admin view of the client.
func (c *Client) Admin() *Admin { return c.admin }

// Publish produces one record and waits for the broker acknowledgement. A negative
// partition lets the partitioner choose.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, partition int32) error {
	rec := &kgo.Record{Topic: topic, Value: payload, Partition: partition}
	if err := c.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return err
	}
	utils.Logger.Debug("record produced", "topic", topic, "partition", rec.Partition, "offset", rec.Offset)
	return nil
}

// CommitSync commits the offset after msg and waits for the broker.
func (c *Client) CommitSync(ctx context.Context, msg domain.Message) error {
	if c.direct {
		return c.admin.CommitOffset(ctx, c.config.ConsumerGroup, msg)
	}
	return c.client.CommitRecords(ctx, toRecord(msg))
}

// CommitAsync marks msg for the next background commit. Partition clients have no
// background committer and commit inline.
func (c *Client) CommitAsync(msg domain.Message) {
	if c.direct {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.admin.CommitOffset(ctx, c.config.ConsumerGroup, msg); err != nil {
			utils.Logger.Error("commit failed", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		}
		return
	}
	c.client.MarkCommitRecords(toRecord(msg))
}

// Consume polls topics as a group member and hands every record to handler until ctx is
// done.
func (c *Client) Consume(ctx context.Context, topics []string, handler domain.MessageHandler) error {
	c.client.AddConsumeTopics(topics...)
	return c.poll(ctx, handler)
}

// ConsumePartitions consumes partitions of topic from the group's committed offsets until
// ctx is done. The partitions are released on return.
func (c *Client) ConsumePartitions(ctx context.Context, topic string, partitions []int32, handler domain.MessageHandler) error {
	if !c.direct {
		return ErrNotPartitionClient
	}
	if len(partitions) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	start, err := c.admin.GroupOffsets(ctx, c.config.ConsumerGroup, topic, partitions)
	if err != nil {
		return err
	}
	c.client.AddConsumePartitions(map[string]map[int32]kgo.Offset{topic: start})
	defer c.client.RemoveConsumePartitions(map[string][]int32{topic: partitions})

	utils.Logger.Info("consuming partitions", "topic", topic, "partitions", partitions, "group", c.config.ConsumerGroup)
	return c.poll(ctx, handler)
}

func (c *Client) poll(ctx context.Context, handler domain.MessageHandler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return kgo.ErrClientClosed
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fetches.EachError(func(t string, p int32, err error) {
			utils.Logger.Error("fetch failed", "topic", t, "partition", p, "err", err)
		})
		rewind := dispatch(ctx, fetches.Records(), handler)
		if len(rewind) == 0 {
			continue
		}
		c.client.SetOffsets(rewind)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(redeliveryBackoff):
		}
	}
}

// dispatch hands records to handler in order. Once a record fails, the rest of its
// partition is skipped and the returned offsets point back at the failed record.
func dispatch(ctx context.Context, records []*kgo.Record, handler domain.MessageHandler) map[string]map[int32]kgo.EpochOffset {
	var rewind map[string]map[int32]kgo.EpochOffset
	for _, r := range records {
		if ctx.Err() != nil {
			return rewind
		}
		if _, failed := rewind[r.Topic][r.Partition]; failed {
			continue
		}
		if err := handler(ctx, toMessage(r)); err != nil {
			utils.Logger.Error("handler failed, redelivering", "topic", r.Topic, "partition", r.Partition, "offset", r.Offset, "err", err)
			if rewind == nil {
				rewind = make(map[string]map[int32]kgo.EpochOffset)
			}
			if rewind[r.Topic] == nil {
				rewind[r.Topic] = make(map[int32]kgo.EpochOffset)
			}
			rewind[r.Topic][r.Partition] = kgo.EpochOffset{Epoch: r.LeaderEpoch, Offset: r.Offset}
		}
	}
	return rewind
}

// InitTransactions loads the producer id, registering the transactional id with the
// coordinator.
func (c *Client) InitTransactions(ctx context.Context) error {
	if c.config.TransactionalID == "" {
		return ErrNotTransactional
	}
	_, _, err := c.client.ProducerID(ctx)
	return err
}

// BeginTransaction opens a transaction.
func (c *Client) BeginTransaction() error {
	if c.config.TransactionalID == "" {
		return ErrNotTransactional
	}
	return c.client.BeginTransaction()
}

// CommitTransaction flushes buffered records and commits.
func (c *Client) CommitTransaction(ctx context.Context) error {
	if err := c.client.Flush(ctx); err != nil {
		return err
	}
	return c.client.EndTransaction(ctx, kgo.TryCommit)
}

// AbortTransaction drops buffered records and aborts.
func (c *Client) AbortTransaction(ctx context.Context) error {
	if err := c.client.AbortBufferedRecords(ctx); err != nil {
		return err
	}
	return c.client.EndTransaction(ctx, kgo.TryAbort)
}

// Flush waits for every buffered record.
func (c *Client) Flush(ctx context.Context) error {
	return c.client.Flush(ctx)
}

// BrokerPartitions returns the partition count of topic on the broker.
func (c *Client) BrokerPartitions(ctx context.Context, topic string) (int, error) {
	return c.admin.BrokerPartitions(ctx, topic)
}

// IncreasePartitions grows topic to total partitions.
func (c *Client) IncreasePartitions(ctx context.Context, topic string, total int) error {
	return c.admin.IncreasePartitions(ctx, topic, total)
}

// TopicLag implements domain.LagReader.
func (c *Client) TopicLag(ctx context.Context, topic string) (map[string]int64, error) {
	return c.admin.TopicLag(ctx, topic)
}

// Close releases resources.
func (c *Client) Close() {
	if c != nil && c.client != nil {
		c.client.Close()
	}
}

// Config returns the broker configuration.
func (c *Client) Config() config.BrokerConfig {
	return c.config
}

func toRecord(msg domain.Message) *kgo.Record {
	return &kgo.Record{
		Topic:       msg.Topic,
		Partition:   msg.Partition,
		Offset:      msg.Offset,
		LeaderEpoch: msg.LeaderEpoch,
	}
}

func toMessage(r *kgo.Record) domain.Message {
	return domain.Message{
		Topic:       r.Topic,
		Partition:   r.Partition,
		Offset:      r.Offset,
		LeaderEpoch: r.LeaderEpoch,
		Key:         r.Key,
		Payload:     r.Value,
		Timestamp:   r.Timestamp,
	}
}

// buildTLSConfig reads cert files and builds a tls.Config
func buildTLSConfig(t *config.TLSConfig) (*tls.Config, error) {
	rootCAs := x509.NewCertPool()
	if t.CAFile != "" {
		b, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, err
		}
		rootCAs.AppendCertsFromPEM(b)
	}

	cfg := &tls.Config{
		RootCAs:            rootCAs,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}

	if t.CertFile != "" && t.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func envOr(name, fallback string) string {
	if name != "" {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return fallback
}

// buildSASLMechanism creates a franz-go sasl.Mechanism based on SASLConfig. Unknown
// mechanisms yield nil and the client connects without SASL.
func buildSASLMechanism(s *config.SASLConfig) (sasl.Mechanism, error) {
	username := envOr(s.UsernameEnv, s.Username)
	password := envOr(s.PasswordEnv, s.Password)

	switch s.Mechanism {
	case "PLAIN", "plain":
		return plain.Auth{User: username, Pass: password}.AsMechanism(), nil
	case "SCRAM-SHA-256", "SCRAM-SHA256", "scram-sha-256":
		return scram.Auth{User: username, Pass: password}.AsSha256Mechanism(), nil
	case "SCRAM-SHA-512", "SCRAM-SHA512", "scram-sha-512":
		return scram.Auth{User: username, Pass: password}.AsSha512Mechanism(), nil
	default:
		utils.Logger.Warn("unknown SASL mechanism, connecting without SASL", "mechanism", s.Mechanism)
		return nil, nil
	}
}

// buildAWSMechanism constructs an AWS IAM SASL mechanism
func buildAWSMechanism(a *config.AWSConfig) (sasl.Mechanism, error) {
	access := envOr(a.AccessKeyEnv, os.Getenv("AWS_ACCESS_KEY_ID"))
	secret := envOr(a.SecretKeyEnv, os.Getenv("AWS_SECRET_ACCESS_KEY"))
	session := envOr(a.SessionTokenEnv, os.Getenv("AWS_SESSION_TOKEN"))

	if access == "" || secret == "" {
		return nil, nil
	}

	return aws.Auth{
		AccessKey:    access,
		SecretKey:    secret,
		SessionToken: session,
	}.AsManagedStreamingIAMMechanism(), nil
}
