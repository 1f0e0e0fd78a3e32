package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/OliveiraNt/queuepilot/internal/application"
	"github.com/OliveiraNt/queuepilot/internal/config"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/infrastructure/alert"
	"github.com/OliveiraNt/queuepilot/internal/infrastructure/kafka"
	"github.com/OliveiraNt/queuepilot/internal/infrastructure/store"
	"github.com/OliveiraNt/queuepilot/internal/utils"
)

var errNoBrokers = errors.New("no brokers configured")

// app is the wired control plane shared by every command.
type app struct {
	repo   *config.Repository
	store  domain.Store
	broker *kafka.Client

	metrics     *application.MetricsCollector
	partitions  *application.PartitionManager
	load        *application.LoadBalancer
	health      *application.HealthCheck
	scaler      *application.AutoScaler
	dlq         *application.DeadLetterQueue
	tenants     *application.TenantManager
	idempotency *application.IdempotencyStore

	closers []func() error
}

type appOptions struct {
	// connectBroker creates a Kafka client when brokers are configured.
	connectBroker bool
	// watch reloads the configuration file on change.
	watch bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	repo := config.NewRepository(configPath)
	if err := repo.LoadFromFile(); err != nil {
		utils.Logger.Warn("failed to load config file, using defaults", "path", configPath, "err", err)
	} else {
		utils.Logger.Info("configuration loaded", "path", configPath)
	}
	a := &app{repo: repo, closers: []func() error{repo.Close}}
	if opts.watch {
		if err := repo.Watch(); err != nil {
			utils.Logger.Error("failed to start config watcher", "err", err)
		}
	}
	cfg := repo.Current()

	st, closeStore, err := store.New(cfg.Store)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, closeStore)
	utils.Logger.Info("coordination store ready", "driver", cfg.Store.Driver)

	var admin domain.PartitionAdmin
	if opts.connectBroker && len(cfg.Broker.Brokers) > 0 {
		client, err := kafka.NewClient(cfg.Broker)
		if err != nil {
			a.close()
			return nil, err
		}
		if err := client.Ping(ctx); err != nil {
			utils.Logger.Warn("broker not reachable yet", "brokers", cfg.Broker.Brokers, "auth", cfg.Broker.GetAuthType(), "err", err)
		}
		if info, err := cfg.Broker.GetCertificateInfo(); err != nil {
			utils.Logger.Warn("client certificate unreadable", "err", err)
		} else if info != nil && info.Status != "valid" {
			utils.Logger.Warn("client certificate expiring", "status", info.Status, "days", info.DaysToExpiry, "not_after", info.NotAfter)
		}
		a.broker = client
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		admin = client
	}

	senders, err := alert.NewRegistry(cfg.Alerts)
	if err != nil {
		a.close()
		return nil, err
	}

	a.metrics = application.NewMetricsCollector(st)
	a.partitions = application.NewPartitionManager(st, repo, admin)
	a.load = application.NewLoadBalancer(st, a.partitions, repo)
	a.health = application.NewHealthCheck(st, a.metrics, cfg.Health.HeartbeatTTL, cfg.Health.HeartbeatTimeout)
	a.scaler = application.NewAutoScaler(st, a.load, a.health, a.metrics, repo, cfg.Supervisor.HistoryCapacity)
	a.dlq = application.NewDeadLetterQueue(st, a.metrics, senders, cfg.DLQ.AlertThreshold, cfg.DLQ.Expire)
	a.tenants = application.NewTenantManager(st, func(prefix string) domain.Store {
		return store.NewNamespaced(st, prefix)
	}, cfg.Tenants.Defaults)
	a.idempotency = application.NewIdempotencyStore(st, cfg.Supervisor.IdempotencyTTL)

	if tenantFlag != "" {
		if _, err := a.tenants.Tenant(ctx, tenantFlag); err != nil {
			a.close()
			return nil, fmt.Errorf("tenant %s: %w", tenantFlag, err)
		}
	}

	if err := a.metrics.Load(ctx); err != nil {
		utils.Logger.Warn("metrics snapshot not restored", "err", err)
	}
	return a, nil
}

// scoped maps name into the namespace of --tenant, when given. newApp has already
// checked that the tenant exists.
func (a *app) scoped(name string) string {
	if tenantFlag == "" {
		return name
	}
	return a.tenants.TenantSpecificTopic(tenantFlag, name)
}

// publisher returns the broker client or errNoBrokers.
func (a *app) publisher() (*kafka.Client, error) {
	if a.broker == nil {
		return nil, errNoBrokers
	}
	return a.broker, nil
}

// partitionConsumer builds a client consuming assigned partitions for the configured
// consumer group. It is closed with the app.
func (a *app) partitionConsumer() (*kafka.Client, error) {
	if a.broker == nil {
		return nil, errNoBrokers
	}
	client, err := kafka.NewPartitionClient(a.repo.Current().Broker)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error { client.Close(); return nil })
	return client, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			utils.Logger.Warn("close failed", "err", err)
		}
	}
}

// withApp builds the app for one command invocation and tears it down afterwards.
func withApp(ctx context.Context, connectBroker bool, fn func(*app) error) error {
	a, err := newApp(ctx, appOptions{connectBroker: connectBroker})
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
