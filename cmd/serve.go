package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	httpserver "github.com/OliveiraNt/queuepilot/internal/adapters/http"
	"github.com/OliveiraNt/queuepilot/internal/application"
	"github.com/OliveiraNt/queuepilot/internal/config"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control loop, delayed-redelivery sweeper and HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	a, err := newApp(ctx, appOptions{connectBroker: true, watch: true})
	if err != nil {
		return err
	}
	defer a.close()

	a.repo.OnChange(func(cfg config.FileConfig) {
		utils.Logger.Info("configuration reloaded", "managed_topics", cfg.Supervisor.ManagedTopics, "delayed_queues", cfg.Supervisor.DelayedQueues)
	})
	cfg := a.repo.Current()

	var (
		publisher domain.Publisher
		lag       domain.LagReader
	)
	if a.broker != nil {
		publisher, lag = a.broker, a.broker
		ensureQueueTopics(ctx, a, cfg)
	} else {
		utils.Logger.Warn("running without a broker: partition counts stay in the store and dead letters cannot be retried")
	}

	supervisor := application.NewSupervisor(a.load, a.scaler, func() []string {
		return a.repo.Current().Supervisor.ManagedTopics
	}, cfg.Supervisor.Interval, cfg.Supervisor.PartitionCheck)

	server := httpserver.New(httpserver.Services{
		Partitions: a.partitions,
		Load:       a.load,
		Scaler:     a.scaler,
		Health:     a.health,
		DLQ:        a.dlq,
		Tenants:    a.tenants,
		Metrics:    a.metrics,
		Publisher:  publisher,
		Lag:        lag,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error { return server.Run(gctx, cfg.HTTP.Addr) })
	if a.broker != nil && len(cfg.Supervisor.DelayedQueues) > 0 {
		sweeper := application.NewDelayedSweeper(a.broker, a.broker, a.broker, cfg.Supervisor.MaxDelayedWait)
		g.Go(func() error { return sweeper.Run(gctx, cfg.Supervisor.DelayedQueues) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	utils.Logger.Info("queuepilot stopped")
	return err
}

// ensureQueueTopics creates the delayed and dead-letter topics of every managed queue.
func ensureQueueTopics(ctx context.Context, a *app, cfg config.FileConfig) {
	queues := append(append([]string{}, cfg.Supervisor.ManagedTopics...), cfg.Supervisor.DelayedQueues...)
	if len(queues) == 0 {
		return
	}
	seen := map[string]bool{}
	var names []string
	for _, q := range queues {
		if seen[q] {
			continue
		}
		seen[q] = true
		names = append(names, application.DelayedTopic(q), application.DeadLetterTopic(q))
	}
	partitions := int32(cfg.DefaultPolicy().DefaultPartitions)
	if err := a.broker.Admin().EnsureTopics(ctx, partitions, -1, names...); err != nil {
		utils.Logger.Error("failed to create queue topics", "topics", names, "err", err)
		return
	}
	utils.Logger.Info("queue topics ready", "topics", names)
}
