package cmd

import (
	"context"
	"fmt"

	"github.com/OliveiraNt/queuepilot/internal/application"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/OliveiraNt/queuepilot/internal/infrastructure/kafka"
	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	producePartition     int32
	produceTransactional bool
	produceMessageID     string
)

var produceCmd = &cobra.Command{
	Use:   "produce <topic> <payload>...",
	Short: "Publish payloads to a topic, optionally in one transaction",
	Long: `Publish one record per payload. With --message-id the batch is sent at most
once: a repeated id within the idempotency TTL is skipped. With --transactional
the batch is committed atomically or not at all.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), !produceTransactional, func(a *app) error {
			topic := a.scoped(args[0])
			if produceMessageID != "" {
				won, err := a.idempotency.TryMarkAsProcessed(cmd.Context(), topic, produceMessageID, map[string]string{"records": fmt.Sprint(len(args) - 1)})
				if err != nil {
					return err
				}
				if !won {
					utils.Logger.Info("message already produced, skipping", "topic", topic, "message", produceMessageID)
					return nil
				}
			}
			err := produce(cmd.Context(), a, topic, args[1:])
			if err != nil && produceMessageID != "" {
				if rerr := a.idempotency.RemoveProcessed(cmd.Context(), topic, produceMessageID); rerr != nil {
					utils.Logger.Warn("failed to release message id", "message", produceMessageID, "err", rerr)
				}
			}
			return err
		})
	},
}

func produce(ctx context.Context, a *app, topic string, payloads []string) error {
	if !produceTransactional {
		broker, err := a.publisher()
		if err != nil {
			return err
		}
		for _, p := range payloads {
			if err := broker.Publish(ctx, topic, []byte(p), producePartition); err != nil {
				return err
			}
		}
		return nil
	}

	cfg := a.repo.Current().Broker
	if len(cfg.Brokers) == 0 {
		return errNoBrokers
	}
	if cfg.TransactionalID == "" {
		cfg.TransactionalID = "queuepilot-cli-" + uuid.NewString()
	}
	cfg.ConsumerGroup = ""
	client, err := kafka.NewClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	tx := application.NewTransactionalProducer(client, a.metrics)
	if !tx.BeginTransaction(ctx) {
		return fmt.Errorf("transaction could not be started")
	}
	for _, p := range payloads {
		if !tx.Send(ctx, topic, []byte(p), producePartition) {
			tx.AbortTransaction(ctx)
			return fmt.Errorf("transaction %s aborted", tx.TransactionID())
		}
	}
	if !tx.CommitTransaction(ctx) {
		return fmt.Errorf("transaction %s not committed", tx.TransactionID())
	}
	return printOutput(map[string]any{"transaction_id": tx.TransactionID(), "state": tx.State(), "records": len(payloads)})
}

func init() {
	produceCmd.Flags().Int32VarP(&producePartition, "partition", "p", domain.AnyPartition, "target partition, -1 for any")
	produceCmd.Flags().BoolVar(&produceTransactional, "transactional", false, "send every payload in one transaction")
	produceCmd.Flags().StringVar(&produceMessageID, "message-id", "", "skip the batch when this id was already produced")
}
