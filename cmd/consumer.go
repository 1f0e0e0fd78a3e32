package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	heartbeatTopic string
	heartbeatTTL   time.Duration
)

var consumerCmd = &cobra.Command{
	Use:   "consumer",
	Short: "Report and inspect consumer liveness",
}

var consumerHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat [consumer-id]",
	Short: "Record a heartbeat, minting a consumer id when none is given",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := uuid.NewString()
		if len(args) == 1 {
			id = args[0]
		}
		host, _ := os.Hostname()
		return withApp(cmd.Context(), false, func(a *app) error {
			hb := domain.Heartbeat{ConsumerID: id, Host: host, PID: os.Getpid(), Status: domain.ConsumerActive}
			if heartbeatTopic != "" {
				hb.Topic = a.scoped(heartbeatTopic)
			}
			if err := a.health.UpdateHeartbeat(cmd.Context(), hb, heartbeatTTL); err != nil {
				return err
			}
			return printOutput(map[string]string{"consumer_id": id})
		})
	},
}

var consumerStatusCmd = &cobra.Command{
	Use:   "status <consumer-id> <active|paused|stopping|error>",
	Short: "Change the reported status of a consumer",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			return a.health.SetConsumerStatus(cmd.Context(), args[0], domain.ConsumerStatus(args[1]))
		})
	},
}

var consumerClearCmd = &cobra.Command{
	Use:   "clear <consumer-id>",
	Short: "Forget a consumer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			return a.health.ClearConsumerHeartbeat(cmd.Context(), args[0])
		})
	},
}

var consumerHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the aggregated health report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			report, err := a.health.HealthStatus(cmd.Context())
			if err != nil {
				return err
			}
			return printOutput(report)
		})
	},
}

var consumerPartitionsCmd = &cobra.Command{
	Use:   "partitions <topic> <consumer-id>",
	Short: "Show the partitions a consumer owns, registering it when unknown",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			parts, err := a.partitions.ConsumerPartitions(cmd.Context(), a.scoped(args[0]), args[1])
			if err != nil {
				return err
			}
			return printOutput(parts)
		})
	},
}

var consumerLeaveCmd = &cobra.Command{
	Use:   "leave <topic> <consumer-id>",
	Short: "Unregister a consumer from a topic",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			if !a.partitions.UnregisterConsumer(cmd.Context(), a.scoped(args[0]), args[1]) {
				return fmt.Errorf("consumer %s could not be unregistered", args[1])
			}
			return nil
		})
	},
}

func parseCount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("count must be a non-negative integer, got %q", s)
	}
	return n, nil
}

func init() {
	consumerHeartbeatCmd.Flags().StringVar(&heartbeatTopic, "topic", "", "topic the consumer works on")
	consumerHeartbeatCmd.Flags().DurationVar(&heartbeatTTL, "ttl", 0, "heartbeat lifetime, defaults to the configured TTL")
	consumerCmd.AddCommand(consumerHeartbeatCmd, consumerStatusCmd, consumerClearCmd, consumerHealthCmd, consumerPartitionsCmd, consumerLeaveCmd)
}
