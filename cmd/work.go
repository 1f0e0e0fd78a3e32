package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/OliveiraNt/queuepilot/internal/application"
	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	workConsumerID string
	workHeartbeat  time.Duration
	workDedupe     bool
)

var workCmd = &cobra.Command{
	Use:   "work <queue> -- <command> [args...]",
	Short: "Consume a queue, piping every payload to a command",
	Long: `Join a queue as a consumer and run the command once per message with the
payload on stdin. The worker consumes the partition range the control plane
assigns it and picks up a new range after every rebalance. Exit status 0 acknowledges the message; any other status
redelivers it with backoff until the configured tries are exhausted, after
which it is dead-lettered with the command's stderr as the cause.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return withApp(ctx, true, func(a *app) error {
			broker, err := a.partitionConsumer()
			if err != nil {
				return err
			}
			id := workConsumerID
			if id == "" {
				id = uuid.NewString()
			}
			opts := application.WorkerOptions{
				ID:         id,
				Queue:      a.scoped(args[0]),
				Heartbeat:  workHeartbeat,
				Consumer:   broker,
				Redelivery: application.NewRedeliveryPolicy(broker, broker, a.dlq, a.repo.Current().DLQ.MaxTries),
				Health:     a.health,
				Partitions: a.partitions,
				Load:       a.load,
			}
			if workDedupe {
				opts.Idempotency = a.idempotency
			}
			err = application.NewWorker(opts, execProcess(args[1], args[2:])).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	},
}

// execProcess runs name with the message payload on stdin.
func execProcess(name string, args []string) application.ProcessFunc {
	return func(ctx context.Context, msg domain.Message) error {
		c := exec.CommandContext(ctx, name, args...)
		c.Stdin = bytes.NewReader(msg.Payload)
		c.Stdout = os.Stdout
		var stderr bytes.Buffer
		c.Stderr = &stderr
		c.Env = append(os.Environ(),
			"QUEUEPILOT_TOPIC="+msg.Topic,
			fmt.Sprintf("QUEUEPILOT_PARTITION=%d", msg.Partition),
			fmt.Sprintf("QUEUEPILOT_OFFSET=%d", msg.Offset),
		)
		if err := c.Run(); err != nil {
			if s := strings.TrimSpace(stderr.String()); s != "" {
				return errors.New(s)
			}
			return err
		}
		return nil
	}
}

func init() {
	workCmd.Flags().StringVar(&workConsumerID, "consumer-id", "", "consumer id, a random one when empty")
	workCmd.Flags().DurationVar(&workHeartbeat, "heartbeat", 10*time.Second, "heartbeat and load report period")
	workCmd.Flags().BoolVar(&workDedupe, "dedupe", true, "skip messages whose id was already processed")
	rootCmd.AddCommand(workCmd)
}
