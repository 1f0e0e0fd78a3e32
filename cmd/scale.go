package cmd

import (
	"time"

	"github.com/OliveiraNt/queuepilot/internal/domain"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	reportWindow time.Duration
	policyFlags  domain.TopicPolicy
)

var scaleCmd = &cobra.Command{
	Use:   "scale",
	Short: "Evaluate and inspect consumer scaling decisions",
}

var scaleCheckCmd = &cobra.Command{
	Use:   "check <topic>",
	Short: "Evaluate a topic once and record the decision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			d, err := a.scaler.CheckAndScale(cmd.Context(), a.scoped(args[0]))
			if err != nil {
				return err
			}
			return printOutput(d)
		})
	},
}

var scaleHistoryCmd = &cobra.Command{
	Use:   "history <topic>",
	Short: "List the most recent scaling decisions of a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			h, err := a.scaler.History(cmd.Context(), a.scoped(args[0]), historyLimit)
			if err != nil {
				return err
			}
			return printOutput(h)
		})
	},
}

var scaleLoadCmd = &cobra.Command{
	Use:   "load <topic> [count]",
	Short: "Show the load of a topic, recording count new messages first when given",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			topic := a.scoped(args[0])
			if len(args) == 2 {
				n, err := parseCount(args[1])
				if err != nil {
					return err
				}
				if _, err := a.load.UpdateMessageRate(cmd.Context(), topic, n, reportWindow); err != nil {
					return err
				}
			}
			return printOutput(a.load.GetTopicLoad(cmd.Context(), topic))
		})
	},
}

var scaleLagCmd = &cobra.Command{
	Use:   "lag <topic>",
	Short: "Show how far each consumer group trails a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), true, func(a *app) error {
			broker, err := a.publisher()
			if err != nil {
				return err
			}
			lag, err := broker.TopicLag(cmd.Context(), a.scoped(args[0]))
			if err != nil {
				return err
			}
			return printOutput(lag)
		})
	},
}

var scalePolicyCmd = &cobra.Command{
	Use:   "policy <topic>",
	Short: "Show the effective policy of a topic, storing the given overrides first",
	Long: `Show the policy of a topic: the configured defaults merged with its override.
Flags that are set are merged into the override and written to the config file,
which running servers pick up on reload.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), false, func(a *app) error {
			topic := a.scoped(args[0])
			if o := policyOverride(cmd); !o.IsZero() {
				if err := a.repo.SetTopicPolicy(topic, o); err != nil {
					return err
				}
			}
			return printOutput(a.repo.Policy(topic))
		})
	},
}

func ptr[T any](v T) *T { return &v }

// policyOverride collects the policy flags given on the command line. Unset flags stay nil,
// so an explicit zero is kept.
func policyOverride(cmd *cobra.Command) domain.PolicyOverride {
	set := cmd.Flags().Changed
	var o domain.PolicyOverride
	if set("min-consumers") {
		o.MinConsumers = ptr(policyFlags.MinConsumers)
	}
	if set("max-consumers") {
		o.MaxConsumers = ptr(policyFlags.MaxConsumers)
	}
	if set("messages-per-consumer") {
		o.MessagesPerConsumer = ptr(policyFlags.MessagesPerConsumer)
	}
	if set("scale-up-threshold") {
		o.ScaleUpThreshold = ptr(policyFlags.ScaleUpThreshold)
	}
	if set("scale-down-threshold") {
		o.ScaleDownThreshold = ptr(policyFlags.ScaleDownThreshold)
	}
	if set("scale-up-step") {
		o.ScaleUpStep = ptr(policyFlags.ScaleUpStep)
	}
	if set("scale-down-step") {
		o.ScaleDownStep = ptr(policyFlags.ScaleDownStep)
	}
	if set("cooldown") {
		o.CooldownPeriod = ptr(policyFlags.CooldownPeriod)
	}
	if set("default-partitions") {
		o.DefaultPartitions = ptr(policyFlags.DefaultPartitions)
	}
	return o
}

func init() {
	pf := scalePolicyCmd.Flags()
	pf.IntVar(&policyFlags.MinConsumers, "min-consumers", 0, "lower consumer bound")
	pf.IntVar(&policyFlags.MaxConsumers, "max-consumers", 0, "upper consumer bound")
	pf.Float64Var(&policyFlags.MessagesPerConsumer, "messages-per-consumer", 0, "messages per second one consumer handles")
	pf.Float64Var(&policyFlags.ScaleUpThreshold, "scale-up-threshold", 0, "utilization that triggers scaling up")
	pf.Float64Var(&policyFlags.ScaleDownThreshold, "scale-down-threshold", 0, "utilization that allows scaling down")
	pf.IntVar(&policyFlags.ScaleUpStep, "scale-up-step", 0, "consumers added per action, 0 for unlimited")
	pf.IntVar(&policyFlags.ScaleDownStep, "scale-down-step", 0, "consumers removed per action, 0 for unlimited")
	pf.DurationVar(&policyFlags.CooldownPeriod, "cooldown", 0, "minimum time between two actions of the same kind")
	pf.IntVar(&policyFlags.DefaultPartitions, "default-partitions", 0, "partition count used before one is known")

	scaleHistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "number of decisions to show, 0 for all")
	scaleLoadCmd.Flags().DurationVar(&reportWindow, "window", 0, "rate window, defaults to the topic policy")
	scaleCmd.AddCommand(scaleCheckCmd, scaleHistoryCmd, scaleLoadCmd, scaleLagCmd, scalePolicyCmd)
}
