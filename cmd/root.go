// Package cmd provides the queuepilot command line: the long-running control plane
// (serve) and one-shot operator commands against the shared coordination store.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/OliveiraNt/queuepilot/internal/utils"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	configPath string
	outputFlag string
	tenantFlag string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "queuepilot",
	Short: "Control plane for Kafka-backed work queues",
	Long: `queuepilot coordinates consumers of Kafka topics: partition assignment,
load-driven scaling decisions, consumer heartbeats, dead-letter handling and
tenant isolation, all persisted in a shared coordination store.

Run "queuepilot serve" for the control loop and HTTP API; the other commands
operate on the same store directly.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if logLevel != "" {
			utils.SetLogLevel(logLevel)
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. defaultConfig is used unless --config is given.
func Execute(defaultConfig string) error {
	if configPath == "" {
		configPath = defaultConfig
	}
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration (env: QUEUEPILOT_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "json", "output format: json, yaml")
	rootCmd.PersistentFlags().StringVarP(&tenantFlag, "tenant", "t", "", "act within the namespace of this tenant")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (env: QUEUEPILOT_LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(partitionsCmd)
	rootCmd.AddCommand(scaleCmd)
	rootCmd.AddCommand(consumerCmd)
	rootCmd.AddCommand(dlqCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(produceCmd)
}

// printOutput renders v on stdout in the format chosen with --output.
func printOutput(v any) error {
	switch outputFlag {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json", "":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", outputFlag)
	}
}
