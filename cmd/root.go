// Package cmd implements the webcrawl command-line interface: one
// subcommand per pipeline component plus operator utilities.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// cfgFile holds the path to the configuration file.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "webcrawl",
	Short: "Distributed web crawling and indexing pipeline",
	Long: `webcrawl runs the components of a distributed crawl pipeline:
the master job expander, crawler and indexer workers, and the progress
aggregator, communicating over Redis Streams with artifacts in MinIO
and full-text search in Elasticsearch.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command with a signal-cancelled context so every
// component shuts down cleanly on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml or ./config/config.yaml)",
	)

	rootCmd.AddCommand(newMasterCommand())
	rootCmd.AddCommand(newCrawlerCommand())
	rootCmd.AddCommand(newIndexerCommand())
	rootCmd.AddCommand(newAggregatorCommand())
	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newSearchCommand())
}
