// Command gotrs-ingest polls tenant mailboxes and hands new mail to the
// downstream processing queue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-ingest/internal/config"
	"github.com/gotrs-io/gotrs-ingest/internal/logging"
	"github.com/gotrs-io/gotrs-ingest/internal/version"
)

var (
	configFile string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gotrs-ingest",
	Short: "Multi-tenant inbound email ingestion",
	Long: `gotrs-ingest polls IMAP and POP3 mailboxes on behalf of many tenants,
normalizes and deduplicates what it finds, links replies into threads and
publishes each new message to the processing queue.`,
	Version:       version.String(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		loaded, err := config.Load(configFile, nil)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		slog.SetDefault(logger)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "gotrs-ingest", version.Full())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default ./gotrs-ingest.yaml or ./config/gotrs-ingest.yaml)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
