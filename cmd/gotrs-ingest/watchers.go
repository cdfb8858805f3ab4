package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-ingest/internal/watchers"
)

var watchersCmd = &cobra.Command{
	Use:   "watchers",
	Short: "Print the BCC watcher list for outbound mail of a tenant",
	RunE:  runWatchers,
}

var (
	watchersTenantFlag  string
	watchersAccountFlag string
	watchersToFlag      []string
	watchersCcFlag      []string
)

func init() {
	watchersCmd.Flags().StringVar(&watchersTenantFlag, "tenant", "", "Tenant id (required)")
	watchersCmd.Flags().StringVar(&watchersAccountFlag, "account", "", "Sending mailbox account id")
	watchersCmd.Flags().StringSliceVar(&watchersToFlag, "to", nil, "Primary recipients to exclude")
	watchersCmd.Flags().StringSliceVar(&watchersCcFlag, "cc", nil, "Cc recipients to exclude")
	_ = watchersCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(watchersCmd)
}

func runWatchers(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	bcc, err := watchers.NewAggregator(a.watchers).BCC(ctx, watchers.Request{
		TenantID:   watchersTenantFlag,
		AccountID:  watchersAccountFlag,
		Recipients: watchersToFlag,
		Cc:         watchersCcFlag,
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(bcc, ", "))
	return nil
}
