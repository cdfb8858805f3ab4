package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-ingest/internal/cache"
	"github.com/gotrs-io/gotrs-ingest/internal/services/ingest"
)

var passCmd = &cobra.Command{
	Use:   "pass",
	Short: "Run a single poll pass over all eligible accounts and exit",
	RunE:  runPass,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch one account now, ignoring its fetch interval",
	RunE:  runFetch,
}

var fetchAccountFlag string

func init() {
	fetchCmd.Flags().StringVar(&fetchAccountFlag, "account", "", "Mailbox account id (required)")
	_ = fetchCmd.MarkFlagRequired("account")

	rootCmd.AddCommand(passCmd)
	rootCmd.AddCommand(fetchCmd)
}

func runPass(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withPipeline(ctx); err != nil {
		return err
	}

	report, err := a.poller.RunOnePass(ctx)
	if err != nil {
		return err
	}

	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(out, "ACCOUNT\tTENANT\tSTATUS\tFOUND\tHANDLED\tERROR")
	for _, res := range report.Results {
		printResult(out, res)
	}
	_ = out.Flush()
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d succeeded, %d failed, %d not due, %d redispatched\n",
		report.Succeeded, report.Failed, report.NotDue, report.Redispatched)
	return report.Err()
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.withPipeline(ctx); err != nil {
		return err
	}

	res, err := a.poller.FetchNow(ctx, fetchAccountFlag)
	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(out, "ACCOUNT\tTENANT\tSTATUS\tFOUND\tHANDLED\tERROR")
	printResult(out, res)
	_ = out.Flush()
	return err
}

func printResult(out *tabwriter.Writer, res ingest.AccountResult) {
	status := string(res.Status)
	if res.Busy {
		status = "busy"
	}
	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	fmt.Fprintf(out, "%s\t%s\t%s\t%d\t%d\t%s\n", res.AccountID, res.TenantID, status, res.Stats.Found, res.Stats.Handled, errText)
}

// statusStore avoids handing a typed nil to interface consumers.
func statusStore(a *app) cache.StatusStore {
	if a.status == nil {
		return nil
	}
	return a.status
}
