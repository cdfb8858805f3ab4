package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/xeonx/timeago"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "List mailbox accounts and their last fetch state",
	RunE:  runAccounts,
}

var accountsTenantFlag string

func init() {
	accountsCmd.Flags().StringVar(&accountsTenantFlag, "tenant", "", "Only list accounts of this tenant")
	rootCmd.AddCommand(accountsCmd)
}

func runAccounts(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.accounts.ListAccounts(ctx, accountsTenantFlag)
	if err != nil {
		return err
	}

	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(out, "ID\tTENANT\tADDRESS\tTYPE\tELIGIBLE\tLAST FETCH\tSTATUS\tERROR")
	now := time.Now()
	for _, acc := range accounts {
		fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%t\t%s\t%s\t%s\n",
			acc.ID, acc.TenantID, acc.EmailAddress, acc.Protocol.Type, acc.Eligible(),
			lastFetch(acc, now), acc.LastFetchStatus, derefString(acc.LastFetchError))
	}
	return out.Flush()
}

func lastFetch(acc *models.MailboxAccount, now time.Time) string {
	if acc.LastFetchAt == nil {
		return "never"
	}
	ago := timeago.English
	ago.Max = 30 * 24 * time.Hour
	return ago.FormatReference(*acc.LastFetchAt, now)
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
