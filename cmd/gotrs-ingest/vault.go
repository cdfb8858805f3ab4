package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gotrs-io/gotrs-ingest/internal/vault"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage encrypted mailbox credentials",
}

var vaultEncryptCmd = &cobra.Command{
	Use:   "encrypt",
	Short: "Encrypt a credential read from stdin and print the stored form",
	RunE:  runVaultEncrypt,
}

var vaultMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Encrypt plaintext credentials left in the account registry",
	Long: `migrate walks every mailbox account and encrypts inbound and outbound
secrets that are still stored as plaintext. Values that look encrypted but do
not decrypt with the configured key are reported and left untouched.`,
	RunE: runVaultMigrate,
}

var vaultStoreKeyCmd = &cobra.Command{
	Use:   "store-key",
	Short: "Store the vault secret read from stdin in the OS keyring",
	RunE:  runVaultStoreKey,
}

var vaultDryRunFlag bool

func init() {
	vaultMigrateCmd.Flags().BoolVar(&vaultDryRunFlag, "dry-run", false, "Report what would change without writing")

	vaultCmd.AddCommand(vaultEncryptCmd, vaultMigrateCmd, vaultStoreKeyCmd)
	rootCmd.AddCommand(vaultCmd)
}

func readSecretLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no secret on stdin")
	}
	return line, nil
}

func runVaultEncrypt(cmd *cobra.Command, args []string) error {
	v, err := openVault(cfg)
	if err != nil {
		return err
	}
	plain, err := readSecretLine(cmd.InOrStdin())
	if err != nil {
		return err
	}
	enc, err := v.Encrypt(plain)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), enc)
	return nil
}

func runVaultMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	v, err := openVault(cfg)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.accounts.ListAccounts(ctx, "")
	if err != nil {
		return err
	}

	var (
		sealed int
		errs   []error
	)
	for _, acc := range accounts {
		changed, err := v.Seal(acc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !changed {
			continue
		}
		if !vaultDryRunFlag {
			if err := a.accounts.UpdateSecrets(ctx, acc.ID, acc.Protocol.EncryptedSecret, acc.Outbound.EncryptedSecret); err != nil {
				errs = append(errs, fmt.Errorf("account %s: %w", acc.ID, err))
				continue
			}
		}
		sealed++
		logger.Info("sealed plaintext credentials", "account_id", acc.ID, "tenant_id", acc.TenantID, "dry_run", vaultDryRunFlag)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d account(s) updated", sealed, len(accounts))
	if vaultDryRunFlag {
		fmt.Fprint(cmd.OutOrStdout(), " (dry run)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return errors.Join(errs...)
}

func runVaultStoreKey(cmd *cobra.Command, args []string) error {
	if cfg.Crypto.KeyringService == "" {
		return errors.New("crypto.keyring_service is not configured")
	}
	secret, err := readSecretLine(cmd.InOrStdin())
	if err != nil {
		return err
	}
	src := vault.KeyringSource{Service: cfg.Crypto.KeyringService, Key: cfg.Crypto.KeyringKey}
	if err := src.Store(secret); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "vault secret stored in keyring", cfg.Crypto.KeyringService)
	return nil
}
