package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/frontdesk-io/frontdesk/internal/config"
	"github.com/frontdesk-io/frontdesk/internal/secrets"
)

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage the encrypted credentials vault",
	Long: `Manage the encrypted credentials vault.

Well-known names the server looks up:
  llm_api_key    API key for the configured LLM provider
  smtp_password  password for the SMTP account sending verification mails`,
}

var secretsSetCmd = &cobra.Command{
	Use:   "set [name] [value]",
	Short: "Store an encrypted secret",
	Args:  cobra.ExactArgs(2),
	RunE:  secretsSet,
}

var secretsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secrets (metadata only, values not shown)",
	RunE:  secretsList,
}

var secretsAuditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the vault access log",
	RunE:  secretsAudit,
}

var secretsRotateCmd = &cobra.Command{
	Use:   "rotate [name]",
	Short: "Re-encrypt a secret with a fresh nonce",
	Args:  cobra.ExactArgs(1),
	RunE:  secretsRotate,
}

var secretsDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Remove a secret from the vault",
	Args:  cobra.ExactArgs(1),
	RunE:  secretsDelete,
}

func init() {
	secretsCmd.AddCommand(secretsSetCmd)
	secretsCmd.AddCommand(secretsListCmd)
	secretsCmd.AddCommand(secretsAuditCmd)
	secretsCmd.AddCommand(secretsRotateCmd)
	secretsCmd.AddCommand(secretsDeleteCmd)
	rootCmd.AddCommand(secretsCmd)
}

func openVault() (*secrets.Vault, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	return secrets.Open(cfg.SecretsDBPath(), cfg.SecretsKey)
}

func secretsSet(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	if err := vault.Set(ctx, args[0], []byte(args[1])); err != nil {
		return fmt.Errorf("storing secret: %w", err)
	}

	fmt.Printf("✓ Secret '%s' stored (encrypted at rest)\n", args[0])
	return nil
}

func secretsList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	list, err := vault.List(ctx)
	if err != nil {
		return fmt.Errorf("listing secrets: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No secrets stored yet.")
		return nil
	}

	fmt.Println("Secrets (metadata only, values not shown):")
	for i := range list {
		fmt.Printf("  - %s (accessed %d times)\n", list[i].Name, list[i].AccessCount)
	}

	return nil
}

func secretsAudit(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	records, err := vault.AccessLog(ctx, "", 50)
	if err != nil {
		return fmt.Errorf("fetching access log: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No vault access records yet.")
		return nil
	}

	fmt.Println("Vault Access Log (last 50):")
	for _, entry := range records {
		status := "✓ FOUND"
		if !entry.Found {
			status = "✗ MISSING"
		}
		fmt.Printf("  %s | %s | %s | %s\n",
			entry.Timestamp.Format("2006-01-02 15:04:05"),
			status,
			entry.Caller,
			entry.SecretName,
		)
	}

	return nil
}

func secretsRotate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	if err := vault.Rotate(ctx, args[0]); err != nil {
		return fmt.Errorf("rotating secret: %w", err)
	}

	fmt.Printf("✓ Secret '%s' rotated (new nonce generated)\n", args[0])
	return nil
}

func secretsDelete(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	vault, err := openVault()
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}
	defer vault.Close()

	if err := vault.Delete(ctx, args[0]); err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}

	fmt.Printf("✓ Secret '%s' deleted\n", args[0])
	return nil
}
