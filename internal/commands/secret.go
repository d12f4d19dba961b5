package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"microdata/internal/secret"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Store credentials referenced as keychain:<key> in the config",
		Long: `Store mirror DSNs and S3 keys in the macOS Keychain. Reference them from
the config file as "keychain:<key>", or use "env:<VAR>" to read an
environment variable instead.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <key>",
			Short: "Read a secret from stdin and store it under key",
			Example: `  # Store the warehouse DSN
  echo 'postgres://u:pw@db/catalog' | microdata secret set warehouse`,
			Args: cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				value, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				value = strings.TrimSpace(value)
				if value == "" {
					if err != nil {
						return fmt.Errorf("read secret: %w", err)
					}
					return errors.New("empty secret")
				}
				if err := secret.NewKeychainStore().Set(args[0], []byte(value)); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Stored keychain:%s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <key>",
			Short: "Remove a stored secret",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return secret.NewKeychainStore().Delete(args[0])
			},
		},
	)

	return cmd
}
