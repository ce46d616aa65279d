package cmds

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/mangiafuoco/pkg/config"
	"github.com/go-go-golems/mangiafuoco/pkg/store"
)

func NewSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage credentials in the OS keyring",
	}
	cmd.AddCommand(newSecretsSetAPIKeyCommand())
	cmd.AddCommand(newSecretsClearCommand())
	return cmd
}

func newSecretsSetAPIKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-api-key [value]",
		Short: "Store the backend API key in the OS keyring",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value string
			if len(args) == 1 {
				value = args[0]
			} else {
				ui := &input.UI{Writer: os.Stdout, Reader: os.Stdin}
				answer, err := ui.Ask("API key", &input.Options{
					Required: true,
					Mask:     true,
				})
				if err != nil {
					return errors.Wrap(err, "could not read the API key")
				}
				value = answer
			}

			secrets := store.NewSecrets(config.AppName)
			if err := secrets.Set(store.APIKeyName, value); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key stored in the system keyring.")
			return nil
		},
	}
}

func newSecretsClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API key from the OS keyring",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets := store.NewSecrets(config.AppName)
			if err := secrets.Delete(store.APIKeyName); err != nil {
				if errors.Is(err, store.ErrSecretNotFound) {
					fmt.Fprintln(cmd.OutOrStdout(), "No API key stored.")
					return nil
				}
				return err
			}
			// The data key stays: deleting it would orphan the encrypted
			// transcript and memories.
			fmt.Fprintln(cmd.OutOrStdout(), "API key removed.")
			return nil
		},
	}
}
