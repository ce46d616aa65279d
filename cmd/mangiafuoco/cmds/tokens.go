package cmds

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/mangiafuoco/pkg/tokens"
)

func NewTokensCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Estimate token counts locally",
	}
	cmd.AddCommand(newTokensCountCommand())
	return cmd
}

func newTokensCountCommand() *cobra.Command {
	var (
		model       string
		fromHistory bool
	)

	cmd := &cobra.Command{
		Use:   "count [text]",
		Short: "Count tokens in a text, stdin (-), or the stored transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if model == "" {
				model = settings.Agent.ModelName
			}
			counter, err := tokens.NewCounter(model)
			if err != nil {
				return err
			}

			var count int
			switch {
			case fromHistory:
				st, err := openStores()
				if err != nil {
					return err
				}
				entries, err := st.history.Load()
				if err != nil {
					return err
				}
				count, err = counter.CountEntries(entries)
				if err != nil {
					return err
				}

			case len(args) == 1 && args[0] != "-":
				count, err = counter.Count(args[0])
				if err != nil {
					return err
				}

			default:
				raw, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "could not read stdin")
				}
				count, err = counter.Count(string(raw))
				if err != nil {
					return err
				}
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Model: %s\n", counter.Model())
			fmt.Fprintf(w, "Encoding: %s\n", counter.Encoding())
			fmt.Fprintf(w, "Total tokens: %d\n", count)
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Model whose encoding to use (defaults to the configured model)")
	cmd.Flags().BoolVar(&fromHistory, "history", false, "Count the stored transcript instead of a text argument")
	return cmd
}
