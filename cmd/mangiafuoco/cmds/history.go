package cmds

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/mangiafuoco/pkg/history"
	"github.com/go-go-golems/mangiafuoco/pkg/store"
)

func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and manage the stored transcript",
	}
	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistorySearchCommand())
	cmd.AddCommand(newHistoryDeleteCommand())
	cmd.AddCommand(newHistoryClearCommand())
	return cmd
}

func newHistoryListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the stored transcript entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStores()
			if err != nil {
				return err
			}
			entries, err := st.history.Load()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, "The transcript is empty.")
				return nil
			}

			printEntries(w, entries)
			fmt.Fprintf(w, "\n%s\n", formatStats(st.history.Stats()))
			return nil
		},
	}
}

func newHistorySearchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search entry contents for a substring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStores()
			if err != nil {
				return err
			}
			entries, err := st.history.SearchText(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printEntries(w, entries)
			fmt.Fprintf(w, "\n%d matching entries\n", len(entries))
			return nil
		},
	}
}

func newHistoryDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id...]",
		Short: "Delete transcript entries by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStores()
			if err != nil {
				return err
			}
			deleted, err := st.history.Delete(args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d of %d entries.\n", deleted, len(args))
			return nil
		},
	}
}

func newHistoryClearCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the whole stored transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStores()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if !force {
				ui := &input.UI{Writer: os.Stdout, Reader: os.Stdin}
				answer, err := ui.Ask("This permanently deletes the stored transcript. Continue? [y/n]", &input.Options{
					Default:  "n",
					Required: true,
					Loop:     true,
					ValidateFunc: func(answer string) error {
						switch answer {
						case "y", "Y", "n", "N":
							return nil
						default:
							return errors.New("please enter 'y' or 'n'")
						}
					},
				})
				if err != nil {
					return err
				}
				if answer == "n" || answer == "N" {
					fmt.Fprintln(w, "Aborted.")
					return nil
				}
			}

			if err := st.history.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(w, "Transcript cleared.")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")
	return cmd
}

func printEntries(w io.Writer, entries []history.Entry) {
	for _, e := range entries {
		text := strings.Join(strings.Fields(history.ItemText(e.Content)), " ")
		if utf8.RuneCountInString(text) > 80 {
			text = string([]rune(text)[:79]) + "…"
		}
		fmt.Fprintf(w, "%s  %s  %-18s %s\n",
			e.ID, e.Timestamp.Format("2006-01-02 15:04"), e.Kind, text)
	}
}

func formatStats(stats store.Stats) string {
	kinds := make([]string, 0, len(stats.KindCounts))
	for kind := range stats.KindCounts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	parts := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		parts = append(parts, fmt.Sprintf("%s %d", kind, stats.KindCounts[history.Kind(kind)]))
	}

	return fmt.Sprintf("%d entries, %d bytes (%s)",
		stats.TotalEntries, stats.TotalBytes, strings.Join(parts, ", "))
}
