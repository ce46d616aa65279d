package cmds

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewToolsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tools the agent can call",
	}
	cmd.AddCommand(newToolsListCommand())
	return cmd
}

func newToolsListCommand() *cobra.Command {
	var withSchemas bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tools the enabled categories register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			st, err := openStores()
			if err != nil {
				return err
			}
			registry, err := buildRegistry(settings, st)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, def := range registry.List() {
				fmt.Fprintf(w, "%s\n    %s\n", def.Name, def.Description)
				if withSchemas {
					raw, err := json.MarshalIndent(def.Parameters, "    ", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "    %s\n", raw)
				}
			}
			fmt.Fprintf(w, "\n%d tools from categories: %s\n",
				registry.Count(), strings.Join(settings.Tools.EnabledTools, ", "))
			return nil
		},
	}

	cmd.Flags().BoolVar(&withSchemas, "schemas", false, "Include each tool's parameter schema")
	return cmd
}
