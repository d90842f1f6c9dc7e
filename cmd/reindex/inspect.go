package main

import (
	"encoding/json"
	"os"

	"github.com/aretw0/introspection"
	"github.com/spf13/cobra"
)

var inspectDocs string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the state of the index and the spool as JSON",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ix, err := open()
		if err != nil {
			fatal("Error opening project", err)
		}

		components := []introspection.Introspectable{ix.Index}
		if ix.Spool != nil {
			components = append(components, ix.Spool)
		}
		out := make(map[string]any, len(components)+2)
		out["types"] = ix.Registry.Types()
		for _, c := range components {
			name := "component"
			if comp, ok := c.(introspection.Component); ok {
				name = comp.ComponentType()
			}
			out[name] = c.State()
		}
		if inspectDocs != "" {
			out["documents"] = ix.Index.Documents(inspectDocs)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fatal("Error encoding state", err)
		}
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDocs, "documents", "", "Also list the visible documents of this type")
	rootCmd.AddCommand(inspectCmd)
}
