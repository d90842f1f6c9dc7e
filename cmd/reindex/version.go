package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/reindex"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of reindex",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("reindex version %s\n", strings.TrimSpace(reindex.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
