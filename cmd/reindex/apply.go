package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/reindex"
	"github.com/aretw0/reindex/internal/platform"
	"github.com/aretw0/reindex/pkg/mapping"
	"github.com/aretw0/reindex/pkg/plan"
)

var (
	applyStrategy string
	applySync     string
	applyQueue    bool
	applySkip     []string
)

var applyCmd = &cobra.Command{
	Use:   "apply [ops.yaml]",
	Short: "Apply a batch of record changes and index them",
	Long: `Reads a YAML list of operations (add, update, delete, purge, touch)
from a file or stdin, applies them to the record store and indexes the
affected documents in one unit of work.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				fatal("Error opening operations", err)
			}
			defer f.Close()
			in = f
		}
		ops, err := mapping.ParseOps(in)
		if err != nil {
			fatal("Error reading operations", err)
		}

		kind, err := plan.ParseStrategyKind(applyStrategy)
		if err != nil {
			fatal("Invalid strategy", err)
		}
		policy, err := plan.ParseSyncPolicy(applySync)
		if err != nil {
			fatal("Invalid sync policy", err)
		}

		opts := []reindex.Option{
			reindex.WithStrategy(kind),
			reindex.WithSyncPolicy(policy),
			reindex.WithSkipTypes(applySkip...),
		}
		if applyQueue || kind == plan.EventSending {
			root, err := projectRoot()
			if err != nil {
				fatal("Error locating project", err)
			}
			opts = append(opts, reindex.WithSpool(platform.ProjectLayout(root).Spool))
		}

		ix, err := open(opts...)
		if err != nil {
			fatal("Error opening project", err)
		}
		if err := ix.Apply(context.Background(), ops); err != nil {
			_ = ix.Close()
			fatal("Error applying operations", err)
		}
		if err := ix.Close(); err != nil {
			fatal("Error closing index", err)
		}
		slog.Info("operations applied", "count", len(ops), "strategy", kind, "sync", policy.Name)
	},
}

func init() {
	applyCmd.Flags().StringVar(&applyStrategy, "strategy", string(plan.LocalSync), "local-sync, local-async or event-sending")
	applyCmd.Flags().StringVar(&applySync, "sync", plan.SyncFull.Name, "sync, write-sync, read-sync or async")
	applyCmd.Flags().BoolVar(&applyQueue, "queue", false, "Defer containing-only reindexing to the background worker")
	applyCmd.Flags().StringSliceVar(&applySkip, "skip", nil, "Type patterns to ignore")
	rootCmd.AddCommand(applyCmd)
}
