package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/reindex"
	"github.com/aretw0/reindex/internal/platform"
	adapter "github.com/aretw0/reindex/pkg/adapters/lifecycle"
	"github.com/aretw0/reindex/pkg/core"
)

var (
	workOnce     bool
	workFollow   bool
	workTypes    []string
	workAttempts int
	workPoll     time.Duration
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Process queued indexing events",
	Long: `Consumes the event spool: each batch is applied in its own unit of
work and removed once indexed. Without --once the worker watches the spool
until interrupted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		root, err := projectRoot()
		if err != nil {
			fatal("Error locating project", err)
		}
		ix, err := open(
			reindex.WithSpool(platform.ProjectLayout(root).Spool),
			reindex.WithWorkerTypes(workTypes...),
			reindex.WithMaxAttempts(workAttempts),
			reindex.WithPollInterval(workPoll),
		)
		if err != nil {
			fatal("Error opening project", err)
		}
		defer func() {
			if err := ix.Close(); err != nil {
				slog.Error("failed to close index", "error", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var processed chan core.IndexingEvent
		if workFollow {
			processed = make(chan core.IndexingEvent)
			src := adapter.NewSource(processed, adapter.WithTypes(workTypes...))
			if err := src.Start(ctx); err != nil {
				fatal("Error starting event source", err)
			}
			go func() {
				for e := range src.Events() {
					fmt.Println(e)
				}
			}()
		}

		proc, err := ix.Processor(processed)
		if err != nil {
			fatal("Error creating processor", err)
		}

		if workOnce {
			n, err := proc.Drain(ctx)
			if err != nil {
				fatal("Error processing events", err)
			}
			slog.Info("spool drained", "batches", n)
			return
		}

		slog.Info("watching spool", "dir", ix.Spool.Dir())
		if err := proc.Run(ctx); err != nil {
			fatal("Error running worker", err)
		}
	},
}

func init() {
	workCmd.Flags().BoolVar(&workOnce, "once", false, "Drain pending batches and exit")
	workCmd.Flags().BoolVar(&workFollow, "follow", false, "Print every processed event")
	workCmd.Flags().StringSliceVar(&workTypes, "types", nil, "Type patterns to process (default: all)")
	workCmd.Flags().IntVar(&workAttempts, "max-attempts", 3, "Attempts before a failing batch is rejected")
	workCmd.Flags().DurationVar(&workPoll, "poll", time.Second, "Spool rescan interval")
	rootCmd.AddCommand(workCmd)
}
