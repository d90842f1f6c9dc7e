package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/reindex"
)

var (
	verbose bool
	rootDir string
)

var rootCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Keep a document index in step with YAML records",
	Long: `reindex applies batches of record changes and updates the index
documents they affect, including documents embedding the changed records.
Work can be done in-process or queued for a background worker.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "C", "", "Project root (default: search upwards from the working directory)")
}

// projectRoot resolves --root or searches upwards.
func projectRoot() (string, error) {
	if rootDir != "" {
		return rootDir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return reindex.FindRoot(wd)
}

func open(opts ...reindex.Option) (*reindex.Indexer, error) {
	root, err := projectRoot()
	if err != nil {
		return nil, err
	}
	opts = append([]reindex.Option{reindex.WithLogger(slog.Default())}, opts...)
	return reindex.Open(root, opts...)
}
