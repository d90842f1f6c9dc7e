package reindex

import (
	"log/slog"
	"time"

	"github.com/aretw0/reindex/internal/platform"
	"github.com/aretw0/reindex/pkg/core"
	"github.com/aretw0/reindex/pkg/mapping"
	"github.com/aretw0/reindex/pkg/plan"
)

// --- Types ---

// Indexer is the composition root: mapping, records, index and spool.
type Indexer = platform.Indexer

// Session is one unit of work.
type Session = plan.Session

// Report lists the entities whose indexing failed.
type Report = core.Report

// --- Strategies ---

const (
	LocalSync       = plan.LocalSync
	LocalAsync      = plan.LocalAsync
	EventSending    = plan.EventSending
	EventProcessing = plan.EventProcessing
)

var (
	SyncFull  = plan.SyncFull
	WriteSync = plan.WriteSync
	ReadSync  = plan.ReadSync
	Async     = plan.Async
)

// --- Configuration ---

// Option defines a functional option for configuring an Indexer.
type Option = platform.Option

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithStrategy selects where indexing work is applied.
func WithStrategy(kind plan.StrategyKind) Option {
	return platform.WithStrategy(kind)
}

// WithSyncPolicy selects commit, refresh and waiting behavior.
func WithSyncPolicy(p plan.SyncPolicy) Option {
	return platform.WithSyncPolicy(p)
}

// WithIgnorable classifies load failures tolerated during reindex resolution.
func WithIgnorable(fn core.IgnorableFunc) Option {
	return platform.WithIgnorable(fn)
}

// WithFailureHandler receives failures of non-blocking commits.
func WithFailureHandler(fn func(Report)) Option {
	return platform.WithFailureHandler(fn)
}

// WithSkipTypes ignores changes to types matching doublestar patterns.
func WithSkipTypes(patterns ...string) Option {
	return platform.WithSkipTypes(patterns...)
}

// WithIndexPath persists the index to a JSON file.
func WithIndexPath(path string) Option {
	return platform.WithIndexPath(path)
}

// WithSpool enables the event queue in dir.
func WithSpool(dir string) Option {
	return platform.WithSpool(dir)
}

// WithRecordsPath persists the record store to a YAML file.
func WithRecordsPath(path string) Option {
	return platform.WithRecordsPath(path)
}

// WithWorkerTypes restricts the background worker to matching types.
func WithWorkerTypes(patterns ...string) Option {
	return platform.WithWorkerTypes(patterns...)
}

// WithMaxAttempts bounds retries of a failing event batch.
func WithMaxAttempts(n int) Option {
	return platform.WithMaxAttempts(n)
}

// WithPollInterval sets how often the background worker rescans the spool.
func WithPollInterval(d time.Duration) Option {
	return platform.WithPollInterval(d)
}

// --- Factory ---

// New creates an Indexer for a parsed mapping.
func New(cfg *mapping.Config, opts ...Option) (*Indexer, error) {
	return platform.New(cfg, opts...)
}

// Open creates an Indexer for the project rooted at root.
func Open(root string, opts ...Option) (*Indexer, error) {
	return platform.Open(root, opts...)
}

// FindRoot looks upwards for a project root.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}
