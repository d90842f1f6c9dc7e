package platform

import (
	"log/slog"
	"time"

	"github.com/aretw0/reindex/pkg/core"
	"github.com/aretw0/reindex/pkg/plan"
)

// options holds the internal configuration of an Indexer.
type options struct {
	logger    *slog.Logger
	strategy  plan.StrategyKind
	sync      plan.SyncPolicy
	ignorable core.IgnorableFunc
	onFailure plan.FailureHandler
	skip      []string

	indexPath   string
	spoolDir    string
	recordsPath string
	events      bool

	workerTypes  []string
	maxAttempts  int
	pollInterval time.Duration
}

// Option defines a functional option for configuring an Indexer.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		strategy: plan.LocalSync,
		sync:     plan.SyncFull,
	}
}

// WithLogger sets the logger for every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStrategy selects where indexing work is applied. Defaults to local-sync.
func WithStrategy(kind plan.StrategyKind) Option {
	return func(o *options) {
		o.strategy = kind
	}
}

// WithSyncPolicy selects commit, refresh and waiting behavior. Defaults to sync.
func WithSyncPolicy(p plan.SyncPolicy) Option {
	return func(o *options) {
		o.sync = p
	}
}

// WithIgnorable classifies load failures that may be swallowed while
// resolving containing entities.
func WithIgnorable(fn core.IgnorableFunc) Option {
	return func(o *options) {
		o.ignorable = fn
	}
}

// WithFailureHandler receives failures that are not returned to callers,
// such as those of non-blocking commits.
func WithFailureHandler(fn plan.FailureHandler) Option {
	return func(o *options) {
		o.onFailure = fn
	}
}

// WithSkipTypes ignores changes to types matching doublestar patterns.
func WithSkipTypes(patterns ...string) Option {
	return func(o *options) {
		o.skip = append(o.skip, patterns...)
	}
}

// WithIndexPath persists the index to a JSON file.
func WithIndexPath(path string) Option {
	return func(o *options) {
		o.indexPath = path
	}
}

// WithSpool enables the event queue in dir. Local strategies then defer
// containing-only reindexing to the background worker.
func WithSpool(dir string) Option {
	return func(o *options) {
		o.spoolDir = dir
		o.events = dir != ""
	}
}

// WithRecordsPath persists the record store to a YAML file.
func WithRecordsPath(path string) Option {
	return func(o *options) {
		o.recordsPath = path
	}
}

// WithWorkerTypes restricts the background worker to matching types.
func WithWorkerTypes(patterns ...string) Option {
	return func(o *options) {
		o.workerTypes = append(o.workerTypes, patterns...)
	}
}

// WithMaxAttempts bounds retries of a failing event batch.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithPollInterval sets how often the background worker rescans the spool.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}
