package platform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/reindex/pkg/adapters/fs"
	"github.com/aretw0/reindex/pkg/core"
	"github.com/aretw0/reindex/pkg/mapping"
	"github.com/aretw0/reindex/pkg/plan"
)

// Indexer wires a mapping, its record store, the index and the optional
// event spool.
type Indexer struct {
	Config   *mapping.Config
	Store    *mapping.Store
	Registry *plan.Registry
	Index    *fs.Index
	// Spool is nil unless events are enabled.
	Spool *fs.Spool

	opts   *options
	logger *slog.Logger

	mu      sync.Mutex
	pending sync.WaitGroup
	closed  bool
}

// New builds an Indexer for cfg. Without path options everything stays
// in memory.
func New(cfg *mapping.Config, opts ...Option) (*Indexer, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if o.strategy == plan.EventSending && !o.events {
		return nil, fmt.Errorf("strategy %s requires a spool", o.strategy)
	}

	store := mapping.NewStore(cfg)
	reg, err := mapping.Compile(cfg, store)
	if err != nil {
		return nil, err
	}

	ix := &Indexer{
		Config:   cfg,
		Store:    store,
		Registry: reg,
		Index:    fs.NewIndex(fs.IndexConfig{Path: o.indexPath, Logger: logger}),
		opts:     o,
		logger:   logger,
	}
	if err := ix.Index.Load(); err != nil {
		return nil, err
	}
	if o.events {
		ix.Spool, err = fs.NewSpool(fs.SpoolConfig{Dir: o.spoolDir, Logger: logger})
		if err != nil {
			return nil, err
		}
	}
	if o.recordsPath != "" {
		if err := ix.loadRecords(); err != nil {
			return nil, err
		}
	}
	return ix, nil
}

// Open builds an Indexer for the project at root: the mapping, records,
// index and spool are read from their conventional locations. Options
// given after the defaults override them.
func Open(root string, opts ...Option) (*Indexer, error) {
	l := ProjectLayout(root)
	cfg, err := mapping.Load(l.Mapping)
	if err != nil {
		return nil, err
	}
	defaults := []Option{WithIndexPath(l.Index), WithRecordsPath(l.Records)}
	if hasFile(root, filepath.Join(SystemDir, spoolDir)) {
		defaults = append(defaults, WithSpool(l.Spool))
	}
	return New(cfg, append(defaults, opts...)...)
}

func (ix *Indexer) loadRecords() error {
	data, err := os.ReadFile(ix.opts.recordsPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := ix.Store.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%s: %w", ix.opts.recordsPath, err)
	}
	return nil
}

// SaveRecords writes the record store when a records path is configured.
func (ix *Indexer) SaveRecords() error {
	if ix.opts.recordsPath == "" {
		return nil
	}
	var buf bytes.Buffer
	if err := ix.Store.Encode(&buf); err != nil {
		return err
	}
	return fs.WriteFileAtomic(ix.opts.recordsPath, buf.Bytes(), 0644)
}

// Strategy returns the strategy of sessions opened by Begin.
func (ix *Indexer) Strategy() plan.Strategy {
	s := plan.Strategy{Kind: ix.opts.strategy, Sync: ix.opts.sync}
	if ix.Spool != nil {
		s.Sender = ix.Spool
	}
	return s
}

func (ix *Indexer) planOptions() []plan.Option {
	return []plan.Option{
		plan.WithLogger(ix.logger),
		plan.WithLoadingPlan(ix.Store.LoadingPlan()),
		plan.WithIgnorable(ix.opts.ignorable),
		plan.WithSkipTypes(ix.opts.skip...),
	}
}

// Begin opens a unit of work. Every session must be committed or rolled
// back before Close.
func (ix *Indexer) Begin() *plan.Session {
	root := plan.NewRootPlan(ix.Registry, ix.Index, ix.Strategy(), ix.planOptions()...)
	s := plan.NewSession(root, ix.opts.onFailure)
	ix.track(s)
	return s
}

func (ix *Indexer) track(s *plan.Session) {
	ix.pending.Add(1)
	go func() {
		defer ix.pending.Done()
		<-s.Done()
	}()
}

// Apply runs ops in one unit of work and saves the records on success.
// With a non-blocking strategy it returns before indexing completes.
func (ix *Indexer) Apply(ctx context.Context, ops []mapping.Op) error {
	s := ix.Begin()
	if err := ix.Store.Apply(s, ops...); err != nil {
		s.Rollback()
		return err
	}
	if err := s.Commit(ctx); err != nil {
		return err
	}
	return ix.SaveRecords()
}

// ProcessEvents applies spooled events in an event-processing unit of
// work. Deletions are purged with the routes they carry; other events are
// reloaded by identifier, so a record gone since is deleted instead.
func (ix *Indexer) ProcessEvents(ctx context.Context, events []core.IndexingEvent) error {
	policy := ix.opts.sync
	policy.Wait = true
	root := plan.NewRootPlan(ix.Registry, ix.Index, plan.Strategy{Kind: plan.EventProcessing, Sync: policy}, ix.planOptions()...)
	s := plan.NewSession(root, func(report core.Report) {
		ix.logger.Warn("event batch failed", "entities", len(report.FailingEntities), "error", report.Err)
	})

	for _, e := range events {
		tc, err := ix.Registry.Lookup(e.Type)
		if err != nil {
			s.Rollback()
			return err
		}
		id, err := tc.Identifiers.ParseDocumentID(e.DocumentID)
		if err != nil {
			s.Rollback()
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
		routes := e.Routes
		if e.Kind == core.CommandDelete {
			err = s.Purge(e.Type, id, &routes)
		} else {
			err = s.AddOrUpdateOrDelete(e.Type, id, &routes, e.Dirty)
		}
		if err != nil {
			s.Rollback()
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
	}
	return s.Commit(ctx)
}

// Processor builds the background worker consuming the spool.
func (ix *Indexer) Processor(processed chan<- core.IndexingEvent) (*fs.Processor, error) {
	if ix.Spool == nil {
		return nil, errors.New("events are not enabled")
	}
	return fs.NewProcessor(fs.ProcessorConfig{
		Spool:        ix.Spool,
		Handler:      ix.ProcessEvents,
		Types:        ix.opts.workerTypes,
		MaxAttempts:  ix.opts.maxAttempts,
		PollInterval: ix.opts.pollInterval,
		Logger:       ix.logger,
		Processed:    processed,
	})
}

// Close waits for outstanding sessions, then commits and refreshes the index.
func (ix *Indexer) Close() error {
	ix.mu.Lock()
	if ix.closed {
		ix.mu.Unlock()
		return nil
	}
	ix.closed = true
	ix.mu.Unlock()

	ix.pending.Wait()
	ix.Index.Refresh()
	return ix.Index.Commit()
}
