package fs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/supervisor"
	"github.com/aretw0/lifecycle/pkg/core/worker"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/aretw0/reindex/pkg/core"
)

// BatchHandler applies the events of one batch. A nil error acks the batch.
type BatchHandler func(ctx context.Context, events []core.IndexingEvent) error

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Spool   *Spool
	Handler BatchHandler
	// Types are doublestar patterns selecting the event types handled.
	// Other events are acked without processing. Empty means every type.
	Types []string
	// MaxAttempts before a failing batch is rejected. Defaults to 3.
	MaxAttempts int
	// PollInterval retries failed batches and catches missed
	// notifications. Defaults to one second.
	PollInterval time.Duration
	// Debounce coalesces bursts of notifications. Defaults to 50ms.
	Debounce time.Duration
	Logger   *slog.Logger
	// Processed receives every event of acked batches, when set.
	Processed chan<- core.IndexingEvent
}

// Processor consumes spooled batches in order.
type Processor struct {
	cfg    ProcessorConfig
	spool  *Spool
	logger *slog.Logger

	drainMu  sync.Mutex
	attempts map[string]int

	mu        sync.Mutex
	watching  bool
	processed int
	failures  int
	lastError string
	lastBatch *time.Time
}

// NewProcessor validates cfg and fills defaults.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Spool == nil {
		return nil, errors.New("processor requires a spool")
	}
	if cfg.Handler == nil {
		return nil, errors.New("processor requires a batch handler")
	}
	for _, p := range cfg.Types {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid type pattern %q", p)
		}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{
		cfg:      cfg,
		spool:    cfg.Spool,
		logger:   cfg.Logger,
		attempts: make(map[string]int),
	}, nil
}

func (p *Processor) accepts(typeName string) bool {
	if len(p.cfg.Types) == 0 {
		return true
	}
	for _, pattern := range p.cfg.Types {
		if ok, _ := doublestar.Match(pattern, typeName); ok {
			return true
		}
	}
	return false
}

// Drain processes pending batches in order until the spool is empty or a
// batch fails. It returns the number of batches acked.
func (p *Processor) Drain(ctx context.Context) (int, error) {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()

	names, err := p.spool.Pending()
	if err != nil {
		return 0, err
	}
	acked := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return acked, err
		}
		batch, err := p.spool.Read(name)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			p.logger.Error("unreadable batch", "batch", name, "error", err)
			if rerr := p.spool.Reject(name); rerr != nil {
				return acked, rerr
			}
			continue
		}

		events := make([]core.IndexingEvent, 0, len(batch.Events))
		for _, e := range batch.Events {
			if p.accepts(e.Type) {
				events = append(events, e)
			} else {
				p.logger.Debug("ignoring event of filtered type", "type", e.Type, "event", e.ID)
			}
		}

		if err := p.handle(ctx, events); err != nil {
			p.recordFailure(err)
			p.attempts[name]++
			if p.attempts[name] >= p.cfg.MaxAttempts {
				delete(p.attempts, name)
				p.logger.Error("batch failed, giving up", "batch", name, "error", err)
				if rerr := p.spool.Reject(name); rerr != nil {
					return acked, rerr
				}
				continue
			}
			return acked, fmt.Errorf("batch %s: %w", name, err)
		}

		delete(p.attempts, name)
		if err := p.spool.Ack(name); err != nil {
			return acked, err
		}
		acked++
		p.recordSuccess()
		p.publish(ctx, events)
	}
	return acked, nil
}

func (p *Processor) handle(ctx context.Context, events []core.IndexingEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch handler panic: %v", r)
		}
	}()
	return p.cfg.Handler(ctx, events)
}

func (p *Processor) publish(ctx context.Context, events []core.IndexingEvent) {
	if p.cfg.Processed == nil {
		return
	}
	for _, e := range events {
		select {
		case p.cfg.Processed <- e:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	p.processed++
	p.lastBatch = &now
}

func (p *Processor) recordFailure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	p.lastError = err.Error()
}

func (p *Processor) setWatching(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watching = active
}

// NewWorker returns a lifecycle worker watching the spool. Each call
// returns a fresh worker, as supervisors expect from a factory.
func (p *Processor) NewWorker() worker.Worker {
	return newProcessWorker(p)
}

// Run supervises a worker until ctx is done.
func (p *Processor) Run(ctx context.Context) error {
	spec := supervisor.Spec{
		Name: "spool-processor",
		Type: string(worker.TypeGoroutine),
		Factory: func() (worker.Worker, error) {
			return p.NewWorker(), nil
		},
		Backoff: supervisor.Backoff{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
			ResetDuration:   30 * time.Second,
			MaxRestarts:     10,
			MaxDuration:     10 * time.Minute,
		},
		RestartPolicy: supervisor.RestartOnFailure,
	}
	sup := supervisor.New("reindex-worker", supervisor.StrategyOneForOne, spec)
	if err := sup.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return sup.Stop(stopCtx)
}

type processWorker struct {
	*worker.BaseWorker
	proc    *Processor
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

func newProcessWorker(p *Processor) *processWorker {
	return &processWorker{
		BaseWorker: worker.NewBaseWorker("spool-processor"),
		proc:       p,
	}
}

func (w *processWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("processor already started (status: %s)", status)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(w.proc.spool.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", w.proc.spool.dir, err)
	}

	w.watcher = watcher
	w.proc.setWatching(true)

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *processWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *processWorker) State() worker.State {
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
		}
	})
}

func (w *processWorker) run(ctx context.Context) (err error) {
	logger := w.proc.logger
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("processor panic: %v", recovered)
			if logger.Enabled(ctx, slog.LevelDebug) {
				logger.Error("processor panic", "error", err, "stack", string(debug.Stack()))
			} else {
				logger.Error("processor panic", "error", err)
			}
		}
	}()
	defer w.proc.setWatching(false)
	defer w.watcher.Close()

	w.drain(ctx)

	poll := time.NewTicker(w.proc.cfg.PollInterval)
	defer poll.Stop()

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher events channel closed")
			}
			if !isBatch(event.Name) || !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Write) {
				continue
			}
			if debounce == nil {
				debounce = time.After(w.proc.cfg.Debounce)
			}

		case <-debounce:
			debounce = nil
			w.drain(ctx)

		case <-poll.C:
			w.drain(ctx)

		case wErr, ok := <-w.watcher.Errors:
			if !ok {
				if w.StopRequested || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watcher errors channel closed")
			}
			logger.Error("fsnotify error", "error", wErr)
		}
	}
}

func (w *processWorker) drain(ctx context.Context) {
	n, err := w.proc.Drain(ctx)
	if n > 0 {
		w.proc.logger.Debug("batches processed", "count", n)
	}
	if err != nil && ctx.Err() == nil {
		w.proc.logger.Error("batch processing failed, will retry", "error", err)
	}
}
