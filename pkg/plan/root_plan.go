package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/reindex/pkg/core"
)

// RootPlan aggregates the type plans of one unit of work.
//
// It is not safe for concurrent use: a plan belongs to the goroutine
// driving the unit of work.
type RootPlan struct {
	registry  *Registry
	index     core.Index
	strategy  Strategy
	loading   core.LoadingPlan
	logger    *slog.Logger
	ignorable core.IgnorableFunc
	skip      []string

	plans     map[string]*TypePlan
	indexed   []*TypePlan
	contained []*TypePlan

	processing bool
	discarded  bool
}

// Option configures a RootPlan.
type Option func(*RootPlan)

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(logger *slog.Logger) Option {
	return func(r *RootPlan) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLoadingPlan sets the collaborator used to load entities known only
// by identifier.
func WithLoadingPlan(lp core.LoadingPlan) Option {
	return func(r *RootPlan) {
		r.loading = lp
	}
}

// WithIgnorable sets the classifier for data access failures that may be
// swallowed during reindex resolution.
func WithIgnorable(fn core.IgnorableFunc) Option {
	return func(r *RootPlan) {
		if fn != nil {
			r.ignorable = fn
		}
	}
}

// WithSkipTypes ignores every call for types matching one of the
// doublestar patterns (e.g. "audit/**").
func WithSkipTypes(patterns ...string) Option {
	return func(r *RootPlan) {
		r.skip = append(r.skip, patterns...)
	}
}

// NewRootPlan creates an empty plan. index may be nil for EventSending.
func NewRootPlan(registry *Registry, index core.Index, strategy Strategy, opts ...Option) *RootPlan {
	r := &RootPlan{
		registry:  registry,
		index:     index,
		strategy:  strategy,
		logger:    slog.New(slog.DiscardHandler),
		ignorable: core.NeverIgnorable,
		plans:     make(map[string]*TypePlan),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategy returns the strategy chosen at construction.
func (r *RootPlan) Strategy() Strategy { return r.strategy }

func (r *RootPlan) skipped(typeName string) bool {
	for _, pattern := range r.skip {
		if ok, _ := doublestar.Match(pattern, typeName); ok {
			return true
		}
	}
	return false
}

// typePlan returns the plan for typeName, creating it on first touch.
// It returns nil when the type is skipped.
func (r *RootPlan) typePlan(typeName string) (*TypePlan, error) {
	if r.discarded {
		return nil, core.ErrDiscarded
	}
	if p, ok := r.plans[typeName]; ok {
		return p, nil
	}
	if r.skipped(typeName) {
		r.logger.Debug("ignoring skipped type", "type", typeName)
		return nil, nil
	}
	tc, err := r.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}

	var p *TypePlan
	if tc.Indexed {
		d, err := r.strategy.newDelegate(tc, r.index)
		if err != nil {
			return nil, err
		}
		p = newTypePlan(r, tc, d)
		r.indexed = append(r.indexed, p)
	} else {
		var d Delegate
		if r.strategy.Kind == EventSending {
			// The background worker resolves what embeds contained types.
			if d, err = r.strategy.newDelegate(tc, r.index); err != nil {
				return nil, err
			}
		}
		p = newTypePlan(r, tc, d)
		r.contained = append(r.contained, p)
	}
	r.plans[typeName] = p
	return p, nil
}

func (r *RootPlan) paths(tc *TypeContext, names []string) (*PathSet, error) {
	if len(names) == 0 {
		return nil, nil
	}
	set, err := tc.Paths.Set(names...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", tc.Name, err)
	}
	return &set, nil
}

// Add records that entity was created.
func (r *RootPlan) Add(typeName string, id any, routes *core.DocumentRoutes, entity any) error {
	p, err := r.typePlan(typeName)
	if err != nil || p == nil {
		return err
	}
	return p.add(id, routes, entity)
}

// AddOrUpdate records that entity changed. Without dirty paths the whole
// entity is considered dirty.
func (r *RootPlan) AddOrUpdate(typeName string, id any, routes *core.DocumentRoutes, entity any, dirtyPaths ...string) error {
	p, err := r.typePlan(typeName)
	if err != nil || p == nil {
		return err
	}
	dirty, err := r.paths(p.ctx, dirtyPaths)
	if err != nil {
		return err
	}
	return p.addOrUpdate(id, routes, entity, dirty, false, false)
}

// Delete records that entity was removed.
func (r *RootPlan) Delete(typeName string, id any, routes *core.DocumentRoutes, entity any) error {
	p, err := r.typePlan(typeName)
	if err != nil || p == nil {
		return err
	}
	return p.delete(id, routes, entity)
}

// Purge removes a document knowing only its identifier. The provided
// routes are trusted verbatim.
func (r *RootPlan) Purge(typeName string, id any, routes *core.DocumentRoutes) error {
	p, err := r.typePlan(typeName)
	if err != nil || p == nil {
		return err
	}
	return p.purge(id, routes)
}

// AddOrUpdateOrDelete records a change of an entity known only by its
// identifier. Whether it still exists is decided by loading it when the
// plan is processed.
func (r *RootPlan) AddOrUpdateOrDelete(typeName string, id any, routes *core.DocumentRoutes, dirty core.Dirtiness) error {
	p, err := r.typePlan(typeName)
	if err != nil || p == nil {
		return err
	}
	var set *PathSet
	if !dirty.All() {
		s, err := p.ctx.Paths.Set(dirty.Paths...)
		if err != nil {
			return fmt.Errorf("%s: %w", typeName, err)
		}
		set = &s
	}
	return p.addOrUpdateOrDelete(id, routes, set, dirty.ForceSelf, dirty.ForceContaining)
}

func (r *RootPlan) updateBecauseOfContained(target core.ReindexTarget) error {
	p, err := r.typePlan(target.Type)
	if err != nil || p == nil {
		return err
	}
	if !p.ctx.Indexed {
		r.logger.Debug("ignoring reindex target of contained type", "type", target.Type, "id", target.ID)
		return nil
	}
	if target.ID == nil && target.Entity == nil {
		return fmt.Errorf("reindex target of type %s has neither id nor entity", target.Type)
	}
	return p.updateBecauseOfContained(target.ID, target.Entity)
}

func (r *RootPlan) loadNow(ctx context.Context, typeName string, id any) (any, error) {
	if r.loading == nil {
		return nil, core.ErrNoLoadingPlan
	}
	return r.loading.Retrieve(ctx, typeName, r.loading.PlanLoading(typeName, id))
}

// Process resolves cascading dirtiness for every type, then emits the
// commands of every indexed type to its delegate.
func (r *RootPlan) Process(ctx context.Context) error {
	if r.discarded {
		return core.ErrDiscarded
	}
	if r.processing {
		return core.ErrReentrantProcess
	}
	r.processing = true
	defer func() { r.processing = false }()

	deleteOnly := r.strategy.deleteOnlyResolution()

	// Contained types first: they may create states in indexed types.
	for i := 0; i < len(r.contained); i++ {
		if err := r.resolve(ctx, r.contained[i], deleteOnly); err != nil {
			return err
		}
	}
	for i := 0; i < len(r.indexed); i++ {
		if err := r.resolve(ctx, r.indexed[i], deleteOnly); err != nil {
			return err
		}
	}

	for _, p := range r.contained {
		if p.delegate == nil {
			p.clear()
		}
	}
	for _, p := range r.emitting() {
		if err := p.process(ctx); err != nil {
			return err
		}
	}
	return nil
}

// emitting lists the plans owning a delegate, indexed types first.
func (r *RootPlan) emitting() []*TypePlan {
	out := append([]*TypePlan(nil), r.indexed...)
	for _, p := range r.contained {
		if p.delegate != nil {
			out = append(out, p)
		}
	}
	return out
}

func (r *RootPlan) resolve(ctx context.Context, p *TypePlan, deleteOnly bool) error {
	targets, err := p.resolveDirty(ctx, deleteOnly)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if err := r.updateBecauseOfContained(t); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteAndReport processes the plan and executes the commands of every
// indexed type. The future resolves with the merged report. A plan that
// fails to process is discarded.
func (r *RootPlan) ExecuteAndReport(ctx context.Context) *core.Future[core.Report] {
	if err := r.Process(ctx); err != nil {
		if !errors.Is(err, core.ErrReentrantProcess) {
			r.Discard()
		}
		return core.Completed(core.Report{}, err)
	}
	plans := r.emitting()
	futures := make([]*core.Future[core.Report], 0, len(plans))
	for _, p := range plans {
		futures = append(futures, p.delegate.ExecuteAndReport(ctx))
	}
	return joinReports(ctx, futures)
}

// Discard drops every outstanding state and command. Later calls on the
// plan fail with core.ErrDiscarded. It is idempotent.
func (r *RootPlan) Discard() {
	r.discarded = true
	for _, p := range r.contained {
		p.discard()
	}
	for _, p := range r.indexed {
		p.discard()
	}
}
