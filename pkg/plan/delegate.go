package plan

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/reindex/pkg/core"
)

// Command is a finalized per-entity instruction handed to a Delegate.
type Command struct {
	Kind       core.CommandKind
	Entity     core.EntityReference
	ID         any
	DocumentID string
	// Routes holds only Current for Add.
	Routes      core.DocumentRoutes
	Contributor core.DocumentContributor
	Dirty       core.Dirtiness

	UpdatedBecauseOfContained bool
	UpdatedBecauseOfDirty     bool
}

// Delegate receives the commands of one indexed type and decides where
// the work is finally applied.
type Delegate interface {
	Add(cmd Command)
	AddOrUpdate(cmd Command)
	Delete(cmd Command)
	// IsDirtyForAddOrUpdate is the filter deciding whether an update matters.
	IsDirtyForAddOrUpdate(forceSelf, forceContaining bool, dirty PathSet) bool
	ExecuteAndReport(ctx context.Context) *core.Future[core.Report]
	Discard()
}

type trackedCommand struct {
	entity core.EntityReference
	done   *core.Future[core.Ack]
}

// directDelegate streams commands to the index.
type directDelegate struct {
	tc      *TypeContext
	stream  core.IndexCommands
	commit  core.CommitPolicy
	refresh core.RefreshPolicy
	pending []trackedCommand
}

func newDirectDelegate(tc *TypeContext, stream core.IndexCommands, policy SyncPolicy) *directDelegate {
	return &directDelegate{tc: tc, stream: stream, commit: policy.Commit, refresh: policy.Refresh}
}

func (d *directDelegate) ref(cmd Command, route core.Route) core.DocumentRef {
	return core.DocumentRef{Type: d.tc.Name, DocumentID: cmd.DocumentID, Route: route, Entity: cmd.Entity}
}

func (d *directDelegate) track(entity core.EntityReference, f *core.Future[core.Ack]) {
	d.pending = append(d.pending, trackedCommand{entity: entity, done: f})
}

func (d *directDelegate) deletePrevious(cmd Command) {
	for _, r := range cmd.Routes.Previous {
		d.track(cmd.Entity, d.stream.Delete(d.ref(cmd, r)))
	}
}

func (d *directDelegate) Add(cmd Command) {
	if cmd.Routes.Current == nil {
		return
	}
	d.track(cmd.Entity, d.stream.Add(d.ref(cmd, *cmd.Routes.Current), cmd.Contributor))
}

func (d *directDelegate) AddOrUpdate(cmd Command) {
	d.deletePrevious(cmd)
	if cmd.Routes.Current == nil {
		return
	}
	d.track(cmd.Entity, d.stream.AddOrUpdate(d.ref(cmd, *cmd.Routes.Current), cmd.Contributor))
}

func (d *directDelegate) Delete(cmd Command) {
	d.deletePrevious(cmd)
	if cmd.Routes.Current == nil {
		return
	}
	d.track(cmd.Entity, d.stream.Delete(d.ref(cmd, *cmd.Routes.Current)))
}

func (d *directDelegate) IsDirtyForAddOrUpdate(forceSelf, _ bool, dirty PathSet) bool {
	return d.tc.isSelfDirty(forceSelf, dirty)
}

func (d *directDelegate) ExecuteAndReport(ctx context.Context) *core.Future[core.Report] {
	pending := d.pending
	d.pending = nil
	return core.Async(ctx, func(ctx context.Context) (core.Report, error) {
		var report core.Report
		failed := make(map[core.EntityReference]bool)
		for _, p := range pending {
			_, err := p.done.Wait(ctx)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			if failed[p.entity] {
				continue
			}
			failed[p.entity] = true
			report.Fail(p.entity, err)
		}
		if err := d.stream.Flush(ctx, d.commit, d.refresh); err != nil && report.Err == nil {
			report.Err = err
		}
		return report, nil
	})
}

func (d *directDelegate) Discard() {
	d.pending = nil
	d.stream.Discard()
}

// eventDelegate serializes commands into events for a background worker.
type eventDelegate struct {
	tc     *TypeContext
	sender core.EventSender
	events []core.IndexingEvent
	refs   []core.EntityReference
}

func newEventDelegate(tc *TypeContext, sender core.EventSender) *eventDelegate {
	return &eventDelegate{tc: tc, sender: sender}
}

func (d *eventDelegate) append(cmd Command) {
	d.events = append(d.events, core.NewIndexingEvent(cmd.Kind, d.tc.Name, cmd.DocumentID, cmd.Routes, cmd.Dirty))
	d.refs = append(d.refs, cmd.Entity)
}

func (d *eventDelegate) Add(cmd Command)         { d.append(cmd) }
func (d *eventDelegate) AddOrUpdate(cmd Command) { d.append(cmd) }
func (d *eventDelegate) Delete(cmd Command)      { d.append(cmd) }

// IsDirtyForAddOrUpdate also keeps containing-only changes: the worker
// needs them to resolve containing entities out of band.
func (d *eventDelegate) IsDirtyForAddOrUpdate(forceSelf, forceContaining bool, dirty PathSet) bool {
	return d.tc.isSelfDirty(forceSelf, dirty) || d.tc.isContainingDirty(forceContaining, dirty)
}

func (d *eventDelegate) ExecuteAndReport(ctx context.Context) *core.Future[core.Report] {
	events, refs := d.events, d.refs
	d.events, d.refs = nil, nil
	if len(events) == 0 {
		return core.Completed(core.Report{}, nil)
	}
	return core.Async(ctx, func(ctx context.Context) (core.Report, error) {
		var report core.Report
		if err := d.sender.Send(ctx, events); err != nil {
			seen := make(map[core.EntityReference]bool)
			for _, r := range refs {
				if !seen[r] {
					seen[r] = true
					report.Fail(r, err)
				}
			}
		}
		return report, nil
	})
}

func (d *eventDelegate) Discard() {
	d.events, d.refs = nil, nil
}

// hybridDelegate indexes directly, except for entities that are only
// dirty because something they contain changed: those go to the queue so
// that one background worker reindexes them exactly once.
type hybridDelegate struct {
	direct *directDelegate
	queue  *eventDelegate
}

func (d *hybridDelegate) Add(cmd Command)    { d.direct.Add(cmd) }
func (d *hybridDelegate) Delete(cmd Command) { d.direct.Delete(cmd) }

func (d *hybridDelegate) AddOrUpdate(cmd Command) {
	if cmd.UpdatedBecauseOfContained && !cmd.UpdatedBecauseOfDirty {
		d.queue.AddOrUpdate(cmd)
		return
	}
	d.direct.AddOrUpdate(cmd)
}

func (d *hybridDelegate) IsDirtyForAddOrUpdate(forceSelf, forceContaining bool, dirty PathSet) bool {
	return d.direct.IsDirtyForAddOrUpdate(forceSelf, forceContaining, dirty)
}

func (d *hybridDelegate) ExecuteAndReport(ctx context.Context) *core.Future[core.Report] {
	return joinReports(ctx, []*core.Future[core.Report]{
		d.direct.ExecuteAndReport(ctx),
		d.queue.ExecuteAndReport(ctx),
	})
}

func (d *hybridDelegate) Discard() {
	d.direct.Discard()
	d.queue.Discard()
}

// joinReports waits for every future and merges their reports.
func joinReports(ctx context.Context, futures []*core.Future[core.Report]) *core.Future[core.Report] {
	if len(futures) == 0 {
		return core.Completed(core.Report{}, nil)
	}
	return core.Async(ctx, func(ctx context.Context) (core.Report, error) {
		reports := make([]core.Report, len(futures))
		g, gctx := errgroup.WithContext(ctx)
		for i, f := range futures {
			g.Go(func() error {
				r, err := f.Wait(gctx)
				if err != nil {
					return err
				}
				reports[i] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return core.Report{}, err
		}
		return core.MergeReports(reports...), nil
	})
}
