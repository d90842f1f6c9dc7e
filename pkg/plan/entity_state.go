package plan

import (
	"context"
	"fmt"

	"github.com/aretw0/reindex/pkg/core"
)

// Status is the presence of an entity, as far as the plan knows.
type Status int

const (
	StatusUnknown Status = iota
	StatusPresent
	StatusAbsent
)

func (s Status) String() string {
	switch s {
	case StatusPresent:
		return "PRESENT"
	case StatusAbsent:
		return "ABSENT"
	default:
		return "UNKNOWN"
	}
}

// entityState folds every event seen for one identifier during a unit of
// work and decides the single command to emit for it.
type entityState struct {
	plan           *TypePlan
	id             any
	providedRoutes *core.DocumentRoutes

	// initial leaves UNKNOWN on the first add or delete and never changes
	// afterwards.
	initial Status
	current Status

	entity *lazyEntity

	forceSelfDirty       bool
	forceContainingDirty bool
	dirtyPaths           PathSet

	updatedBecauseOfContained bool
	purge                     bool

	containingResolved bool
	skip               bool
}

func newEntityState(p *TypePlan, id any) *entityState {
	return &entityState{
		plan:       p,
		id:         id,
		dirtyPaths: p.ctx.Paths.NewSet(),
	}
}

func (s *entityState) setInitial(st Status) {
	if s.initial == StatusUnknown {
		s.initial = st
	}
}

func (s *entityState) add(entity *lazyEntity) {
	s.setInitial(StatusAbsent)
	s.current = StatusPresent
	s.entity = entity
	s.purge = false
	s.forceSelfDirty = true
	s.forceContainingDirty = true
	s.dirtyPaths = s.plan.ctx.Paths.NewSet()
}

// addOrUpdate folds an update. A nil dirty set means every path is dirty.
func (s *entityState) addOrUpdate(entity *lazyEntity, dirty *PathSet, forceSelf, forceContaining bool) {
	s.current = StatusPresent
	if entity != nil {
		s.entity = entity
	}
	s.purge = false
	s.accumulate(dirty, forceSelf, forceContaining)
}

func (s *entityState) addOrUpdateOrDelete(dirty *PathSet, forceSelf, forceContaining bool) {
	s.current = StatusUnknown
	// Whatever instance we held may be stale; presence is decided by loading.
	s.entity = nil
	s.purge = false
	s.accumulate(dirty, forceSelf, forceContaining)
}

func (s *entityState) accumulate(dirty *PathSet, forceSelf, forceContaining bool) {
	if dirty == nil {
		forceSelf, forceContaining = true, true
	}
	s.forceSelfDirty = s.forceSelfDirty || forceSelf
	s.forceContainingDirty = s.forceContainingDirty || forceContaining
	if s.forceSelfDirty && s.forceContainingDirty {
		s.dirtyPaths = s.plan.ctx.Paths.NewSet()
		return
	}
	if dirty != nil {
		s.dirtyPaths = s.dirtyPaths.Union(*dirty)
	}
}

func (s *entityState) delete(entity *lazyEntity) {
	s.setInitial(StatusPresent)
	s.current = StatusAbsent
	if entity != nil {
		s.entity = entity
	}
	s.updatedBecauseOfContained = false
	s.forceSelfDirty = false
	// Entities referencing this one may still need reindexing.
	s.forceContainingDirty = true
	s.dirtyPaths = s.plan.ctx.Paths.NewSet()
}

// updateBecauseOfContained never marks the state dirty for resolution, so
// a containing entity revisited this way does not cascade further.
func (s *entityState) updateBecauseOfContained(entity *lazyEntity) {
	if s.current == StatusAbsent {
		return
	}
	s.current = StatusPresent
	s.updatedBecauseOfContained = true
	if s.entity == nil && entity != nil {
		s.entity = entity
	}
}

func (s *entityState) onlyContained() bool {
	return s.updatedBecauseOfContained && !s.forceSelfDirty && !s.forceContainingDirty && s.dirtyPaths.IsEmpty()
}

func (s *entityState) accessor() core.EntityAccessor {
	if s.entity == nil {
		return nil
	}
	return s.entity
}

func (s *entityState) router() Router {
	if s.purge {
		return NoOpRouter
	}
	return s.plan.ctx.Router
}

func (s *entityState) dirtiness() core.Dirtiness {
	d := core.Dirtiness{
		ForceSelf:       s.forceSelfDirty || s.updatedBecauseOfContained,
		ForceContaining: s.forceContainingDirty,
	}
	if !d.All() {
		d.Paths = s.plan.ctx.Paths.NamesOf(s.dirtyPaths)
	}
	return d
}

func (s *entityState) reference() core.EntityReference {
	var e any
	if s.entity != nil && s.entity.done {
		e = s.entity.entity
	}
	return s.plan.ctx.reference(s.id, e)
}

// resolutionEntity returns the instance used to walk containing
// associations, loading it right away when only the identifier is known.
func (s *entityState) resolutionEntity(ctx context.Context) (any, error) {
	if s.entity != nil {
		return s.entity.Get()
	}
	if s.purge {
		return nil, nil
	}
	s.entity = deferredEntity(func() (any, error) {
		return s.plan.root.loadNow(ctx, s.plan.ctx.Name, s.id)
	})
	e, err := s.entity.Get()
	if err != nil {
		// Leave the load to process, which may tolerate the failure.
		s.entity = nil
		return nil, err
	}
	s.loaded(e)
	return e, nil
}

func (s *entityState) needsLoad() bool {
	return s.entity == nil && s.current != StatusAbsent
}

// loaded records the presence revealed by loading the entity.
func (s *entityState) loaded(e any) {
	if e == nil {
		s.current = StatusAbsent
	} else if s.current == StatusUnknown {
		s.current = StatusPresent
	}
}

// sendCommandsToDelegate applies the decision table on (initial, current).
func (s *entityState) sendCommandsToDelegate() error {
	d := s.plan.delegate
	switch {
	case s.initial == StatusAbsent && s.current == StatusAbsent:
		// Added then deleted within the same unit of work.
		return nil

	case s.initial == StatusAbsent && s.current == StatusPresent:
		route, err := s.router().CurrentRoute(s.id, s.accessor(), s.providedRoutes)
		if err != nil {
			return s.fail("route", err)
		}
		if route == nil {
			s.plan.root.logger.Debug("entity not indexed", "entity", s.reference().String())
			return nil
		}
		d.Add(s.command(core.CommandAdd, core.DocumentRoutes{Current: route}))
		return nil

	case s.current == StatusPresent:
		selfDirty := d.IsDirtyForAddOrUpdate(s.forceSelfDirty, s.forceContainingDirty, s.dirtyPaths)
		if !selfDirty && !s.updatedBecauseOfContained {
			s.plan.root.logger.Debug("skipping update, no relevant path is dirty", "entity", s.reference().String())
			return nil
		}
		routes, err := s.router().Routes(s.id, s.accessor(), s.providedRoutes)
		if err != nil {
			return s.fail("route", err)
		}
		if routes.Empty() {
			return nil
		}
		cmd := s.command(core.CommandAddOrUpdate, routes)
		cmd.UpdatedBecauseOfDirty = selfDirty
		d.AddOrUpdate(cmd)
		return nil

	case s.current == StatusAbsent:
		routes, err := s.router().Routes(s.id, s.accessor(), s.providedRoutes)
		if err != nil {
			return s.fail("route", err)
		}
		if routes.Empty() {
			return nil
		}
		d.Delete(s.command(core.CommandDelete, routes))
		return nil
	}
	return fmt.Errorf("entity %s left in status %s", s.reference(), s.current)
}

func (s *entityState) command(kind core.CommandKind, routes core.DocumentRoutes) Command {
	tc := s.plan.ctx
	cmd := Command{
		Kind:                      kind,
		Entity:                    s.reference(),
		ID:                        s.id,
		DocumentID:                tc.Identifiers.DocumentID(s.id),
		Routes:                    routes,
		Dirty:                     s.dirtiness(),
		UpdatedBecauseOfContained: s.updatedBecauseOfContained,
	}
	if kind != core.CommandDelete {
		cmd.Contributor = s.contributor()
	}
	return cmd
}

func (s *entityState) contributor() core.DocumentContributor {
	tc := s.plan.ctx
	entity := s.entity
	id := s.id
	return core.ContributorFunc(func(doc core.Document) error {
		if entity == nil {
			return fmt.Errorf("no instance available for %s#%v", tc.Name, id)
		}
		e, err := entity.Get()
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("%s#%v no longer exists", tc.Name, id)
		}
		return tc.Bridge(e, doc)
	})
}

func (s *entityState) fail(op string, err error) error {
	return &core.EntityError{Entity: s.reference(), Op: op, Err: err}
}
