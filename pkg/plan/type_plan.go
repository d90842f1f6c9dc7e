package plan

import (
	"context"
	"fmt"

	"github.com/aretw0/reindex/pkg/core"
)

// TypePlan tracks the entity states of one type during a unit of work.
// Contained types have no delegate: they only feed reindex resolution.
type TypePlan struct {
	ctx      *TypeContext
	root     *RootPlan
	delegate Delegate

	states map[any]*entityState
	order  []*entityState
}

func newTypePlan(root *RootPlan, tc *TypeContext, delegate Delegate) *TypePlan {
	return &TypePlan{
		ctx:      tc,
		root:     root,
		delegate: delegate,
		states:   make(map[any]*entityState),
	}
}

// Type returns the name of the tracked type.
func (p *TypePlan) Type() string { return p.ctx.Name }

// Len returns the number of tracked entity states.
func (p *TypePlan) Len() int { return len(p.order) }

func (p *TypePlan) identifier(providedID any, entity core.EntityAccessor) (any, error) {
	id, err := p.ctx.Identifiers.Identifier(providedID, entity)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.ctx.Name, err)
	}
	if err := checkIdentifier(id); err != nil {
		return nil, fmt.Errorf("%s: %w", p.ctx.Name, err)
	}
	return id, nil
}

func (p *TypePlan) state(id any, routes *core.DocumentRoutes) *entityState {
	s, ok := p.states[id]
	if !ok {
		s = newEntityState(p, id)
		p.states[id] = s
		p.order = append(p.order, s)
	}
	if routes != nil {
		s.providedRoutes = routes
	}
	return s
}

func (p *TypePlan) add(providedID any, routes *core.DocumentRoutes, entity any) error {
	if entity == nil {
		return fmt.Errorf("add %s: %w", p.ctx.Name, core.ErrNilEntity)
	}
	acc := knownEntity(entity)
	id, err := p.identifier(providedID, acc)
	if err != nil {
		return err
	}
	p.state(id, routes).add(acc)
	return nil
}

func (p *TypePlan) addOrUpdate(providedID any, routes *core.DocumentRoutes, entity any, dirty *PathSet, forceSelf, forceContaining bool) error {
	if entity == nil {
		return fmt.Errorf("update %s: %w", p.ctx.Name, core.ErrNilEntity)
	}
	acc := knownEntity(entity)
	id, err := p.identifier(providedID, acc)
	if err != nil {
		return err
	}
	p.state(id, routes).addOrUpdate(acc, dirty, forceSelf, forceContaining)
	return nil
}

func (p *TypePlan) delete(providedID any, routes *core.DocumentRoutes, entity any) error {
	if entity == nil {
		return fmt.Errorf("delete %s: %w", p.ctx.Name, core.ErrNilEntity)
	}
	acc := knownEntity(entity)
	id, err := p.identifier(providedID, acc)
	if err != nil {
		return err
	}
	p.state(id, routes).delete(acc)
	return nil
}

func (p *TypePlan) purge(providedID any, routes *core.DocumentRoutes) error {
	id, err := p.identifier(providedID, nil)
	if err != nil {
		return err
	}
	s := p.state(id, routes)
	s.delete(nil)
	s.purge = true
	return nil
}

func (p *TypePlan) addOrUpdateOrDelete(providedID any, routes *core.DocumentRoutes, dirty *PathSet, forceSelf, forceContaining bool) error {
	id, err := p.identifier(providedID, nil)
	if err != nil {
		return err
	}
	p.state(id, routes).addOrUpdateOrDelete(dirty, forceSelf, forceContaining)
	return nil
}

func (p *TypePlan) updateBecauseOfContained(providedID any, entity any) error {
	var acc *lazyEntity
	var accessor core.EntityAccessor
	if entity != nil {
		acc = knownEntity(entity)
		accessor = acc
	}
	id, err := p.identifier(providedID, accessor)
	if err != nil {
		return err
	}
	p.state(id, nil).updateBecauseOfContained(acc)
	return nil
}

// resolveDirty asks the resolver which containing entities must be
// revisited. With deleteOnly, only deletions are resolved.
func (p *TypePlan) resolveDirty(ctx context.Context, deleteOnly bool) ([]core.ReindexTarget, error) {
	if p.ctx.Resolver == nil {
		return nil, nil
	}

	var targets []core.ReindexTarget
	// New states may be appended while resolving self-referencing types.
	for i := 0; i < len(p.order); i++ {
		s := p.order[i]
		if s.containingResolved {
			continue
		}
		if deleteOnly && !(s.current == StatusAbsent && s.initial != StatusAbsent) {
			continue
		}
		if !p.ctx.isContainingDirty(s.forceContainingDirty, s.dirtyPaths) {
			continue
		}
		s.containingResolved = true

		entity, err := s.resolutionEntity(ctx)
		if err != nil {
			if p.root.ignorable(err) {
				p.root.logger.Debug("ignoring data access failure during reindex resolution",
					"entity", s.reference().String(), "error", err)
				continue
			}
			return nil, s.fail("load", err)
		}
		if entity == nil {
			continue
		}

		found, err := p.ctx.Resolver.Resolve(ctx, entity, s.dirtiness())
		if err != nil {
			return nil, s.fail("resolve entities to reindex for", err)
		}
		targets = append(targets, found...)
	}
	return targets, nil
}

// process loads what is still missing in one batch, then emits the
// commands of every state in insertion order and clears the plan.
func (p *TypePlan) process(ctx context.Context) error {
	defer p.clear()

	var pending []*entityState
	for _, s := range p.order {
		if !s.needsLoad() {
			continue
		}
		if p.root.loading == nil {
			return fmt.Errorf("load %s#%v: %w", p.ctx.Name, s.id, core.ErrNoLoadingPlan)
		}
		ordinal := p.root.loading.PlanLoading(p.ctx.Name, s.id)
		s.entity = deferredEntity(func() (any, error) {
			return p.root.loading.Retrieve(ctx, p.ctx.Name, ordinal)
		})
		pending = append(pending, s)
	}

	for _, s := range pending {
		e, err := s.entity.Get()
		if err != nil {
			if s.onlyContained() && p.root.ignorable(err) {
				p.root.logger.Debug("ignoring data access failure for containing entity",
					"entity", s.reference().String(), "error", err)
				s.skip = true
				continue
			}
			return s.fail("load", err)
		}
		s.loaded(e)
	}

	for _, s := range p.order {
		if s.skip {
			continue
		}
		if err := s.sendCommandsToDelegate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *TypePlan) discard() {
	if p.delegate != nil {
		p.delegate.Discard()
	}
	p.clear()
}

func (p *TypePlan) clear() {
	p.states = make(map[any]*entityState)
	p.order = nil
}
