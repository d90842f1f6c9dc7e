package mapping

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/reindex/pkg/core"
)

// OpKind names a change applied to the store.
type OpKind string

const (
	OpAdd    OpKind = "add"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
	// OpPurge removes a document by identifier, trusting the given routing.
	OpPurge OpKind = "purge"
	// OpTouch reports an out-of-band change: the store is left untouched
	// and presence is decided by loading.
	OpTouch OpKind = "touch"
)

// Op is one change of a batch.
type Op struct {
	Op     OpKind   `yaml:"op" json:"op"`
	Type   string   `yaml:"type" json:"type"`
	ID     any      `yaml:"id,omitempty" json:"id,omitempty"`
	Record Record   `yaml:"record,omitempty" json:"record,omitempty"`
	Dirty  []string `yaml:"dirty,omitempty" json:"dirty,omitempty"`
	// Routing is the routing key of a purged document.
	Routing *string `yaml:"routing,omitempty" json:"routing,omitempty"`
}

// Tracker records changes in a unit of work. *plan.RootPlan and
// *plan.Session implement it.
type Tracker interface {
	Add(typeName string, id any, routes *core.DocumentRoutes, entity any) error
	AddOrUpdate(typeName string, id any, routes *core.DocumentRoutes, entity any, dirtyPaths ...string) error
	Delete(typeName string, id any, routes *core.DocumentRoutes, entity any) error
	Purge(typeName string, id any, routes *core.DocumentRoutes) error
	AddOrUpdateOrDelete(typeName string, id any, routes *core.DocumentRoutes, dirty core.Dirtiness) error
}

// ParseOps decodes a YAML list of operations.
func ParseOps(r io.Reader) ([]Op, error) {
	var ops []Op
	if err := yaml.NewDecoder(r).Decode(&ops); err != nil && err != io.EOF {
		return nil, fmt.Errorf("invalid operations: %w", err)
	}
	return ops, nil
}

// Apply mutates the store and records each change in t. It stops at the
// first failing operation; earlier ones stay applied.
func (s *Store) Apply(t Tracker, ops ...Op) error {
	for i, op := range ops {
		if err := s.apply(t, op); err != nil {
			return fmt.Errorf("operation %d (%s %s): %w", i, op.Op, op.Type, err)
		}
	}
	return nil
}

func (s *Store) apply(t Tracker, op Op) error {
	tc, err := s.typeConfig(op.Type)
	if err != nil {
		return err
	}

	switch op.Op {
	case OpAdd:
		rec, err := s.withID(tc, op)
		if err != nil {
			return err
		}
		id, _ := NormalizeID(rec[tc.idField()])
		if _, exists := s.Get(op.Type, id); exists {
			return fmt.Errorf("%s#%s already exists", op.Type, id)
		}
		if _, _, err := s.Put(op.Type, rec); err != nil {
			return err
		}
		return t.Add(op.Type, id, nil, rec.Clone())

	case OpUpdate:
		rec, err := s.withID(tc, op)
		if err != nil {
			return err
		}
		id, _ := NormalizeID(rec[tc.idField()])
		before, exists := s.Get(op.Type, id)
		if !exists {
			return fmt.Errorf("%s#%s does not exist", op.Type, id)
		}
		moved, rerouted := routeChange(tc, before, rec)
		dirty := op.Dirty
		if len(dirty) == 0 {
			dirty = ChangedPaths(tc.Paths, before, rec)
			if len(dirty) == 0 && !rerouted {
				return nil
			}
		}
		if rerouted {
			// The document is rewritten, added or removed whatever changed.
			dirty = nil
		}
		if _, _, err := s.Put(op.Type, rec); err != nil {
			return err
		}
		return t.AddOrUpdate(op.Type, id, moved, rec.Clone(), dirty...)

	case OpDelete:
		id, err := NormalizeID(op.ID)
		if err != nil {
			return err
		}
		before, ok := s.Remove(op.Type, id)
		if !ok {
			return fmt.Errorf("%s#%s does not exist", op.Type, id)
		}
		return t.Delete(op.Type, id, nil, before)

	case OpPurge:
		id, err := NormalizeID(op.ID)
		if err != nil {
			return err
		}
		s.Remove(op.Type, id)
		var routes *core.DocumentRoutes
		if op.Routing != nil {
			routes = &core.DocumentRoutes{Current: &core.Route{RoutingKey: *op.Routing}}
		}
		return t.Purge(op.Type, id, routes)

	case OpTouch:
		id, err := NormalizeID(op.ID)
		if err != nil {
			return err
		}
		dirty := core.Dirtiness{Paths: op.Dirty}
		if len(op.Dirty) == 0 {
			dirty.ForceSelf, dirty.ForceContaining = true, true
		}
		return t.AddOrUpdateOrDelete(op.Type, id, nil, dirty)
	}
	return fmt.Errorf("unknown operation %q", op.Op)
}

// withID returns a copy of the op record carrying its identifier.
func (s *Store) withID(tc TypeConfig, op Op) (Record, error) {
	if op.Record == nil {
		return nil, fmt.Errorf("%s requires a record", op.Op)
	}
	rec := op.Record.Clone()
	if op.ID != nil {
		id, err := NormalizeID(op.ID)
		if err != nil {
			return nil, err
		}
		rec[tc.idField()] = id
	} else if _, ok := rec[tc.idField()]; !ok {
		return nil, fmt.Errorf("%w: record has no %q field", core.ErrInvalidIdentifier, tc.idField())
	}
	return rec, nil
}

// routeChange reports whether an update moves a record to another route,
// or in or out of the index. moved carries the route it was indexed at.
func routeChange(tc TypeConfig, before, after Record) (moved *core.DocumentRoutes, rerouted bool) {
	if tc.Routing == "" && tc.If == "" {
		return nil, false
	}
	routing := fieldRouting{typ: tc}
	old, err := routing.Route(nil, before)
	if err != nil {
		return nil, false
	}
	cur, err := routing.Route(nil, after)
	if err != nil {
		return nil, false
	}
	switch {
	case old == nil && cur == nil:
		return nil, false
	case old == nil:
		return nil, true
	case cur != nil && *cur == *old:
		return nil, false
	}
	return &core.DocumentRoutes{Previous: []core.Route{*old}}, true
}
