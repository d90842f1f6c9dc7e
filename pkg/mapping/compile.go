package mapping

import (
	"context"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/reindex/pkg/core"
	"github.com/aretw0/reindex/pkg/plan"
)

// References finds records of typeName whose field references id.
// It serves containing rules declared with "by".
type References interface {
	Referencing(typeName, field, id string) ([]string, error)
}

// Compile builds the plan registry for cfg. refs may be nil when no rule
// uses "by".
func Compile(cfg *Config, refs References) (*plan.Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	reg := plan.NewRegistry()
	for _, t := range cfg.Types {
		tc, err := compileType(t, refs)
		if err != nil {
			return nil, fmt.Errorf("type %q: %w", t.Name, err)
		}
		if err := reg.Register(tc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func compileType(t TypeConfig, refs References) (plan.TypeContext, error) {
	paths := plan.NewPathIndex(t.Paths...)

	fields, err := match(t.Paths, t.Fields)
	if err != nil {
		return plan.TypeContext{}, err
	}
	selfNames := fields
	if t.Routing != "" && contains(t.Paths, t.Routing) {
		selfNames = append(selfNames, t.Routing)
	}
	if t.If != "" && contains(t.Paths, t.If) {
		selfNames = append(selfNames, t.If)
	}
	self, err := paths.Set(selfNames...)
	if err != nil {
		return plan.TypeContext{}, err
	}

	containing := paths.NewSet()
	rules := make([]rule, 0, len(t.Containing))
	for _, c := range t.Containing {
		when, err := match(t.Paths, c.When)
		if err != nil {
			return plan.TypeContext{}, err
		}
		set, err := paths.Set(when...)
		if err != nil {
			return plan.TypeContext{}, err
		}
		if c.By != "" && refs == nil {
			return plan.TypeContext{}, fmt.Errorf("containing rule for %q uses by=%s but no reference finder is configured", c.Type, c.By)
		}
		containing = containing.Union(set)
		rules = append(rules, rule{ContainingRule: c, when: set})
	}

	tc := plan.TypeContext{
		Name:            t.Name,
		Indexed:         t.Indexed,
		Paths:           paths,
		SelfDirty:       self,
		ContainingDirty: containing,
		Identifiers:     recordIdentifiers{field: t.idField()},
		Bridge:          documentBridge(fields),
	}
	if len(rules) > 0 {
		tc.Resolver = &resolver{typ: t, paths: paths, rules: rules, refs: refs}
	}
	if t.Routing != "" || t.If != "" {
		tc.Router = plan.BridgeRouter{Bridge: fieldRouting{typ: t}}
	}
	if t.Display != "" {
		field := t.Display
		tc.DisplayName = func(entity any) string {
			if r, ok := entity.(Record); ok {
				if v, ok := r.Lookup(field); ok {
					return fmt.Sprint(v)
				}
			}
			return ""
		}
	}
	return tc, nil
}

// match returns the paths matching any of the glob patterns, or every
// path when there are none.
func match(paths, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return append([]string(nil), paths...), nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}
	var out []string
	for _, path := range paths {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, path); ok {
				out = append(out, path)
				break
			}
		}
	}
	return out, nil
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func record(entity any) (Record, error) {
	switch r := entity.(type) {
	case Record:
		return r, nil
	case map[string]any:
		return r, nil
	}
	return nil, fmt.Errorf("expected a record, got %T", entity)
}

type recordIdentifiers struct {
	field string
}

func (m recordIdentifiers) Identifier(providedID any, entity core.EntityAccessor) (any, error) {
	if providedID != nil {
		return NormalizeID(providedID)
	}
	if entity == nil {
		return nil, fmt.Errorf("%w: no identifier and no record", core.ErrInvalidIdentifier)
	}
	e, err := entity.Get()
	if err != nil {
		return nil, err
	}
	r, err := record(e)
	if err != nil {
		return nil, err
	}
	v, _ := r.Lookup(m.field)
	return NormalizeID(v)
}

func (recordIdentifiers) DocumentID(id any) string { return fmt.Sprint(id) }

func (recordIdentifiers) ParseDocumentID(documentID string) (any, error) {
	return NormalizeID(documentID)
}

func documentBridge(fields []string) plan.DocumentBridge {
	return func(entity any, doc core.Document) error {
		r, err := record(entity)
		if err != nil {
			return err
		}
		for _, f := range fields {
			if v, ok := r.Lookup(f); ok {
				doc[f] = cloneValue(v)
			}
		}
		return nil
	}
}

type fieldRouting struct {
	typ TypeConfig
}

func (f fieldRouting) Route(_ any, entity any) (*core.Route, error) {
	r, err := record(entity)
	if err != nil {
		return nil, err
	}
	if f.typ.If != "" {
		if v, _ := r.Lookup(f.typ.If); v != true {
			return nil, nil
		}
	}
	if f.typ.Routing == "" {
		return &core.Route{}, nil
	}
	v, ok := r.Lookup(f.typ.Routing)
	if !ok || v == nil {
		return &core.Route{}, nil
	}
	return &core.Route{RoutingKey: fmt.Sprint(v)}, nil
}

func (f fieldRouting) PreviousRoutes(_ any, entity any) ([]core.Route, error) {
	if f.typ.PreviousRouting == "" {
		return nil, nil
	}
	r, err := record(entity)
	if err != nil {
		return nil, err
	}
	v, _ := r.Lookup(f.typ.PreviousRouting)
	var out []core.Route
	for _, key := range ids(v) {
		out = append(out, core.Route{RoutingKey: key})
	}
	return out, nil
}

type rule struct {
	ContainingRule
	when plan.PathSet
}

// resolver walks containing rules for one type.
type resolver struct {
	typ   TypeConfig
	paths *plan.PathIndex
	rules []rule
	refs  References
}

func (r *resolver) Resolve(_ context.Context, entity any, dirty core.Dirtiness) ([]core.ReindexTarget, error) {
	if entity == nil {
		return nil, nil
	}
	rec, err := record(entity)
	if err != nil {
		return nil, err
	}

	var changed plan.PathSet
	if !dirty.ForceContaining {
		changed, err = r.paths.Set(dirty.Paths...)
		if err != nil {
			return nil, err
		}
	}

	var targets []core.ReindexTarget
	for _, ru := range r.rules {
		if !dirty.ForceContaining && !ru.when.Intersects(changed) {
			continue
		}
		var found []string
		if ru.Via != "" {
			v, _ := rec.Lookup(ru.Via)
			found = ids(v)
		} else {
			v, _ := rec.Lookup(r.typ.idField())
			id, err := NormalizeID(v)
			if err != nil {
				return nil, err
			}
			found, err = r.refs.Referencing(ru.Type, ru.By, id)
			if err != nil {
				return nil, err
			}
		}
		for _, id := range found {
			targets = append(targets, core.ReindexTarget{Type: ru.Type, ID: id})
		}
	}
	return targets, nil
}
