package plan

import "github.com/aretw0/reindex/pkg/core"

// Router computes document routes for an entity.
type Router interface {
	// CurrentRoute is used for Add, where no previous route can exist.
	// A nil route means the entity must not be indexed.
	CurrentRoute(id any, entity core.EntityAccessor, provided *core.DocumentRoutes) (*core.Route, error)

	// Routes is used for AddOrUpdate and Delete. The result is normalized.
	Routes(id any, entity core.EntityAccessor, provided *core.DocumentRoutes) (core.DocumentRoutes, error)
}

// RoutingBridge derives routes from an entity instance.
type RoutingBridge interface {
	// Route returns nil when the entity must not be indexed.
	Route(id any, entity any) (*core.Route, error)
	// PreviousRoutes lists routes the entity may have been indexed at.
	PreviousRoutes(id any, entity any) ([]core.Route, error)
}

// NoOpRouter trusts the provided routes verbatim. It serves contained
// types, types without routing and purges by identifier.
var NoOpRouter Router = noOpRouter{}

type noOpRouter struct{}

func (noOpRouter) CurrentRoute(_ any, _ core.EntityAccessor, provided *core.DocumentRoutes) (*core.Route, error) {
	if provided == nil {
		return &core.Route{}, nil
	}
	return provided.Normalized().Current, nil
}

func (noOpRouter) Routes(_ any, _ core.EntityAccessor, provided *core.DocumentRoutes) (core.DocumentRoutes, error) {
	if provided == nil {
		return core.DocumentRoutes{Current: &core.Route{}}, nil
	}
	return provided.Normalized(), nil
}

// BridgeRouter computes the current route from the entity and merges the
// previous routes reported by the bridge with the provided ones.
type BridgeRouter struct {
	Bridge RoutingBridge
}

func (r BridgeRouter) CurrentRoute(id any, entity core.EntityAccessor, provided *core.DocumentRoutes) (*core.Route, error) {
	e, err := get(entity)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return noOpRouter{}.CurrentRoute(id, entity, provided)
	}
	return r.Bridge.Route(id, e)
}

func (r BridgeRouter) Routes(id any, entity core.EntityAccessor, provided *core.DocumentRoutes) (core.DocumentRoutes, error) {
	e, err := get(entity)
	if err != nil {
		return core.DocumentRoutes{}, err
	}
	if e == nil {
		return orphanRoutes(provided), nil
	}

	current, err := r.Bridge.Route(id, e)
	if err != nil {
		return core.DocumentRoutes{}, err
	}
	previous, err := r.Bridge.PreviousRoutes(id, e)
	if err != nil {
		return core.DocumentRoutes{}, err
	}
	out := core.DocumentRoutes{Current: current, Previous: previous}
	if provided != nil {
		if provided.Current != nil {
			out.Previous = append(out.Previous, *provided.Current)
		}
		out.Previous = append(out.Previous, provided.Previous...)
	}
	return out.Normalized(), nil
}

// orphanRoutes handles entities that are gone: everything known becomes a
// route to clean up, falling back to the default partition.
func orphanRoutes(provided *core.DocumentRoutes) core.DocumentRoutes {
	if provided == nil {
		return core.DocumentRoutes{Previous: []core.Route{{}}}
	}
	out := core.DocumentRoutes{Previous: append([]core.Route(nil), provided.Previous...)}
	if provided.Current != nil {
		out.Previous = append(out.Previous, *provided.Current)
	}
	return out.Normalized()
}

func get(entity core.EntityAccessor) (any, error) {
	if entity == nil {
		return nil, nil
	}
	return entity.Get()
}
