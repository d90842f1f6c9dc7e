// Package core holds the domain types and the contracts shared by the
// indexing plan and its collaborators (index, event queue, loaders).
package core

import "fmt"

// Document is the set of fields a contributor writes for one entity.
// It is agnostic to the index backend.
type Document map[string]any

// EntityReference identifies an entity in reports and errors.
// It is never used for logic.
type EntityReference struct {
	Type string `json:"type" yaml:"type"`
	ID   any    `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

func (r EntityReference) String() string {
	if r.Name != "" {
		return fmt.Sprintf("%s#%v (%s)", r.Type, r.ID, r.Name)
	}
	return fmt.Sprintf("%s#%v", r.Type, r.ID)
}

// Route is the partition a document lives in.
// An empty RoutingKey means the default partition.
type Route struct {
	RoutingKey string `json:"routingKey" yaml:"routingKey"`
}

// DocumentRoutes holds the current route of a document and the routes it
// may have lived at before and must be removed from.
// A nil Current means the entity must not be indexed.
type DocumentRoutes struct {
	Current  *Route  `json:"current,omitempty" yaml:"current,omitempty"`
	Previous []Route `json:"previous,omitempty" yaml:"previous,omitempty"`
}

// Empty reports whether there is neither a current route nor anything to clean up.
func (r DocumentRoutes) Empty() bool {
	return r.Current == nil && len(r.Previous) == 0
}

// Normalized returns a copy where Previous is deduplicated and never
// contains Current.
func (r DocumentRoutes) Normalized() DocumentRoutes {
	out := DocumentRoutes{}
	if r.Current != nil {
		c := *r.Current
		out.Current = &c
	}
	seen := make(map[Route]struct{}, len(r.Previous))
	for _, p := range r.Previous {
		if out.Current != nil && p == *out.Current {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out.Previous = append(out.Previous, p)
	}
	return out
}

// DocumentRef addresses one document in the index.
type DocumentRef struct {
	Type       string
	DocumentID string
	Route      Route
	Entity     EntityReference
}

// CommandKind is the kind of index command emitted for an entity.
type CommandKind string

const (
	CommandAdd         CommandKind = "ADD"
	CommandAddOrUpdate CommandKind = "ADD_OR_UPDATE"
	CommandDelete      CommandKind = "DELETE"
)

// Dirtiness describes why an entity needs reindexing.
// Paths lists dirty path names; it is only meaningful when the force flags
// are not both set.
type Dirtiness struct {
	ForceSelf       bool     `json:"forceSelf,omitempty" yaml:"forceSelf,omitempty"`
	ForceContaining bool     `json:"forceContaining,omitempty" yaml:"forceContaining,omitempty"`
	Paths           []string `json:"paths,omitempty" yaml:"paths,omitempty"`
}

// All reports whether every path must be considered dirty.
func (d Dirtiness) All() bool {
	return d.ForceSelf && d.ForceContaining
}

// ReindexTarget is an entity that must be revisited because something it
// contains changed. Either ID or Entity must be set.
type ReindexTarget struct {
	Type   string
	ID     any
	Entity any
}
