package plan

import (
	"fmt"
	"reflect"

	"github.com/aretw0/reindex/pkg/core"
)

// DocumentBridge writes the fields of entity into doc.
type DocumentBridge func(entity any, doc core.Document) error

// TypeContext is everything the plan needs to know about one entity type.
// It is resolved once per type, not per call.
type TypeContext struct {
	Name string
	// Indexed types emit index commands. Contained types only feed
	// reindex resolution.
	Indexed bool

	Paths *PathIndex
	// SelfDirty holds the paths that end up in the type's own document.
	SelfDirty PathSet
	// ContainingDirty holds the paths embedded in containing documents.
	ContainingDirty PathSet

	Identifiers core.IdentifierMapping
	Router      Router
	Resolver    core.ReindexResolver
	Bridge      DocumentBridge
	// DisplayName is optional and only feeds entity references.
	DisplayName func(entity any) string
}

func (tc *TypeContext) isSelfDirty(forceSelf bool, dirty PathSet) bool {
	return forceSelf || tc.SelfDirty.Intersects(dirty)
}

func (tc *TypeContext) isContainingDirty(forceContaining bool, dirty PathSet) bool {
	return forceContaining || tc.ContainingDirty.Intersects(dirty)
}

func (tc *TypeContext) reference(id any, entity any) core.EntityReference {
	ref := core.EntityReference{Type: tc.Name, ID: id}
	if tc.DisplayName != nil && entity != nil {
		ref.Name = tc.DisplayName(entity)
	}
	return ref
}

// Registry maps type names to their contexts.
type Registry struct {
	types map[string]*TypeContext
	order []string
}

func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*TypeContext)}
}

// Register validates tc, fills defaults and adds it to the registry.
func (r *Registry) Register(tc TypeContext) error {
	if tc.Name == "" {
		return fmt.Errorf("type has no name")
	}
	if _, dup := r.types[tc.Name]; dup {
		return fmt.Errorf("type %q registered twice", tc.Name)
	}
	if tc.Identifiers == nil {
		return fmt.Errorf("type %q has no identifier mapping", tc.Name)
	}
	if tc.Indexed && tc.Bridge == nil {
		return fmt.Errorf("indexed type %q has no document bridge", tc.Name)
	}
	if tc.Paths == nil {
		tc.Paths = NewPathIndex()
	}
	if tc.SelfDirty.words == nil {
		tc.SelfDirty = tc.Paths.NewSet()
	}
	if tc.ContainingDirty.words == nil {
		tc.ContainingDirty = tc.Paths.NewSet()
	}
	if tc.Router == nil {
		tc.Router = NoOpRouter
	}

	r.types[tc.Name] = &tc
	r.order = append(r.order, tc.Name)
	return nil
}

// Lookup returns the context registered under name.
func (r *Registry) Lookup(name string) (*TypeContext, error) {
	tc, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrUnknownType, name)
	}
	return tc, nil
}

// Types lists registered type names in registration order.
func (r *Registry) Types() []string {
	return append([]string(nil), r.order...)
}

// ProvidedIdentifiers uses the provided identifier verbatim and renders it
// with fmt for documents. Entities are never inspected.
type ProvidedIdentifiers struct{}

func (ProvidedIdentifiers) Identifier(providedID any, _ core.EntityAccessor) (any, error) {
	if providedID == nil {
		return nil, fmt.Errorf("%w: an identifier must be provided", core.ErrInvalidIdentifier)
	}
	return providedID, nil
}

func (ProvidedIdentifiers) DocumentID(id any) string { return fmt.Sprint(id) }

func (ProvidedIdentifiers) ParseDocumentID(documentID string) (any, error) {
	return documentID, nil
}

func checkIdentifier(id any) error {
	if id == nil {
		return fmt.Errorf("%w: nil", core.ErrInvalidIdentifier)
	}
	if !reflect.TypeOf(id).Comparable() {
		return fmt.Errorf("%w: %T is not comparable", core.ErrInvalidIdentifier, id)
	}
	return nil
}
