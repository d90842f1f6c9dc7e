package core

import "context"

// EntityAccessor gives deferred access to an entity instance.
// Implementations memoize: Get loads at most once.
type EntityAccessor interface {
	Get() (any, error)
}

// IdentifierMapping extracts and converts entity identifiers for one type.
type IdentifierMapping interface {
	// Identifier returns the identifier of an entity, preferring providedID
	// when it is set. The result must be comparable.
	Identifier(providedID any, entity EntityAccessor) (any, error)

	// DocumentID converts an identifier to the document identifier used in the index.
	DocumentID(id any) string

	// ParseDocumentID is the inverse of DocumentID.
	ParseDocumentID(documentID string) (any, error)
}

// LoadingPlan loads entities in batches.
// PlanLoading only registers the request; Retrieve performs the load for
// every request planned so far.
type LoadingPlan interface {
	PlanLoading(typeName string, id any) int
	// Retrieve returns nil without error when the entity no longer exists.
	Retrieve(ctx context.Context, typeName string, ordinal int) (any, error)
}

// ReindexResolver walks the containing associations of a changed entity.
type ReindexResolver interface {
	Resolve(ctx context.Context, entity any, dirty Dirtiness) ([]ReindexTarget, error)
}

// DocumentContributor populates a document for one entity.
type DocumentContributor interface {
	Contribute(doc Document) error
}

// ContributorFunc adapts a function to DocumentContributor.
type ContributorFunc func(doc Document) error

func (f ContributorFunc) Contribute(doc Document) error { return f(doc) }

// CommitPolicy tells the index whether to make writes durable.
type CommitPolicy int

const (
	CommitNone CommitPolicy = iota
	CommitForce
)

// RefreshPolicy tells the index whether to make writes visible to readers.
type RefreshPolicy int

const (
	RefreshNone RefreshPolicy = iota
	RefreshForce
)

// IndexCommands is the command stream of one entity type.
type IndexCommands interface {
	Add(ref DocumentRef, doc DocumentContributor) *Future[Ack]
	AddOrUpdate(ref DocumentRef, doc DocumentContributor) *Future[Ack]
	Delete(ref DocumentRef) *Future[Ack]
	// Flush applies the commit and refresh policies to everything sent so far.
	Flush(ctx context.Context, commit CommitPolicy, refresh RefreshPolicy) error
	// Discard drops commands that were not applied yet.
	Discard()
}

// Index hands out command streams per entity type.
type Index interface {
	Commands(typeName string) IndexCommands
}

// EventSender appends indexing events to a durable queue.
type EventSender interface {
	Send(ctx context.Context, events []IndexingEvent) error
}
