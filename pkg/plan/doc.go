// Package plan implements indexing plans: per unit of work change
// tracking that collapses add/update/delete/purge calls into a minimal
// sequence of index commands.
//
// A RootPlan owns one TypePlan per touched entity type. At commit time it
// resolves cascading dirtiness (contained types first, then indexed
// types), then emits one command per entity through the Delegate chosen by
// the Strategy:
//
//   - direct: commands go straight to a core.Index.
//   - event-queue: commands are serialized as core.IndexingEvent values.
//   - hybrid: direct, except updates caused only by contained entities,
//     which are queued for the background worker.
//
// Plans are confined to one goroutine and take no locks.
package plan
