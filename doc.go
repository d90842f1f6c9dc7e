// Package reindex keeps a search index in step with a set of records.
//
// Changes made in a unit of work are tracked per entity and collapsed into
// a minimal list of index commands when the unit of work commits. Changes
// to records embedded in other documents cascade to those documents, and
// documents moving between routing keys are cleaned from their old route.
//
// Features:
//
//   - **Indexing plans**: add, update, delete and purge collapse per entity.
//   - **Reindex resolution**: containing documents are revisited once.
//   - **Strategies**: index in-process, synchronously or not, or queue
//     events for a background worker.
//   - **YAML mappings**: types, paths, routing and containing rules.
//
// Usage:
//
//	ix, err := reindex.Open(".", reindex.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer ix.Close()
//
//	err = ix.Apply(ctx, []mapping.Op{
//		{Op: mapping.OpUpdate, Type: "author", Record: mapping.Record{"id": "a", "name": "Le Guin"}},
//	})
package reindex
