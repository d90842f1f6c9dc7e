// Package mapping describes generic record types in YAML and compiles them
// into an indexing plan registry.
//
// A mapping names, per type, the identifier and routing fields, the paths
// tracked for dirty checking, the fields copied into documents and the
// rules telling which indexed documents embed the type. Store keeps the
// records themselves and serves batched loads to indexing plans.
package mapping
