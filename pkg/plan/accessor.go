package plan

import "github.com/aretw0/reindex/pkg/core"

// lazyEntity is a load-once accessor owned by a single entity state.
// It is not safe for concurrent use; plans are confined to one goroutine.
type lazyEntity struct {
	load   func() (any, error)
	entity any
	err    error
	done   bool
}

func knownEntity(entity any) *lazyEntity {
	return &lazyEntity{entity: entity, done: true}
}

func deferredEntity(load func() (any, error)) *lazyEntity {
	return &lazyEntity{load: load}
}

func (l *lazyEntity) Get() (any, error) {
	if !l.done {
		l.entity, l.err = l.load()
		l.load = nil
		l.done = true
	}
	return l.entity, l.err
}

var _ core.EntityAccessor = (*lazyEntity)(nil)
