package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/aretw0/lifecycle"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/reindex/pkg/core"
)

// SourceOption configures an event source.
type SourceOption func(*eventSource)

// WithTypes forwards only events whose type matches one of the doublestar
// patterns.
func WithTypes(patterns ...string) SourceOption {
	return func(s *eventSource) {
		s.types = append(s.types, patterns...)
	}
}

// WithBuffer sets the capacity of the outgoing channel. Defaults to 0.
func WithBuffer(n int) SourceOption {
	return func(s *eventSource) {
		if n > 0 {
			s.buffer = n
		}
	}
}

type eventSource struct {
	in      <-chan core.IndexingEvent
	out     chan lifecycle.Event
	types   []string
	buffer  int
	started atomic.Bool
}

// NewSource exposes the events acked by a spool processor as a
// lifecycle.Source. Events stops when in is closed or the Start context ends.
func NewSource(in <-chan core.IndexingEvent, opts ...SourceOption) lifecycle.Source {
	s := &eventSource{in: in}
	for _, opt := range opts {
		opt(s)
	}
	s.out = make(chan lifecycle.Event, s.buffer)
	return s
}

func (s *eventSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *eventSource) accepts(e core.IndexingEvent) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, pattern := range s.types {
		if ok, _ := doublestar.Match(pattern, e.Type); ok {
			return true
		}
	}
	return false
}

func (s *eventSource) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("event source already started")
	}
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			var e core.IndexingEvent
			var ok bool
			select {
			case <-ctx.Done():
				return nil
			case e, ok = <-s.in:
			}
			if !ok {
				return nil
			}
			if !s.accepts(e) {
				continue
			}
			select {
			case s.out <- e:
			case <-ctx.Done():
				return nil
			}
		}
	})
	return nil
}
