package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// IndexState exposes the index for observability.
type IndexState struct {
	Path        string         `json:"path,omitempty"`
	Live        int            `json:"live"`
	Visible     int            `json:"visible"`
	Types       map[string]int `json:"types,omitempty"`
	Dirty       bool           `json:"dirty"`
	Commands    int            `json:"commands"`
	LastCommit  *time.Time     `json:"last_commit,omitempty"`
	LastRefresh *time.Time     `json:"last_refresh,omitempty"`
}

// State implements introspection.Introspectable.
func (x *Index) State() any {
	x.mu.RLock()
	defer x.mu.RUnlock()

	types := make(map[string]int)
	for _, e := range x.visible {
		types[e.Type]++
	}
	return IndexState{
		Path:        x.path,
		Live:        len(x.live),
		Visible:     len(x.visible),
		Types:       types,
		Dirty:       x.dirty,
		Commands:    x.commands,
		LastCommit:  x.lastCommit,
		LastRefresh: x.lastRefresh,
	}
}

// ComponentType implements introspection.Component.
func (x *Index) ComponentType() string {
	return "index"
}

// SpoolState exposes the event spool for observability.
type SpoolState struct {
	Dir      string `json:"dir"`
	Pending  int    `json:"pending"`
	Sent     int    `json:"sent_batches"`
	Events   int    `json:"sent_events"`
	Acked    int    `json:"acked"`
	Rejected int    `json:"rejected"`
}

// State implements introspection.Introspectable.
func (s *Spool) State() any {
	pending, _ := s.Pending()
	s.mu.Lock()
	defer s.mu.Unlock()
	return SpoolState{
		Dir:      s.dir,
		Pending:  len(pending),
		Sent:     s.sent,
		Events:   s.events,
		Acked:    s.acked,
		Rejected: s.rejected,
	}
}

// ComponentType implements introspection.Component.
func (s *Spool) ComponentType() string {
	return "spool"
}

// ProcessorState exposes the processor for observability.
type ProcessorState struct {
	Dir       string     `json:"dir"`
	Watching  bool       `json:"watching"`
	Processed int        `json:"processed_batches"`
	Failures  int        `json:"failures"`
	LastError string     `json:"last_error,omitempty"`
	LastBatch *time.Time `json:"last_batch,omitempty"`
}

// State implements introspection.Introspectable.
func (p *Processor) State() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ProcessorState{
		Dir:       p.spool.dir,
		Watching:  p.watching,
		Processed: p.processed,
		Failures:  p.failures,
		LastError: p.lastError,
		LastBatch: p.lastBatch,
	}
}

// ComponentType implements introspection.Component.
func (p *Processor) ComponentType() string {
	return "processor"
}

var (
	_ introspection.Introspectable = (*Index)(nil)
	_ introspection.Component      = (*Index)(nil)
	_ introspection.Introspectable = (*Spool)(nil)
	_ introspection.Component      = (*Spool)(nil)
	_ introspection.Introspectable = (*Processor)(nil)
	_ introspection.Component      = (*Processor)(nil)
)
