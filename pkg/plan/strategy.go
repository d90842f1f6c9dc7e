package plan

import (
	"fmt"

	"github.com/aretw0/reindex/pkg/core"
)

// StrategyKind selects where the work of a plan is finally applied.
type StrategyKind string

const (
	// LocalSync indexes in the caller's process; the caller waits per the sync policy.
	LocalSync StrategyKind = "local-sync"
	// LocalAsync indexes in the caller's process without blocking the caller.
	LocalAsync StrategyKind = "local-async"
	// EventSending only resolves deletions in-session and queues events.
	EventSending StrategyKind = "event-sending"
	// EventProcessing is used by the background worker consuming events.
	EventProcessing StrategyKind = "event-processing"
)

// ParseStrategyKind parses a strategy name.
func ParseStrategyKind(s string) (StrategyKind, error) {
	switch k := StrategyKind(s); k {
	case LocalSync, LocalAsync, EventSending, EventProcessing:
		return k, nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// SyncPolicy governs whether the caller blocks and which commit and
// refresh the index applies. It never changes what a delegate emits.
type SyncPolicy struct {
	Name    string
	Commit  core.CommitPolicy
	Refresh core.RefreshPolicy
	Wait    bool
}

var (
	SyncFull  = SyncPolicy{Name: "sync", Commit: core.CommitForce, Refresh: core.RefreshForce, Wait: true}
	WriteSync = SyncPolicy{Name: "write-sync", Commit: core.CommitForce, Refresh: core.RefreshNone, Wait: true}
	ReadSync  = SyncPolicy{Name: "read-sync", Commit: core.CommitNone, Refresh: core.RefreshForce, Wait: true}
	Async     = SyncPolicy{Name: "async", Commit: core.CommitNone, Refresh: core.RefreshNone, Wait: false}
)

// ParseSyncPolicy parses a sync policy name.
func ParseSyncPolicy(s string) (SyncPolicy, error) {
	for _, p := range []SyncPolicy{SyncFull, WriteSync, ReadSync, Async} {
		if p.Name == s {
			return p, nil
		}
	}
	return SyncPolicy{}, fmt.Errorf("unknown sync policy %q", s)
}

// Strategy is chosen once, when a Root Plan is built.
type Strategy struct {
	Kind StrategyKind
	Sync SyncPolicy
	// Sender is required by EventSending. Local strategies that have one
	// defer containing-only reindexing to the queue.
	Sender core.EventSender
}

// Blocking reports whether committing waits for the report.
func (s Strategy) Blocking() bool {
	return s.Kind != LocalAsync && s.Sync.Wait
}

func (s Strategy) deleteOnlyResolution() bool {
	return s.Kind == EventSending
}

func (s Strategy) newDelegate(tc *TypeContext, index core.Index) (Delegate, error) {
	switch s.Kind {
	case EventSending:
		if s.Sender == nil {
			return nil, fmt.Errorf("strategy %s requires an event sender", s.Kind)
		}
		return newEventDelegate(tc, s.Sender), nil

	case LocalSync, LocalAsync, EventProcessing:
		if index == nil {
			return nil, fmt.Errorf("strategy %s requires an index", s.Kind)
		}
		direct := newDirectDelegate(tc, index.Commands(tc.Name), s.Sync)
		if s.Sender != nil && s.Kind != EventProcessing {
			return &hybridDelegate{direct: direct, queue: newEventDelegate(tc, s.Sender)}, nil
		}
		return direct, nil
	}
	return nil, fmt.Errorf("unknown strategy %q", s.Kind)
}
