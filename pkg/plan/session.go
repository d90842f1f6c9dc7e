package plan

import (
	"context"
	"errors"
	"sync"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/reindex/pkg/core"
)

// FailureHandler is notified of failures that are not returned to the caller.
type FailureHandler func(report core.Report)

// Session is a unit of work: it tracks changes in a RootPlan and applies
// the strategy's sync policy on Commit.
type Session struct {
	*RootPlan
	onFailure FailureHandler
	closed    bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewSession wraps a root plan. A nil handler logs failures.
func NewSession(root *RootPlan, onFailure FailureHandler) *Session {
	s := &Session{RootPlan: root, onFailure: onFailure, done: make(chan struct{})}
	if s.onFailure == nil {
		s.onFailure = func(report core.Report) {
			refs := make([]string, 0, len(report.FailingEntities))
			for _, r := range report.FailingEntities {
				refs = append(refs, r.String())
			}
			root.logger.Error("indexing failed", "entities", refs, "error", report.Err)
		}
	}
	return s
}

// Commit processes the plan and executes it.
//
// Blocking strategies wait for the report: failures go to the failure
// handler and are returned as *core.ReportError. Non-blocking strategies
// return once the commands are emitted and report failures to the handler
// only.
func (s *Session) Commit(ctx context.Context) error {
	if s.closed {
		return errors.New("session already closed")
	}
	s.closed = true

	if err := s.Process(ctx); err != nil {
		s.Discard()
		s.finish()
		return err
	}

	if !s.strategy.Blocking() {
		bg := context.WithoutCancel(ctx)
		future := s.ExecuteAndReport(bg)
		lifecycle.Go(bg, func(ctx context.Context) error {
			defer s.finish()
			report, err := future.Wait(ctx)
			if err != nil {
				report = core.MergeReports(report, core.Report{Err: err})
			}
			if report.Failed() {
				s.onFailure(report)
			}
			return nil
		})
		return nil
	}

	defer s.finish()
	report, err := s.ExecuteAndReport(ctx).Wait(ctx)
	if err != nil {
		return err
	}
	if report.Failed() {
		s.onFailure(report)
		return &core.ReportError{Report: report}
	}
	return nil
}

// Rollback discards everything tracked so far. It is idempotent.
func (s *Session) Rollback() {
	s.Discard()
	s.closed = true
	s.finish()
}

// Done is closed once the session ended: rolled back, or committed and
// its report handled.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}
