package core

import (
	"errors"
	"fmt"
	"strings"
)

// Precondition errors. They are caller mistakes and are never retried.
var (
	ErrNilEntity         = errors.New("entity must not be nil")
	ErrReentrantProcess  = errors.New("indexing plan is already processing")
	ErrUnknownType       = errors.New("unknown entity type")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrUnknownPath       = errors.New("unknown dirty path")
	ErrNoLoadingPlan     = errors.New("no loading plan configured")
	ErrDiscarded         = errors.New("indexing plan was discarded")
)

// IgnorableFunc classifies data access failures that may be swallowed
// while resolving containing entities.
type IgnorableFunc func(err error) bool

// NeverIgnorable is the default classification.
func NeverIgnorable(error) bool { return false }

// EntityError attaches an entity reference to a failure.
type EntityError struct {
	Entity EntityReference
	Op     string
	Err    error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// ReportError is returned to callers waiting on a report that lists failures.
type ReportError struct {
	Report Report
}

func (e *ReportError) Error() string {
	refs := make([]string, 0, len(e.Report.FailingEntities))
	for _, r := range e.Report.FailingEntities {
		refs = append(refs, r.String())
	}
	msg := "indexing failed"
	if len(refs) > 0 {
		msg += " for " + strings.Join(refs, ", ")
	}
	if e.Report.Err != nil {
		msg += ": " + e.Report.Err.Error()
	}
	return msg
}

func (e *ReportError) Unwrap() error { return e.Report.Err }
