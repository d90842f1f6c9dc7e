package core

// Report is the outcome of executing the commands of a unit of work.
// Partial failure is the normal case: sibling entities keep going and the
// failing ones are listed here.
type Report struct {
	// FailingEntities lists every entity whose command failed.
	FailingEntities []EntityReference
	// Err is the first failure seen, kept as the representative cause.
	Err error
}

// Failed reports whether anything went wrong.
func (r Report) Failed() bool {
	return r.Err != nil || len(r.FailingEntities) > 0
}

// Fail records a failure for ref.
func (r *Report) Fail(ref EntityReference, err error) {
	r.FailingEntities = append(r.FailingEntities, ref)
	if r.Err == nil {
		r.Err = err
	}
}

// MergeReports concatenates failing entities and keeps the first error.
func MergeReports(reports ...Report) Report {
	var out Report
	for _, r := range reports {
		out.FailingEntities = append(out.FailingEntities, r.FailingEntities...)
		if out.Err == nil && r.Err != nil {
			out.Err = r.Err
		}
	}
	return out
}
