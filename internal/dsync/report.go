package dsync

import (
	"fmt"
	"strings"
)

const (
	OpCopyNew       = "copy-new"
	OpUpdateChanged = "update-changed"
	OpRemoveDeleted = "remove-deleted"
)

// Failure is one path an operation could not handle.
type Failure struct {
	Op   string
	Path string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Op, f.Path, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Outcome summarizes one pass of the sync engine over a diff set.
type Outcome struct {
	Op        string
	Succeeded int
	Failures  []Failure

	// Refused is set when the deletion pass declined to run.
	Refused bool
}

func (o *Outcome) fail(path string, err error) {
	o.Failures = append(o.Failures, Failure{Op: o.Op, Path: path, Err: err})
}

// Report is the aggregate result of a full sync.
type Report struct {
	New     Outcome
	Changed Outcome
	Deleted Outcome
}

// Failures returns every failure across the three passes.
func (r *Report) Failures() []Failure {
	var out []Failure
	out = append(out, r.New.Failures...)
	out = append(out, r.Changed.Failures...)
	out = append(out, r.Deleted.Failures...)
	return out
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "new: %d, changed: %d, deleted: %d", r.New.Succeeded, r.Changed.Succeeded, r.Deleted.Succeeded)
	if n := len(r.Failures()); n > 0 {
		fmt.Fprintf(&b, ", failed: %d", n)
	}
	if r.Deleted.Refused {
		b.WriteString(" (deletions skipped: base is empty)")
	}
	return b.String()
}
