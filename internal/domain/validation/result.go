// Package validation holds the pure rule checks run before every draft
// command. Checks never mutate the session and never perform I/O.
package validation

import (
	"github.com/okian/draftd/internal/domain/draft"
)

// Result is the outcome of a check: either OK or a non-empty reason list.
type Result struct {
	reasons []draft.Reason
}

// OK reports success.
func (r Result) OK() bool { return len(r.reasons) == 0 }

// Reasons returns the violated rules in check order.
func (r Result) Reasons() []draft.Reason {
	return append([]draft.Reason(nil), r.reasons...)
}

// Err returns nil on success and a *draft.ValidationError otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &draft.ValidationError{Reasons: r.Reasons()}
}

func (r *Result) add(code, msg string) {
	r.reasons = append(r.reasons, draft.Reason{Code: code, Message: msg})
}

// Reject builds a failed Result with a single reason.
func Reject(code, msg string) Result {
	var r Result
	r.add(code, msg)
	return r
}
