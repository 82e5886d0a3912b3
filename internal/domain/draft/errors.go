package draft

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for engine callers.
var (
	ErrNotFound  = errors.New("session not found")
	ErrConflict  = errors.New("arena already has a live session")
	ErrBusy      = errors.New("session is busy, try again")
	ErrInvariant = errors.New("session invariant violated")
)

// Reason is one violated rule.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationError carries every rule a command broke. It is expected user
// input failure, never a system fault.
type ValidationError struct {
	Reasons []Reason `json:"reasons"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		msgs[i] = r.Message
	}
	return strings.Join(msgs, "; ")
}

// HasCode reports whether code is among the reasons.
func (e *ValidationError) HasCode(code string) bool {
	for _, r := range e.Reasons {
		if r.Code == code {
			return true
		}
	}
	return false
}

// AsValidation unwraps err into a ValidationError.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}

// InvariantViolation is an internal consistency failure. The owning session
// is force-cancelled when one is detected.
type InvariantViolation struct {
	SessionID string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("session %s: %s", e.SessionID, e.Detail)
}

func (e *InvariantViolation) Unwrap() error { return ErrInvariant }
