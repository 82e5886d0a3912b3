package api

import (
	"github.com/pkg/errors"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrStreaming  = errors.New("streaming unsupported")
)

// WrapKind attaches op and a sentinel kind to err. errors.Is matches both
// kind and the original error.
func WrapKind(op string, kind, err error) error {
	if err == nil {
		return NewKind(op, kind)
	}
	return &kindError{op: op, kind: kind, err: errors.WithStack(err)}
}

// NewKind returns an error of the given kind without an underlying cause.
func NewKind(op string, kind error) error {
	return errors.Wrap(kind, op)
}

type kindError struct {
	op   string
	kind error
	err  error
}

func (e *kindError) Error() string {
	return e.op + ": " + e.kind.Error() + ": " + errors.Cause(e.err).Error()
}

func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }
