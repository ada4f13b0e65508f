// Package errs defines the error kinds shared by the scheduler, the stores and
// the workers.
//
// Kinds decide propagation: configuration errors abort a CLI operation,
// execution errors are contained by the job lifecycle, resource errors abort
// the invocation, and backend errors are retried at the poll interval.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindResource
	KindExecution
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindResource:
		return "resource"
	case KindExecution:
		return "execution"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

var (
	ErrMissingSchedule = errors.New("missing schedule")
	ErrUnknownJob      = errors.New("unknown job")
	ErrInvalidArgs     = errors.New("arguments must be a JSON array")
)

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Op: op, Err: err}
}

func Configuration(op string, err error) error { return wrap(KindConfiguration, op, err) }
func Resource(op string, err error) error      { return wrap(KindResource, op, err) }
func Execution(op string, err error) error     { return wrap(KindExecution, op, err) }
func Backend(op string, err error) error       { return wrap(KindBackend, op, err) }

// KindOf returns the outermost Kind found in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether any error in err's chain has kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == k {
			return true
		}
		err = e.Err
	}
	return false
}
