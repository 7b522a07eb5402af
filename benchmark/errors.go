package benchmark

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConnectionError reports a session that could not be established or a discovery step
// that failed. It aborts the run.
type ConnectionError struct {
	Target string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Target, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// InvocationError reports a single failed tool call. It's recorded in the stress results,
// never returned from a run.
type InvocationError struct {
	Tool string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("call to %s failed: %v", e.Tool, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ResourceError reports a failed resource list or read.
type ResourceError struct {
	Op  string
	URI string
	Err error
}

func (e *ResourceError) Error() string {
	if e.URI == "" {
		return fmt.Sprintf("resource %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("resource %s of %s failed: %v", e.Op, e.URI, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// SerializationError reports a report that could not be encoded, decoded or written.
type SerializationError struct {
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("report %s: %v", e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// The constructors attach a stack trace, printed with %+v when a run fails.

func newConnectionError(target string, err error) error {
	return errors.WithStack(&ConnectionError{Target: target, Err: err})
}

func newInvocationError(tool string, err error) error {
	return errors.WithStack(&InvocationError{Tool: tool, Err: err})
}

func newResourceError(op, uri string, err error) error {
	return errors.WithStack(&ResourceError{Op: op, URI: uri, Err: err})
}

// NewSerializationError wraps err as a *SerializationError for path.
func NewSerializationError(path string, err error) error {
	return errors.WithStack(&SerializationError{Path: path, Err: err})
}
