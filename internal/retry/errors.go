package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Kind classifies a task failure.
type Kind string

const (
	KindTimeout    Kind = "timeout"
	KindNetwork    Kind = "network"
	KindTemporary  Kind = "temporary"
	KindValidation Kind = "validation"
	KindDependency Kind = "dependency"
)

// TaskError is a classified task failure. Validation and dependency errors
// are never recoverable.
type TaskError struct {
	Kind        Kind
	Msg         string
	Recoverable bool
	Err         error
}

func (e *TaskError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *TaskError) Unwrap() error { return e.Err }

// TimeoutError reports an agent call that exceeded its deadline.
func TimeoutError(msg string, err error) error {
	return &TaskError{Kind: KindTimeout, Msg: msg, Recoverable: true, Err: err}
}

// NetworkError reports a transient transport failure.
func NetworkError(msg string, err error) error {
	return &TaskError{Kind: KindNetwork, Msg: msg, Recoverable: true, Err: err}
}

// TemporaryError reports any other transient failure.
func TemporaryError(msg string, err error) error {
	return &TaskError{Kind: KindTemporary, Msg: msg, Recoverable: true, Err: err}
}

// ValidationError reports a structural problem that retrying cannot fix.
func ValidationError(msg string, err error) error {
	return &TaskError{Kind: KindValidation, Msg: msg, Recoverable: false, Err: err}
}

// DependencyError reports an unmet precondition.
func DependencyError(msg string, err error) error {
	return &TaskError{Kind: KindDependency, Msg: msg, Recoverable: false, Err: err}
}

// Classify buckets err into a Kind using its type first and its message
// second. Unknown errors are temporary.
func Classify(err error) Kind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection") {
		return KindNetwork
	}
	return KindTemporary
}

// Recoverable reports whether err may succeed on another attempt. Classified
// errors carry their own flag; a cancelled context never recovers within the
// same call.
func Recoverable(err error) bool {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Recoverable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
