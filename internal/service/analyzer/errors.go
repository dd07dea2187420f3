package analyzer

import (
	"errors"
	"fmt"

	"printcalc/internal/domain"
)

// Kind classifies a backend failure
type Kind int

const (
	// KindNetwork covers connection failures, transport timeouts and 5xx replies
	KindNetwork Kind = iota + 1
	// KindTimeout is a local process that outlived its deadline
	KindTimeout
	// KindExecutableMissing means the configured executable cannot be run
	KindExecutableMissing
	// KindBadResponse is a reply that violates the result contract
	KindBadResponse
	// KindProcessFailed is a non-zero exit or unreadable output
	KindProcessFailed
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindExecutableMissing:
		return "executable_missing"
	case KindBadResponse:
		return "bad_response"
	case KindProcessFailed:
		return "process_failed"
	default:
		return "unknown"
	}
}

// Error is the failure of one backend call
type Error struct {
	Kind Kind
	Mode domain.BackendMode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s analyzer %s: %v", e.Mode, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same call may succeed
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindTimeout
}

func newError(mode domain.BackendMode, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Mode: mode, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) (Kind, bool) {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind, true
	}
	return 0, false
}

// IsRetryable reports whether err is a retryable backend failure
func IsRetryable(err error) bool {
	var aerr *Error
	return errors.As(err, &aerr) && aerr.Retryable()
}
