// Package errdefs defines the failure kinds reported by the installer and
// their mapping to process exit codes.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an installer failure.
type Kind string

const (
	MalformedDescriptor Kind = "MalformedDescriptor"
	NetworkError        Kind = "NetworkError"
	TimeoutError        Kind = "TimeoutError"
	IntegrityMismatch   Kind = "IntegrityMismatch"
	BundleNotFound      Kind = "BundleNotFound"
	DestinationConflict Kind = "DestinationConflict"
)

// Exit codes returned by the CLI. 1 is reserved for unclassified errors.
const (
	ExitOK = iota
	ExitError
	ExitMalformedDescriptor
	ExitNetworkError
	ExitTimeoutError
	ExitIntegrityMismatch
	ExitBundleNotFound
	ExitDestinationConflict
)

// Error is a classified failure. Field names the descriptor field involved,
// Path the file or URL.
type Error struct {
	Kind  Kind
	Field string
	Path  string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Path != "" {
		b.WriteString(": ")
		b.WriteString(e.Path)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error wrapping err.
func New(kind Kind, field, path string, err error) *Error {
	return &Error{Kind: kind, Field: field, Path: path, Err: err}
}

// Newf returns a classified error with a formatted cause.
func Newf(kind Kind, field, path, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Field: field, Path: path, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	k, ok := KindOf(err)
	if !ok {
		return ExitError
	}
	switch k {
	case MalformedDescriptor:
		return ExitMalformedDescriptor
	case NetworkError:
		return ExitNetworkError
	case TimeoutError:
		return ExitTimeoutError
	case IntegrityMismatch:
		return ExitIntegrityMismatch
	case BundleNotFound:
		return ExitBundleNotFound
	case DestinationConflict:
		return ExitDestinationConflict
	default:
		return ExitError
	}
}
