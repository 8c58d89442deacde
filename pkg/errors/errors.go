// Package errors defines the error kinds surfaced while preparing a candidate.
//
// Callers branch on the kind rather than on message text:
//
//	if errors.Is(err, errors.RequirementMissing) {
//	    // point the user at the missing path
//	}
//
// Anything that is not one of these kinds is wrapped with fmt.Errorf and %w.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies an error kind.
type Code string

const (
	// RequirementMissing is returned when a local path source does not exist.
	RequirementMissing Code = "REQUIREMENT_MISSING"
	// UnsupportedSource is returned for unparseable requirements or source kinds.
	UnsupportedSource Code = "UNSUPPORTED_SOURCE"
	// BuildBackendFailure is returned when the build backend exits non-zero or
	// produces output that cannot be read. The captured output is attached.
	BuildBackendFailure Code = "BUILD_BACKEND_FAILURE"
	// IncompatibleArtifact is returned when no artifact matches the target tags.
	IncompatibleArtifact Code = "INCOMPATIBLE_ARTIFACT"
	// RevisionResolutionFailure is returned when a VCS ref cannot be resolved.
	RevisionResolutionFailure Code = "REVISION_RESOLUTION_FAILURE"
	// MetadataNotFound is returned by a metadata strategy that does not apply.
	MetadataNotFound Code = "METADATA_NOT_FOUND"
)

// Error is a coded error with an optional cause and captured tool output.
type Error struct {
	Code    Code
	Message string
	Cause   error
	// Output holds diagnostic text from an external tool, if any.
	Output string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if e.Output != "" {
		b.WriteString("\n")
		b.WriteString(strings.TrimRight(e.Output, "\n"))
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithOutput attaches captured tool output to e and returns it.
func (e *Error) WithOutput(out string) *Error {
	e.Output = out
	return e
}

// Is reports whether any error in err's chain carries code.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// GetCode returns the code of the outermost *Error in err's chain, or "".
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// OutputOf returns the first captured tool output found in err's chain.
func OutputOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Output != "" {
			return e.Output
		}
		err = e.Cause
	}
	return ""
}
