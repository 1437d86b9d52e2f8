// Package errors provides coded errors shared by every shipper component.
//
// Callers import it as apperrors to keep the standard library's errors
// package available alongside it.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Code classifies a failure. Codes are stable and appear in tool results.
type Code string

const (
	// Workspace
	CodePathEscape     Code = "PATH_ESCAPE"
	CodeInvalidSession Code = "INVALID_SESSION"
	CodeFileNotFound   Code = "FILE_NOT_FOUND"

	// Registry and dispatch
	CodeInvalidArguments      Code = "INVALID_ARGUMENTS"
	CodeToolAlreadyRegistered Code = "TOOL_ALREADY_REGISTERED"
	CodeToolNotFound          Code = "TOOL_NOT_FOUND"

	// Commands
	CodeSpawnFailure Code = "SPAWN_FAILURE"
	CodeTimeout      Code = "TIMEOUT"
	CodeNonZeroExit  Code = "NON_ZERO_EXIT"

	// Packaging and deployment
	CodeEmptyWorkspace    Code = "EMPTY_WORKSPACE"
	CodeMissingCredential Code = "MISSING_CREDENTIAL"
	CodeDeployInProgress  Code = "DEPLOY_IN_PROGRESS"
	CodeDeployFailed      Code = "DEPLOY_FAILED"
	CodeUnknownProvider   Code = "UNKNOWN_PROVIDER"

	// Ambient
	CodeLicenseInvalid Code = "LICENSE_INVALID"
	CodeConfigInvalid  Code = "CONFIG_INVALID"
	CodeInternal       Code = "INTERNAL"
)

// Error is a failure with a code, a human-readable message and optional
// structured context.
type Error struct {
	Code       Code
	Message    string
	Underlying error
	Context    map[string]any
}

// New creates a coded error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to err. Returns nil if err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Underlying: err}
}

// WithContext adds a key-value pair to the error context.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", e.Code, e.Message)

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" {")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s: %v", k, e.Context[k])
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		fmt.Fprintf(&sb, ": %v", e.Underlying)
	}
	return sb.String()
}

// Reason returns the message and underlying cause without the code prefix.
func (e *Error) Reason() string {
	if e.Underlying == nil {
		return e.Message
	}
	return e.Message + ": " + e.Underlying.Error()
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Underlying
	}
	return false
}

// GetCode returns the code of the outermost *Error, or CodeInternal.
func GetCode(err error) Code {
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeInternal
}

// ReasonOf returns a human-readable reason for any error.
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Reason()
	}
	return err.Error()
}
