// Package errors defines the stable error code system for anvil.
package errors

import (
	"errors"
	"fmt"
	"io"
)

// Code is a stable error code string.
type Code string

// Error codes. Stable public contract (spec.md §7 taxonomy).
const (
	EUsage          Code = "E_USAGE"
	ENotImplemented Code = "E_NOT_IMPLEMENTED"
	EInternal       Code = "E_INTERNAL"

	EPathEscape       Code = "E_PATH_ESCAPE"
	EWorktreeConflict Code = "E_WORKTREE_CONFLICT"
	EWorktreeFailure  Code = "E_WORKTREE_FAILURE"
	ERepoNotVCS       Code = "E_REPO_NOT_VERSION_CONTROLLED"

	ESchemaDrift Code = "E_SCHEMA_DRIFT"
	ETimeout     Code = "E_TIMEOUT_FAILURE"
	ENoPatch     Code = "E_NO_PATCH"
	EVerifyFail  Code = "E_VERIFY_FAIL"

	EUnknownProvider Code = "E_UNKNOWN_PROVIDER"
	EInvalidName     Code = "E_INVALID_NAME"
	EInvalidConfig   Code = "E_INVALID_CONFIG"

	ERunNotFound  Code = "E_RUN_NOT_FOUND"
	ERunDirExists Code = "E_RUN_DIR_EXISTS"

	EInternalCrash Code = "E_INTERNAL_CRASH"
)

// AnvilError is the standard error type for anvil errors.
type AnvilError struct {
	Code    Code
	Msg     string
	Cause   error
	Details map[string]string // optional structured context
}

// Error returns the stable error format: "CODE: message".
func (e *AnvilError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *AnvilError) Unwrap() error {
	return e.Cause
}

// ExitCodeError wraps an error with an explicit process exit code.
type ExitCodeError struct {
	Err  error
	Code int
}

func (e *ExitCodeError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitCodeError) Unwrap() error {
	return e.Err
}

func (e *ExitCodeError) ExitCode() int {
	return e.Code
}

// WithExitCode wraps err with a specific process exit code.
func WithExitCode(err error, code int) error {
	return &ExitCodeError{Err: err, Code: code}
}

// New creates a new AnvilError with the given code and message.
func New(code Code, msg string) error {
	return &AnvilError{Code: code, Msg: msg}
}

// NewWithDetails creates a new AnvilError with code, message, and details.
// Details map is defensively copied (nil if empty).
func NewWithDetails(code Code, msg string, details map[string]string) error {
	return &AnvilError{Code: code, Msg: msg, Details: copyDetails(details)}
}

// Wrap creates a new AnvilError wrapping an underlying error.
func Wrap(code Code, msg string, err error) error {
	return &AnvilError{Code: code, Msg: msg, Cause: err}
}

// WrapWithDetails creates a new AnvilError wrapping an underlying error with details.
func WrapWithDetails(code Code, msg string, err error, details map[string]string) error {
	return &AnvilError{Code: code, Msg: msg, Cause: err, Details: copyDetails(details)}
}

// GetCode extracts the error code from an error, or empty string if not an AnvilError.
func GetCode(err error) Code {
	var ae *AnvilError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// AsAnvilError returns (*AnvilError, true) if err is or wraps an AnvilError.
func AsAnvilError(err error) (*AnvilError, bool) {
	var ae *AnvilError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// copyDetails returns a defensive copy of the details map, or nil if empty/nil.
func copyDetails(details map[string]string) map[string]string {
	if len(details) == 0 {
		return nil
	}
	cp := make(map[string]string, len(details))
	for k, v := range details {
		cp[k] = v
	}
	return cp
}

// ExitCode returns the process exit code for err per spec.md §6:
// 0 on nil, 1 on input validation failure, 2 on schema drift within a
// tracked artifact, 3 on environment precondition failure, nonzero other
// on FAIL.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if ec, ok := err.(interface{ ExitCode() int }); ok {
		return ec.ExitCode()
	}
	switch GetCode(err) {
	case EUsage:
		return 1
	case ESchemaDrift:
		return 2
	case ERepoNotVCS, EUnknownProvider:
		return 3
	default:
		return 1
	}
}

// Print writes the error to w in the stable stderr format:
//
//	error_code: <CODE>
//	<message>
func Print(w io.Writer, err error) {
	if err == nil {
		return
	}
	var ae *AnvilError
	if errors.As(err, &ae) {
		_, _ = fmt.Fprintf(w, "error_code: %s\n", ae.Code)
		_, _ = fmt.Fprintln(w, ae.Msg)
	} else {
		_, _ = fmt.Fprintln(w, err.Error())
	}
}
