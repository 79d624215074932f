// Package errors provides structured error types for deepdbg.
// Relayed launches never surface these to the user as failures; the
// controller logs them and drops the affected launch. The hint text is what
// ends up in the log and in MCP tool results.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Hook message errors
	CodeMessageMalformed   ErrorCode = "MESSAGE_MALFORMED"
	CodeBadEncoding        ErrorCode = "BAD_ENCODING"
	CodeUnsupportedVersion ErrorCode = "UNSUPPORTED_VERSION"
	CodeEmptyCommandLine   ErrorCode = "EMPTY_COMMAND_LINE"

	// Configuration errors
	CodeProgramUnresolved ErrorCode = "PROGRAM_UNRESOLVED"
	CodeConfigNotFound    ErrorCode = "CONFIG_NOT_FOUND"
	CodeConfigInvalid     ErrorCode = "CONFIG_INVALID"

	// Channel and host errors
	CodeChannelUnavailable ErrorCode = "CHANNEL_UNAVAILABLE"
	CodeLockFailed         ErrorCode = "LOCK_FAILED"
	CodeHostRejected       ErrorCode = "HOST_REJECTED"
	CodeTimeout            ErrorCode = "TIMEOUT"

	CodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

// DebugError is a structured error type that carries a hint about how to
// correct the problem alongside the failure itself.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message describes what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DebugError with the same code.
func (e *DebugError) Is(target error) bool {
	var de *DebugError
	if !stderrors.As(target, &de) {
		return false
	}
	return de.Code == e.Code && de.Message == ""
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Sentinel returns a bare error carrying only a code, for use with errors.Is.
func Sentinel(code ErrorCode) error {
	return &DebugError{Code: code}
}

// CodeOf returns the code of the first DebugError in err's chain.
func CodeOf(err error) ErrorCode {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}

// --- Hook message errors ---

// MessageMalformed creates an error for an envelope or payload that cannot be parsed
func MessageMalformed(reason string, err error) *DebugError {
	return &DebugError{
		Code:    CodeMessageMalformed,
		Message: fmt.Sprintf("malformed hook message: %s", reason),
		Hint:    "Messages must look like start|<json object>|end and be written in a single write.",
		Cause:   err,
	}
}

// BadEncoding creates an error for a payload field that is not valid base64
func BadEncoding(field string, err error) *DebugError {
	return &DebugError{
		Code:    CodeBadEncoding,
		Message: fmt.Sprintf("field %q is not valid base64", field),
		Hint:    "Version 1 payloads carry cwd, program and type base64 encoded (standard alphabet, padded).",
		Cause:   err,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// UnsupportedVersion creates an error for a payload newer than this build understands
func UnsupportedVersion(got, supported int) *DebugError {
	return &DebugError{
		Code:    CodeUnsupportedVersion,
		Message: fmt.Sprintf("hook message version %d is not supported", got),
		Hint:    fmt.Sprintf("This build understands versions up to %d. Use a hook from the same release as the adapter.", supported),
		Details: map[string]interface{}{
			"version":   got,
			"supported": supported,
		},
	}
}

// EmptyCommandLine creates an error for a command line with no tokens and no program
func EmptyCommandLine() *DebugError {
	return &DebugError{
		Code:    CodeEmptyCommandLine,
		Message: "command line has no tokens and no program was supplied",
		Hint:    "The hook must send either a program or a non-empty cmdline.",
	}
}

// --- Configuration errors ---

// ProgramUnresolved creates an error for a program that is not an existing absolute path
func ProgramUnresolved(program, cwd string) *DebugError {
	return &DebugError{
		Code:    CodeProgramUnresolved,
		Message: fmt.Sprintf("cannot resolve program %q", program),
		Hint:    "The program must exist relative to cwd or in one of the PATH entries of the forwarded environment.",
		Details: map[string]interface{}{
			"program": program,
			"cwd":     cwd,
		},
	}
}

// ConfigNotFound creates an error for a missing launch configuration
func ConfigNotFound(configName string, available []string) *DebugError {
	hint := "Use \"launch\": \"<name of a configuration to launch>\"."
	if len(available) > 0 {
		hint = fmt.Sprintf("%s Available configurations: %s", hint, strings.Join(available, ", "))
	}

	return &DebugError{
		Code:    CodeConfigNotFound,
		Message: fmt.Sprintf("cannot find a start configuration %q", configName),
		Hint:    hint,
		Details: map[string]interface{}{
			"configName": configName,
			"available":  available,
		},
	}
}

// ConfigInvalid creates an error for invalid configuration
func ConfigInvalid(configName string, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration '%s' is invalid: %s", configName, reason),
		Hint:    "Check the launch.json file for syntax errors and ensure all required fields are present.",
		Details: map[string]interface{}{
			"configName": configName,
			"reason":     reason,
		},
	}
}

// --- Channel and host errors ---

// ChannelUnavailable creates an error for a local channel that cannot be used
func ChannelUnavailable(channel string, err error) *DebugError {
	return &DebugError{
		Code:    CodeChannelUnavailable,
		Message: fmt.Sprintf("channel %s is unavailable: %v", channel, err),
		Hint:    "Check that the relay server is running and that the socket path is writable.",
		Cause:   err,
		Details: map[string]interface{}{
			"channel": channel,
		},
	}
}

// LockFailed creates an error for a lock that could not be acquired
func LockFailed(path string, err error) *DebugError {
	return &DebugError{
		Code:    CodeLockFailed,
		Message: fmt.Sprintf("cannot lock %s: %v", path, err),
		Hint:    "Another process may hold the lock, or the directory is not writable.",
		Cause:   err,
		Details: map[string]interface{}{
			"path": path,
		},
	}
}

// HostRejected creates an error for a request the host front-end refused
func HostRejected(command, message string) *DebugError {
	return &DebugError{
		Code:    CodeHostRejected,
		Message: fmt.Sprintf("host rejected %s: %s", command, message),
		Hint:    "The front-end must support the startDebugging and runInTerminal reverse requests.",
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// Timeout creates an error for an operation that did not complete in time
func Timeout(operation string, err error) *DebugError {
	return &DebugError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("%s timed out", operation),
		Cause:   err,
	}
}

// --- Helper for wrapping generic errors ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    CodeUnknown,
		Message: err.Error(),
		Cause:   err,
	}
}
