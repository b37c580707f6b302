// Package apperr defines the error taxonomy shared by every component of
// the credential rotation and catalog storage cores.
//
// Every error that crosses a component boundary is wrapped as an [Error] so
// that the CLI driver can map it to one of the process exit codes without
// inspecting error strings. Error payloads never carry credential secrets:
// only a credential's identity key (email or numeric user id) may appear in
// a message.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error classification. The set is closed and
// mirrors the taxonomy table in the specification exactly.
type Code string

const (
	CodeConfig               Code = "CONFIG_ERROR"
	CodeNoValidCredentials   Code = "NO_VALID_CREDENTIALS"
	CodeAllCredsExhausted    Code = "ALL_CREDENTIALS_EXHAUSTED"
	CodeUpstreamTransient    Code = "UPSTREAM_TRANSIENT"
	CodeUpstreamAuth         Code = "UPSTREAM_AUTH"
	CodeUpstreamQuota        Code = "UPSTREAM_QUOTA"
	CodeCatalog              Code = "CATALOG_ERROR"
	CodeNotFound             Code = "NOT_FOUND"
	CodeDuplicate            Code = "DUPLICATE"
	CodeCancelled            Code = "CANCELLED"
	CodeSession              Code = "SESSION_ERROR"
)

// Error is the canonical error type for this module. Message is the short
// description; Cause, when set, is the underlying error. Error() renders
// both ("CODE: message: cause"), and Unwrap exposes Cause to errors.Is/As.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new_(code Code, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// Config reports a fatal configuration problem (malformed credential file,
// bad YAML, etc.) discovered before any operation runs.
func Config(msg string, cause error) *Error {
	return new_(CodeConfig, msg, cause)
}

// NoValidCredentials reports that every credential failed validation at
// startup.
func NoValidCredentials(msg string) *Error {
	return new_(CodeNoValidCredentials, msg, nil)
}

// AllCredentialsExhausted reports that rotate() wrapped without finding an
// available credential.
func AllCredentialsExhausted(msg string) *Error {
	return new_(CodeAllCredsExhausted, msg, nil)
}

// UpstreamTransient wraps a network/timeout/5xx-shaped failure from the
// upstream service. Locally recovered by retry + rotate.
func UpstreamTransient(msg string, cause error) *Error {
	return new_(CodeUpstreamTransient, msg, cause)
}

// UpstreamAuth wraps an authentication rejection from the upstream service.
// Locally recovered by session refresh, then INVALID + rotate.
func UpstreamAuth(msg string, cause error) *Error {
	return new_(CodeUpstreamAuth, msg, cause)
}

// UpstreamQuota wraps a zero-quota signal from the upstream service.
// Locally recovered by marking EXHAUSTED + rotate.
func UpstreamQuota(msg string) *Error {
	return new_(CodeUpstreamQuota, msg, nil)
}

// Catalog wraps a store-level constraint violation or corruption. The
// caller's transaction has already been rolled back.
func Catalog(msg string, cause error) *Error {
	return new_(CodeCatalog, msg, cause)
}

// NotFound reports a missing book, list, or other keyed entity.
func NotFound(resource string) *Error {
	return new_(CodeNotFound, resource+" not found", nil)
}

// Duplicate reports a unique-constraint collision (list name, saved book).
func Duplicate(msg string) *Error {
	return new_(CodeDuplicate, msg, nil)
}

// Cancelled reports that the caller's context was cancelled mid-operation.
func Cancelled(msg string) *Error {
	return new_(CodeCancelled, msg, nil)
}

// Session wraps a failure to construct or refresh an upstream session.
func Session(msg string, cause error) *Error {
	return new_(CodeSession, msg, cause)
}

// ExitCode maps an error's Code to the CLI process exit status the
// specification defines. A nil error maps to 0; an error that is not an
// *Error, or whose Code has no dedicated exit status, maps to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ae *Error
	if !errors.As(err, &ae) {
		return 1
	}
	switch ae.Code {
	case CodeConfig:
		return 2
	case CodeNoValidCredentials:
		return 3
	case CodeAllCredsExhausted:
		return 4
	case CodeCatalog:
		return 5
	case CodeCancelled:
		return 6
	default:
		return 1
	}
}
