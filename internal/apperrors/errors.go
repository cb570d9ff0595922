// Package apperrors defines the error kinds surfaced across the gateway,
// modeled on the teacher's storage.Error{Code, Message} pattern: a small
// closed set of codes instead of an exception hierarchy, with helpers to
// translate a code into a Flight/gRPC status.
package apperrors

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code enumerates the error kinds from spec.md §7.
type Code string

const (
	TemplateNotFound     Code = "template_not_found"
	TemplateRenderError  Code = "template_render_error"
	ReaderSourceError    Code = "reader_source_error"
	PythonScriptError    Code = "python_script_error"
	SchemaInferenceError Code = "schema_inference_error"
	EngineExecutionError Code = "engine_execution_error"
	ExternalExecution    Code = "external_execution_error"
	InvalidConnection    Code = "invalid_connection"
	DuplicateConnection  Code = "duplicate_connection"
	ProtectedConnection  Code = "protected_connection"
	InvalidCommand       Code = "invalid_command"
)

// Error is the gateway's uniform error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// grpcCode maps a Code to the closest standard gRPC status code.
func grpcCode(c Code) codes.Code {
	switch c {
	case TemplateNotFound, InvalidConnection:
		return codes.NotFound
	case DuplicateConnection:
		return codes.AlreadyExists
	case ProtectedConnection:
		return codes.PermissionDenied
	case InvalidCommand:
		return codes.InvalidArgument
	case TemplateRenderError, PythonScriptError, EngineExecutionError, ExternalExecution, SchemaInferenceError, ReaderSourceError:
		return codes.Internal
	default:
		return codes.Unknown
	}
}

// ToStatus converts err into a Flight-transportable gRPC status error,
// cleaning known noisy prefixes/suffixes per spec.md §7.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return status.Error(grpcCode(e.Code), Clean(e.Error()))
	}
	return status.Error(codes.Internal, Clean(err.Error()))
}

var knownEnginePrefixes = []string{
	"Binder Error:",
	"Catalog Error:",
	"Parser Error:",
	"Conversion Error:",
}

// Clean strips known noisy engine-error prefixes and trailing
// traceback-looking tails, and best-effort UTF-8-decodes driver byte
// payloads (e.g. the pymssql-style (code, bytes) tuples the original
// implementation had to contend with).
func Clean(msg string) string {
	msg = strings.ToValidUTF8(msg, "�")
	for _, p := range knownEnginePrefixes {
		if idx := indexOf(msg, p); idx >= 0 {
			msg = msg[idx+len(p):]
		}
	}
	if idx := indexOf(msg, "\nTraceback"); idx >= 0 {
		msg = msg[:idx]
	}
	return trimSpace(msg)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func trimSpace(s string) string {
	start := 0
	for start < len(s) && (s[start] == ' ' || s[start] == '\n' || s[start] == '\t') {
		start++
	}
	end := len(s)
	for end > start && (s[end-1] == ' ' || s[end-1] == '\n' || s[end-1] == '\t') {
		end--
	}
	return s[start:end]
}
