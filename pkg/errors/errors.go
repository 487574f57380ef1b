// Package errors provides the structured error system used across domed:
// codes, categories, HTTP-status mapping and request/operation context.
package errors

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Code identifies a structured domed error.
type Code string

// Error codes grouped by broad error kind.
const (
	// Namespace / not-found (404)
	CodeNotFound Code = "ENOENT"
	CodeReplicaMissing Code = "EREPLICA_NOTFOUND"
	CodeFSNotFound Code = "EFS_NOTFOUND"
	CodePoolNotFound Code = "EPOOL_NOTFOUND"
	CodeTokenNotFound Code = "ETOKEN_NOTFOUND"
	CodeUserNotFound Code = "EUSER_NOTFOUND"
	CodeGroupNotFound Code = "EGROUP_NOTFOUND"
	CodeTaskNotFound Code = "ETASK_NOTFOUND"

	// Permission (403)
	CodePermissionDenied Code = "EACCES"
	CodeBanned Code = "EBANNED"

	// Bad request / validation (400, 422; EALREADY_AVAILABLE 409)
	CodeBadRequest Code = "EINVAL"
	CodeValidationFailed Code = "EVALIDATION"
	CodeLFNTooShallow Code = "ELFN_SHALLOW"
	CodeNotBeingPopulated Code = "ENOT_BEINGPOPULATED"
	CodeAlreadyAvailable Code = "EALREADY_AVAILABLE"

	// Conflict (409; ENOTDIR/EISDIR 500)
	CodeExists Code = "EEXIST"
	CodeNotEmpty Code = "ENOTEMPTY"
	CodeNotDirectory Code = "ENOTDIR"
	CodeIsDirectory Code = "EISDIR"

	// No space (507)
	CodeNoSpace Code = "ENOSPC"

	// Connection / outbound (504 timeout, 503 circuit open, 500 otherwise)
	CodeConnectionFailed Code = "ECONN_FAILED"
	CodeConnectionTimeout Code = "ECONN_TIMEOUT"
	CodeCircuitOpen Code = "ECIRCUIT_OPEN"

	// Resource exhaustion (429; EWORKER_BUSY 500)
	CodeResourceExhausted Code = "ERESOURCE_EXHAUSTED"
	CodeQueueFull Code = "EQUEUE_FULL"
	CodeWorkerBusy Code = "EWORKER_BUSY"

	// State (409 already started, 503 degraded/shutdown, 500 not initialized)
	CodeAlreadyStarted Code = "EALREADY_STARTED"
	CodeNotInitialized Code = "ENOT_INITIALIZED"
	CodeShutdownInProgress Code = "ESHUTDOWN"
	CodeServiceDegraded Code = "EDEGRADED"

	// Operation (504 timeout, 500 otherwise)
	CodeOperationTimeout Code = "EOP_TIMEOUT"
	CodeOperationCanceled Code = "EOP_CANCELED"
	CodeRetryExhausted Code = "ERETRY_EXHAUSTED"

	// Unknown command (418)
	CodeUnknownCommand Code = "EUNKNOWN_CMD"

	// Not implemented for this role (500)
	CodeNotImplementedForRole Code = "ENOTIMPL_ROLE"

	// Internal (500)
	CodeInternal Code = "EINTERNAL"
	CodePanicRecovered Code = "EPANIC"
)

// Category is the broad grouping of a Code.
type Category string

const (
	CategoryNamespace Category = "namespace"
	CategoryPermission Category = "permission"
	CategoryValidation Category = "validation"
	CategoryConflict Category = "conflict"
	CategoryCapacity Category = "capacity"
	CategoryConnection Category = "connection"
	CategoryResource Category = "resource"
	CategoryState Category = "state"
	CategoryOperation Category = "operation"
	CategoryProtocol Category = "protocol"
	CategoryInternal Category = "internal"
)

// DomedError is a structured error carrying code, category, HTTP mapping
// and request context. It satisfies error, and is compatible with
// errors.Is / errors.As / errors.Unwrap via Is and Unwrap.
type DomedError struct {
	Code Code `json:"code"`
	Category Category `json:"category"`
	Message string `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	Context map[string]string `json:"context,omitempty"`
	Cause error `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Retryable bool `json:"retryable"`
	HTTPStatus int `json:"http_status,omitempty"`

	Stack string `json:"stack,omitempty"`
}

// Error implements the error interface.
func (e *DomedError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Unwrap compatibility.
func (e *DomedError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomedError with the same Code.
func (e *DomedError) Is(target error) bool {
	if other, ok := target.(*DomedError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation suitable for log lines.
func (e *DomedError) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Code=%s", e.Code))
	parts = append(parts, fmt.Sprintf("Category=%s", e.Category))
	parts = append(parts, fmt.Sprintf("Message=%q", e.Message))
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.RequestID != "" {
		parts = append(parts, fmt.Sprintf("RequestID=%s", e.RequestID))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("DomedError{%s}", strings.Join(parts, ", "))
}

// JSON renders the error as a JSON object, for logging or wire responses.
func (e *DomedError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// New creates a DomedError with category, retryability and HTTP status
// filled in from defaults for the given code.
func New(code Code, message string) *DomedError {
	return &DomedError{
		Code: code,
		Category: CategoryFor(code),
		Message: message,
		Timestamp: time.Now(),
		Details: make(map[string]interface{}),
		Context: make(map[string]string),
		Retryable: isRetryableByDefault(code),
		HTTPStatus: HTTPStatusFor(code),
	}
}

// Newf is New with fmt.Sprintf-style formatting of message.
func Newf(code Code, format string, args ...interface{}) *DomedError {
	return New(code, fmt.Sprintf(format, args...))
}

// CategoryFor determines the category for a code.
func CategoryFor(code Code) Category {
	switch code {
	case CodeNotFound, CodeReplicaMissing, CodeFSNotFound, CodePoolNotFound,
		CodeTokenNotFound, CodeUserNotFound, CodeGroupNotFound, CodeTaskNotFound:
		return CategoryNamespace
	case CodePermissionDenied, CodeBanned:
		return CategoryPermission
	case CodeBadRequest, CodeValidationFailed, CodeLFNTooShallow,
		CodeNotBeingPopulated, CodeAlreadyAvailable:
		return CategoryValidation
	case CodeExists, CodeNotEmpty, CodeNotDirectory, CodeIsDirectory:
		return CategoryConflict
	case CodeNoSpace:
		return CategoryCapacity
	case CodeConnectionFailed, CodeConnectionTimeout, CodeCircuitOpen:
		return CategoryConnection
	case CodeResourceExhausted, CodeQueueFull, CodeWorkerBusy:
		return CategoryResource
	case CodeAlreadyStarted, CodeNotInitialized, CodeShutdownInProgress, CodeServiceDegraded:
		return CategoryState
	case CodeOperationTimeout, CodeOperationCanceled, CodeRetryExhausted:
		return CategoryOperation
	case CodeUnknownCommand, CodeNotImplementedForRole:
		return CategoryProtocol
	default:
		return CategoryInternal
	}
}

func isRetryableByDefault(code Code) bool {
	switch code {
	case CodeConnectionFailed, CodeConnectionTimeout, CodeOperationTimeout,
		CodeResourceExhausted, CodeWorkerBusy, CodeInternal, CodeServiceDegraded:
		return true
	default:
		return false
	}
}

// HTTPStatusFor returns the HTTP status the error kinds map to.
func HTTPStatusFor(code Code) int {
	switch code {
	case CodeBadRequest, CodeValidationFailed, CodeLFNTooShallow:
		return 400
	case CodePermissionDenied, CodeBanned:
		return 403
	case CodeNotFound, CodeReplicaMissing, CodeFSNotFound, CodePoolNotFound,
		CodeTokenNotFound, CodeUserNotFound, CodeGroupNotFound, CodeTaskNotFound:
		return 404
	case CodeExists, CodeNotEmpty, CodeAlreadyStarted, CodeAlreadyAvailable:
		return 409
	case CodeUnknownCommand:
		return 418
	case CodeNotBeingPopulated:
		return 422
	case CodeResourceExhausted, CodeQueueFull:
		return 429
	case CodeNoSpace:
		return 507
	case CodeConnectionTimeout, CodeOperationTimeout:
		return 504
	case CodeNotImplementedForRole, CodeInternal, CodePanicRecovered:
		return 500
	case CodeServiceDegraded, CodeShutdownInProgress, CodeCircuitOpen:
		return 503
	default:
		return 500
	}
}

// CaptureStack captures the calling goroutine's stack for diagnostics.
func CaptureStack(skip int) string {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(skip+2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	var stack []string
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "errors.go") {
			stack = append(stack, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		}
		if !more {
			break
		}
	}
	return strings.Join(stack, "\n")
}

// WithContext attaches a request-scoped context key/value pair.
func (e *DomedError) WithContext(key, value string) *DomedError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail attaches an arbitrary detail value.
func (e *DomedError) WithDetail(key string, value interface{}) *DomedError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the originating component name.
func (e *DomedError) WithComponent(component string) *DomedError {
	e.Component = component
	return e
}

// WithOperation sets the dome_* operation name.
func (e *DomedError) WithOperation(operation string) *DomedError {
	e.Operation = operation
	return e
}

// WithCause wraps an underlying cause.
func (e *DomedError) WithCause(cause error) *DomedError {
	e.Cause = cause
	return e
}

// WithStack captures the current stack trace into the error.
func (e *DomedError) WithStack() *DomedError {
	e.Stack = CaptureStack(2)
	return e
}

// AsDomedError extracts a *DomedError from err, wrapping it in an
// EINTERNAL if it is not already one.
func AsDomedError(err error) *DomedError {
	if err == nil {
		return nil
	}
	if de, ok := err.(*DomedError); ok {
		return de
	}
	return New(CodeInternal, err.Error()).WithCause(err)
}
