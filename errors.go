package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind identifies a stable category of kernel failure (§7).
type ErrorKind string

const (
	ErrDuplicateRegistration   ErrorKind = "DuplicateRegistrationError"
	ErrDependencyNotFound      ErrorKind = "DependencyNotFoundError"
	ErrUnknownItemType         ErrorKind = "UnknownItemTypeError"
	ErrCircularDependencies    ErrorKind = "CircularDependenciesError"
	ErrEventNotFound           ErrorKind = "EventNotFoundError"
	ErrMiddlewareAlreadyGlobal ErrorKind = "MiddlewareAlreadyGlobalError"
	ErrMiddlewareNotRegistered ErrorKind = "MiddlewareNotRegisteredError"
	ErrLocked                  ErrorKind = "LockedError"
	ErrStoreAlreadyInitialized ErrorKind = "StoreAlreadyInitializedError"
	ErrValidation              ErrorKind = "ValidationError"
	ErrTimeout                 ErrorKind = "TimeoutError"
	ErrResourceNotFound        ErrorKind = "ResourceNotFoundError"
	ErrTunnel                  ErrorKind = "TunnelError"
	ErrRuntime                 ErrorKind = "RuntimeError"
)

// TunnelErrorCode enumerates the remote-call failure codes carried by
// a TunnelError (§7).
type TunnelErrorCode string

const (
	TunnelInvalidResponse TunnelErrorCode = "INVALID_RESPONSE"
	TunnelHTTPError       TunnelErrorCode = "HTTP_ERROR"
	TunnelUnknown         TunnelErrorCode = "UNKNOWN"
)

// KernelError is the kernel's single error type; Kind is the stable,
// switchable category, Cause (if any) is the wrapped underlying error.
type KernelError struct {
	Kind    ErrorKind
	Message string
	Cause   error

	// Code carries the TunnelErrorCode when Kind == ErrTunnel.
	Code TunnelErrorCode
}

func (e *KernelError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Code != "" {
		b.WriteString("(")
		b.WriteString(string(e.Code))
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *KernelError) Unwrap() error { return e.Cause }

// Is reports equality by Kind, matching errors.Is(err, &KernelError{Kind: X}).
func (e *KernelError) Is(target error) bool {
	var other *KernelError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func newKernelError(kind ErrorKind, format string, args ...any) *KernelError {
	return &KernelError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapKernelError(kind ErrorKind, cause error, format string, args ...any) *KernelError {
	return &KernelError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// DuplicateRegistrationError reports two items of the same kind
// sharing an id, neither of which is an override.
func DuplicateRegistrationError(kind Kind, id string) error {
	return newKernelError(ErrDuplicateRegistration, "%s %q is already registered", kind, id)
}

// DependencyNotFoundError reports a declared dependency id missing
// from the store.
func DependencyNotFoundError(consumer, dependency string) error {
	return newKernelError(ErrDependencyNotFound, "%q depends on unknown component %q", consumer, dependency)
}

// UnknownItemTypeError reports a register[] entry without a kind marker.
func UnknownItemTypeError(value any) error {
	return newKernelError(ErrUnknownItemType, "register[] entry %#v has no kind marker", value)
}

// CircularDependenciesError reports a cycle in the resource init graph.
func CircularDependenciesError(path []string) error {
	return newKernelError(ErrCircularDependencies, "cycle detected: %s", strings.Join(path, " -> "))
}

// EventNotFoundError reports a task's `on` referencing an unregistered event.
func EventNotFoundError(eventID string) error {
	return newKernelError(ErrEventNotFound, "event %q is not registered", eventID)
}

// MiddlewareAlreadyGlobalError reports a double call to Middleware.Everywhere.
func MiddlewareAlreadyGlobalError(id string) error {
	return newKernelError(ErrMiddlewareAlreadyGlobal, "middleware %q is already global", id)
}

// MiddlewareNotRegisteredError reports a task referencing an unregistered middleware.
func MiddlewareNotRegisteredError(id string) error {
	return newKernelError(ErrMiddlewareNotRegistered, "middleware %q is not registered", id)
}

// LockedError reports a mutation attempted on a locked manager/store.
func LockedError(what string) error {
	return newKernelError(ErrLocked, "%s is locked", what)
}

// StoreAlreadyInitializedError reports Run() invoked twice on one store.
func StoreAlreadyInitializedError() error {
	return newKernelError(ErrStoreAlreadyInitialized, "store already initialized")
}

// ValidationError reports an input/result schema parse failure.
func ValidationError(target string, cause error) error {
	return wrapKernelError(ErrValidation, cause, "validation failed for %s", target)
}

// NewTimeoutError reports a timeout middleware firing, carrying its ttl.
func NewTimeoutError(ttl string) error {
	return newKernelError(ErrTimeout, "timed out after %s", ttl)
}

// ResourceNotFoundError reports getResourceValue on an unknown id.
func ResourceNotFoundError(id string) error {
	return newKernelError(ErrResourceNotFound, "resource %q not found", id)
}

// NewTunnelError reports a failed remote call.
func NewTunnelError(code TunnelErrorCode, cause error) error {
	return &KernelError{Kind: ErrTunnel, Code: code, Message: "remote call failed", Cause: cause}
}

// RuntimeError is the generic escape hatch for kernel-internal failures.
func RuntimeError(format string, args ...any) error {
	return newKernelError(ErrRuntime, format, args...)
}

// KindOf reports the ErrorKind of err, if it is (or wraps) a *KernelError.
func KindOf(err error) (ErrorKind, bool) {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return "", false
}
