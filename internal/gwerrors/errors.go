// Package gwerrors implements the gateway's error taxonomy on top of
// gravitational/trace: AuthRejected, ValidationError, Transient, NotFound,
// and Fatal. Components return these rather than bare errors so that
// SessionFSM and ControlCommands can apply the propagation policy in
// spec §7 without inspecting error strings.
package gwerrors

import (
	"github.com/gravitational/trace"
)

// AuthRejected wraps a policy or verification failure during SSH
// authentication. The handler must reject the auth attempt, never abort
// the connection.
func AuthRejected(format string, args ...interface{}) error {
	return trace.AccessDenied(format, args...)
}

// IsAuthRejected reports whether err is (or wraps) an AuthRejected error.
func IsAuthRejected(err error) bool {
	return trace.IsAccessDenied(err)
}

// ValidationError wraps a malformed project/identity/memory-limit input.
func ValidationError(format string, args ...interface{}) error {
	return trace.BadParameter(format, args...)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	return trace.IsBadParameter(err)
}

// Transient wraps a network or container-engine failure that may succeed
// on retry. Never propagated past the channel it occurred on.
func Transient(err error, format string, args ...interface{}) error {
	return trace.Wrap(trace.ConnectionProblem(err, format, args...))
}

// IsTransient reports whether err is (or wraps) a Transient error.
func IsTransient(err error) bool {
	return trace.IsConnectionProblem(err)
}

// NotFound wraps a container or resource that has disappeared. Callers
// performing idempotent teardown (destroy, stop) should treat this as
// success; callers performing identity lookups should treat it as
// AuthRejected instead.
func NotFound(format string, args ...interface{}) error {
	return trace.NotFound(format, args...)
}

// IsNotFound reports whether err is (or wraps) a NotFound error.
func IsNotFound(err error) bool {
	return trace.IsNotFound(err)
}

// Wrap attaches additional context to err while preserving its trace kind
// so Is* classifiers keep working after wrapping.
func Wrap(err error, format string, args ...interface{}) error {
	return trace.Wrap(err, format, args...)
}
