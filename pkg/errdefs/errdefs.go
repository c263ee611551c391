package errdefs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies errors across component boundaries. Kinds are stable wire
// values; callers switch on them for HTTP status codes and CLI exit codes.
type Kind string

const (
	KindInvalidInput       Kind = "INVALID_INPUT"
	KindNotFound           Kind = "NOT_FOUND"
	KindPermissionDenied   Kind = "PERMISSION_DENIED"
	KindTenantMismatch     Kind = "TENANT_MISMATCH"
	KindAlreadyExists      Kind = "ALREADY_EXISTS"
	KindConflict           Kind = "CONFLICT"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindUpstream           Kind = "UPSTREAM_UNAVAILABLE"
	KindRetriableTransport Kind = "RETRIABLE_TRANSPORT"
	KindInternal           Kind = "INTERNAL"
)

// Error carries a Kind alongside the underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kinded error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and a message prefix to an existing error. The
// original error stays reachable through errors.Is / errors.As.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: fmt.Errorf("%s: %w", msg, err)}
}

// KindOf extracts the kind of an error. Unclassified errors are INTERNAL;
// context cancellation and deadline expiry count as retriable transport so
// schedulers treat them uniformly.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindRetriableTransport
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retriable reports whether the error is worth retrying with backoff.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindUpstream, KindRetriableTransport:
		return true
	}
	return false
}

// Engine condition errors. These are single instances so call sites can use
// errors.Is against them after any amount of %w wrapping.
var (
	ErrDriverUnavailable      = New(KindUpstream, "driver unavailable")
	ErrInvalidConfig          = New(KindInvalidInput, "invalid unit configuration")
	ErrNotConfigured          = New(KindInvalidInput, "unit is not configured")
	ErrMissingSink            = New(KindInvalidInput, "unit has no sink")
	ErrMissingStagingProvider = New(KindInvalidInput, "no staging provider configured")
	ErrAlreadyRunning         = New(KindConflict, "a run is already in progress")
	ErrCrossScopeEdge         = New(KindTenantMismatch, "edge endpoints resolve to different tenants")
)

// FromHTTPStatus maps an upstream HTTP status to the taxonomy. Statuses
// below 400 map to no kind.
func FromHTTPStatus(status int) Kind {
	switch {
	case status == 401 || status == 403:
		return KindPermissionDenied
	case status == 404:
		return KindNotFound
	case status == 409:
		return KindConflict
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindRetriableTransport
	case status >= 400:
		return KindInvalidInput
	}
	return ""
}

// HTTPStatus maps an error kind to the status the control plane replies with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return 400
	case KindNotFound:
		return 404
	case KindPermissionDenied, KindTenantMismatch:
		return 403
	case KindAlreadyExists, KindConflict:
		return 409
	case KindRateLimited:
		return 429
	case KindUpstream:
		return 502
	case KindRetriableTransport:
		return 503
	default:
		return 500
	}
}

// CLI exit codes.
const (
	ExitOK            = 0
	ExitInvalidConfig = 2
	ExitAuth          = 3
	ExitRetriable     = 4
	ExitRemote        = 5
	ExitInternal      = 64
)

// ExitCode maps an error to the CLI exit code contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindInvalidInput:
		return ExitInvalidConfig
	case KindPermissionDenied, KindTenantMismatch:
		return ExitAuth
	case KindRateLimited, KindUpstream, KindRetriableTransport:
		return ExitRetriable
	case KindNotFound, KindAlreadyExists, KindConflict:
		return ExitRemote
	default:
		return ExitInternal
	}
}

var secretPattern = regexp.MustCompile(`(?i)(token|secret|password|apikey|api_key|authorization|bearer)[=: ]+(bearer[ :]+)?\S+`)

// Sanitize renders an error as a user-visible message: first line only, no
// stack frames, secret-looking values redacted. Run records and control-plane
// replies must never carry more than this.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	msg = secretPattern.ReplaceAllString(msg, "$1=[redacted]")
	return strings.TrimSpace(msg)
}
