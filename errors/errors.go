package errors

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/lifecycle/trace"
)

// Phase indicates which operation detected the error
type Phase string

const (
	PhaseReserve     Phase = "reserve"      // reserve / tryReserve
	PhaseRelease     Phase = "release"      // release
	PhaseReleaseLast Phase = "release_last" // releaseLast
	PhaseTransfer    Phase = "transfer"     // reserveTransfer
	PhaseClose       Phase = "close"        // close / guarded access after close
	PhaseCheck       Phase = "check"        // checkReferences
)

// Kind categorizes the error
type Kind string

const (
	KindAlreadyReleased    Kind = "already_released"
	KindNotLastReservation Kind = "not_last_reservation"
	KindOwnerViolation     Kind = "owner_violation"
	KindUseAfterClose      Kind = "use_after_close"
	KindInconsistent       Kind = "inconsistent"
)

// Sentinels for errors.Is matching by Kind only.
var (
	ErrAlreadyReleased    = &Error{Kind: KindAlreadyReleased}
	ErrNotLastReservation = &Error{Kind: KindNotLastReservation}
	ErrOwnerViolation     = &Error{Kind: KindOwnerViolation}
	ErrUseAfterClose      = &Error{Kind: KindUseAfterClose}
	ErrInconsistent       = &Error{Kind: KindInconsistent}
)

// Error is the structured error type used throughout the lifecycle packages
type Error struct {
	Cause  error
	Trace  *trace.StackTrace
	Phase  Phase
	Kind   Kind
	Owner  string
	Detail string
	Count  int
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Owner != "" {
		b.WriteString(" by ")
		b.WriteString(e.Owner)
	}

	if e.Kind != KindUseAfterClose {
		b.WriteString(" (count ")
		b.WriteString(strconv.Itoa(e.Count))
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error, falling back to the attached trace
func (e *Error) Unwrap() error {
	if e.Cause != nil {
		return e.Cause
	}
	if e.Trace != nil {
		return e.Trace
	}
	return nil
}

// Is reports whether target matches this error.
// Kind must match; Phase is compared only when the target sets it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Phase == "" || e.Phase == t.Phase
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Owner sets the offending owner's display form
func (b *Builder) Owner(owner string) *Builder {
	b.err.Owner = owner
	return b
}

// Count sets the reservation count observed when the error was detected
func (b *Builder) Count(n int) *Builder {
	b.err.Count = n
	return b
}

// Trace attaches a diagnostic stack trace
func (b *Builder) Trace(st *trace.StackTrace) *Builder {
	b.err.Trace = st
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message verbatim
func (b *Builder) Detail(msg string) *Builder {
	b.err.Detail = msg
	return b
}

// Detailf sets a formatted detail message
func (b *Builder) Detailf(format string, args ...any) *Builder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// AlreadyReleased creates an error for an operation on a fully released counter
func AlreadyReleased(phase Phase, owner string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAlreadyReleased,
		Owner:  owner,
		Detail: "resource already released",
	}
}

// NotLastReservation creates an error for releaseLast while others still hold
func NotLastReservation(phase Phase, owner string, count int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotLastReservation,
		Owner:  owner,
		Count:  count,
		Detail: "not the last reservation",
	}
}

// AlreadyReserved creates an owner violation for a repeated reservation
func AlreadyReserved(phase Phase, owner string, count int, reservedHere *trace.StackTrace) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOwnerViolation,
		Owner:  owner,
		Count:  count,
		Detail: "already reserved by this owner",
		Trace:  reservedHere,
	}
}

// NotReserved creates an owner violation for a release without a reservation
func NotReserved(phase Phase, owner string, count int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOwnerViolation,
		Owner:  owner,
		Count:  count,
		Detail: "not reserved by this owner",
	}
}

// OwnerViolation creates a generic owner protocol violation
func OwnerViolation(phase Phase, owner string, count int, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOwnerViolation,
		Owner:  owner,
		Count:  count,
		Detail: detail,
	}
}

// Closed creates a use-after-close error carrying the close trace
func Closed(name string, closedHere *trace.StackTrace) *Error {
	return &Error{
		Phase:  PhaseClose,
		Kind:   KindUseAfterClose,
		Detail: fmt.Sprintf("%s closed", name),
		Trace:  closedHere,
	}
}

// Inconsistent creates an error for a counter whose internal state disagrees
func Inconsistent(count int, detail string, args ...any) *Error {
	return &Error{
		Phase:  PhaseCheck,
		Kind:   KindInconsistent,
		Count:  count,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Wrap wraps an existing error with lifecycle context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
