package lifecycle

import (
	"github.com/wippyai/lifecycle/owner"
	"github.com/wippyai/lifecycle/trace"
)

// ReferenceCounted is the reservation protocol shared by the plain and
// tracing counters and by every reference-counted resource.
type ReferenceCounted interface {
	// Reserve adds a reservation for o. Fails once the count reached zero.
	Reserve(o *owner.Owner) error

	// TryReserve is Reserve that reports false instead of failing.
	TryReserve(o *owner.Owner) bool

	// Release drops o's reservation, running the release callback on the
	// transition to zero.
	Release(o *owner.Owner) error

	// ReleaseLast drops the final reservation. Fails if others remain.
	ReleaseLast(o *owner.Owner) error

	// ReserveTransfer re-attributes a reservation from one owner to another.
	ReserveTransfer(from, to *owner.Owner) error

	// RefCount returns the current number of reservations.
	RefCount() int

	// CheckReferences reports an error if the counter is in an inconsistent state.
	CheckReferences() error
}

// QueryCloseable is implemented by values whose closed state can be observed.
type QueryCloseable interface {
	IsClosed() bool
	ClosedHere() *trace.StackTrace
	CheckIsNotClosed() error
}

// Closeable is a resource with an idempotent terminal shutdown.
type Closeable interface {
	QueryCloseable
	Close() error
}

// Resource is a reference-counted closeable.
type Resource interface {
	ReferenceCounted
	Closeable
}
