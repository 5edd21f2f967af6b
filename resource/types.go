package resource

import (
	"github.com/wippyai/lifecycle/owner"
)

// Handle is an opaque reference to a resource in a table.
// Handle 0 is reserved and always invalid.
type Handle uint32

// Event types for resource lifecycle notifications.
type EventType uint8

const (
	EventCreated EventType = iota
	EventRemoved
	EventDropped
	EventBorrowed
	EventBorrowReturned
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventRemoved:
		return "removed"
	case EventDropped:
		return "dropped"
	case EventBorrowed:
		return "borrowed"
	case EventBorrowReturned:
		return "borrow_returned"
	default:
		return "unknown"
	}
}

// Event represents a resource lifecycle event.
type Event struct {
	Value    any
	Owner    *owner.Owner // set for borrow events
	Err      error        // teardown error, set for EventDropped
	Handle   Handle
	TypeID   uint32
	RefCount int
	Type     EventType
}

// Observer receives notifications about resource lifecycle events.
// EventDropped is delivered on the goroutine that released the last
// reservation.
type Observer interface {
	OnResourceEvent(Event)
}

// Dropper is optionally implemented by resource values that need cleanup.
// Values that implement io.Closer instead are closed.
type Dropper interface {
	Drop()
}
