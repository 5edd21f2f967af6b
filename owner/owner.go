// Package owner defines the identities that reservations are attributed to.
//
// Owners are compared by pointer identity: two owners created with the same
// name are still distinct. Init is the implicit owner of the reservation a
// resource starts with, and the only owner handed out by Temporary when
// resource tracing is disabled.
package owner

import (
	"github.com/google/uuid"

	"github.com/wippyai/lifecycle/diag"
)

// Owner identifies who holds a reservation. Used for attribution only.
type Owner struct {
	name string
	id   uuid.UUID
}

// Init is the implicit owner of a resource's initial reservation.
var Init = &Owner{name: "init"}

// New returns a fresh owner. Each call yields a distinct identity.
func New(name string) *Owner {
	return &Owner{name: name, id: uuid.New()}
}

// Temporary returns a fresh owner when resource tracing is enabled,
// otherwise the shared Init sentinel so untraced code does not allocate.
func Temporary(opts diag.Options, name string) *Owner {
	if opts.ResourceTracing {
		return New(name)
	}
	return Init
}

// Name returns the display name.
func (o *Owner) Name() string {
	if o == nil {
		return "<nil>"
	}
	return o.name
}

// ID returns the unique id, or uuid.Nil for Init.
func (o *Owner) ID() uuid.UUID {
	if o == nil {
		return uuid.Nil
	}
	return o.id
}

// IsInit reports whether o is the Init sentinel.
func (o *Owner) IsInit() bool {
	return o == Init
}

func (o *Owner) String() string {
	if o == nil {
		return "owner{<nil>}"
	}
	if o.id == uuid.Nil {
		return "owner{" + o.name + "}"
	}
	return "owner{" + o.name + " " + o.id.String()[:8] + "}"
}
