// Package refcounted composes a reservation counter with the closeable
// lifecycle.
//
// A Resource is created holding one reservation on behalf of its creator
// (owner.Init). Other owners Reserve and Release; when the count reaches zero
// the resource closes itself and runs its teardown exactly once. Close
// releases the creator's reservation, so "closed" and "count == 0" are the
// same terminal state whichever path gets there first.
package refcounted

import (
	"fmt"
	"sync/atomic"

	"github.com/wippyai/lifecycle"
	"github.com/wippyai/lifecycle/closeable"
	"github.com/wippyai/lifecycle/counter"
	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/owner"
)

const source = "refcounted"

// DiscardedMessage prefixes the warning for resources abandoned with
// reservations outstanding.
const DiscardedMessage = "Discarded without being released"

var _ lifecycle.Resource = (*Resource)(nil)

type releaseError struct {
	err error
}

// Resource is a reference-counted closeable. It may be used on its own or
// embedded and initialised with Init.
type Resource struct {
	closeable.Base

	counted         counter.Counted
	sink            diag.Sink
	releaseErr      atomic.Pointer[releaseError]
	creatorReleased atomic.Bool
	releaseOnOne    bool
}

// New creates a resource whose teardown runs once every reservation,
// including the creator's, has been released. performRelease may be nil.
func New(opts diag.Options, name string, performRelease func() error) *Resource {
	r := &Resource{}
	r.init(opts, name, performRelease, false)
	return r
}

// NewReleaseOnOne creates a resource with the release-on-one policy: the
// creator's reservation is dropped automatically when the last other owner
// releases.
func NewReleaseOnOne(opts diag.Options, name string, performRelease func() error) *Resource {
	r := &Resource{}
	r.init(opts, name, performRelease, true)
	return r
}

// Init prepares an embedded Resource in place.
func (r *Resource) Init(opts diag.Options, name string, performRelease func() error) {
	r.init(opts, name, performRelease, false)
}

// InitReleaseOnOne is Init with the release-on-one policy.
func (r *Resource) InitReleaseOnOne(opts diag.Options, name string, performRelease func() error) {
	r.init(opts, name, performRelease, true)
}

func (r *Resource) init(opts diag.Options, name string, performRelease func() error, releaseOnOne bool) {
	r.Base.Init(opts, name, performRelease)
	r.sink = opts.SinkOrDefault()
	r.releaseOnOne = releaseOnOne
	if releaseOnOne {
		r.counted = counter.OnReleasedOne(opts, r.onReleased)
	} else {
		r.counted = counter.OnReleased(opts, r.onReleased)
	}
}

// onReleased runs on the goroutine that dropped the last reservation.
func (r *Resource) onReleased() {
	if err := r.Base.Close(); err != nil {
		r.releaseErr.Store(&releaseError{err: err})
		r.sink.Debug(source, "release of "+r.Name()+" failed", err)
	}
}

func (r *Resource) Reserve(o *owner.Owner) error {
	return r.counted.Reserve(o)
}

func (r *Resource) TryReserve(o *owner.Owner) bool {
	return r.counted.TryReserve(o)
}

func (r *Resource) Release(o *owner.Owner) error {
	return r.counted.Release(o)
}

func (r *Resource) ReleaseLast(o *owner.Owner) error {
	return r.counted.ReleaseLast(o)
}

func (r *Resource) ReserveTransfer(from, to *owner.Owner) error {
	return r.counted.ReserveTransfer(from, to)
}

func (r *Resource) RefCount() int {
	return r.counted.RefCount()
}

func (r *Resource) CheckReferences() error {
	return r.counted.CheckReferences()
}

// Owners returns the current holders when reference tracing is enabled,
// otherwise nil.
func (r *Resource) Owners() []*owner.Owner {
	if t, ok := r.counted.(*counter.Tracing); ok {
		return t.Owners()
	}
	return nil
}

// Close releases the creator's reservation. Teardown runs here if no other
// owner holds the resource, otherwise when the last one releases. Only the
// first call has any effect.
func (r *Resource) Close() error {
	if r.IsClosed() || !r.creatorReleased.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if r.releaseOnOne {
		// while shared, the last Release drops owner.Init on its own
		_, err = r.counted.ReleaseIfLast(owner.Init)
	} else {
		err = r.counted.Release(owner.Init)
	}
	if err != nil {
		r.creatorReleased.Store(false)
		return err
	}
	if r.IsClosed() {
		return r.ReleaseErr()
	}
	return nil
}

// ReleaseErr returns the teardown error, if teardown ran and failed.
func (r *Resource) ReleaseErr() error {
	if e := r.releaseErr.Load(); e != nil {
		return e.err
	}
	return nil
}

// WarnIfNotReleased is an explicit drop hook: it warns with the creation
// trace while reservations are outstanding and reports whether it warned.
func (r *Resource) WarnIfNotReleased() bool {
	n := r.counted.RefCount()
	if n <= 0 {
		return false
	}
	r.sink.Warn(source, fmt.Sprintf("%s %s refCount=%d", DiscardedMessage, r.Name(), n), r.CreatedHere())
	return true
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s refCount=%v", r.Name(), r.counted)
}

// TrackLeaks warns through the sink if ptr is collected before r was fully
// released. ptr is normally r itself or the value embedding it.
func TrackLeaks[T any](ptr *T, r *Resource) {
	closeable.TrackLeaksAs(ptr, &r.Base, DiscardedMessage)
}
