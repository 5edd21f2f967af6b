// Package counter implements the reservation counters behind every
// reference-counted resource.
//
// A counter starts at 1, the implicit reservation of its creator
// (owner.Init). Reserve and Release move the count; the goroutine whose
// release takes the count from 1 to 0 runs the release callback, exactly
// once. Zero is terminal: later reservations fail with
// errors.ErrAlreadyReleased.
//
// Two variants share the lifecycle.ReferenceCounted interface:
//
//	Counter   lock-free atomic counter, owners are ignored
//	Tracing   mutex-guarded counter with a per-owner ledger that rejects
//	          double reservation and release without reservation
//
// OnReleased picks the variant from diag.Options once, at construction.
//
// # Release on one
//
// With the release-on-one policy the creator never releases explicitly: a
// release that leaves only the implicit owner.Init reservation releases it
// too, so the resource is torn down as soon as the last real owner is done.
package counter

import (
	"github.com/wippyai/lifecycle"
	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/owner"
)

// Counted is the interface both variants implement.
type Counted interface {
	lifecycle.ReferenceCounted

	// ReleaseIfLast releases o's reservation only if it is the last one and
	// reports whether it did. A shared or released count is not a violation
	// here and is not reported to the sink.
	ReleaseIfLast(o *owner.Owner) (bool, error)
}

var (
	_ Counted = (*Counter)(nil)
	_ Counted = (*Tracing)(nil)
)

// OnReleased returns a counter that calls onRelease when fully released.
// The tracing variant is chosen when opts.ReferenceTracing is set.
func OnReleased(opts diag.Options, onRelease func()) Counted {
	return newCounted(opts, onRelease, false)
}

// OnReleasedOne is OnReleased with the release-on-one policy.
func OnReleasedOne(opts diag.Options, onRelease func()) Counted {
	return newCounted(opts, onRelease, true)
}

func newCounted(opts diag.Options, onRelease func(), releaseOnOne bool) Counted {
	if opts.ReferenceTracing {
		return NewTracing(onRelease, releaseOnOne, opts)
	}
	return New(onRelease, releaseOnOne)
}
