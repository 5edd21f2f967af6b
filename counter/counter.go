package counter

import (
	"strconv"
	"sync/atomic"

	"github.com/wippyai/lifecycle/errors"
	"github.com/wippyai/lifecycle/owner"
)

// Counter is the lock-free reservation counter. Owners are accepted for
// interface compatibility and ignored.
type Counter struct {
	onRelease    func()
	value        atomic.Int32
	releaseOnOne bool
}

// New creates a counter holding the creator's reservation.
func New(onRelease func(), releaseOnOne bool) *Counter {
	c := &Counter{
		onRelease:    onRelease,
		releaseOnOne: releaseOnOne,
	}
	c.value.Store(1)
	return c
}

// Reserve increments the count unless it already reached zero.
func (c *Counter) Reserve(o *owner.Owner) error {
	for {
		v := c.value.Load()
		if v <= 0 {
			return errors.AlreadyReleased(errors.PhaseReserve, o.String())
		}
		if c.value.CompareAndSwap(v, v+1) {
			return nil
		}
	}
}

// TryReserve increments the count and reports whether it succeeded.
func (c *Counter) TryReserve(o *owner.Owner) bool {
	for {
		v := c.value.Load()
		if v <= 0 {
			return false
		}
		if c.value.CompareAndSwap(v, v+1) {
			return true
		}
	}
}

// Release decrements the count. The goroutine that takes it to zero runs
// the release callback.
func (c *Counter) Release(o *owner.Owner) error {
	for {
		v := c.value.Load()
		if v <= 0 {
			return errors.AlreadyReleased(errors.PhaseRelease, o.String())
		}
		if !c.value.CompareAndSwap(v, v-1) {
			continue
		}
		switch {
		case v == 1:
			c.fire()
		case v == 2 && c.releaseOnOne:
			c.releaseImplicit()
		}
		return nil
	}
}

// releaseImplicit drops the remaining owner.Init reservation under the
// release-on-one policy. A concurrent Reserve that got in first keeps the
// resource alive; its own release will retry.
func (c *Counter) releaseImplicit() {
	if c.value.CompareAndSwap(1, 0) {
		c.fire()
	}
}

// ReleaseLast releases the final reservation. It fails without changing the
// count when other reservations remain.
func (c *Counter) ReleaseLast(o *owner.Owner) error {
	for {
		v := c.value.Load()
		if v <= 0 {
			return errors.AlreadyReleased(errors.PhaseReleaseLast, o.String())
		}
		if v > 1 {
			return errors.NotLastReservation(errors.PhaseReleaseLast, o.String(), int(v))
		}
		if c.value.CompareAndSwap(1, 0) {
			c.fire()
			return nil
		}
	}
}

// ReleaseIfLast takes the count from 1 to 0 and reports whether it did.
func (c *Counter) ReleaseIfLast(*owner.Owner) (bool, error) {
	if !c.value.CompareAndSwap(1, 0) {
		return false, nil
	}
	c.fire()
	return true, nil
}

// ReserveTransfer is a no-op on a live counter.
func (c *Counter) ReserveTransfer(from, to *owner.Owner) error {
	if c.value.Load() <= 0 {
		return errors.AlreadyReleased(errors.PhaseTransfer, from.String())
	}
	return nil
}

// RefCount returns the current count.
func (c *Counter) RefCount() int {
	return int(c.value.Load())
}

// CheckReferences fails if the count went negative.
func (c *Counter) CheckReferences() error {
	if v := c.value.Load(); v < 0 {
		return errors.Inconsistent(int(v), "negative reference count %d", v)
	}
	return nil
}

func (c *Counter) String() string {
	return strconv.Itoa(int(c.value.Load()))
}

func (c *Counter) fire() {
	if c.onRelease != nil {
		c.onRelease()
	}
}
