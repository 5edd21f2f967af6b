package counter

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/errors"
	"github.com/wippyai/lifecycle/owner"
	"github.com/wippyai/lifecycle/trace"
)

const source = "counter"

// reservation marks an outstanding reservation in the ledger.
type reservation struct {
	here *trace.StackTrace // nil unless resource tracing
}

// Tracing is a counter that attributes every reservation to an owner and
// rejects calls that do not match its ledger. Ledger and count change
// together under mu; the count is also kept atomically so RefCount never
// blocks.
type Tracing struct {
	onRelease    func()
	sink         diag.Sink
	ledger       map[*owner.Owner]reservation
	value        atomic.Int32
	mu           sync.Mutex
	releaseOnOne bool
	traces       bool
}

// NewTracing creates a tracing counter whose initial reservation belongs to owner.Init.
func NewTracing(onRelease func(), releaseOnOne bool, opts diag.Options) *Tracing {
	t := &Tracing{
		onRelease:    onRelease,
		sink:         opts.SinkOrDefault(),
		ledger:       make(map[*owner.Owner]reservation),
		releaseOnOne: releaseOnOne,
		traces:       opts.ResourceTracing,
	}
	t.ledger[owner.Init] = t.mark("Reserved here", 2)
	t.value.Store(1)
	return t
}

// Reserve records a reservation for o. o must not already hold one.
func (t *Tracing) Reserve(o *owner.Owner) error {
	t.mu.Lock()
	err := t.reserveLocked(o)
	t.mu.Unlock()
	return t.report(err)
}

// TryReserve is Reserve that reports false on any failure. Owner violations
// are still reported to the sink.
func (t *Tracing) TryReserve(o *owner.Owner) bool {
	t.mu.Lock()
	err := t.reserveLocked(o)
	t.mu.Unlock()

	if err == nil {
		return true
	}
	if err.Kind == errors.KindOwnerViolation {
		t.report(err)
	}
	return false
}

func (t *Tracing) reserveLocked(o *owner.Owner) *errors.Error {
	v := t.value.Load()
	if v <= 0 {
		return errors.AlreadyReleased(errors.PhaseReserve, o.String())
	}
	if prev, ok := t.ledger[o]; ok {
		return errors.AlreadyReserved(errors.PhaseReserve, o.String(), int(v), prev.here)
	}
	t.ledger[o] = t.mark("Reserved here", 3)
	t.value.Store(v + 1)
	return nil
}

// Release drops o's reservation.
func (t *Tracing) Release(o *owner.Owner) error {
	t.mu.Lock()
	fire, err := t.releaseLocked(o)
	t.mu.Unlock()

	if err != nil {
		return t.report(err)
	}
	if fire {
		t.fire()
	}
	return nil
}

func (t *Tracing) releaseLocked(o *owner.Owner) (bool, *errors.Error) {
	v := t.value.Load()
	if v <= 0 {
		return false, errors.AlreadyReleased(errors.PhaseRelease, o.String())
	}
	if _, ok := t.ledger[o]; !ok {
		return false, errors.NotReserved(errors.PhaseRelease, o.String(), int(v))
	}
	if t.releaseOnOne && o == owner.Init && v > 1 {
		return false, errors.OwnerViolation(errors.PhaseRelease, o.String(), int(v),
			"implicit reservation is released automatically when the last owner releases")
	}

	delete(t.ledger, o)
	v--
	if v == 1 && t.releaseOnOne {
		// The implicit release is attributed to owner.Init.
		if _, ok := t.ledger[owner.Init]; ok {
			delete(t.ledger, owner.Init)
			v = 0
		}
	}
	t.value.Store(v)
	return v == 0, nil
}

// ReleaseLast releases the final reservation, which must belong to o.
func (t *Tracing) ReleaseLast(o *owner.Owner) error {
	t.mu.Lock()
	err := t.releaseLastLocked(o)
	t.mu.Unlock()

	if err != nil {
		return t.report(err)
	}
	t.fire()
	return nil
}

// ReleaseIfLast releases o's reservation when the count is one. The check
// and the release happen under the ledger lock.
func (t *Tracing) ReleaseIfLast(o *owner.Owner) (bool, error) {
	t.mu.Lock()
	if t.value.Load() != 1 {
		t.mu.Unlock()
		return false, nil
	}
	err := t.releaseLastLocked(o)
	t.mu.Unlock()

	if err != nil {
		return false, t.report(err)
	}
	t.fire()
	return true, nil
}

func (t *Tracing) releaseLastLocked(o *owner.Owner) *errors.Error {
	v := t.value.Load()
	if v <= 0 {
		return errors.AlreadyReleased(errors.PhaseReleaseLast, o.String())
	}
	if v > 1 {
		return errors.NotLastReservation(errors.PhaseReleaseLast, o.String(), int(v))
	}
	if _, ok := t.ledger[o]; !ok {
		return errors.NotReserved(errors.PhaseReleaseLast, o.String(), int(v))
	}
	delete(t.ledger, o)
	t.value.Store(0)
	return nil
}

// ReserveTransfer moves from's reservation to to without changing the count.
func (t *Tracing) ReserveTransfer(from, to *owner.Owner) error {
	t.mu.Lock()
	err := t.transferLocked(from, to)
	t.mu.Unlock()
	return t.report(err)
}

func (t *Tracing) transferLocked(from, to *owner.Owner) *errors.Error {
	v := t.value.Load()
	if v <= 0 {
		return errors.AlreadyReleased(errors.PhaseTransfer, from.String())
	}
	if _, ok := t.ledger[from]; !ok {
		return errors.NotReserved(errors.PhaseTransfer, from.String(), int(v))
	}
	if prev, ok := t.ledger[to]; ok {
		return errors.AlreadyReserved(errors.PhaseTransfer, to.String(), int(v), prev.here)
	}
	delete(t.ledger, from)
	t.ledger[to] = t.mark("Transferred here", 3)
	return nil
}

// RefCount returns the current count.
func (t *Tracing) RefCount() int {
	return int(t.value.Load())
}

// CheckReferences fails if the ledger and the count disagree.
func (t *Tracing) CheckReferences() error {
	t.mu.Lock()
	v, n := t.value.Load(), len(t.ledger)
	t.mu.Unlock()

	if v < 0 || int(v) != n {
		return t.report(errors.Inconsistent(int(v), "ledger holds %d owners for count %d", n, v))
	}
	return nil
}

// Owners returns the owners currently holding a reservation, sorted by name.
func (t *Tracing) Owners() []*owner.Owner {
	t.mu.Lock()
	out := make([]*owner.Owner, 0, len(t.ledger))
	for o := range t.ledger {
		out = append(out, o)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

// ReservedHere returns the trace captured when o reserved, if any.
func (t *Tracing) ReservedHere(o *owner.Owner) *trace.StackTrace {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ledger[o].here
}

func (t *Tracing) String() string {
	owners := t.Owners()
	names := make([]string, len(owners))
	for i, o := range owners {
		names[i] = o.String()
	}
	return strconv.Itoa(t.RefCount()) + " " + "[" + strings.Join(names, ", ") + "]"
}

// mark captures a reservation trace. skip counts the frames between mark and
// the counter's caller, mark included.
func (t *Tracing) mark(label string, skip int) reservation {
	if !t.traces {
		return reservation{}
	}
	return reservation{here: trace.Capture(label, skip)}
}

// report sends a violation to the sink and converts it to an error.
func (t *Tracing) report(err *errors.Error) error {
	if err == nil {
		return nil
	}
	t.sink.Warn(source, err.Error(), err.Trace)
	return err
}

func (t *Tracing) fire() {
	if t.onRelease != nil {
		t.onRelease()
	}
}
