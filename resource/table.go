package resource

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"

	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/owner"
	"github.com/wippyai/lifecycle/refcounted"
)

// Table maps handles to reference-counted values with type information and
// observer support.
//
// Every entry is a refcounted.Resource whose creator reservation belongs to
// the table. Remove gives that reservation up; the value is dropped when
// the last borrow is returned.
type Table struct {
	store     *store
	opts      diag.Options
	name      string
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates an empty table. name prefixes the diagnostic names of
// its entries.
func NewTable(opts diag.Options, name string) *Table {
	return &Table{
		store: newStore(),
		opts:  opts,
		name:  name,
	}
}

// Insert adds a value and returns its handle, or 0 once the table is closed.
func (t *Table) Insert(typeID uint32, value any) Handle {
	h, err := t.store.add(func(h Handle) *entry {
		e := &entry{typeID: typeID, value: value}
		e.res = refcounted.New(t.opts, fmt.Sprintf("%s#%d", t.name, h), func() error {
			return t.drop(h, e)
		})
		return e
	})
	if err != nil {
		return 0
	}

	t.notify(Event{
		Type:     EventCreated,
		Handle:   h,
		TypeID:   typeID,
		Value:    value,
		RefCount: 1,
	})

	return h
}

// Get retrieves a value by handle.
func (t *Table) Get(h Handle) (any, bool) {
	e, ok := t.store.get(h)
	if !ok || e.res.IsClosed() {
		return nil, false
	}
	return e.value, true
}

// GetTyped retrieves a value only if it matches the expected type.
func (t *Table) GetTyped(h Handle, typeID uint32) (any, bool) {
	e, ok := t.store.get(h)
	if !ok || e.typeID != typeID || e.res.IsClosed() {
		return nil, false
	}
	return e.value, true
}

// Borrow reserves the value for o. The value stays alive, even across
// Remove, until o returns the borrow.
func (t *Table) Borrow(h Handle, o *owner.Owner) (any, error) {
	e, ok := t.store.get(h)
	if !ok {
		return nil, ErrInvalidHandle
	}
	if err := e.res.Reserve(o); err != nil {
		return nil, err
	}

	t.notify(Event{
		Type:     EventBorrowed,
		Handle:   h,
		TypeID:   e.typeID,
		Value:    e.value,
		Owner:    o,
		RefCount: e.res.RefCount(),
	})
	return e.value, nil
}

// BorrowTyped is Borrow restricted to values of typeID.
func (t *Table) BorrowTyped(h Handle, typeID uint32, o *owner.Owner) (any, error) {
	e, ok := t.store.get(h)
	if !ok {
		return nil, ErrInvalidHandle
	}
	if e.typeID != typeID {
		return nil, ErrTypeMismatch
	}
	return t.Borrow(h, o)
}

// ReturnBorrow releases o's borrow. If the handle was removed and this was
// the last borrow, the value is dropped before ReturnBorrow returns.
func (t *Table) ReturnBorrow(h Handle, o *owner.Owner) error {
	e, ok := t.store.lookup(h)
	if !ok {
		return ErrInvalidHandle
	}
	if err := e.res.Release(o); err != nil {
		return err
	}

	t.notify(Event{
		Type:     EventBorrowReturned,
		Handle:   h,
		TypeID:   e.typeID,
		Value:    e.value,
		Owner:    o,
		RefCount: e.res.RefCount(),
	})
	return nil
}

// Remove invalidates the handle and returns (value, true) if it was live.
// The value is dropped now, or when its last borrow is returned.
func (t *Table) Remove(h Handle) (any, bool) {
	e, ok := t.store.markRemoved(h)
	if !ok {
		return nil, false
	}

	t.notify(Event{
		Type:     EventRemoved,
		Handle:   h,
		TypeID:   e.typeID,
		Value:    e.value,
		RefCount: e.res.RefCount(),
	})

	// a teardown failure is reported through the sink and the drop event
	_ = e.res.Close()
	return e.value, true
}

// RefCount returns the number of reservations on h, including the table's
// own until the handle is removed.
func (t *Table) RefCount(h Handle) int {
	e, ok := t.store.lookup(h)
	if !ok {
		return 0
	}
	return e.res.RefCount()
}

// Resource returns the reference-counted entry behind h.
func (t *Table) Resource(h Handle) (*refcounted.Resource, bool) {
	e, ok := t.store.lookup(h)
	if !ok {
		return nil, false
	}
	return e.res, true
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of handles that have not been removed.
func (t *Table) Len() int {
	return t.store.len()
}

// Each iterates over a snapshot of the live handles.
func (t *Table) Each(fn func(Handle, uint32, any) bool) {
	for _, h := range t.store.handles() {
		e, ok := t.store.get(h)
		if !ok {
			continue
		}
		if !fn(h, e.typeID, e.value) {
			return
		}
	}
}

// Clear removes every handle.
func (t *Table) Clear() {
	for _, h := range t.store.handles() {
		t.Remove(h)
	}
}

// Close removes every handle and stops accepting inserts. Entries still
// borrowed are reported as not released and dropped when their borrows
// return. The returned error combines teardown failures of entries dropped
// during Close.
func (t *Table) Close() error {
	var err error
	for _, h := range t.store.close() {
		e, ok := t.store.lookup(h)
		if !ok {
			continue
		}
		if e.res.RefCount() > 1 {
			e.res.WarnIfNotReleased()
		}
		if _, ok := t.Remove(h); ok {
			err = multierr.Append(err, e.res.ReleaseErr())
		}
	}
	return err
}

// IsClosed reports whether Close has been called.
func (t *Table) IsClosed() bool {
	return t.store.isClosed()
}

// drop is the teardown of an entry, run when its last reservation goes.
func (t *Table) drop(h Handle, e *entry) error {
	err := dropValue(e.value)
	t.store.free(h, e)

	t.notify(Event{
		Type:   EventDropped,
		Handle: h,
		TypeID: e.typeID,
		Value:  e.value,
		Err:    err,
	})
	return err
}

func dropValue(v any) error {
	switch d := v.(type) {
	case Dropper:
		d.Drop()
	case io.Closer:
		return d.Close()
	}
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
