package resource

import (
	"github.com/wippyai/lifecycle/owner"
)

// Typed provides type-safe access to the resources of one type ID in a
// shared Table.
type Typed[T any] struct {
	table  *Table
	typeID uint32
}

// NewTyped binds typeID in table to values of type T.
func NewTyped[T any](table *Table, typeID uint32) *Typed[T] {
	return &Typed[T]{table: table, typeID: typeID}
}

// Insert adds a value and returns its handle.
func (t *Typed[T]) Insert(value T) Handle {
	return t.table.Insert(t.typeID, value)
}

// Get retrieves a value by handle.
func (t *Typed[T]) Get(h Handle) (T, bool) {
	v, ok := t.table.GetTyped(h, t.typeID)
	return cast[T](v, ok)
}

// Borrow reserves the value for o.
func (t *Typed[T]) Borrow(h Handle, o *owner.Owner) (T, error) {
	var zero T
	v, err := t.table.BorrowTyped(h, t.typeID, o)
	if err != nil {
		return zero, err
	}
	tv, ok := v.(T)
	if !ok {
		_ = t.table.ReturnBorrow(h, o)
		return zero, ErrTypeMismatch
	}
	return tv, nil
}

// ReturnBorrow releases o's borrow.
func (t *Typed[T]) ReturnBorrow(h Handle, o *owner.Owner) error {
	return t.table.ReturnBorrow(h, o)
}

// Remove invalidates the handle and returns (value, true) if found.
func (t *Typed[T]) Remove(h Handle) (T, bool) {
	if _, ok := t.table.GetTyped(h, t.typeID); !ok {
		var zero T
		return zero, false
	}
	v, ok := t.table.Remove(h)
	return cast[T](v, ok)
}

// Len returns the number of live resources of this type.
func (t *Typed[T]) Len() int {
	n := 0
	t.Each(func(Handle, T) bool {
		n++
		return true
	})
	return n
}

// Each iterates over the live resources of this type.
func (t *Typed[T]) Each(fn func(Handle, T) bool) {
	t.table.Each(func(h Handle, typeID uint32, v any) bool {
		if typeID != t.typeID {
			return true
		}
		tv, ok := v.(T)
		if !ok {
			return true
		}
		return fn(h, tv)
	})
}

func cast[T any](v any, ok bool) (T, bool) {
	var zero T
	if !ok {
		return zero, false
	}
	tv, ok := v.(T)
	if !ok {
		return zero, false
	}
	return tv, true
}
