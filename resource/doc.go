// Package resource provides a handle table whose entries are
// reference-counted.
//
// Resources are opaque handles representing host-side values that are
// shared between owners. The table holds one reservation on every entry;
// owners borrow an entry by reserving it and return the borrow by releasing
// it. Removing a handle gives up the table's reservation, so the value is
// dropped exactly once, when the last borrow is returned.
//
// # Handle Table
//
// The Table maps integer handles to Go values:
//
//	table := resource.NewTable(diag.DefaultOptions(), "files")
//
//	// Insert a value, get a handle
//	handle := table.Insert(typeID, myValue)
//
//	// Borrow it for an owner
//	reader := owner.New("reader")
//	value, err := table.Borrow(handle, reader)
//	...
//	err = table.ReturnBorrow(handle, reader)
//
//	// Invalidate the handle; the value is dropped once nothing borrows it
//	value, ok := table.Remove(handle)
//
// # Type Safety
//
// Handles are typed - each resource type gets a unique type ID:
//
//	const FileTypeID = 1
//	const SocketTypeID = 2
//
//	fileHandle := table.Insert(FileTypeID, file)
//
//	value, ok := table.GetTyped(fileHandle, FileTypeID)   // ok
//	value, ok := table.GetTyped(fileHandle, SocketTypeID) // !ok
//
// Typed wraps a table for one type ID with generic accessors.
//
// # Observers
//
// Register observers to track resource lifecycle events:
//
//	table.Subscribe(myObserver)
//
// EventDropped carries the teardown error, if any, and is delivered on the
// goroutine that released the last reservation.
//
// # Dropping values
//
// A value implementing Dropper has Drop called when it is dropped; a value
// implementing io.Closer is closed instead. Handles are reused only after
// the previous value was dropped.
//
// With reference tracing enabled (diag.Options.ReferenceTracing) a borrow
// by an owner that already holds one, or a return by an owner that holds
// none, fails with errors.ErrOwnerViolation.
package resource
