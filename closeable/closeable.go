// Package closeable provides an idempotent close lifecycle with optional
// trace capture and leak warnings.
//
// Base is meant to be embedded. Its teardown runs exactly once, on the first
// Close; afterwards every guarded operation should start with
// CheckIsNotClosed, which returns errors.ErrUseAfterClose carrying the trace
// of the Close call when resource tracing is enabled.
//
// Leak detection is a backstop for debugging: TrackLeaks registers a
// runtime cleanup that warns if the owning value is garbage collected while
// still open. It may run late or never and must not be relied on to free
// anything.
package closeable

import (
	"io"
	"runtime"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/errors"
	"github.com/wippyai/lifecycle/trace"
)

const source = "closeable"

// state is shared with the leak cleanup, so it must never reference the
// value that embeds Base.
type state struct {
	sink        diag.Sink
	createdHere *trace.StackTrace
	closedHere  atomic.Pointer[trace.StackTrace]
	name        string
	closed      atomic.Bool
}

func (s *state) warnIfNotClosed(msg string) bool {
	if s.closed.Load() {
		return false
	}
	s.sink.Warn(source, msg+" "+s.name, s.createdHere)
	return true
}

// DiscardedMessage prefixes the warning for values abandoned while open.
const DiscardedMessage = "Discarded without closing"

// Base implements lifecycle.Closeable.
type Base struct {
	st       *state
	teardown func() error
	opts     diag.Options
}

// New creates an open Base. teardown may be nil.
func New(opts diag.Options, name string, teardown func() error) *Base {
	b := &Base{}
	b.Init(opts, name, teardown)
	return b
}

// Init prepares an embedded Base in place.
func (b *Base) Init(opts diag.Options, name string, teardown func() error) {
	st := &state{
		sink: opts.SinkOrDefault(),
		name: name,
	}
	if opts.ResourceTracing {
		// Init, New or the embedding constructor
		st.createdHere = trace.Capture("Created here", 2)
	}
	b.st = st
	b.teardown = teardown
	b.opts = opts
}

// Close marks the value closed and runs teardown. Only the first call has
// any effect; later calls return nil.
func (b *Base) Close() error {
	var here *trace.StackTrace
	if b.opts.ResourceTracing {
		here = trace.Capture("Closed here", 1)
	}
	if !b.st.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.st.closedHere.Store(here)

	if b.teardown != nil {
		return b.teardown()
	}
	return nil
}

// IsClosed reports whether Close has run.
func (b *Base) IsClosed() bool {
	return b.st.closed.Load()
}

// ClosedHere returns the trace of the first Close, or nil.
func (b *Base) ClosedHere() *trace.StackTrace {
	return b.st.closedHere.Load()
}

// CreatedHere returns the construction trace, or nil.
func (b *Base) CreatedHere() *trace.StackTrace {
	return b.st.createdHere
}

// Name returns the diagnostic name given at construction.
func (b *Base) Name() string {
	return b.st.name
}

// CheckIsNotClosed fails with errors.ErrUseAfterClose once closed.
func (b *Base) CheckIsNotClosed() error {
	if b.st.closed.Load() {
		return errors.Closed(b.st.name, b.st.closedHere.Load())
	}
	return nil
}

// ResetClosed reopens a closed value. Only for pooled values that are
// reinitialised before reuse; teardown will run again on the next Close.
func (b *Base) ResetClosed() {
	b.st.closedHere.Store(nil)
	b.st.closed.Store(false)
}

// WarnIfNotClosed is an explicit drop hook: it warns with the creation trace
// when the value is still open and reports whether it warned.
func (b *Base) WarnIfNotClosed() bool {
	return b.st.warnIfNotClosed(DiscardedMessage)
}

// TrackLeaks warns through the sink if ptr becomes unreachable while b is
// still open. ptr is normally the value that embeds b. It does nothing
// unless opts.LeakWarnings was set.
func TrackLeaks[T any](ptr *T, b *Base) {
	TrackLeaksAs(ptr, b, DiscardedMessage)
}

// TrackLeaksAs is TrackLeaks with a custom warning prefix.
func TrackLeaksAs[T any](ptr *T, b *Base, msg string) {
	if !b.opts.LeakWarnings {
		return
	}
	runtime.AddCleanup(ptr, func(st *state) {
		st.warnIfNotClosed(msg)
	}, b.st)
}

// CloseQuietly closes every io.Closer found in objs, descending into slices.
// Errors are logged at debug level and otherwise ignored.
func CloseQuietly(objs ...any) {
	for _, o := range objs {
		switch v := o.(type) {
		case nil:
		case []any:
			CloseQuietly(v...)
		case []io.Closer:
			for _, c := range v {
				CloseQuietly(c)
			}
		case io.Closer:
			if err := v.Close(); err != nil {
				diag.Logger().Debug("close quietly", zap.String("source", source), zap.Error(err))
			}
		}
	}
}

// CloseAll closes every closer and returns all failures combined.
func CloseAll(closers ...io.Closer) error {
	var err error
	for _, c := range closers {
		if c == nil {
			continue
		}
		err = multierr.Append(err, c.Close())
	}
	return err
}
