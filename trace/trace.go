// Package trace captures lightweight stack traces used to explain where a
// resource was created, reserved or closed.
//
// A StackTrace stores raw program counters and only resolves them to
// function names and source lines when formatted, so capturing one is cheap
// enough to do on every construction while resource tracing is enabled.
package trace

import (
	"fmt"
	"runtime"
	"strings"
)

// MaxFrames is the maximum number of frames kept per trace.
const MaxFrames = 16

// StackTrace is a labelled call stack. It implements error so it can be
// attached as the cause of a protocol violation.
type StackTrace struct {
	label string
	pcs   []uintptr
}

// Capture records the caller's stack under label. skip counts additional
// frames to drop above the caller of Capture.
func Capture(label string, skip int) *StackTrace {
	var pcs [MaxFrames]uintptr
	// runtime.Callers, Capture
	n := runtime.Callers(2+skip, pcs[:])
	return &StackTrace{
		label: label,
		pcs:   append([]uintptr(nil), pcs[:n]...),
	}
}

// Label returns the label given at capture time, e.g. "Created here".
func (st *StackTrace) Label() string {
	if st == nil {
		return ""
	}
	return st.label
}

// Frames resolves the captured program counters, skipping runtime internals.
func (st *StackTrace) Frames() []runtime.Frame {
	if st == nil || len(st.pcs) == 0 {
		return nil
	}

	var out []runtime.Frame
	frames := runtime.CallersFrames(st.pcs)
	for {
		frame, more := frames.Next()
		if frame.PC != 0 && !strings.HasPrefix(frame.Function, "runtime.") {
			out = append(out, frame)
		}
		if !more {
			break
		}
	}
	return out
}

// Top returns the innermost non-runtime frame, or false when none was captured.
func (st *StackTrace) Top() (runtime.Frame, bool) {
	frames := st.Frames()
	if len(frames) == 0 {
		return runtime.Frame{}, false
	}
	return frames[0], true
}

// Error returns the label so a trace can stand in as an error cause.
func (st *StackTrace) Error() string {
	if st == nil {
		return "<no trace>"
	}
	return st.label
}

// String formats the trace as a label followed by one line per frame.
func (st *StackTrace) String() string {
	if st == nil {
		return "<no trace>"
	}

	var b strings.Builder
	b.WriteString(st.label)
	for _, f := range st.Frames() {
		fmt.Fprintf(&b, "\n\tat %s(%s:%d)", f.Function, f.File, f.Line)
	}
	return b.String()
}
