// Package lifecycle provides a reference-counting and closeable-resource
// kernel for Go.
//
// It tracks how many independent owners hold a live reservation on a shared
// resource (off-heap memory, a file descriptor, a pooled object), runs the
// release action exactly once when the last reservation goes, and reports
// protocol misuse (double release, use after release, unbalanced
// reservation) as errors instead of corrupting state.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	lifecycle/           Root package with the ReferenceCounted and Closeable interfaces
//	├── owner/           Owner identities reservations are attributed to
//	├── counter/         Lock-free counter and owner-tracking tracing counter
//	├── closeable/       Idempotent close with trace capture and leak warnings
//	├── refcounted/      Counter and closeable composed into one lifecycle object
//	├── resource/        Handle table of reference-counted values
//	├── bridge/          Reference-counted sharing of wazero modules
//	├── diag/            Diagnostic options and warning sinks
//	├── metrics/         Prometheus-backed diagnostic sink
//	├── config/          YAML and environment configuration
//	├── trace/           Cheap stack trace capture
//	└── errors/          Structured error types for protocol violations
//
// # Quick Start
//
// Embed a reference-counted resource and release it from every owner:
//
//	opts := diag.DefaultOptions()
//	buf := refcounted.New(opts, "buffer", func() error {
//		return free(ptr)
//	})
//
//	reader := owner.Temporary(opts, "reader")
//	if err := buf.Reserve(reader); err != nil {
//		return err
//	}
//	defer buf.Release(reader)
//
//	// The creator drops its implicit reservation; teardown runs once the
//	// reader releases too.
//	buf.Close()
//
// # Diagnostics
//
// diag.Options is passed to every constructor and selects, once per object,
// whether traces are captured and whether the tracing counter (which checks
// every reserve/release against a per-owner ledger) is used. The plain
// counter is lock-free; the tracing counter takes a mutex and is meant for
// development and tests.
//
// # Thread Safety
//
// All operations are safe for concurrent use and never block. The release
// callback runs on the goroutine that performed the final release and must
// not call back into the same counter.
package lifecycle
