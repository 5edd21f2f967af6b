// Package diag carries the diagnostic configuration and reporting sink shared
// by every lifecycle component.
//
// Options replaces a process-wide tracing flag: it is passed explicitly to
// each constructor and read once, so changing it later never affects a
// counter or resource that already exists.
//
//	opts := diag.Options{
//		ResourceTracing:  true,
//		ReferenceTracing: true,
//		Sink:             diag.NewZapSink(logger),
//	}
//	rc := counter.OnReleased(opts, release)
//
// Sink receives leak warnings and protocol violations. It is best-effort
// visibility for developers, never part of correctness.
package diag
