package diag

import (
	"github.com/wippyai/lifecycle/config"
)

// Options selects diagnostic behaviour at construction time.
type Options struct {
	// Sink receives warnings. Nil means the package logger.
	Sink Sink

	// ResourceTracing captures creation/close traces and hands out distinct
	// temporary owners.
	ResourceTracing bool

	// ReferenceTracing selects the tracing counter variant.
	ReferenceTracing bool

	// LeakWarnings enables reclamation hooks that warn about abandoned resources.
	LeakWarnings bool
}

// DefaultOptions returns options with all tracing disabled.
func DefaultOptions() Options {
	return Options{LeakWarnings: true}
}

// TracingOptions returns options with every diagnostic enabled.
func TracingOptions(sink Sink) Options {
	return Options{
		Sink:             sink,
		ResourceTracing:  true,
		ReferenceTracing: true,
		LeakWarnings:     true,
	}
}

// FromConfig converts loaded configuration into options reporting to sink.
func FromConfig(cfg config.Config, sink Sink) Options {
	return Options{
		Sink:             sink,
		ResourceTracing:  cfg.Tracing.Resources,
		ReferenceTracing: cfg.Tracing.References,
		LeakWarnings:     cfg.Tracing.LeakWarnings,
	}
}

// SinkOrDefault returns the configured sink or a sink over the package logger.
func (o Options) SinkOrDefault() Sink {
	if o.Sink != nil {
		return o.Sink
	}
	return NewZapSink(Logger())
}
