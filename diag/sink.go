package diag

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/lifecycle/trace"
)

// Sink records diagnostics raised by lifecycle components.
type Sink interface {
	// Warn reports a leak or protocol violation. st may be nil.
	Warn(source, msg string, st *trace.StackTrace)

	// Debug reports an error that was deliberately swallowed.
	Debug(source, msg string, err error)
}

// ZapSink writes diagnostics to a zap logger.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink creates a sink over l; a nil logger discards everything.
func NewZapSink(l *zap.Logger) *ZapSink {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapSink{log: l}
}

func (s *ZapSink) Warn(source, msg string, st *trace.StackTrace) {
	fields := []zap.Field{zap.String("source", source)}
	if st != nil {
		fields = append(fields, zap.Stringer("trace", st))
	}
	s.log.Warn(msg, fields...)
}

func (s *ZapSink) Debug(source, msg string, err error) {
	s.log.Debug(msg, zap.String("source", source), zap.Error(err))
}

// Record is a single captured diagnostic.
type Record struct {
	Trace  *trace.StackTrace
	Err    error
	Source string
	Msg    string
	Warn   bool
}

// Recorder keeps diagnostics in memory. Safe for concurrent use.
type Recorder struct {
	records []Record
	mu      sync.Mutex
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Warn(source, msg string, st *trace.StackTrace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Source: source, Msg: msg, Trace: st, Warn: true})
}

func (r *Recorder) Debug(source, msg string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Source: source, Msg: msg, Err: err})
}

// Records returns a copy of everything recorded so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Warnings returns only warning records.
func (r *Recorder) Warnings() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Record
	for _, rec := range r.records {
		if rec.Warn {
			out = append(out, rec)
		}
	}
	return out
}

// Reset discards all records.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}

// Tee fans out diagnostics to several sinks.
type Tee []Sink

func (t Tee) Warn(source, msg string, st *trace.StackTrace) {
	for _, s := range t {
		s.Warn(source, msg, st)
	}
}

func (t Tee) Debug(source, msg string, err error) {
	for _, s := range t {
		s.Debug(source, msg, err)
	}
}
