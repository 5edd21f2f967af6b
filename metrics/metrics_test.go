package metrics

import (
	stderrors "errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/owner"
	"github.com/wippyai/lifecycle/refcounted"
	"github.com/wippyai/lifecycle/resource"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(reg), reg
}

func TestSinkCountsWarnings(t *testing.T) {
	c, _ := newTestCollector(t)
	rec := diag.NewRecorder()
	opts := diag.TracingOptions(c.Sink(rec))

	r := refcounted.New(opts, "counted", nil)
	o := owner.New("o")
	if err := r.Reserve(o); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	_ = r.Reserve(o)                 // already reserved
	_ = r.Release(owner.New("none")) // not reserved

	if got := testutil.ToFloat64(c.Warnings.WithLabelValues("counter")); got != 2 {
		t.Errorf("Expected 2 counter warnings, got %v", got)
	}
	if len(rec.Warnings()) != 2 {
		t.Errorf("Expected warnings to reach the wrapped sink, got %d", len(rec.Warnings()))
	}
}

func TestSinkCountsSuppressedErrors(t *testing.T) {
	c, _ := newTestCollector(t)
	opts := diag.Options{Sink: c.Sink(nil)}

	r := refcounted.New(opts, "failing", func() error { return stderrors.New("boom") })
	_ = r.Close()

	if got := testutil.ToFloat64(c.Suppressed.WithLabelValues("refcounted")); got != 1 {
		t.Errorf("Expected 1 suppressed error, got %v", got)
	}
}

type failingCloser struct{}

func (failingCloser) Close() error { return stderrors.New("close failed") }

func TestObserveTable(t *testing.T) {
	c, reg := newTestCollector(t)
	table := resource.NewTable(diag.DefaultOptions(), "files")
	stop := c.Observe(table, "files")

	reader := owner.New("reader")
	h1 := table.Insert(1, "a")
	h2 := table.Insert(1, failingCloser{})
	if _, err := table.Borrow(h1, reader); err != nil {
		t.Fatalf("Borrow failed: %v", err)
	}

	live := c.Live.WithLabelValues("files")
	var m dto.Metric
	if err := live.Write(&m); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if m.GetGauge().GetValue() != 2 {
		t.Errorf("Expected 2 live handles, got %f", m.GetGauge().GetValue())
	}

	table.Remove(h1)
	table.Remove(h2)
	if err := table.ReturnBorrow(h1, reader); err != nil {
		t.Fatalf("ReturnBorrow failed: %v", err)
	}

	if got := testutil.ToFloat64(live); got != 0 {
		t.Errorf("Expected 0 live handles, got %v", got)
	}
	if got := testutil.ToFloat64(c.Events.WithLabelValues("files", "dropped")); got != 2 {
		t.Errorf("Expected 2 drops, got %v", got)
	}
	if got := testutil.ToFloat64(c.DropFailures.WithLabelValues("files")); got != 1 {
		t.Errorf("Expected 1 drop failure, got %v", got)
	}

	stop()
	table.Insert(1, "b")
	if got := testutil.ToFloat64(c.Events.WithLabelValues("files", "created")); got != 2 {
		t.Errorf("Expected no events after stop, got %v created", got)
	}

	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Errorf("Expected gathered metrics, got %d (%v)", n, err)
	}
}

func TestNewRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("Expected duplicate registration to panic")
		}
	}()
	New(reg)
}
