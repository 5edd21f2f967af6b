package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"

	"github.com/wippyai/lifecycle/bridge"
	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/errors"
	"github.com/wippyai/lifecycle/owner"
	"github.com/wippyai/lifecycle/refcounted"
	"github.com/wippyai/lifecycle/resource"
)

type scenario struct {
	run  func(ctx context.Context, e *env, s *script)
	desc string
}

var scenarios = map[string]scenario{
	"e2e":            {runEndToEnd, "reserve and release by two owners, then releaseLast by the creator"},
	"release-on-one": {runReleaseOnOne, "the last owner's release drops the creator's reservation"},
	"misuse":         {runMisuse, "ownership violations caught by the tracing counter"},
	"table":          {runTable, "a borrowed table entry outlives Remove"},
	"bridge":         {runBridge, "a shared wazero module closes on its last release"},
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newScenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario [name...]",
		Short: "Run scripted lifecycle scenarios (all when no name is given)",
		Long:  "Available scenarios:\n  " + strings.Join(scenarioNames(), "\n  "),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = scenarioNames()
			}
			return runScenarios(cmd.Context(), current, cmd.OutOrStdout(), args)
		},
	}
}

func runScenarios(ctx context.Context, e *env, w io.Writer, names []string) error {
	var err error
	for _, name := range names {
		sc, ok := scenarios[name]
		if !ok {
			return fmt.Errorf("unknown scenario %q (available: %s)", name, strings.Join(scenarioNames(), ", "))
		}

		fmt.Fprintf(w, "%s %s\n", titleStyle.Render(name), helpStyle.Render(sc.desc))
		s := &script{w: w}
		sc.run(ctx, e, s)
		fmt.Fprintln(w)
		if s.err != nil {
			err = multierr.Append(err, fmt.Errorf("scenario %s: %w", name, s.err))
		}
	}
	return err
}

// script prints the steps of a scenario and remembers the first failure.
type script struct {
	w   io.Writer
	err error
}

func (s *script) ok(desc string, err error) {
	if err != nil {
		s.fail(desc, err)
		return
	}
	fmt.Fprintf(s.w, "  %s %s\n", okStyle.Render("ok"), desc)
}

// rejects expects err to match target.
func (s *script) rejects(desc string, err, target error) {
	if err == nil {
		s.fail(desc, fmt.Errorf("expected %v, got success", target))
		return
	}
	if !stderrors.Is(err, target) {
		s.fail(desc, fmt.Errorf("expected %v, got %w", target, err))
		return
	}
	fmt.Fprintf(s.w, "  %s %s: %s\n", okStyle.Render("ok"), desc, helpStyle.Render(err.Error()))
}

func (s *script) expect(desc string, cond bool) {
	if !cond {
		s.fail(desc, stderrors.New("expectation failed"))
		return
	}
	fmt.Fprintf(s.w, "  %s %s\n", okStyle.Render("ok"), desc)
}

func (s *script) fail(desc string, err error) {
	fmt.Fprintf(s.w, "  %s %s: %v\n", errorStyle.Render("FAIL"), desc, err)
	if s.err == nil {
		s.err = fmt.Errorf("%s: %w", desc, err)
	}
}

func refs(want int) string {
	return fmt.Sprintf("refCount == %d", want)
}

func runEndToEnd(_ context.Context, e *env, s *script) {
	teardowns := 0
	r := refcounted.New(e.opts, "e2e", func() error {
		teardowns++
		return nil
	})
	a, b := owner.New("a"), owner.New("b")

	s.expect(refs(1)+" after construction", r.RefCount() == 1)
	s.ok("a reserves", r.Reserve(a))
	s.expect(refs(2), r.RefCount() == 2)
	s.ok("b reserves", r.Reserve(b))
	s.expect(refs(3), r.RefCount() == 3)
	s.ok("a releases", r.Release(a))
	s.expect(refs(2), r.RefCount() == 2)
	s.ok("b releases", r.Release(b))
	s.expect(refs(1), r.RefCount() == 1)
	s.ok("init releases last", r.ReleaseLast(owner.Init))
	s.expect("teardown ran once", teardowns == 1)
	s.expect(refs(0)+" and closed", r.RefCount() == 0 && r.IsClosed())
	s.rejects("reserve after release", r.Reserve(owner.New("late")), errors.ErrAlreadyReleased)
	s.expect("tryReserve after release is false", !r.TryReserve(owner.New("late")))
	s.rejects("guarded access after release", r.CheckIsNotClosed(), errors.ErrUseAfterClose)
}

func runReleaseOnOne(_ context.Context, e *env, s *script) {
	teardowns := 0
	r := refcounted.NewReleaseOnOne(e.opts, "on-one", func() error {
		teardowns++
		return nil
	})
	a, b := owner.New("a"), owner.New("b")

	s.ok("a reserves", r.Reserve(a))
	s.ok("b reserves", r.Reserve(b))
	s.rejects("releaseLast while shared", r.ReleaseLast(a), errors.ErrNotLastReservation)
	s.expect(refs(3)+" unchanged", r.RefCount() == 3)
	s.ok("a releases", r.Release(a))
	s.expect("still open", !r.IsClosed() && teardowns == 0)
	s.ok("b releases", r.Release(b))
	s.expect(refs(0)+" without an explicit init release", r.RefCount() == 0)
	s.expect("teardown ran once", teardowns == 1)
}

func runMisuse(_ context.Context, e *env, s *script) {
	opts := e.opts
	opts.ReferenceTracing = true
	rec := diag.NewRecorder()
	opts.Sink = diag.Tee{opts.SinkOrDefault(), rec}

	r := refcounted.New(opts, "misuse", nil)
	a, b := owner.New("a"), owner.New("b")

	s.ok("a reserves", r.Reserve(a))
	s.rejects("a reserves again", r.Reserve(a), errors.ErrOwnerViolation)
	s.rejects("b releases without a reservation", r.Release(b), errors.ErrOwnerViolation)
	s.ok("transfer a to b", r.ReserveTransfer(a, b))
	s.rejects("a releases after transfer", r.Release(a), errors.ErrOwnerViolation)
	s.ok("b releases", r.Release(b))
	s.ok("ledger consistent", r.CheckReferences())
	s.expect("every violation was reported", len(rec.Warnings()) == 3)
	s.ok("close", r.Close())
}

type demoFile struct {
	name    string
	dropped bool
}

func (f *demoFile) Drop() { f.dropped = true }

func runTable(_ context.Context, e *env, s *script) {
	table := resource.NewTable(e.opts, "demo")
	stop := e.metrics.Observe(table, "demo")
	defer stop()

	files := resource.NewTyped[*demoFile](table, 1)
	f := &demoFile{name: "data.bin"}
	h := files.Insert(f)
	reader := owner.New("reader")

	_, err := files.Borrow(h, reader)
	s.ok("reader borrows", err)
	_, removed := files.Remove(h)
	s.expect("remove invalidates the handle", removed && table.Len() == 0)
	s.expect("value not dropped while borrowed", !f.dropped)
	s.ok("reader returns the borrow", files.ReturnBorrow(h, reader))
	s.expect("value dropped on the last return", f.dropped)
	s.ok("close table", table.Close())
}

func demoModule(ctx context.Context, rt wazero.Runtime, name string) (api.Module, error) {
	return rt.NewHostModuleBuilder(name).
		NewFunctionBuilder().
		WithFunc(func() uint32 { return 42 }).
		Export("answer").
		Instantiate(ctx)
}

func runBridge(ctx context.Context, e *env, s *script) {
	if ctx == nil {
		ctx = context.Background()
	}
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	cache := bridge.NewCache(rt, e.opts)
	defer cache.Close(ctx)
	a, b := owner.New("a"), owner.New("b")

	ma, err := cache.Acquire(ctx, "env", a, demoModule)
	s.ok("a acquires env", err)
	if err != nil {
		return
	}
	mb, err := cache.Acquire(ctx, "env", b, demoModule)
	s.ok("b acquires env", err)
	s.expect("both share one instance", ma == mb)

	_, err = ma.Module()
	s.ok("module is live", err)
	res, err := ma.Call(ctx, "answer", bridge.Signature{Results: []api.ValueType{api.ValueTypeI32}})
	s.ok("call answer through a guest import", err)
	s.expect("answer is 42", err == nil && len(res) == 1 && res[0] == 42)

	s.ok("a releases", cache.Release("env", a))
	s.expect("module still instantiated", rt.Module("env") != nil)
	s.ok("b releases", cache.Release("env", b))
	s.expect("module closed on the last release", rt.Module("env") == nil && ma.IsClosed())
}
