package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/wippyai/lifecycle/owner"
	"github.com/wippyai/lifecycle/refcounted"
)

type stressOptions struct {
	workers      int
	iterations   int
	releaseOnOne bool
	interactive  bool
}

type stressResult struct {
	duration       time.Duration
	ops            int64
	finalCount     int
	teardownsEarly int32
	teardowns      int32
}

// check reports the first invariant the run violated.
func (r stressResult) check() error {
	if r.teardownsEarly != 0 {
		return fmt.Errorf("teardown ran %d times while reservations were outstanding", r.teardownsEarly)
	}
	if r.finalCount != 0 {
		return fmt.Errorf("refCount is %d after the final release", r.finalCount)
	}
	if r.teardowns != 1 {
		return fmt.Errorf("teardown ran %d times, want 1", r.teardowns)
	}
	return nil
}

// stressRun drives concurrent reserve/release pairs against one resource.
// progress is advanced after every pair.
type stressRun struct {
	opts     stressOptions
	progress atomic.Int64
}

func (s *stressRun) total() int64 {
	return int64(s.opts.workers) * int64(s.opts.iterations)
}

func (s *stressRun) run(ctx context.Context, e *env) (stressResult, error) {
	var teardowns atomic.Int32
	teardown := func() error {
		teardowns.Add(1)
		return nil
	}

	var r *refcounted.Resource
	if s.opts.releaseOnOne {
		r = refcounted.NewReleaseOnOne(e.opts, "stress", teardown)
	} else {
		r = refcounted.New(e.opts, "stress", teardown)
	}

	// under release-on-one the creator never releases; a holder keeps the
	// resource alive until the workers are done
	holder := owner.New("holder")
	if s.opts.releaseOnOne {
		if err := r.Reserve(holder); err != nil {
			return stressResult{}, err
		}
	}

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := range s.opts.workers {
		o := owner.New(fmt.Sprintf("worker-%d", i))
		g.Go(func() error {
			for range s.opts.iterations {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := r.Reserve(o); err != nil {
					return fmt.Errorf("%s reserve: %w", o.Name(), err)
				}
				if err := r.Release(o); err != nil {
					return fmt.Errorf("%s release: %w", o.Name(), err)
				}
				s.progress.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stressResult{}, err
	}

	res := stressResult{
		duration:       time.Since(start),
		ops:            s.progress.Load() * 2,
		teardownsEarly: teardowns.Load(),
	}

	if s.opts.releaseOnOne {
		if err := r.Release(holder); err != nil {
			return res, err
		}
	} else if err := r.Close(); err != nil {
		return res, err
	}

	res.finalCount = r.RefCount()
	res.teardowns = teardowns.Load()
	return res, nil
}

func newStressCmd() *cobra.Command {
	var so stressOptions

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Hammer one resource with concurrent reserve/release pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if so.workers <= 0 || so.iterations <= 0 {
				return fmt.Errorf("workers and iterations must be positive")
			}
			run := &stressRun{opts: so}

			if so.interactive && !term.IsTerminal(int(os.Stdout.Fd())) {
				current.log.Info("stdout is not a terminal, using plain output")
				so.interactive = false
			}
			if so.interactive {
				return runStressInteractive(cmd.Context(), current, run)
			}

			res, err := run.run(cmd.Context(), current)
			if err != nil {
				return err
			}
			current.log.Debug("stress finished",
				zap.Int64("ops", res.ops),
				zap.Duration("duration", res.duration))
			printStressResult(cmd.OutOrStdout(), so, res)
			return res.check()
		},
	}

	cmd.Flags().IntVarP(&so.workers, "workers", "w", 8, "concurrent owners")
	cmd.Flags().IntVarP(&so.iterations, "iterations", "n", 10000, "reserve/release pairs per owner")
	cmd.Flags().BoolVar(&so.releaseOnOne, "release-on-one", false, "use the release-on-one policy")
	cmd.Flags().BoolVarP(&so.interactive, "interactive", "i", false, "show live progress")
	return cmd
}

func printStressResult(w io.Writer, so stressOptions, res stressResult) {
	policy := "release on zero"
	if so.releaseOnOne {
		policy = "release on one"
	}

	fmt.Fprintln(w, titleStyle.Render("Stress"))
	row := func(k string, v any) {
		fmt.Fprintf(w, "  %-16s %s\n", keyStyle.Render(k), valueStyle.Render(fmt.Sprint(v)))
	}
	row("policy", policy)
	row("workers", so.workers)
	row("operations", res.ops)
	row("duration", res.duration.Round(time.Microsecond))
	if res.duration > 0 {
		row("ops/sec", fmt.Sprintf("%.0f", float64(res.ops)/res.duration.Seconds()))
	}
	row("teardowns", res.teardowns)
	row("final refCount", res.finalCount)

	if err := res.check(); err != nil {
		fmt.Fprintln(w, errorStyle.Render("  FAIL "+err.Error()))
		return
	}
	fmt.Fprintln(w, okStyle.Render("  ok teardown ran exactly once, after the last release"))
}
