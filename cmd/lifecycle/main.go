// Command lifecycle exercises the reference-counting kernel: it runs
// scripted scenarios, stress-tests counters under contention and prints the
// effective diagnostic configuration.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/lifecycle/config"
	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/metrics"
)

// env is the state shared by subcommands, built once per invocation.
type env struct {
	cfg     config.Config
	log     *zap.Logger
	opts    diag.Options
	metrics *metrics.Collector
	reg     *prometheus.Registry
}

var (
	configPath  string
	traceAll    bool
	logLevel    string
	showMetrics bool

	current *env
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "lifecycle",
		Short: "Exercise reference-counted resources and their diagnostics",
		Long: `lifecycle runs scripted scenarios and stress tests against the
reference-counting kernel, reporting ownership violations and leaks
through the configured diagnostics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			e, err := setup()
			if err != nil {
				return err
			}
			current = e
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if current == nil {
				return
			}
			if showMetrics {
				printMetrics(cmd.OutOrStdout(), current.reg)
			}
			_ = current.log.Sync()
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().BoolVar(&traceAll, "trace", false, "enable resource and reference tracing")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&showMetrics, "metrics", false, "print lifecycle metrics on exit")

	root.AddCommand(newScenarioCmd(), newStressCmd(), newConfigCmd())
	return root
}

func setup() (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if traceAll {
		cfg.Tracing.Resources = true
		cfg.Tracing.References = true
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := cfg.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	diag.SetLogger(log)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	return &env{
		cfg:     cfg,
		log:     log,
		opts:    diag.FromConfig(cfg, m.Sink(diag.NewZapSink(log))),
		metrics: m,
		reg:     reg,
	}, nil
}

func printMetrics(w io.Writer, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		fmt.Fprintln(w, errorStyle.Render("gather metrics: "+err.Error()))
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("Metrics"))
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fmt.Fprintf(w, "  %s%s %s\n",
				keyStyle.Render(mf.GetName()),
				labelString(m.GetLabel()),
				valueStyle.Render(fmt.Sprintf("%g", metricValue(m))))
		}
	}
}

func labelString(pairs []*dto.LabelPair) string {
	if len(pairs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	sort.Strings(parts)
	return "{" + strings.Join(parts, ",") + "}"
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	default:
		return 0
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
