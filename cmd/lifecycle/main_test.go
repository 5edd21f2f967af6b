package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/wippyai/lifecycle/config"
	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/metrics"
)

func newTestEnv(t *testing.T, tracing bool) *env {
	t.Helper()
	cfg := config.Default()
	cfg.Tracing.Resources = tracing
	cfg.Tracing.References = tracing

	log := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	return &env{
		cfg:     cfg,
		log:     log,
		opts:    diag.FromConfig(cfg, m.Sink(diag.NewZapSink(log))),
		metrics: m,
		reg:     reg,
	}
}

func TestScenarios(t *testing.T) {
	for _, tracing := range []bool{false, true} {
		e := newTestEnv(t, tracing)
		for _, name := range scenarioNames() {
			t.Run(name, func(t *testing.T) {
				var out bytes.Buffer
				err := runScenarios(context.Background(), e, &out, []string{name})
				require.NoError(t, err, out.String())
				assert.NotContains(t, out.String(), "FAIL")
			})
		}
	}
}

func TestBridgeScenarioCallsModule(t *testing.T) {
	var out bytes.Buffer
	err := runScenarios(context.Background(), newTestEnv(t, true), &out, []string{"bridge"})
	require.NoError(t, err, out.String())
	assert.Contains(t, out.String(), "call answer through a guest import")
	assert.Contains(t, out.String(), "answer is 42")
}

func TestUnknownScenario(t *testing.T) {
	var out bytes.Buffer
	err := runScenarios(context.Background(), newTestEnv(t, false), &out, []string{"nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown scenario")
}

func TestMisuseCountsWarnings(t *testing.T) {
	e := newTestEnv(t, false)
	var out bytes.Buffer
	require.NoError(t, runScenarios(context.Background(), e, &out, []string{"misuse"}))

	assert.Equal(t, float64(3), testutil.ToFloat64(e.metrics.Warnings.WithLabelValues("counter")))

	out.Reset()
	printMetrics(&out, e.reg)
	assert.Contains(t, out.String(), "lifecycle_diag_warnings_total")
	assert.Contains(t, out.String(), "source=counter")
}

func TestStress(t *testing.T) {
	for _, releaseOnOne := range []bool{false, true} {
		e := newTestEnv(t, releaseOnOne)
		run := &stressRun{opts: stressOptions{workers: 8, iterations: 200, releaseOnOne: releaseOnOne}}

		res, err := run.run(context.Background(), e)
		require.NoError(t, err)
		require.NoError(t, res.check())
		assert.Equal(t, int64(8*200*2), res.ops)
		assert.Equal(t, run.total(), run.progress.Load())

		var out bytes.Buffer
		printStressResult(&out, run.opts, res)
		assert.Contains(t, out.String(), "teardown ran exactly once")
	}
}

func TestStressResultCheck(t *testing.T) {
	assert.NoError(t, stressResult{teardowns: 1}.check())
	assert.Error(t, stressResult{teardowns: 2}.check())
	assert.Error(t, stressResult{teardowns: 1, teardownsEarly: 1}.check())
	assert.Error(t, stressResult{teardowns: 1, finalCount: 1}.check())
}

func TestConfigCommand(t *testing.T) {
	t.Setenv(config.EnvReferenceTracing, "true")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "references: true")
	assert.True(t, strings.Contains(out.String(), "level: info"), out.String())
}
