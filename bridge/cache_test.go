package bridge

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/errors"
	"github.com/wippyai/lifecycle/owner"
)

type counter struct {
	builds atomic.Int32
}

func (c *counter) build(ctx context.Context, rt wazero.Runtime, name string) (api.Module, error) {
	c.builds.Add(1)
	return rt.NewHostModuleBuilder(name).
		NewFunctionBuilder().
		WithFunc(func() uint32 { return 42 }).
		Export("answer").
		Instantiate(ctx)
}

func newRuntime(t *testing.T) wazero.Runtime {
	t.Helper()
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = rt.Close(ctx) })
	return rt
}

func TestAcquireShares(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	cache := NewCache(rt, diag.Options{Sink: diag.NewRecorder()})
	var c counter
	a, b := owner.New("a"), owner.New("b")

	ma, err := cache.Acquire(ctx, "env", a, c.build)
	require.NoError(t, err)
	mb, err := cache.Acquire(ctx, "env", b, c.build)
	require.NoError(t, err)

	assert.Same(t, ma, mb)
	assert.Equal(t, int32(1), c.builds.Load())
	assert.Equal(t, 3, ma.RefCount())

	res, err := ma.Call(ctx, "answer", answerSig)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, res)
}

var answerSig = Signature{Results: []api.ValueType{api.ValueTypeI32}}

func TestCallWithParams(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	cache := NewCache(rt, diag.Options{Sink: diag.NewRecorder()})
	o := owner.New("o")

	m, err := cache.Acquire(ctx, "math", o, func(ctx context.Context, rt wazero.Runtime, name string) (api.Module, error) {
		return rt.NewHostModuleBuilder(name).
			NewFunctionBuilder().
			WithFunc(func(a, b uint32) uint32 { return a + b }).
			Export("add").
			Instantiate(ctx)
	})
	require.NoError(t, err)

	sig := Signature{
		Params:  []api.ValueType{api.ValueTypeI32, api.ValueTypeI32},
		Results: []api.ValueType{api.ValueTypeI32},
	}
	for range 3 {
		res, err := m.Call(ctx, "add", sig, 2, 3)
		require.NoError(t, err)
		assert.Equal(t, []uint64{5}, res)
	}

	_, err = m.Call(ctx, "add", answerSig)
	assert.Error(t, err, "signature mismatch should fail to link")
	_, err = m.Call(ctx, "missing", answerSig)
	assert.Error(t, err)

	require.NoError(t, m.Release(o))
	assert.Nil(t, rt.Module("math"))
	_, err = m.Call(ctx, "add", sig, 2, 3)
	assert.ErrorIs(t, err, errors.ErrUseAfterClose)
}

func TestTrampolineEncoding(t *testing.T) {
	got := trampoline("env", "answer", answerSig)
	want := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
		0x02, 0x0e, 0x01, 0x03, 'e', 'n', 'v', 0x06, 'a', 'n', 's', 'w', 'e', 'r', 0x00, 0x00,
		0x03, 0x02, 0x01, 0x00,
		0x07, 0x0a, 0x01, 0x06, 'a', 'n', 's', 'w', 'e', 'r', 0x00, 0x01,
		0x0a, 0x06, 0x01, 0x04, 0x00, 0x10, 0x00, 0x0b,
	}
	assert.Equal(t, want, got)
	assert.Equal(t, []byte{0xe5, 0x8e, 0x26}, appendU32(nil, 624485))
}

func TestLastReleaseClosesModule(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	cache := NewCache(rt, diag.Options{Sink: diag.NewRecorder()})
	var c counter
	a, b := owner.New("a"), owner.New("b")

	m, err := cache.Acquire(ctx, "env", a, c.build)
	require.NoError(t, err)
	_, err = cache.Acquire(ctx, "env", b, c.build)
	require.NoError(t, err)

	require.NoError(t, cache.Release("env", a))
	assert.False(t, m.IsClosed())
	assert.NotNil(t, rt.Module("env"))

	require.NoError(t, m.Release(b))
	assert.True(t, m.IsClosed())
	assert.Equal(t, 0, m.RefCount())
	assert.Nil(t, rt.Module("env"))
	assert.Equal(t, 0, cache.Len())

	_, err = m.Module()
	assert.ErrorIs(t, err, errors.ErrUseAfterClose)

	err = cache.Release("env", a)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRebuildAfterRelease(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	cache := NewCache(rt, diag.Options{Sink: diag.NewRecorder()})
	var c counter
	o := owner.New("o")

	first, err := cache.Acquire(ctx, "env", o, c.build)
	require.NoError(t, err)
	require.NoError(t, first.Release(o))

	second, err := cache.Acquire(ctx, "env", o, c.build)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), c.builds.Load())
	assert.NotNil(t, rt.Module("env"))
}

func TestBuildError(t *testing.T) {
	rt := newRuntime(t)
	cache := NewCache(rt, diag.DefaultOptions())
	boom := stderrors.New("boom")

	_, err := cache.Acquire(context.Background(), "env", owner.New("o"),
		func(context.Context, wazero.Runtime, string) (api.Module, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.Len())
}

func TestTracingDoubleAcquire(t *testing.T) {
	ctx := context.Background()
	rec := diag.NewRecorder()
	rt := newRuntime(t)
	cache := NewCache(rt, diag.TracingOptions(rec))
	var c counter
	o := owner.New("o")

	_, err := cache.Acquire(ctx, "env", o, c.build)
	require.NoError(t, err)
	_, err = cache.Acquire(ctx, "env", o, c.build)
	assert.ErrorIs(t, err, errors.ErrOwnerViolation)
	assert.Equal(t, int32(1), c.builds.Load())
	assert.Len(t, rec.Warnings(), 1)
}

func TestCloseWarnsAboutHeldModules(t *testing.T) {
	ctx := context.Background()
	rec := diag.NewRecorder()
	rt := newRuntime(t)
	cache := NewCache(rt, diag.Options{Sink: rec})
	var c counter

	_, err := cache.Acquire(ctx, "env", owner.New("o"), c.build)
	require.NoError(t, err)

	require.NoError(t, cache.Close(ctx))
	assert.Nil(t, rt.Module("env"))
	assert.Equal(t, 0, cache.Len())

	warns := rec.Warnings()
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].Msg, "bridge env")
}

func TestConcurrentAcquireRelease(t *testing.T) {
	ctx := context.Background()
	rt := newRuntime(t)
	cache := NewCache(rt, diag.Options{Sink: diag.NewRecorder()})
	var c counter

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := owner.New("worker")
			for range 50 {
				m, err := cache.Acquire(ctx, "env", o, c.build)
				if !assert.NoError(t, err) {
					return
				}
				assert.NoError(t, m.Release(o))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, cache.Len())
	assert.Nil(t, rt.Module("env"))
}

func TestLogsThroughDiagLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := diag.Logger()
	diag.SetLogger(zap.New(core))
	t.Cleanup(func() { diag.SetLogger(prev) })

	ctx := context.Background()
	cache := NewCache(newRuntime(t), diag.Options{Sink: diag.NewRecorder()})
	var c counter
	o := owner.New("o")

	m, err := cache.Acquire(ctx, "env", o, c.build)
	require.NoError(t, err)
	require.NoError(t, m.Release(o))

	bridgeLogs := logs.FilterLoggerName("bridge")
	assert.Equal(t, 1, bridgeLogs.FilterMessage("bridge built").Len())
	assert.Equal(t, 1, bridgeLogs.FilterMessage("bridge closed").Len())
}
