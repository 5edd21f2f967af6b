// Package bridge shares wazero modules between owners.
//
// A Cache instantiates a module the first time an owner acquires it by name
// and hands the same instance to later owners. Each module is a
// release-on-one refcounted.Resource: the cache holds the implicit
// reservation, and when the last owner releases the module is closed and
// its name freed in the runtime, so the next Acquire builds it again.
//
//	cache := bridge.NewCache(rt, diag.DefaultOptions())
//	m, err := cache.Acquire(ctx, "env", o, buildEnv)
//	...
//	err = m.Release(o)
package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/lifecycle/diag"
	"github.com/wippyai/lifecycle/errors"
	"github.com/wippyai/lifecycle/owner"
	"github.com/wippyai/lifecycle/refcounted"
)

// ErrNotFound is returned when releasing a name the cache does not hold.
var ErrNotFound = stderrors.New("bridge module not found")

// Builder instantiates the module registered under name in rt.
type Builder func(ctx context.Context, rt wazero.Runtime, name string) (api.Module, error)

// Module is a shared, reference-counted wazero module.
type Module struct {
	*refcounted.Resource
	rt   wazero.Runtime
	mod  api.Module
	name string
}

// Name returns the module name in the runtime.
func (m *Module) Name() string {
	return m.name
}

// Module returns the underlying wazero module, failing once it was released.
func (m *Module) Module() (api.Module, error) {
	if err := m.CheckIsNotClosed(); err != nil {
		return nil, err
	}
	return m.mod, nil
}

func logger() *zap.Logger {
	return diag.Logger().Named("bridge")
}

// Cache holds shared modules of one wazero runtime. It does not close the
// runtime.
type Cache struct {
	rt      wazero.Runtime
	modules map[string]*Module
	opts    diag.Options
	mu      sync.Mutex
}

// NewCache creates an empty cache over rt.
func NewCache(rt wazero.Runtime, opts diag.Options) *Cache {
	return &Cache{
		rt:      rt,
		modules: make(map[string]*Module),
		opts:    opts,
	}
}

// Acquire reserves the module called name for o, building it with build if
// the cache does not hold a live instance.
func (c *Cache) Acquire(ctx context.Context, name string, o *owner.Owner, build Builder) (*Module, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.modules[name]; ok {
		err := m.Reserve(o)
		if err == nil {
			logger().Debug("bridge reserved",
				zap.String("module", name),
				zap.Stringer("owner", o),
				zap.Int("refs", m.RefCount()))
			return m, nil
		}
		if !stderrors.Is(err, errors.ErrAlreadyReleased) {
			return nil, err
		}
		// fully released but teardown is still waiting for the lock
		_ = m.mod.Close(ctx)
		delete(c.modules, name)
	}

	mod, err := build(ctx, c.rt, name)
	if err != nil {
		return nil, fmt.Errorf("build bridge %q: %w", name, err)
	}

	m := &Module{rt: c.rt, mod: mod, name: name}
	m.Resource = refcounted.NewReleaseOnOne(c.opts, "bridge "+name, func() error {
		return c.teardown(m)
	})
	if err := m.Reserve(o); err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	c.modules[name] = m

	logger().Debug("bridge built", zap.String("module", name), zap.Stringer("owner", o))
	return m, nil
}

// Release drops o's reservation on the module called name.
func (c *Cache) Release(name string, o *owner.Owner) error {
	m, ok := c.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return m.Release(o)
}

// Get returns the live module called name without reserving it.
func (c *Cache) Get(name string) (*Module, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.modules[name]
	return m, ok
}

// Len returns the number of cached modules.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.modules)
}

// Close closes every cached module regardless of outstanding reservations,
// warning about those still held.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	modules := c.modules
	c.modules = make(map[string]*Module)
	c.mu.Unlock()

	var err error
	for name, m := range modules {
		if m.RefCount() > 1 {
			m.WarnIfNotReleased()
		}
		if cerr := m.mod.Close(ctx); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close bridge %q: %w", name, cerr))
		}
	}
	return err
}

// teardown closes the module under the cache lock so its name is free in
// the runtime before another Acquire can rebuild it.
func (c *Cache) teardown(m *Module) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.modules[m.name]; ok && cur == m {
		delete(c.modules, m.name)
	}
	logger().Debug("bridge closed", zap.String("module", m.name))
	return m.mod.Close(context.Background())
}
