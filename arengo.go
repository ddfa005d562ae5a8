package arengo

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hupe1980/arengo/internal/arena"
	"github.com/hupe1980/arengo/internal/handletable"
	"github.com/hupe1980/arengo/internal/maint"
	"github.com/hupe1980/arengo/resource"
)

// ArenaStats is a snapshot of one arena's allocation accounting.
type ArenaStats = arena.Stats

// TableStats is a snapshot of the handle table.
type TableStats = handletable.Stats

// Runtime owns the handle table, the root arena and the background
// workers. One Runtime per process is the intended shape; independent
// runtimes are fully isolated and exist mainly for tests.
type Runtime struct {
	opts      options
	table     *handletable.Table
	registry  *maint.Registry
	cleaner   *maint.Cleaner
	compactor *maint.Compactor
	ctrl      *resource.Controller
	logger    *Logger
	metrics   Collector
	root      *Arena
	closed    atomic.Bool
}

// New creates a Runtime, its root arena and (unless disabled) the
// background cleaner and compactor.
func New(opts ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	rt := &Runtime{
		opts:     o,
		table:    handletable.New(o.handlePageSize),
		registry: maint.NewRegistry(),
		logger:   o.logger,
		metrics:  o.metrics,
	}

	if o.resourceConfig != (resource.Config{}) {
		rt.ctrl = resource.NewController(o.resourceConfig)
	}

	rt.cleaner = maint.NewCleaner(rt.registry,
		maint.WithCleanerInterval(o.cleanerInterval),
		maint.WithCleanerLogger(rt.logger.Logger),
		maint.WithCleanerPassObserver(rt.metrics.RecordCleanerPass),
	)
	rt.compactor = maint.NewCompactor(rt.registry, rt.ctrl,
		maint.WithCompactorInterval(o.compactorInterval),
		maint.WithFragmentationThreshold(o.fragmentationThreshold),
		maint.WithCompactorLogger(rt.logger.Logger),
		maint.WithCompactorPassObserver(func(arenas, moved int, bytes int64, d time.Duration) {
			rt.metrics.RecordCompaction(arenas, moved, bytes, d)
		}),
	)

	arenaOpts := []arena.Option{
		arena.WithRetireHook(rt.cleaner.Retire),
	}
	if o.blockSize > 0 {
		arenaOpts = append(arenaOpts, arena.WithBlockSize(o.blockSize))
	}
	if rt.ctrl != nil {
		arenaOpts = append(arenaOpts, arena.WithAcquirer(rt.ctrl))
	}

	rootInner, err := arena.New(rt.table, nil, arenaOpts...)
	if err != nil {
		return nil, fmt.Errorf("arengo: create root arena: %w", err)
	}
	rt.registry.Register(rootInner)
	rt.root = &Arena{rt: rt, inner: rootInner}

	if o.background {
		rt.cleaner.Start()
		rt.compactor.Start()
	}

	rt.logger.Debug("runtime created",
		"block_size", o.blockSize,
		"background", o.background,
	)
	return rt, nil
}

// Root returns the root arena. It lives until Close and is the default
// parent for NewArena.
func (rt *Runtime) Root() *Arena { return rt.root }

// NewArena creates an arena under parent, or under the root arena when
// parent is nil. The arena inherits the runtime's block size, memory
// governor and teardown routing.
func (rt *Runtime) NewArena(parent *Arena) (*Arena, error) {
	if rt.closed.Load() {
		return nil, ErrClosed
	}

	p := rt.root.inner
	if parent != nil {
		p = parent.inner
	}

	inner, err := arena.New(rt.table, p)
	if err != nil {
		return nil, fmt.Errorf("arengo: create arena: %w", err)
	}
	rt.registry.Register(inner)
	return &Arena{rt: rt, inner: inner}, nil
}

// Flush runs one synchronous cleaner pass: retired arenas are torn down
// and dead slots recycled before it returns.
func (rt *Runtime) Flush() {
	rt.cleaner.Flush()
}

// Compact runs one synchronous compactor pass over all arenas above the
// fragmentation threshold.
func (rt *Runtime) Compact() {
	rt.compactor.Flush()
}

// RuntimeStats aggregates process-wide accounting.
type RuntimeStats struct {
	Table       TableStats
	Arenas      int
	MemoryUsage int64
}

// Stats returns a snapshot of runtime-wide accounting. MemoryUsage is zero
// when no memory limit is configured.
func (rt *Runtime) Stats() RuntimeStats {
	return RuntimeStats{
		Table:       rt.table.Stats(),
		Arenas:      rt.registry.Len(),
		MemoryUsage: rt.ctrl.MemoryUsage(),
	}
}

// Arena is a node in the arena tree. All methods are safe for concurrent
// use; handle misuse (stale handles, operations on a destroyed arena)
// panics as a code-generation defect.
type Arena struct {
	rt    *Runtime
	inner *arena.Arena
}

// ID returns the arena's process-unique id.
func (a *Arena) ID() uint64 { return a.inner.ID() }

// Alloc reserves size bytes in this arena and returns a handle to them.
// The bytes are zero-initialized.
func (a *Arena) Alloc(size int) (Handle, error) {
	return a.AllocContext(context.Background(), size)
}

// AllocContext allocates with a context bounding the wait for backing
// memory under a configured memory limit.
func (a *Arena) AllocContext(ctx context.Context, size int) (Handle, error) {
	start := time.Now()
	h, err := a.inner.AllocContext(ctx, size)
	err = translateError(err, size)
	a.rt.metrics.RecordAlloc(size, time.Since(start), err)
	return h, err
}

// AllocBytes allocates len(b) bytes and copies b into them.
func (a *Arena) AllocBytes(b []byte) (Handle, error) {
	h, err := a.Alloc(len(b))
	if err != nil {
		return Handle{}, err
	}
	buf := a.Pin(h)
	copy(buf, b)
	a.Unpin(h)
	return h, nil
}

// Pin resolves h and returns its current backing bytes. The value cannot
// be relocated until the matching Unpin.
func (a *Arena) Pin(h Handle) []byte {
	return a.inner.Pin(h)
}

// Unpin releases a pin taken with Pin.
func (a *Arena) Unpin(h Handle) {
	a.inner.Unpin(h)
}

// PinPermanent pins h for the remaining lifetime of its arena. The
// compactor will never move it; the returned slice stays valid until the
// owning arena is destroyed.
func (a *Arena) PinPermanent(h Handle) []byte {
	return a.inner.PinPermanent(h)
}

// Promote copies the value behind h into dest and returns the new handle.
// dest must be a proper ancestor of this arena; h becomes stale.
func (a *Arena) Promote(dest *Arena, h Handle) (Handle, error) {
	start := time.Now()
	nh, err := a.inner.Promote(dest.inner, h)
	err = translateError(err, 0)

	var bytes int
	if err == nil {
		bytes = a.inner.Table().Resolve(nh).Size()
	}
	a.rt.metrics.RecordPromote(bytes, time.Since(start), err)
	return nh, err
}

// RegisterCleanup schedules fn to run when the arena is destroyed.
// Callbacks run in ascending priority order; a failing or panicking
// callback is logged and does not stop the others.
func (a *Arena) RegisterCleanup(name string, priority int, fn func() error) {
	a.inner.RegisterCleanup(name, priority, fn)
}

// Destroy invalidates every handle owned by this arena and its
// non-detached children immediately. Cleanup callbacks, block unmapping
// and slot recycling run on the background cleaner; use Runtime.Flush to
// wait for them.
func (a *Arena) Destroy() {
	a.inner.Destroy()
}

// Destroyed reports whether the arena has been destroyed.
func (a *Arena) Destroyed() bool {
	return a.inner.Destroyed()
}

// Stats returns the arena's allocation accounting.
func (a *Arena) Stats() ArenaStats {
	return a.inner.Stats()
}

// Fragmentation returns the dead-byte ratio of the arena's blocks.
func (a *Arena) Fragmentation() float64 {
	return a.inner.Fragmentation()
}

func (a *Arena) String() string {
	return a.inner.String()
}
