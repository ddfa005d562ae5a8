package maint

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/arengo/internal/arena"
	"github.com/hupe1980/arengo/resource"
)

const (
	// DefaultCompactorInterval is the default delay between compactor passes.
	DefaultCompactorInterval = 50 * time.Millisecond
	// DefaultFragmentationThreshold is the dead-byte fraction above which
	// an arena is compacted.
	DefaultFragmentationThreshold = 0.25
)

// Compactor is the process-wide background worker relocating live,
// unpinned data out of fragmented blocks.
type Compactor struct {
	registry  *Registry
	ctrl      *resource.Controller
	logger    *slog.Logger
	interval  time.Duration
	threshold float64
	fanout    int

	// onPass, if set, observes each completed pass (metrics hook).
	onPass func(arenas, moved int, bytes int64, d time.Duration)

	ctx     context.Context
	cancel  context.CancelFunc
	flushCh chan chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// WithCompactorInterval sets the pass interval.
func WithCompactorInterval(d time.Duration) CompactorOption {
	return func(c *Compactor) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithFragmentationThreshold sets the dead-byte fraction above which an
// arena is compacted.
func WithFragmentationThreshold(threshold float64) CompactorOption {
	return func(c *Compactor) {
		if threshold > 0 && threshold <= 1 {
			c.threshold = threshold
		}
	}
}

// WithCompactorLogger sets the logger.
func WithCompactorLogger(l *slog.Logger) CompactorOption {
	return func(c *Compactor) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCompactorFanout caps the number of arenas compacted in parallel per
// pass. Defaults to GOMAXPROCS.
func WithCompactorFanout(n int) CompactorOption {
	return func(c *Compactor) {
		if n > 0 {
			c.fanout = n
		}
	}
}

// WithCompactorPassObserver registers a metrics hook invoked after each pass.
func WithCompactorPassObserver(fn func(arenas, moved int, bytes int64, d time.Duration)) CompactorOption {
	return func(c *Compactor) {
		c.onPass = fn
	}
}

// NewCompactor creates a compactor serving the given registry. ctrl may be
// nil (no throughput pacing, no background slot accounting).
func NewCompactor(registry *Registry, ctrl *resource.Controller, opts ...CompactorOption) *Compactor {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Compactor{
		registry:  registry,
		ctrl:      ctrl,
		logger:    slog.Default(),
		interval:  DefaultCompactorInterval,
		threshold: DefaultFragmentationThreshold,
		fanout:    runtime.GOMAXPROCS(0),
		ctx:       ctx,
		cancel:    cancel,
		flushCh:   make(chan chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the background goroutine. Idempotent.
func (c *Compactor) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.loop()
}

// Flush runs one pass synchronously. For deterministic tests.
func (c *Compactor) Flush() {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		c.runPass()
		return
	}

	ack := make(chan struct{})
	select {
	case c.flushCh <- ack:
		<-ack
	case <-c.ctx.Done():
		c.runPass()
	}
}

// Stop terminates the worker. In-flight relocations complete; pending ones
// are abandoned for the next process lifetime that never comes. Idempotent.
func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Compactor) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.runPass()
		case ack := <-c.flushCh:
			c.runPass()
			close(ack)
		}
	}
}

// runPass compacts every registered arena above the fragmentation
// threshold, fanning out across arenas with a bounded errgroup.
func (c *Compactor) runPass() {
	start := time.Now()

	var candidates []*arena.Arena
	for _, a := range c.registry.Snapshot() {
		if a.Destroyed() {
			continue
		}
		if a.Fragmentation() >= c.threshold {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		return
	}

	var (
		mu         sync.Mutex
		totalMoved int
		totalBytes int64
	)

	g, ctx := errgroup.WithContext(c.ctx)
	g.SetLimit(c.fanout)

	for _, a := range candidates {
		a := a
		g.Go(func() error {
			if err := c.ctrl.AcquireBackground(ctx); err != nil {
				return err
			}
			defer c.ctrl.ReleaseBackground()

			moved, bytes, err := a.CompactPass(ctx, c.ctrl.AcquireCopy)
			if err != nil {
				return err
			}

			mu.Lock()
			totalMoved += moved
			totalBytes += bytes
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil && c.ctx.Err() == nil {
		c.logger.Warn("compaction pass aborted", "error", err)
	}

	if totalMoved > 0 {
		c.logger.Debug("compaction pass completed",
			"arenas", len(candidates),
			"moved", totalMoved,
			"bytes", totalBytes,
			"duration", time.Since(start),
		)
	}

	if c.onPass != nil {
		c.onPass(len(candidates), totalMoved, totalBytes, time.Since(start))
	}
}
