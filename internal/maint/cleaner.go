package maint

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/arengo/internal/arena"
)

// DefaultCleanerInterval is the default delay between cleaner passes.
const DefaultCleanerInterval = 10 * time.Millisecond

// Cleaner is the process-wide background worker reclaiming dead handle
// slots and tearing down retired arenas.
type Cleaner struct {
	registry *Registry
	logger   *slog.Logger
	interval time.Duration

	// onPass, if set, observes each completed pass (metrics hook).
	onPass func(retired, recycled int, d time.Duration)

	mu      sync.Mutex
	retired []*arena.Arena

	wake    chan struct{}
	flushCh chan chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithCleanerInterval sets the pass interval.
func WithCleanerInterval(d time.Duration) CleanerOption {
	return func(c *Cleaner) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithCleanerLogger sets the logger for cleanup failures.
func WithCleanerLogger(l *slog.Logger) CleanerOption {
	return func(c *Cleaner) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithCleanerPassObserver registers a metrics hook invoked after each pass.
func WithCleanerPassObserver(fn func(retired, recycled int, d time.Duration)) CleanerOption {
	return func(c *Cleaner) {
		c.onPass = fn
	}
}

// NewCleaner creates a cleaner serving the given registry.
func NewCleaner(registry *Registry, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		registry: registry,
		logger:   slog.Default(),
		interval: DefaultCleanerInterval,
		wake:     make(chan struct{}, 1),
		flushCh:  make(chan chan struct{}),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the background goroutine. Idempotent.
func (c *Cleaner) Start() {
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

// Retire hands a destroyed arena to the cleaner for teardown. The arena's
// handles are already invalidated; only callbacks, blocks and slot
// recycling remain.
func (c *Cleaner) Retire(a *arena.Arena) {
	c.registry.Unregister(a)

	c.mu.Lock()
	c.retired = append(c.retired, a)
	started := c.started
	c.mu.Unlock()

	if !started {
		// No worker running (test isolation); tear down inline.
		c.runPass()
		return
	}

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Flush runs a full pass synchronously on the worker goroutine and returns
// once every previously retired arena is torn down. For deterministic
// tests and shutdown.
func (c *Cleaner) Flush() {
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
	case <-c.stopCh:
		c.runPass()
	}
}

// Stop terminates the worker after a final pass. Idempotent.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
}

func (c *Cleaner) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			c.runPass()
			return
		case <-c.wake:
		case <-ticker.C:
		case ack := <-c.flushCh:
			c.runPass()
			close(ack)
			continue
		}
		c.runPass()
	}
}

// runPass tears down retired arenas and recycles dead slots of live ones.
func (c *Cleaner) runPass() {
	start := time.Now()

	c.mu.Lock()
	retired := c.retired
	c.retired = nil
	c.mu.Unlock()

	for _, a := range retired {
		a.Teardown(c.logCleanupFailure)
	}

	recycled := 0
	for _, a := range c.registry.Snapshot() {
		slots := a.DrainDeadSlots()
		for _, slot := range slots {
			a.Table().Release(slot)
		}
		recycled += len(slots)
	}

	if c.onPass != nil {
		c.onPass(len(retired), recycled, time.Since(start))
	}
}

// logCleanupFailure reports a failing callback without aborting the pass.
func (c *Cleaner) logCleanupFailure(f arena.CleanupFailure) {
	c.logger.Error("cleanup callback failed",
		"arena", f.Arena,
		"resource", f.Resource,
		"priority", f.Priority,
		"error", f.Err,
	)
}
