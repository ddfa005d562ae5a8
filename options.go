package arengo

import (
	"time"

	"github.com/hupe1980/arengo/internal/maint"
	"github.com/hupe1980/arengo/resource"
)

type options struct {
	logger                 *Logger
	metrics                Collector
	blockSize              int
	handlePageSize         int
	cleanerInterval        time.Duration
	compactorInterval      time.Duration
	fragmentationThreshold float64
	resourceConfig         resource.Config
	background             bool
}

func defaultOptions() options {
	return options{
		logger:                 NoopLogger(),
		metrics:                NoopCollector{},
		cleanerInterval:        maint.DefaultCleanerInterval,
		compactorInterval:      maint.DefaultCompactorInterval,
		fragmentationThreshold: maint.DefaultFragmentationThreshold,
		background:             true,
	}
}

// Option configures Runtime construction.
type Option func(*options)

// WithLogger configures structured logging for runtime operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetrics configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicCollector:
//
//	metrics := &arengo.BasicCollector{}
//	rt, _ := arengo.New(arengo.WithMetrics(metrics))
//	// ... use rt ...
//	stats := metrics.GetStats()
func WithMetrics(c Collector) Option {
	return func(o *options) {
		if c == nil {
			c = NoopCollector{}
		}
		o.metrics = c
	}
}

// WithBlockSize sets the backing block size for arenas. Arenas inherit the
// size from the runtime unless overridden per arena. Values <= 0 keep the
// default.
func WithBlockSize(size int) Option {
	return func(o *options) {
		o.blockSize = size
	}
}

// WithHandlePageSize sets the handle-table page size. Rounded to the
// default when not a power of two.
func WithHandlePageSize(size int) Option {
	return func(o *options) {
		o.handlePageSize = size
	}
}

// WithCleanerInterval sets the period of background cleaner passes.
func WithCleanerInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.cleanerInterval = d
		}
	}
}

// WithCompactorInterval sets the period of background compactor passes.
func WithCompactorInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.compactorInterval = d
		}
	}
}

// WithFragmentationThreshold sets the dead-byte ratio above which an arena
// becomes a compaction candidate. Clamped to [0, 1].
func WithFragmentationThreshold(threshold float64) Option {
	return func(o *options) {
		o.fragmentationThreshold = threshold
	}
}

// WithResourceConfig configures memory, worker and copy-rate limits.
// The zero Config disables all limits.
func WithResourceConfig(cfg resource.Config) Option {
	return func(o *options) {
		o.resourceConfig = cfg
	}
}

// WithoutBackgroundWorkers disables the cleaner and compactor goroutines.
// Teardown then runs inline on Destroy and compaction only via explicit
// runtime calls. Intended for tests that need deterministic scheduling.
func WithoutBackgroundWorkers() Option {
	return func(o *options) {
		o.background = false
	}
}
