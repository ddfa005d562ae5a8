package arengo

import (
	"sync/atomic"
	"time"
)

// Collector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    allocCounter    prometheus.Counter
//	    spawnCounter    *prometheus.CounterVec
//	}
//
//	func (p *PrometheusCollector) RecordAlloc(size int, duration time.Duration, err error) {
//	    p.allocCounter.Inc()
//	    // ... record error state, duration, etc.
//	}
type Collector interface {
	// RecordAlloc is called after each allocation.
	// size is the requested byte count, err is nil if successful.
	RecordAlloc(size int, duration time.Duration, err error)

	// RecordPromote is called after each promotion attempt.
	// bytes is the payload size copied, err is nil if successful.
	RecordPromote(bytes int, duration time.Duration, err error)

	// RecordSpawn is called when a thread is spawned.
	RecordSpawn(mode Mode)

	// RecordSync is called after a pending result is synced.
	// panicked reports whether the spawned work failed.
	RecordSync(duration time.Duration, panicked bool)

	// RecordCompaction is called after each compactor pass.
	// arenas is the number of arenas compacted, moved the number of
	// relocated values, bytes the total payload moved.
	RecordCompaction(arenas, moved int, bytes int64, duration time.Duration)

	// RecordCleanerPass is called after each cleaner pass.
	// retired is the number of arenas torn down, recycled the number of
	// handle slots returned to the free list.
	RecordCleanerPass(retired, recycled int, duration time.Duration)
}

// NoopCollector is a no-op implementation of Collector.
// Use this when metrics collection is not needed.
type NoopCollector struct{}

func (NoopCollector) RecordAlloc(int, time.Duration, error)             {}
func (NoopCollector) RecordPromote(int, time.Duration, error)           {}
func (NoopCollector) RecordSpawn(Mode)                                  {}
func (NoopCollector) RecordSync(time.Duration, bool)                    {}
func (NoopCollector) RecordCompaction(int, int, int64, time.Duration)   {}
func (NoopCollector) RecordCleanerPass(int, int, time.Duration)         {}

// BasicCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicCollector struct {
	AllocCount      atomic.Int64
	AllocErrors     atomic.Int64
	AllocBytes      atomic.Int64
	AllocTotalNanos atomic.Int64
	PromoteCount    atomic.Int64
	PromoteErrors   atomic.Int64
	PromoteBytes    atomic.Int64
	SpawnCount      atomic.Int64
	SyncCount       atomic.Int64
	SyncPanics      atomic.Int64
	CompactPasses   atomic.Int64
	CompactMoved    atomic.Int64
	CompactBytes    atomic.Int64
	CleanerPasses   atomic.Int64
	CleanerRetired  atomic.Int64
	CleanerRecycled atomic.Int64
}

// RecordAlloc implements Collector.
func (b *BasicCollector) RecordAlloc(size int, duration time.Duration, err error) {
	b.AllocCount.Add(1)
	b.AllocTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AllocErrors.Add(1)
		return
	}
	b.AllocBytes.Add(int64(size))
}

// RecordPromote implements Collector.
func (b *BasicCollector) RecordPromote(bytes int, duration time.Duration, err error) {
	b.PromoteCount.Add(1)
	if err != nil {
		b.PromoteErrors.Add(1)
		return
	}
	b.PromoteBytes.Add(int64(bytes))
}

// RecordSpawn implements Collector.
func (b *BasicCollector) RecordSpawn(Mode) {
	b.SpawnCount.Add(1)
}

// RecordSync implements Collector.
func (b *BasicCollector) RecordSync(duration time.Duration, panicked bool) {
	b.SyncCount.Add(1)
	if panicked {
		b.SyncPanics.Add(1)
	}
}

// RecordCompaction implements Collector.
func (b *BasicCollector) RecordCompaction(arenas, moved int, bytes int64, duration time.Duration) {
	b.CompactPasses.Add(1)
	b.CompactMoved.Add(int64(moved))
	b.CompactBytes.Add(bytes)
}

// RecordCleanerPass implements Collector.
func (b *BasicCollector) RecordCleanerPass(retired, recycled int, duration time.Duration) {
	b.CleanerPasses.Add(1)
	b.CleanerRetired.Add(int64(retired))
	b.CleanerRecycled.Add(int64(recycled))
}

// BasicStats is a snapshot of a BasicCollector.
type BasicStats struct {
	AllocCount      int64
	AllocErrors     int64
	AllocBytes      int64
	AllocAvgNanos   int64
	PromoteCount    int64
	PromoteErrors   int64
	PromoteBytes    int64
	SpawnCount      int64
	SyncCount       int64
	SyncPanics      int64
	CompactPasses   int64
	CompactMoved    int64
	CompactBytes    int64
	CleanerPasses   int64
	CleanerRetired  int64
	CleanerRecycled int64
}

// GetStats returns a snapshot of current metrics.
func (b *BasicCollector) GetStats() BasicStats {
	s := BasicStats{
		AllocCount:      b.AllocCount.Load(),
		AllocErrors:     b.AllocErrors.Load(),
		AllocBytes:      b.AllocBytes.Load(),
		PromoteCount:    b.PromoteCount.Load(),
		PromoteErrors:   b.PromoteErrors.Load(),
		PromoteBytes:    b.PromoteBytes.Load(),
		SpawnCount:      b.SpawnCount.Load(),
		SyncCount:       b.SyncCount.Load(),
		SyncPanics:      b.SyncPanics.Load(),
		CompactPasses:   b.CompactPasses.Load(),
		CompactMoved:    b.CompactMoved.Load(),
		CompactBytes:    b.CompactBytes.Load(),
		CleanerPasses:   b.CleanerPasses.Load(),
		CleanerRetired:  b.CleanerRetired.Load(),
		CleanerRecycled: b.CleanerRecycled.Load(),
	}
	if s.AllocCount > 0 {
		s.AllocAvgNanos = b.AllocTotalNanos.Load() / s.AllocCount
	}
	return s
}
