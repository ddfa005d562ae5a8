package arengo

import (
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/s2"
)

// WriteHeapDump writes an s2-compressed plain-text snapshot of runtime
// accounting to w: handle-table totals, resource usage and per-arena block
// statistics. The dump is diagnostic output only; nothing in it can be
// loaded back.
func (rt *Runtime) WriteHeapDump(w io.Writer) error {
	if rt.closed.Load() {
		return ErrClosed
	}

	enc := s2.NewWriter(w)

	ts := rt.table.Stats()
	fmt.Fprintf(enc, "arengo heap dump %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(enc, "table: claimed=%d recycled=%d live=%d pages=%d\n",
		ts.Claimed, ts.Recycled, ts.Live, ts.Pages)
	fmt.Fprintf(enc, "memory: used=%d\n", rt.ctrl.MemoryUsage())

	arenas := rt.registry.Snapshot()
	fmt.Fprintf(enc, "arenas: %d\n", len(arenas))
	for _, a := range arenas {
		if a.Destroyed() {
			continue
		}
		s := a.Stats()
		fmt.Fprintf(enc, "  %s reserved=%d used=%d live=%d allocs=%d promotions=%d frag=%.3f\n",
			a, s.BytesReserved, s.BytesUsed, s.BytesLive, s.TotalAllocs, s.Promotions, a.Fragmentation())
	}

	if err := enc.Close(); err != nil {
		return fmt.Errorf("arengo: write heap dump: %w", err)
	}
	return nil
}
