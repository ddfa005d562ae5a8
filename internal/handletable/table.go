package handletable

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
)

const (
	// DefaultPageSize is the default number of entries per table page.
	DefaultPageSize = 4096
	// MaxPages limits the number of pages to bound table metadata.
	// With the default page size this allows 64M live handles.
	MaxPages = 16384
)

// Handle identifies an allocation. The slot is stable for the allocation's
// lifetime; the generation detects use of a recycled slot.
type Handle struct {
	Slot uint32
	Gen  uint32
}

// IsZero reports whether h is the zero (invalid) handle.
func (h Handle) IsZero() bool { return h.Gen == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("Handle{slot: %d, gen: %d}", h.Slot, h.Gen)
}

// Stats tracks handle table usage.
type Stats struct {
	Claimed  uint64 // Historical: total slots ever claimed
	Recycled uint64 // Historical: total slots returned to the free set
	Live     uint64 // Current: claimed minus recycled
	Pages    uint64 // Current: allocated pages
}

type atomicStats struct {
	Claimed  atomic.Uint64
	Recycled atomic.Uint64
	Pages    atomic.Uint64
}

type page struct {
	entries []Entry
}

// Table is the paged handle table.
type Table struct {
	pageSize int
	pageBits int
	pageMask uint32

	pages     [MaxPages]atomic.Pointer[page] // Fixed-size array; Resolve is lock-free
	pageCount atomic.Uint32

	mu   sync.Mutex      // Serializes slot claims/releases and page growth
	free *roaring.Bitmap // Recycled slots available for reuse (under mu)
	next uint32          // Next never-used slot (under mu)

	stats atomicStats
}

// New creates a table with the given page size (entries per page).
// A non-positive or non-power-of-two size is rounded up to the default.
func New(pageSize int) *Table {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		pageSize = DefaultPageSize
	}

	pageBits := 0
	for 1<<pageBits < pageSize {
		pageBits++
	}

	return &Table{
		pageSize: pageSize,
		pageBits: pageBits,
		pageMask: uint32(pageSize - 1),
		free:     roaring.New(),
	}
}

// Claim reserves a slot and returns a fresh handle owned by the given arena.
// The entry starts live, unpinned and with no location; the caller installs
// the location before publishing the handle.
func (t *Table) Claim(owner uint64) (Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var slot uint32
	if !t.free.IsEmpty() {
		slot = t.free.Minimum()
		t.free.Remove(slot)
	} else {
		slot = t.next
		t.next++
	}

	e, err := t.entryForClaim(slot)
	if err != nil {
		return Handle{}, err
	}

	e.reset(owner)
	t.stats.Claimed.Add(1)
	return Handle{Slot: slot, Gen: e.gen.Load()}, nil
}

// Release returns a dead slot to the free set and bumps its generation so
// any outstanding handle to it becomes detectably stale. Called only by the
// cleaner once the owning arena has retired the slot.
func (t *Table) Release(slot uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entry(slot)
	if e == nil {
		panic(fmt.Sprintf("handletable: release of unknown slot %d", slot))
	}
	if e.state.Load()&flagDead == 0 {
		panic(fmt.Sprintf("handletable: release of live slot %d", slot))
	}

	e.gen.Add(1)
	e.loc.Store(nil)
	t.free.Add(slot)
	t.stats.Recycled.Add(1)
}

// Resolve returns the entry for a handle. A stale or out-of-range handle is
// a code-generation defect and panics.
func (t *Table) Resolve(h Handle) *Entry {
	e := t.entry(h.Slot)
	if e == nil {
		panic(fmt.Sprintf("handletable: %s out of range", h))
	}
	if e.gen.Load() != h.Gen {
		panic(fmt.Sprintf("handletable: stale %s (current gen %d)", h, e.gen.Load()))
	}
	return e
}

// Peek returns the entry for a slot without generation checking. Reserved
// for the slot's owning arena and the cleaner, which track ownership out of
// band; everything else must go through Resolve.
func (t *Table) Peek(slot uint32) *Entry {
	e := t.entry(slot)
	if e == nil {
		panic(fmt.Sprintf("handletable: peek of unknown slot %d", slot))
	}
	return e
}

// entry returns the entry for slot, or nil if its page was never allocated.
// Lock-free: pages are only appended, never removed or moved.
func (t *Table) entry(slot uint32) *Entry {
	pageIdx := slot >> t.pageBits
	if pageIdx >= t.pageCount.Load() {
		return nil
	}
	p := t.pages[pageIdx].Load()
	if p == nil {
		return nil
	}
	return &p.entries[slot&t.pageMask]
}

// entryForClaim returns the entry for slot, growing the page array as needed.
// Caller holds mu.
func (t *Table) entryForClaim(slot uint32) (*Entry, error) {
	pageIdx := slot >> t.pageBits

	for pageIdx >= t.pageCount.Load() {
		idx := t.pageCount.Load()
		if idx >= MaxPages {
			return nil, fmt.Errorf("handletable: max pages exceeded (%d)", MaxPages)
		}

		p := &page{entries: make([]Entry, t.pageSize)}
		// Generation 0 marks an invalid handle, so entries start at 1.
		for i := range p.entries {
			p.entries[i].gen.Store(1)
			p.entries[i].state.Store(flagDead)
		}

		t.pages[idx].Store(p)
		// Must be ordered after the page store so lock-free readers that
		// observe the new count also observe the page pointer.
		t.pageCount.Add(1)
		t.stats.Pages.Add(1)
	}

	return t.entry(slot), nil
}

// Stats returns current table statistics.
func (t *Table) Stats() Stats {
	claimed := t.stats.Claimed.Load()
	recycled := t.stats.Recycled.Load()
	return Stats{
		Claimed:  claimed,
		Recycled: recycled,
		Live:     claimed - recycled,
		Pages:    t.stats.Pages.Load(),
	}
}
