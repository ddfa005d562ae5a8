package handletable

import (
	"runtime"
	"sync/atomic"
)

// Packed state word layout:
//
//	bits 0..29  pin count
//	bit 30      relocating (compactor owns the data)
//	bit 31      dead
//	bit 32      permanently pinned (never relocatable)
const (
	pinMask        = 1<<30 - 1
	flagRelocating = 1 << 30
	flagDead       = 1 << 31
	flagPermanent  = 1 << 32
)

// Location is an immutable snapshot of where an entry's data currently
// lives. The compactor publishes a new Location atomically; it never
// mutates one in place.
type Location struct {
	// Data is a subslice of a backing block, len(Data) == allocation size.
	Data []byte
	// Block is an owner-defined tag identifying the backing block the data
	// lives in. Opaque to the table; arenas use it for per-block liveness
	// accounting.
	Block uint32
}

// Entry is a single handle table slot.
type Entry struct {
	loc   atomic.Pointer[Location]
	state atomic.Uint64
	gen   atomic.Uint32
	owner atomic.Uint64 // Owning arena id, for diagnostics and dumps
}

// reset prepares a claimed entry: live, unpinned, no location.
func (e *Entry) reset(owner uint64) {
	e.loc.Store(nil)
	e.state.Store(0)
	e.owner.Store(owner)
}

// SetLocation installs the entry's initial data location after allocation.
func (e *Entry) SetLocation(data []byte, block uint32) {
	e.loc.Store(&Location{Data: data, Block: block})
}

// Pin increments the pin count and returns the current data slice. The
// slice is stable only until the matching Unpin. Pinning a dead entry is a
// code-generation defect and panics.
func (e *Entry) Pin() []byte {
	for {
		s := e.state.Load()
		if s&flagDead != 0 {
			panic("handletable: pin of dead handle (use after arena destruction)")
		}
		if s&flagRelocating != 0 {
			// The compactor is moving this entry; the window is a single
			// memmove, so spinning is cheaper than parking.
			runtime.Gosched()
			continue
		}
		if e.state.CompareAndSwap(s, s+1) {
			return e.loc.Load().Data
		}
	}
}

// Unpin decrements the pin count. Unpin without a matching pin is a
// code-generation defect and panics.
func (e *Entry) Unpin() {
	for {
		s := e.state.Load()
		if s&pinMask == 0 {
			panic("handletable: unpin without matching pin")
		}
		if e.state.CompareAndSwap(s, s-1) {
			return
		}
	}
}

// PinPermanent marks the entry's data as never relocatable and returns it.
// Used for resources wrapping raw OS objects that cannot be copied.
func (e *Entry) PinPermanent() []byte {
	for {
		s := e.state.Load()
		if s&flagDead != 0 {
			panic("handletable: permanent pin of dead handle")
		}
		if s&flagRelocating != 0 {
			runtime.Gosched()
			continue
		}
		if e.state.CompareAndSwap(s, s|flagPermanent) {
			return e.loc.Load().Data
		}
	}
}

// Kill marks the entry dead. Idempotent; reports whether this call
// transitioned the entry from live to dead.
func (e *Entry) Kill() bool {
	for {
		s := e.state.Load()
		if s&flagDead != 0 {
			return false
		}
		if e.state.CompareAndSwap(s, s|flagDead) {
			return true
		}
	}
}

// Alive reports whether the entry is live.
func (e *Entry) Alive() bool {
	return e.state.Load()&flagDead == 0
}

// Pinned reports whether the entry currently has any pins (including a
// permanent pin).
func (e *Entry) Pinned() bool {
	s := e.state.Load()
	return s&pinMask != 0 || s&flagPermanent != 0
}

// Size returns the entry's allocation size in bytes, or 0 if it has no
// location installed.
func (e *Entry) Size() int {
	loc := e.loc.Load()
	if loc == nil {
		return 0
	}
	return len(loc.Data)
}

// Owner returns the owning arena id recorded at claim time.
func (e *Entry) Owner() uint64 { return e.owner.Load() }

// SetOwner records a new owning arena id. Only used on promotion.
func (e *Entry) SetOwner(owner uint64) { e.owner.Store(owner) }

// BeginRelocate attempts to take relocation ownership of the entry. It
// succeeds only if the entry is live, unpinned, not permanently pinned and
// not already relocating.
func (e *Entry) BeginRelocate() bool {
	s := e.state.Load()
	if s&pinMask != 0 || s&(flagDead|flagPermanent|flagRelocating) != 0 {
		return false
	}
	return e.state.CompareAndSwap(s, s|flagRelocating)
}

// CompleteRelocate publishes the new location and releases relocation
// ownership. The swap is atomic: pinners spinning on the relocating bit can
// only ever observe the new site afterwards.
func (e *Entry) CompleteRelocate(data []byte, block uint32) {
	e.loc.Store(&Location{Data: data, Block: block})
	e.endRelocate()
}

// AbortRelocate releases relocation ownership without moving the data.
func (e *Entry) AbortRelocate() {
	e.endRelocate()
}

func (e *Entry) endRelocate() {
	for {
		s := e.state.Load()
		if s&flagRelocating == 0 {
			panic("handletable: relocation release without ownership")
		}
		if e.state.CompareAndSwap(s, s&^uint64(flagRelocating)) {
			return
		}
	}
}

// Location returns the current location snapshot, or nil if none is
// installed. Same safety caveats as Data.
func (e *Entry) Location() *Location {
	return e.loc.Load()
}

// Data returns the current data slice without pinning. Only safe for
// callers that serialize against relocation by other means (the cleaner on
// retired arenas, diagnostics on a quiesced runtime).
func (e *Entry) Data() []byte {
	loc := e.loc.Load()
	if loc == nil {
		return nil
	}
	return loc.Data
}
