package arena

import (
	"sync/atomic"

	"github.com/hupe1980/arengo/internal/mmap"
)

// block is a fixed-capacity backing store segment owned by exactly one
// arena. Allocation bump-allocates with an atomic CAS; the block never
// shrinks, it is unmapped wholesale when the arena is destroyed or when the
// compactor finds it fully dead.
type block struct {
	data    []byte
	mapping *mmap.Mapping
	index   uint32       // Index of this block in the arena
	off     atomic.Int64 // Bump pointer - accessed concurrently without locks
	live    atomic.Int64 // Live bytes; decremented as handles die or move away
	freed   atomic.Bool  // Set when the compactor unmaps the block early
}

// tryAlloc reserves alignedSize bytes and returns the payload slice of
// length size, or false if the block is exhausted. The live count is
// reserved before the bump CAS so a block whose live count reads zero
// after it was sealed provably has no allocation in flight.
func (b *block) tryAlloc(size, alignedSize int) ([]byte, bool) {
	for {
		old := b.off.Load()
		next := old + int64(alignedSize)
		if next > int64(len(b.data)) {
			return nil, false
		}
		b.live.Add(int64(size))
		if b.off.CompareAndSwap(old, next) {
			return b.data[old : old+int64(size) : next], true
		}
		b.live.Add(-int64(size))
	}
}

// seal exhausts the bump pointer so no further allocation can land in the
// block, even from a goroutine still holding it as its current block.
func (b *block) seal() {
	for {
		old := b.off.Load()
		if old >= int64(len(b.data)) {
			return
		}
		if b.off.CompareAndSwap(old, int64(len(b.data))) {
			return
		}
	}
}

// used returns the number of bump-allocated bytes.
func (b *block) used() int64 {
	return b.off.Load()
}

// release unmaps the block. Idempotent.
func (b *block) release() error {
	if b.freed.Swap(true) {
		return nil
	}
	return b.mapping.Close()
}
