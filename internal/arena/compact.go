package arena

import (
	"context"
)

// CompactPass relocates the arena's live, unpinned handles out of
// fragmented blocks into the current bump target, then unmaps any block
// left with no live data. Entries that are pinned, permanently pinned, or
// already in the current block are skipped; skipped entries are simply
// picked up by a later pass.
//
// budget, if non-nil, is awaited before each copy with the copy size
// (relocation throughput limiting).
//
// Returns the number of relocated handles and bytes moved. Safe to call
// concurrently with allocation, pinning and promotion; serialized against
// arena retirement.
func (a *Arena) CompactPass(ctx context.Context, budget func(context.Context, int) error) (int, int64, error) {
	a.compactMu.Lock()
	defer a.compactMu.Unlock()

	if a.destroyed.Load() {
		return 0, 0, nil
	}

	curr := a.current.Load()
	if curr == nil {
		return 0, 0, nil
	}
	targetIdx := curr.index

	var (
		moved int
		bytes int64
	)

	owned := a.OwnedSlots()
	it := owned.Iterator()
	for it.HasNext() {
		if err := ctx.Err(); err != nil {
			return moved, bytes, err
		}

		e := a.table.Peek(it.Next())

		loc := e.Location()
		if loc == nil || loc.Block == targetIdx {
			continue
		}

		// Win relocation ownership; loses to pins, permanent pins and
		// death, all of which mean "leave it where it is".
		if !e.BeginRelocate() {
			continue
		}

		// Re-read under ownership; the location cannot change concurrently
		// now, but it may have before we won the CAS.
		loc = e.Location()
		if loc == nil || loc.Block == targetIdx {
			e.AbortRelocate()
			continue
		}

		size := len(loc.Data)
		if budget != nil {
			if err := budget(ctx, size); err != nil {
				e.AbortRelocate()
				return moved, bytes, err
			}
		}

		dst, blockIdx, err := a.bumpAlloc(ctx, size)
		if err != nil {
			e.AbortRelocate()
			return moved, bytes, err
		}

		copy(dst, loc.Data)
		e.CompleteRelocate(dst, blockIdx)
		a.noteDead(loc.Block, size)

		moved++
		bytes += int64(size)
	}

	a.releaseEmptyBlocks()
	return moved, bytes, nil
}

// releaseEmptyBlocks unmaps fully-dead, non-current blocks. Caller holds
// compactMu.
func (a *Arena) releaseEmptyBlocks() {
	curr := a.current.Load()
	for _, b := range *a.blocks.Load() {
		if b == curr || b.freed.Load() {
			continue
		}
		// A block with no live bytes and less than one aligned slot of
		// remaining capacity can never be referenced again: allocation
		// only targets the current block, and a straggler retrying
		// tryAlloc on this one cannot succeed.
		if b.live.Load() <= 0 && len(b.data)-int(b.used()) < Alignment {
			size := int64(len(b.data))
			if b.release() == nil && a.acquirer != nil {
				a.acquirer.ReleaseMemory(size)
			}
		}
	}
}
