package arena

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/arengo/internal/handletable"
	"github.com/hupe1980/arengo/internal/mmap"
)

// MemoryAcquirer is an interface for acquiring backing memory.
// Satisfied by resource.Controller.
type MemoryAcquirer interface {
	AcquireMemory(ctx context.Context, amount int64) error
	ReleaseMemory(amount int64)
}

var (
	// ErrNotAncestor is returned when a promotion targets an arena that is
	// not a proper ancestor of the source (descendant, sibling, or self).
	ErrNotAncestor = errors.New("arena: promotion target is not an ancestor")
	// ErrInvalidSize is returned for non-positive allocation sizes.
	ErrInvalidSize = errors.New("arena: invalid allocation size")
	// ErrMapFailed wraps a failed backing-store mapping. Host memory is
	// exhausted; callers treat this as fatal.
	ErrMapFailed = errors.New("arena: backing store mapping failed")
)

const (
	// DefaultBlockSize is the default backing block capacity (1MB).
	DefaultBlockSize = 1024 * 1024
	// Alignment is the payload alignment within a block.
	Alignment = 8
)

var nextArenaID atomic.Uint64

// Stats tracks arena memory usage.
type Stats struct {
	BlocksAllocated uint64 // Historical: total blocks ever mapped
	BytesReserved   uint64 // Current: mapped block capacity
	BytesUsed       uint64 // Current: bump-allocated bytes
	BytesLive       uint64 // Current: bytes referenced by live handles
	TotalAllocs     uint64 // Historical: total allocations
	Promotions      uint64 // Historical: handles promoted away
}

type atomicStats struct {
	BlocksAllocated atomic.Uint64
	TotalAllocs     atomic.Uint64
	Promotions      atomic.Uint64
}

// Arena is a node in the ownership tree.
type Arena struct {
	id        uint64
	table     *handletable.Table
	parent    *Arena
	blockSize int
	acquirer  MemoryAcquirer

	// retireHook hands a destroyed arena to the background cleaner. When
	// nil, teardown runs inline on Destroy.
	retireHook func(*Arena)

	destroyed atomic.Bool
	current   atomic.Pointer[block]
	blocks    atomic.Pointer[[]*block] // Copy-on-append; lock-free reads

	// compactMu serializes a compaction pass against retirement, so the
	// compactor never bump-allocates into an arena being torn down.
	compactMu sync.Mutex

	mu        sync.Mutex
	children  map[*Arena]struct{}
	owned     *roaring.Bitmap // Handle slots owned by this arena
	deadSlots []uint32        // Killed slots awaiting cleaner recycling
	cleanups  []cleanup

	stats atomicStats
}

// Option is a configuration option for an Arena.
type Option func(*Arena)

// WithBlockSize sets the backing block capacity.
func WithBlockSize(size int) Option {
	return func(a *Arena) {
		if size > 0 {
			a.blockSize = size
		}
	}
}

// WithAcquirer gates block mapping on a memory acquirer.
func WithAcquirer(acq MemoryAcquirer) Option {
	return func(a *Arena) {
		a.acquirer = acq
	}
}

// WithRetireHook routes teardown of destroyed arenas to a background
// cleaner instead of running it inline.
func WithRetireHook(hook func(*Arena)) Option {
	return func(a *Arena) {
		a.retireHook = hook
	}
}

// New creates an arena as a child of parent, or a root if parent is nil.
// Children inherit the parent's block size, acquirer and retire hook unless
// overridden by options.
func New(table *handletable.Table, parent *Arena, opts ...Option) (*Arena, error) {
	a := &Arena{
		id:        nextArenaID.Add(1),
		table:     table,
		parent:    parent,
		blockSize: DefaultBlockSize,
		children:  make(map[*Arena]struct{}),
		owned:     roaring.New(),
	}

	if parent != nil {
		a.blockSize = parent.blockSize
		a.acquirer = parent.acquirer
		a.retireHook = parent.retireHook
	}

	for _, opt := range opts {
		opt(a)
	}

	empty := make([]*block, 0, 4)
	a.blocks.Store(&empty)

	if err := a.growBlock(context.Background()); err != nil {
		return nil, err
	}

	if parent != nil {
		if parent.destroyed.Load() {
			a.releaseBlocks()
			panic("arena: create child of destroyed arena")
		}
		parent.mu.Lock()
		parent.children[a] = struct{}{}
		parent.mu.Unlock()
	}

	return a, nil
}

// ID returns the arena's process-unique id.
func (a *Arena) ID() uint64 { return a.id }

// Parent returns the owning arena, or nil for a root.
func (a *Arena) Parent() *Arena { return a.parent }

// Table returns the handle table this arena allocates slots from.
func (a *Arena) Table() *handletable.Table { return a.table }

// Alloc reserves size bytes and returns a fresh handle to them.
// The memory is zero-initialized (anonymous mappings are demand-zeroed and
// blocks are never reused for new allocations without relocation copies).
func (a *Arena) Alloc(size int) (handletable.Handle, error) {
	return a.AllocContext(context.Background(), size)
}

// AllocContext allocates with a context gating block growth on the memory
// acquirer.
func (a *Arena) AllocContext(ctx context.Context, size int) (handletable.Handle, error) {
	if size <= 0 {
		return handletable.Handle{}, ErrInvalidSize
	}

	data, blockIdx, err := a.bumpAlloc(ctx, size)
	if err != nil {
		return handletable.Handle{}, err
	}

	h, err := a.table.Claim(a.id)
	if err != nil {
		return handletable.Handle{}, err
	}
	a.table.Resolve(h).SetLocation(data, blockIdx)

	a.mu.Lock()
	a.owned.Add(h.Slot)
	a.mu.Unlock()

	a.stats.TotalAllocs.Add(1)
	return h, nil
}

// bumpAlloc reserves raw bytes without claiming a handle. Also used by the
// compactor for relocation targets.
func (a *Arena) bumpAlloc(ctx context.Context, size int) ([]byte, uint32, error) {
	if a.destroyed.Load() {
		panic(fmt.Sprintf("arena: allocation from destroyed arena %d", a.id))
	}

	alignedSize := (size + Alignment - 1) &^ (Alignment - 1)

	for {
		curr := a.current.Load()
		if curr == nil {
			panic(fmt.Sprintf("arena: allocation from destroyed arena %d", a.id))
		}

		if data, ok := curr.tryAlloc(size, alignedSize); ok {
			return data, curr.index, nil
		}

		// Current block is full. Only one goroutine maps a new one.
		a.mu.Lock()
		if a.current.Load() != curr {
			a.mu.Unlock()
			continue
		}
		err := a.growBlockLocked(ctx, alignedSize)
		a.mu.Unlock()
		if err != nil {
			return nil, 0, err
		}
	}
}

func (a *Arena) growBlock(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.growBlockLocked(ctx, 0)
}

// growBlockLocked maps a fresh block of at least minSize bytes. Caller
// holds mu.
func (a *Arena) growBlockLocked(ctx context.Context, minSize int) error {
	blockSize := a.blockSize
	if minSize > blockSize {
		// Oversize allocation gets a dedicated block.
		blockSize = minSize
	}

	if a.acquirer != nil {
		if err := a.acquirer.AcquireMemory(ctx, int64(blockSize)); err != nil {
			return fmt.Errorf("arena: acquire block memory: %w", err)
		}
	}

	mapping, err := mmap.MapAnon(blockSize)
	if err != nil {
		if a.acquirer != nil {
			a.acquirer.ReleaseMemory(int64(blockSize))
		}
		return fmt.Errorf("%w: %v", ErrMapFailed, err)
	}

	blocks := *a.blocks.Load()
	b := &block{
		data:    mapping.Bytes(),
		mapping: mapping,
		index:   uint32(len(blocks)),
	}

	grown := make([]*block, len(blocks), len(blocks)+1)
	copy(grown, blocks)
	grown = append(grown, b)
	a.blocks.Store(&grown)

	a.stats.BlocksAllocated.Add(1)

	// Seal the outgoing block so stragglers retrying against it fail over
	// to the new one, and so the compactor can prove it quiescent.
	if curr := a.current.Load(); curr != nil {
		curr.seal()
	}

	// Ordered after the slice store so a reader that sees the new current
	// block can also index it.
	a.current.Store(b)
	return nil
}

// Pin resolves the handle and pins its data, returning the raw bytes.
// The address is stable only until Unpin.
func (a *Arena) Pin(h handletable.Handle) []byte {
	return a.table.Resolve(h).Pin()
}

// Unpin releases a pin taken with Pin.
func (a *Arena) Unpin(h handletable.Handle) {
	a.table.Resolve(h).Unpin()
}

// PinPermanent marks the handle's data as never relocatable and returns it.
func (a *Arena) PinPermanent(h handletable.Handle) []byte {
	return a.table.Resolve(h).PinPermanent()
}

// Promote copies the handle's current data into dest, marks the source
// dead, and returns the new handle. dest must be a proper ancestor of a.
// Promotion across multiple levels is a single direct copy.
func (a *Arena) Promote(dest *Arena, h handletable.Handle) (handletable.Handle, error) {
	if a.destroyed.Load() {
		panic(fmt.Sprintf("arena: promote from destroyed arena %d", a.id))
	}
	if !a.isProperAncestor(dest) {
		return handletable.Handle{}, fmt.Errorf("%w: arena %d -> arena %d", ErrNotAncestor, a.id, dest.id)
	}

	e := a.table.Resolve(h)
	if e.Owner() != a.id {
		panic(fmt.Sprintf("arena: promote of %v not owned by arena %d", h, a.id))
	}

	// Pin the source for the duration of the copy so the compactor cannot
	// move it underneath us.
	src := e.Pin()

	nh, err := dest.Alloc(len(src))
	if err != nil {
		e.Unpin()
		return handletable.Handle{}, err
	}

	dst := dest.Pin(nh)
	copy(dst, src)
	dest.Unpin(nh)
	e.Unpin()

	a.kill(h.Slot, e)
	a.stats.Promotions.Add(1)
	return nh, nil
}

// kill marks an owned entry dead, updates block liveness and queues the
// slot for cleaner recycling.
func (a *Arena) kill(slot uint32, e *handletable.Entry) {
	loc := e.Location()
	if e.Kill() && loc != nil {
		a.noteDead(loc.Block, len(loc.Data))
	}

	a.mu.Lock()
	a.owned.Remove(slot)
	a.deadSlots = append(a.deadSlots, slot)
	a.mu.Unlock()
}

func (a *Arena) noteDead(blockIdx uint32, size int) {
	blocks := *a.blocks.Load()
	if int(blockIdx) < len(blocks) {
		blocks[blockIdx].live.Add(-int64(size))
	}
}

// isProperAncestor reports whether dest is a proper ancestor of a.
func (a *Arena) isProperAncestor(dest *Arena) bool {
	for p := a.parent; p != nil; p = p.parent {
		if p == dest {
			return true
		}
	}
	return false
}

// Destroy invalidates every handle the arena still owns, recursively
// destroys non-detached children, and schedules teardown (cleanup
// callbacks, block unmapping, slot recycling). Destroying an arena twice is
// a code-generation defect.
func (a *Arena) Destroy() {
	if a.destroyed.Load() {
		panic(fmt.Sprintf("arena: double destroy of arena %d", a.id))
	}

	if a.parent != nil {
		a.parent.mu.Lock()
		delete(a.parent.children, a)
		a.parent.mu.Unlock()
	}

	a.retire()
}

// retire is the idempotent half of Destroy used for recursion into
// children.
func (a *Arena) retire() {
	// Wait out any in-flight compaction pass before invalidating.
	a.compactMu.Lock()
	if a.destroyed.Swap(true) {
		a.compactMu.Unlock()
		return
	}
	a.compactMu.Unlock()

	a.mu.Lock()
	owned := a.owned.Clone()
	children := make([]*Arena, 0, len(a.children))
	for c := range a.children {
		children = append(children, c)
	}
	a.children = make(map[*Arena]struct{})
	a.mu.Unlock()

	// Instantaneous invalidation: every owned handle is dead before
	// Destroy returns, with no per-object teardown.
	it := owned.Iterator()
	for it.HasNext() {
		a.table.Peek(it.Next()).Kill()
	}

	a.current.Store(nil)

	for _, c := range children {
		c.retire()
	}

	if a.retireHook != nil {
		a.retireHook(a)
	} else {
		a.Teardown(nil)
	}
}

// Destroyed reports whether the arena has been destroyed.
func (a *Arena) Destroyed() bool {
	return a.destroyed.Load()
}

// DrainDeadSlots hands accumulated dead slots to the caller (the cleaner)
// for recycling into the table free set.
func (a *Arena) DrainDeadSlots() []uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	slots := a.deadSlots
	a.deadSlots = nil
	return slots
}

// OwnedSlots returns a snapshot of the slots the arena currently owns.
func (a *Arena) OwnedSlots() *roaring.Bitmap {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.owned.Clone()
}

// Stats returns current arena statistics.
func (a *Arena) Stats() Stats {
	var reserved, used, live uint64
	for _, b := range *a.blocks.Load() {
		if b.freed.Load() {
			continue
		}
		reserved += uint64(len(b.data))
		used += uint64(b.used())
		if l := b.live.Load(); l > 0 {
			live += uint64(l)
		}
	}
	return Stats{
		BlocksAllocated: a.stats.BlocksAllocated.Load(),
		BytesReserved:   reserved,
		BytesUsed:       used,
		BytesLive:       live,
		TotalAllocs:     a.stats.TotalAllocs.Load(),
		Promotions:      a.stats.Promotions.Load(),
	}
}

// Fragmentation returns the fraction of bump-allocated bytes that are no
// longer live, in [0, 1].
func (a *Arena) Fragmentation() float64 {
	s := a.Stats()
	if s.BytesUsed == 0 {
		return 0
	}
	return 1 - float64(s.BytesLive)/float64(s.BytesUsed)
}

func (a *Arena) releaseBlocks() {
	for _, b := range *a.blocks.Load() {
		if b.freed.Load() {
			continue
		}
		size := int64(len(b.data))
		_ = b.release()
		if a.acquirer != nil {
			a.acquirer.ReleaseMemory(size)
		}
	}
}

func (a *Arena) String() string {
	s := a.Stats()
	return fmt.Sprintf(
		"Arena{id: %d, blocks: %d, reserved: %.2f MB, used: %.2f MB, live: %.2f MB, allocs: %d}",
		a.id,
		s.BlocksAllocated,
		float64(s.BytesReserved)/(1024*1024),
		float64(s.BytesUsed)/(1024*1024),
		float64(s.BytesLive)/(1024*1024),
		s.TotalAllocs,
	)
}
