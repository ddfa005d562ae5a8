// Package arena implements the hierarchical scope-bound allocator.
//
// An Arena is a node in an ownership tree. It owns a set of fixed-size
// mmap-backed blocks it bump-allocates from, and a set of handle table slots
// for the allocations living in those blocks. Scope entry creates a child
// arena; scope exit destroys it in O(1) amortized time (bulk free, never
// per-object). Values that escape a scope are promoted: copied into an
// ancestor arena under a fresh handle while the source handle is marked dead.
//
// # Concurrency Model
//
// Allocation uses a lock-free CAS bump on the current block; block growth
// and ownership bookkeeping take the arena mutex. A Shared-mode thread allocates from its caller's arena
// concurrently with the caller, which this supports. Destroy must not race
// with allocation from the same arena; the spawn protocol guarantees that by
// construction (a scope is only destroyed after its threads are synced or
// abandoned).
//
// # Destruction
//
// Destroy flips the destroyed flag, kills every owned handle (instantaneous
// invalidation: any subsequent pin panics), detaches from the parent and
// recursively retires children. Cleanup callbacks, block unmapping and slot
// recycling run on the background cleaner; when no cleaner is attached the
// teardown runs inline.
package arena
