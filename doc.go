// Package arengo provides an embedded memory-management and concurrency
// runtime built around handle-indirected hierarchical arenas.
//
// Arengo is designed as the runtime substrate for generated code with
// production-ready features including:
//
//   - Hierarchical arenas with O(1) destruction and deferred teardown
//   - Handle indirection: stable Handle values survive compaction moves
//   - Background compaction of fragmented arenas with pin-aware relocation
//   - Background cleaner for cleanup callbacks and slot recycling
//   - Value promotion from child arenas into ancestor arenas
//   - Thread spawn/sync with Owned, Shared and Private sharing modes
//   - Compile-time frozen-resource analysis (package freeze)
//   - Off-heap block storage via anonymous mmap
//   - Resource governance: memory limits, worker slots, copy-rate budgets
//
// # Quick Start
//
// Create a runtime and allocate through an arena:
//
//	rt, err := arengo.New(
//	    arengo.WithBlockSize(1 << 20),
//	    arengo.WithFragmentationThreshold(0.25),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer rt.Close()
//
//	a, _ := rt.NewArena(nil) // child of the root arena
//	defer a.Destroy()
//
//	h, _ := a.Alloc(64)
//	buf := a.Pin(h)
//	copy(buf, payload)
//	a.Unpin(h)
//
// Spawn work onto a dedicated OS thread and collect the result:
//
//	p := a.Spawn(arengo.ModeOwned, func(ta *arengo.Arena) arengo.Value {
//	    h, _ := ta.Alloc(128)
//	    // ... fill h ...
//	    return arengo.HandleValue(h)
//	})
//	v := p.Sync() // promotes the result into a
//
// Handles are not memory addresses. Every access goes through Pin, which
// yields the current backing bytes and blocks relocation until Unpin.
// Misuse of the API (unpinning an unpinned handle, touching a destroyed
// arena, resolving a stale handle) indicates a defect in the generated
// code and panics rather than returning an error.
package arengo
