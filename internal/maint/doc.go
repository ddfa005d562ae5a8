// Package maint hosts the process-wide background maintenance workers: the
// cleaner and the compactor.
//
// Both are explicit services holding an injected registry of live arenas
// rather than ambient global state, so they are unit-testable in isolation
// and a process runs exactly one of each.
//
//   - The Cleaner tears down retired arenas (cleanup callbacks in ascending
//     priority order, block unmapping, handle slot recycling) and returns
//     dead slots of live arenas to the table free set.
//   - The Compactor walks live arenas above a fragmentation threshold and
//     relocates unpinned data into denser blocks, pacing copies through the
//     resource controller.
//
// Workers run on two long-lived goroutines started by the runtime facade.
// Flush methods exist for deterministic tests.
package maint
