// Package handletable provides the process-wide handle indirection table.
//
// A Handle is a stable identity for a relocatable allocation. The table maps
// it to the allocation's current location, which the background compactor may
// rewrite at any time. All "may move" references in the runtime are handles;
// raw addresses are only obtained through a pin, which blocks relocation for
// the duration of the pin window.
//
// # Concurrency Model
//
// The table is the one structure genuinely shared across all threads:
//   - Slot claims and releases are serialized internally (mutex + free set),
//     so concurrent spawns can allocate without corrupting the table.
//   - Resolution, pin, unpin and relocation run lock-free on a packed
//     per-entry state word (pin count, relocating, dead, permanent).
//
// # Relocation Protocol
//
// The compactor may move an entry's data only after winning a CAS that sets
// the relocating bit while the pin count is zero. Pinners spin while the bit
// is set. The location pointer is swapped atomically before the bit clears,
// so no reader can observe the old site after relocation completes.
//
// Misuse of the table (stale handle, unpin without pin, pin after death) is a
// code-generation defect and panics rather than returning an error.
package handletable
