// Package mmap provides anonymous memory mappings for off-heap allocation.
//
// # Overview
//
// The backing store obtains its blocks as anonymous read-write mappings so
// that arena memory lives outside the Go garbage collector's control. Blocks
// are fixed-size and returned to the OS wholesale when an arena is torn down.
//
// # Usage
//
//	m, err := mmap.MapAnon(blockSize)
//	if err != nil { ... }
//	defer m.Close()
//
//	// Raw access to the mapped region
//	data := m.Bytes()
//
//	// Hint the kernel when a block is retired
//	m.Advise(mmap.AccessDontNeed)
//
// # Platform Support
//
//   - Unix (Linux, macOS, BSD): mmap(2) with MAP_ANON, madvise(2) for hints
//   - Windows: VirtualAlloc/VirtualFree (madvise is a no-op)
//
// # Thread Safety
//
// Mapping is safe for concurrent read access. Close() is idempotent and
// protected by atomic operations. Callers must ensure no goroutines access
// Bytes() after Close() returns.
package mmap
