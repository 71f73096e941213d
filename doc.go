// Package tcalloc implements a per-goroutine sharded slab allocator.
//
// Allocations up to 32 KB are served from one of 40 fixed size classes,
// each class backed by 64 KB spans carved out of a single 1 GB arena.
// Every goroutine that calls Malloc gets its own ThreadHeap, resolved
// through a directory that takes no lock on the steady-state read path;
// once resolved, a ThreadHeap's own hot/local-free/bump machinery never
// touches a mutex either. Cross-goroutine frees are drained through an
// atomic remote free list instead of contending on the owner's state.
// Requests above the largest size class are served directly by the
// underlying buddy allocator.
//
// This package covers the allocation engine only: arena layout, the
// buddy span manager, the two CPU-sharded caches, the per-goroutine heap
// state machine and the span free-list protocol. It does not provide a
// libc-compatible malloc/free shim; callers link against the Go API
// (Malloc, Free, Calloc, Realloc, AlignedAlloc, UsableSize) directly.
package tcalloc
