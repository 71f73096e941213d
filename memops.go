package tcalloc

import "unsafe"

// zero clears n bytes starting at ptr. Used by Calloc; ordinary Malloc
// deliberately returns uninitialized memory, matching malloc(3) semantics.
func zero(ptr uintptr, n int64) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
	for i := range b {
		b[i] = 0
	}
}

// copyBytes copies n bytes from src to dst. Used by Realloc when a block
// must move to a larger span.
func copyBytes(dst, src uintptr, n int64) {
	d := unsafe.Slice((*byte)(unsafe.Pointer(dst)), n)
	s := unsafe.Slice((*byte)(unsafe.Pointer(src)), n)
	copy(d, s)
}
