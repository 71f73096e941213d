package tcalloc

import "unsafe"

// unsafeSliceForTest exposes n bytes at ptr as a slice for assertions in
// allocator-level tests, which otherwise only see opaque uintptrs.
func unsafeSliceForTest(ptr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}
