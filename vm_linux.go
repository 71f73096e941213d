//go:build linux

package tcalloc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// spanAlign is the alignment (and size) of an arena span, in bytes.
const spanAlign = 64 * 1024

// reserveVM reserves a virtually contiguous, lazily backed, read+write
// range of size bytes, aligned to spanAlign, per spec.md §6 primitive 1.
// It over-maps by one span and trims the misaligned edges, since Linux
// only guarantees page alignment (4 KB) from mmap, not our 64 KB span
// alignment.
func reserveVM(size int) (uintptr, error) {
	if size <= 0 {
		return 0, fmt.Errorf("tcalloc: reserveVM size must be positive, got %d", size)
	}
	over := size + spanAlign
	data, err := unix.Mmap(-1, 0, over, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return 0, fmt.Errorf("tcalloc: mmap reservation failed: %w", err)
	}
	base := uintptr(unsafe.Pointer(&data[0]))
	aligned := (base + spanAlign - 1) &^ (spanAlign - 1)

	// The edges are unmapped with the raw syscall: unix.Munmap only accepts
	// the whole slice that unix.Mmap returned.
	if head := aligned - base; head > 0 {
		_, _, _ = unix.Syscall(unix.SYS_MUNMAP, base, head, 0)
	}
	tailStart := aligned + uintptr(size)
	if end := base + uintptr(len(data)); tailStart < end {
		_, _, _ = unix.Syscall(unix.SYS_MUNMAP, tailStart, end-tailStart, 0)
	}
	return aligned, nil
}

// releasePages advises the kernel to drop physical backing for [base,
// base+len). Subsequent access remains valid and reads back as zero, per
// spec.md §6 primitive 2.
func releasePages(base uintptr, length int) {
	if length <= 0 {
		return
	}
	slice := unsafe.Slice((*byte)(unsafe.Pointer(base)), length)
	_ = unix.Madvise(slice, unix.MADV_DONTNEED)
}

// osThreadHint returns the calling OS thread's tid, used only to perturb
// the goroutine shard hint (never for correctness — spec.md §5 makes the
// current-CPU value advisory only).
func osThreadHint() int {
	return unix.Gettid()
}
