package tcalloc

import "sync/atomic"

// taggedStack is a lock-free Treiber stack of span base addresses, shared
// by GlobalCache and ReuseCache (spec.md §4.3, §9). Every node is a span:
// spans are reserved out of a single fixed, non-relocating arena and
// aligned to spanSize (64 KB), so a span's low 16 bits are always zero.
// That leaves 16 free bits in every address, which we use to carry an ABA
// counter packed alongside the pointer in one atomic.Uint64 CAS word —
// the same tagged-pointer trick spec.md's reference design calls for on
// architectures with spare virtual-address bits, just realized against Go
// atomics instead of a native double-word CAS.
//
// The link field lives in the span header itself (spanHeader.nextInCache):
// a span is only ever a member of one cache at a time and is written by
// exactly one goroutine at push time, so no separate node allocation or
// synchronization is needed for the link.
type taggedStack struct {
	top atomic.Uint64
}

const tagMask = uint64(spanSize - 1) // low 16 bits

func packTagged(addr uintptr, tag uint16) uint64 {
	return uint64(addr) | uint64(tag)
}

func untagAddr(v uint64) uintptr {
	return uintptr(v &^ tagMask)
}

func untagCounter(v uint64) uint16 {
	return uint16(v & tagMask)
}

// push places the span at addr on top of the stack.
func (ts *taggedStack) push(addr uintptr) {
	for {
		old := ts.top.Load()
		spanAt(addr).nextInCache = untagAddr(old)
		next := packTagged(addr, untagCounter(old)+1)
		if ts.top.CompareAndSwap(old, next) {
			return
		}
	}
}

// pop removes and returns the top span, or (0, false) if the stack was
// empty at the moment of the attempt.
func (ts *taggedStack) pop() (uintptr, bool) {
	for {
		old := ts.top.Load()
		addr := untagAddr(old)
		if addr == 0 {
			return 0, false
		}
		newTop := spanAt(addr).nextInCache
		next := packTagged(newTop, untagCounter(old)+1)
		if ts.top.CompareAndSwap(old, next) {
			return addr, true
		}
	}
}

// empty is a best-effort, racy check used only for stats/tests.
func (ts *taggedStack) empty() bool {
	return untagAddr(ts.top.Load()) == 0
}
