package tcalloc

import (
	"sync/atomic"
	"unsafe"
)

// spanSize is the size of one span in bytes (64 KB, per spec.md §3).
const spanSize = 64 * 1024

// spanHeaderSize is the number of bytes at the front of a span reserved
// for bookkeeping; the payload region starts immediately after it.
const spanHeaderSize = 128

// spanHeader is overlaid directly on arena memory via unsafe.Pointer — it
// is not a normal GC-tracked value. Arena addresses never move, so a
// pointer into the header (or into the payload it precedes) is stable for
// the process lifetime, which is what makes span_base = ptr &^ 0xFFFF and
// the tagged-pointer caches in globalcache.go / reusecache.go safe.
//
// The first nine fields occupy one 64-byte cache line on amd64 and are
// owner-only (mutated only by the goroutine that currently owns the span,
// or by an adopting popper before it publishes ownership). The second
// group starts on the next cache line and is the part of the header any
// other goroutine touches: not just the remote free list and the reuse
// claim flag, but ownerGoroutine too, since Free's ownership check
// (s.ownerID() == callerID) runs on whichever goroutine is freeing the
// pointer, not necessarily the owner. Keeping it on line 0 would put a
// cross-goroutine atomic load on the same cache line as the owner's
// bump/local-free traffic, reintroducing the false sharing this split
// exists to avoid.
type spanHeader struct {
	// line 0 — owner-only. Explicitly padded out to 64 bytes so line 1
	// below actually starts on the next cache line instead of sharing this
	// one.
	classIdx      int32
	blockSize     int32
	blocksTotal   int32
	blocksInUse   int32
	bumpCursor    uintptr
	bumpLimit     uintptr
	hotBlock      uintptr
	localFreeHead uintptr
	nextInCache   uintptr
	_             [8]byte

	// line 1 — read or written by any goroutine.
	ownerGoroutine uint64
	remoteFreeHead uint64
	reuseFlag      uint32
	_              [spanHeaderSize - 64 - 20]byte // pad header to spanHeaderSize
}

func init() {
	if unsafe.Sizeof(spanHeader{}) > spanHeaderSize {
		panic("tcalloc: spanHeader exceeds its reserved size")
	}
}

// spanAt overlays a spanHeader on the memory at base. base must be a
// spanSize-aligned address returned by the buddy allocator.
func spanAt(base uintptr) *spanHeader {
	return (*spanHeader)(unsafe.Pointer(base))
}

// spanBase recovers the enclosing span's base address from any interior
// payload pointer, per spec.md §3's core invariant.
func spanBase(ptr uintptr) uintptr {
	return ptr &^ (spanSize - 1)
}

func (s *spanHeader) base() uintptr {
	return uintptr(unsafe.Pointer(s))
}

func (s *spanHeader) payloadStart() uintptr {
	return s.base() + spanHeaderSize
}

func (s *spanHeader) payloadEnd() uintptr {
	return s.base() + spanSize
}

// initForClass (re)initializes a span for size class c. Called by the
// owner immediately after acquiring an uninitialized or class-agnostic
// span (fresh from Buddy, or popped from GlobalCache).
func (s *spanHeader) initForClass(c int, owner uint64) {
	blockSize := ClassSize(c)
	s.classIdx = int32(c)
	s.blockSize = int32(blockSize)
	total := (spanSize - spanHeaderSize) / int(blockSize)
	s.blocksTotal = int32(total)
	s.blocksInUse = 0
	s.bumpCursor = s.payloadStart()
	s.bumpLimit = s.payloadStart() + uintptr(total)*uintptr(blockSize)
	s.hotBlock = 0
	s.localFreeHead = 0
	atomic.StoreUint64(&s.remoteFreeHead, 0)
	atomic.StoreUint32(&s.reuseFlag, 0)
	atomic.StoreUint64(&s.ownerGoroutine, owner)
	s.nextInCache = 0
}

// isLarge reports whether this span was carved directly by Buddy for a
// request above the largest size class.
func (s *spanHeader) isLarge() bool {
	return s.classIdx == largeSpanClass
}

func (s *spanHeader) markLarge(spanOrder int) {
	s.classIdx = int32(largeSpanClass)
	s.blockSize = int32(spanOrder) // reused to stash the buddy order for Free
}

func (s *spanHeader) largeOrder() int {
	return int(s.blockSize)
}

//---- owner-only fast path operations. The caller (ThreadHeap) is
// responsible for only calling these while it is the recorded owner.

// takeHot returns the hot block if present, clearing it.
func (s *spanHeader) takeHot() (uintptr, bool) {
	if s.hotBlock == 0 {
		return 0, false
	}
	p := s.hotBlock
	s.hotBlock = 0
	s.blocksInUse++
	return p, true
}

// popLocalFree pops the head of the owner-only free list.
func (s *spanHeader) popLocalFree() (uintptr, bool) {
	if s.localFreeHead == 0 {
		return 0, false
	}
	p := s.localFreeHead
	s.localFreeHead = *(*uintptr)(unsafe.Pointer(p))
	s.blocksInUse++
	return p, true
}

// adoptRemote atomically drains the remote free list into the local free
// list, taking the adopted blocks off blocksInUse. Returns false if there
// was nothing to adopt.
func (s *spanHeader) adoptRemote() bool {
	head := atomic.SwapUint64(&s.remoteFreeHead, 0)
	if head == 0 {
		return false
	}
	// Splice the drained chain onto the (owner-only) local free list.
	// The tail of the drained chain becomes the new head's predecessor;
	// walk to the tail once so local pops stay O(1) each.
	p := uintptr(head)
	n := int32(1)
	for {
		next := *(*uintptr)(unsafe.Pointer(p))
		if next == 0 {
			break
		}
		p = next
		n++
	}
	*(*uintptr)(unsafe.Pointer(p)) = s.localFreeHead
	s.localFreeHead = uintptr(head)
	s.blocksInUse -= n
	return true
}

// bumpAlloc carves one fresh block off the bump cursor.
func (s *spanHeader) bumpAlloc() (uintptr, bool) {
	if s.bumpCursor >= s.bumpLimit {
		return 0, false
	}
	p := s.bumpCursor
	s.bumpCursor += uintptr(s.blockSize)
	s.blocksInUse++
	return p, true
}

// freeOwner is called when the owner frees one of its own blocks: the MRU
// hot-block swap biases the very next malloc toward the just-freed
// address (spec.md §4.4).
func (s *spanHeader) freeOwner(ptr uintptr) {
	if s.hotBlock == 0 {
		s.hotBlock = ptr
	} else {
		*(*uintptr)(unsafe.Pointer(s.hotBlock)) = s.localFreeHead
		s.localFreeHead = s.hotBlock
		s.hotBlock = ptr
	}
	s.blocksInUse--
}

// empty reports whether the fast path has nothing left to offer without
// adopting remote frees or bumping.
func (s *spanHeader) empty() bool {
	return s.hotBlock == 0 && s.localFreeHead == 0 && s.bumpCursor >= s.bumpLimit
}

//---- cross-goroutine operations.

// pushRemote is called by a non-owner goroutine freeing ptr. It reports
// whether the stack transitioned from empty to non-empty, which is the
// signal the caller uses to attempt a ReuseCache donation.
func (s *spanHeader) pushRemote(ptr uintptr) (wasEmpty bool) {
	for {
		old := atomic.LoadUint64(&s.remoteFreeHead)
		*(*uintptr)(unsafe.Pointer(ptr)) = uintptr(old)
		if atomic.CompareAndSwapUint64(&s.remoteFreeHead, old, uint64(ptr)) {
			return old == 0
		}
	}
}

// tryMarkReuse attempts to claim reuseFlag (0 -> 1), used to gate a single
// concurrent ReuseCache donation attempt per empty->nonempty transition.
func (s *spanHeader) tryMarkReuse() bool {
	return atomic.CompareAndSwapUint32(&s.reuseFlag, 0, 1)
}

// clearReuse releases the reuseFlag claim, e.g. after a failed donation or
// after the owner pops the span back out of ReuseCache.
func (s *spanHeader) clearReuse() {
	atomic.StoreUint32(&s.reuseFlag, 0)
}

// ownerID atomically reads the current owner.
func (s *spanHeader) ownerID() uint64 {
	return atomic.LoadUint64(&s.ownerGoroutine)
}

// setOwner atomically writes the owner, used on adoption via cache pop or
// on donation at goroutine exit.
func (s *spanHeader) setOwner(id uint64) {
	atomic.StoreUint64(&s.ownerGoroutine, id)
}
