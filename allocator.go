package tcalloc

import (
	"fmt"
	"sync"
	"time"

	"github.com/prataprc/tcalloc/config"
	"github.com/prataprc/tcalloc/internal/alog"
)

// reapInterval and reapIdleAfter tune the background sweep that
// substitutes for the TLS-destructor hook spec.md assumes (see
// heapdir.go). Both are conservative: a goroutine has to be silent for a
// good while before its spans are reclaimed, since reclaiming a heap that
// turns out still to be alive just costs it a re-acquire on its next call.
const (
	reapInterval  = 30 * time.Second
	reapIdleAfter = 2 * time.Minute
)

// Allocator is the top-level allocation engine: one Arena, one Buddy, one
// GlobalCache, one ReuseCache, and the directory of per-goroutine heaps
// that front them. Callers normally use the package-level Malloc/Free
// wrappers around the process-wide default instance rather than
// constructing an Allocator directly, but tests build private instances
// to exercise the engine without sharing state.
type Allocator struct {
	arena  *arena
	buddy  *buddy
	gcache *globalCache
	rcache *reuseCache
	dir    *heapDirectory

	buddyFallbackOnReentry bool
	stopReaper             func()
}

// New builds an Allocator from cfg, reserving cfg's arena.bytes worth of
// address space immediately.
func New(cfg config.Config) (*Allocator, error) {
	arenaBytes := cfg.Int64("arena.bytes")
	a, err := newArena(arenaBytes)
	if err != nil {
		return nil, err
	}
	b := newBuddy(a)
	shardCount := int(cfg.Int64("shard.count"))
	gc := newGlobalCache(shardCount, cfg.Int64("globalcache.cap"))
	rc := newReuseCache(shardCount, cfg.Int64("reusecache.cap"))
	dir := newHeapDirectory(reapIdleAfter)

	al := &Allocator{
		arena:                  a,
		buddy:                  b,
		gcache:                 gc,
		rcache:                 rc,
		dir:                    dir,
		buddyFallbackOnReentry: cfg.Bool("reentry.buddyfallback"),
	}
	al.stopReaper = dir.startReaper(reapInterval, al.drainHeap)
	alog.Infof("tcalloc: allocator ready, arena=%d bytes (%d spans)", a.totalBytes(), a.totalSpans())
	return al, nil
}

// Close stops the background reaper. It does not, and cannot, unmap the
// arena: outstanding pointers into it may still be in use by the host
// program.
func (al *Allocator) Close() {
	if al.stopReaper != nil {
		al.stopReaper()
	}
}

// heapFor resolves id's heap through the lock-free directory read path,
// only falling through to registration on a goroutine's very first call.
func (al *Allocator) heapFor(id uint64) *threadHeap {
	return al.dir.getOrCreate(id, func() *threadHeap {
		return newThreadHeap(id, al.buddy, al.gcache, al.rcache)
	})
}

// drainHeap returns every span a reaped, presumed-dead heap was holding
// to the shared tiers: retired stashes and active per-class spans alike.
func (al *Allocator) drainHeap(h *threadHeap) {
	for class := 0; class < numClasses; class++ {
		for {
			base, ok := h.retired[class].pop()
			if !ok {
				break
			}
			al.reclaimSpan(base)
		}
		if base := h.spans[class]; base != 0 {
			h.spans[class] = 0
			al.reclaimSpan(base)
		}
	}
}

// reclaimSpan hands a reaped heap's span back to a shared tier. A span
// with nothing outstanding (blocksInUse == 0) goes to GlobalCache, or
// Buddy if that's full. A span that still carries live blocks nobody has
// freed — a goroutine that allocated and exited without freeing — keeps
// its class binding and goes to ReuseCache instead: GlobalCache's popper
// reinitializes whatever it hands out for an unrelated class, which would
// corrupt those still-live blocks. If the span is already claimed for
// ReuseCache, or its ReuseCache cell is at cap, no tier holds it until a
// later remote free of one of its blocks publishes it again (freeRemote).
func (al *Allocator) reclaimSpan(base uintptr) {
	s := spanAt(base)
	s.adoptRemote()
	if s.blocksInUse == 0 {
		if al.gcache.donate(int(base), base) {
			return
		}
		al.buddy.freeSpan(base)
		return
	}
	if s.tryMarkReuse() {
		al.rcache.donate(osThreadHint(), int(s.classIdx), base)
	}
}

// Malloc returns a pointer to a fresh, uninitialized block of at least
// size bytes, or an error if size is invalid or the arena is exhausted.
func (al *Allocator) Malloc(size int64) (uintptr, error) {
	if size <= 0 {
		return 0, ErrInvalidArgument
	}
	id := goroutineID()
	h := al.heapFor(id)
	h.touch()

	class := ClassOf(size)
	if class == largeSpanClass {
		order := orderFor(size)
		base, err := al.buddy.allocOrder(order)
		if err != nil {
			return 0, err
		}
		s := spanAt(base)
		s.markLarge(order)
		s.setOwner(id)
		return s.payloadStart(), nil
	}

	if h.reentering && al.buddyFallbackOnReentry {
		// A malloc call re-entered from inside the allocator itself (e.g.
		// a logging hook allocating). Skip the class machinery entirely
		// and take a single span straight from Buddy so the reentrant
		// call cannot recurse into cache/heap bookkeeping it is already
		// in the middle of.
		return al.mallocReentrant(class, id)
	}
	h.reentering = true
	ptr := h.allocFromClass(class)
	h.reentering = false
	if ptr == 0 {
		return 0, ErrOutOfAddress
	}
	return ptr, nil
}

func (al *Allocator) mallocReentrant(class int, id uint64) (uintptr, error) {
	base, err := al.buddy.allocSpan()
	if err != nil {
		return 0, err
	}
	s := spanAt(base)
	s.initForClass(class, id)
	p, _ := s.bumpAlloc()
	return p, nil
}

// Free releases a block previously returned by Malloc, Calloc, or
// Realloc. A pointer outside this allocator's arena is reported via
// panicCorruption. Freeing the same pointer twice, or a pointer inside
// the arena that was never handed out, is not detected and is undefined
// behavior.
func (al *Allocator) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	if !al.arena.contains(ptr) {
		panicCorruption("%w: pointer %#x outside the arena", ErrInvalidFree, ptr)
	}
	base := spanBase(ptr)
	s := spanAt(base)

	if s.isLarge() {
		al.buddy.freeOrder(base, s.largeOrder())
		return
	}

	id := goroutineID()
	h := al.heapFor(id)
	h.touch()

	if s.ownerID() == id {
		h.freeToClass(base, ptr)
		return
	}
	freeRemote(al.rcache, osThreadHint(), base, ptr)
}

// Calloc allocates space for n elements of size bytes each and zeroes it.
func (al *Allocator) Calloc(n, size int64) (uintptr, error) {
	if n < 0 || size < 0 {
		return 0, ErrInvalidArgument
	}
	if n == 0 || size == 0 {
		return al.Malloc(1)
	}
	total := n * size
	if total/n != size {
		return 0, fmt.Errorf("%w: %d*%d overflows", ErrInvalidArgument, n, size)
	}
	ptr, err := al.Malloc(total)
	if err != nil {
		return 0, err
	}
	zero(ptr, total)
	return ptr, nil
}

// Realloc resizes the block at ptr to newSize, preserving the leading
// min(oldUsable, newSize) bytes, and returns the (possibly moved) result.
// A nil ptr behaves like Malloc; a zero newSize frees ptr and returns 0.
func (al *Allocator) Realloc(ptr uintptr, newSize int64) (uintptr, error) {
	if ptr == 0 {
		return al.Malloc(newSize)
	}
	if newSize <= 0 {
		al.Free(ptr)
		return 0, nil
	}
	oldUsable := al.UsableSize(ptr)
	if newSize <= oldUsable {
		return ptr, nil
	}
	next, err := al.Malloc(newSize)
	if err != nil {
		return 0, err
	}
	copyBytes(next, ptr, oldUsable)
	al.Free(ptr)
	return next, nil
}

// AlignedAlloc returns a block of size bytes whose address is a multiple
// of alignment, which must be a power of two. Alignment of spanSize or
// above is rejected: a block always starts past its span's header, so no
// size class or Buddy order can place it on a spanSize boundary.
func (al *Allocator) AlignedAlloc(alignment uintptr, size int64) (uintptr, error) {
	if alignment == 0 || alignment&(alignment-1) != 0 {
		return 0, ErrInvalidArgument
	}
	if alignment >= spanSize {
		return 0, ErrOversizedRequest
	}
	// Every payload start (span base + spanHeaderSize) is spanHeaderSize
	// aligned and class block sizes are 8-byte multiples, so for an
	// alignment up to spanHeaderSize any class whose block size is a
	// multiple of alignment satisfies it for every block the
	// bump/free-list path can hand out. Larger alignments go to Buddy.
	if alignment <= 8 {
		return al.Malloc(size)
	}
	class := ClassOf(size)
	if alignment > spanHeaderSize {
		class = largeSpanClass
	}
	for class != largeSpanClass && ClassSize(class)%int64(alignment) != 0 {
		class++
		if class >= numClasses {
			class = largeSpanClass
			break
		}
	}
	if class == largeSpanClass {
		// Fall back to a dedicated span-order allocation, which starts
		// on a spanSize boundary. The block begins at the first multiple
		// of alignment past the header, still inside the first span
		// since alignment < spanSize.
		offset := int64(spanHeaderSize)
		if int64(alignment) > offset {
			offset = int64(alignment)
		}
		order := orderFor(size + offset - spanHeaderSize)
		base, err := al.buddy.allocOrder(order)
		if err != nil {
			return 0, err
		}
		s := spanAt(base)
		s.markLarge(order)
		s.setOwner(goroutineID())
		return base + uintptr(offset), nil
	}
	return al.Malloc(ClassSize(class))
}

// UsableSize returns the number of bytes actually available at ptr,
// which may exceed the size originally requested.
func (al *Allocator) UsableSize(ptr uintptr) int64 {
	if ptr == 0 {
		return 0
	}
	base := spanBase(ptr)
	s := spanAt(base)
	if s.isLarge() {
		return int64(1<<uint(s.largeOrder()))*spanSize - int64(ptr-base)
	}
	return int64(s.blockSize)
}

// Shrink releases physical pages backing Buddy's larger free blocks back
// to the kernel. It is not on any allocation hot path and does not need
// to be called for correctness; a host program can call it after a burst
// of large frees to reclaim address space proactively rather than
// waiting on the next coalescing event to trigger the same release.
func (al *Allocator) Shrink() {
	al.buddy.shrink()
}

var (
	defaultOnce  sync.Once
	defaultAlloc *Allocator
	defaultErr   error
)

// Default lazily constructs the process-wide allocator using
// config.Default(), matching malloc's convention of a single shared
// arena unless the host program builds its own via New.
func Default() (*Allocator, error) {
	defaultOnce.Do(func() {
		defaultAlloc, defaultErr = New(config.Default())
	})
	return defaultAlloc, defaultErr
}

// Malloc and Free mirror Allocator's methods against the process-wide
// default instance, for callers that don't need multiple isolated arenas.
// The other operations are reached through Default().
func Malloc(size int64) (uintptr, error) {
	al, err := Default()
	if err != nil {
		return 0, err
	}
	return al.Malloc(size)
}

func Free(ptr uintptr) {
	al, err := Default()
	if err != nil {
		panicCorruption("tcalloc: default allocator unavailable: %v", err)
	}
	al.Free(ptr)
}
