package tcalloc

import "sync"

// maxBuddyOrder is the largest block order the allocator will track: order
// 14 is a 2^14 * 64 KB = 1 GB span, the arena's default ceiling
// (spec.md §4.2).
const maxBuddyOrder = 14

// buddy is a binary buddy allocator carving whole spans (order 0 = one
// spanSize block) out of an arena. It guards its free lists with a single
// mutex, exactly as spec.md §4.2 specifies: Buddy sees comparatively rare
// traffic (span-granularity churn only, never per-object) so a single
// lock is the right tradeoff, the same reasoning malloc/pool_flist.go
// applies to its own free-list locking.
//
// Free lists are intrusive: a free block's spanHeader.nextInCache field
// (otherwise unused while a span sits in Buddy rather than a cache) links
// it into free[order]. This mirrors GlobalCache/ReuseCache's own use of
// that field and avoids a second allocation for bookkeeping.
type buddy struct {
	mu       sync.Mutex
	arenaPtr *arena
	maxOrder int
	free     [maxBuddyOrder + 1]uintptr
}

// newBuddy seeds free lists directly from the arena's raw span range. If
// the arena's span count isn't a single power of two, the remainder is
// covered by additional top-level blocks at whatever orders exactly tile
// it — the same strategy real buddy allocators use to cover a
// non-power-of-two zone without wasting the tail.
func newBuddy(a *arena) *buddy {
	b := &buddy{arenaPtr: a, maxOrder: maxBuddyOrder}
	remaining := a.totalSpans()
	for order := maxBuddyOrder; order >= 0 && remaining > 0; order-- {
		blockSpans := 1 << uint(order)
		for remaining >= blockSpans {
			base, ok := a.reserve(blockSpans)
			if !ok {
				return b
			}
			b.pushFree(order, base)
			remaining -= blockSpans
		}
	}
	return b
}

func (b *buddy) pushFree(order int, base uintptr) {
	spanAt(base).nextInCache = b.free[order]
	b.free[order] = base
}

func (b *buddy) popFree(order int) (uintptr, bool) {
	head := b.free[order]
	if head == 0 {
		return 0, false
	}
	b.free[order] = spanAt(head).nextInCache
	return head, true
}

func (b *buddy) removeFree(order int, target uintptr) bool {
	if b.free[order] == target {
		b.free[order] = spanAt(target).nextInCache
		return true
	}
	prev := b.free[order]
	for prev != 0 {
		next := spanAt(prev).nextInCache
		if next == target {
			spanAt(prev).nextInCache = spanAt(target).nextInCache
			return true
		}
		prev = next
	}
	return false
}

func (b *buddy) buddyOf(base uintptr, order int) uintptr {
	rel := base - b.arenaPtr.base
	buddyRel := rel ^ (uintptr(1<<uint(order)) * spanSize)
	return b.arenaPtr.base + buddyRel
}

// allocOrder returns a free block of exactly 2^order spans, splitting a
// larger block if no exact fit is free.
func (b *buddy) allocOrder(order int) (uintptr, error) {
	if order > b.maxOrder {
		return 0, ErrOversizedRequest
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	k := order
	for k <= b.maxOrder {
		if base, ok := b.popFree(k); ok {
			for k > order {
				k--
				half := base + uintptr(1<<uint(k))*spanSize
				b.pushFree(k, half)
			}
			return base, nil
		}
		k++
	}
	return 0, ErrOutOfAddress
}

// freeOrder returns a 2^order-span block to Buddy, coalescing with its
// buddy at each level while the buddy is also free.
func (b *buddy) freeOrder(base uintptr, order int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := order
	for k < b.maxOrder {
		bud := b.buddyOf(base, k)
		if !b.removeFree(k, bud) {
			break
		}
		if bud < base {
			base = bud
		}
		k++
	}
	if k >= 2 {
		releasePages(base, int(uintptr(1<<uint(k))*spanSize))
	}
	b.pushFree(k, base)
}

// allocSpan/freeSpan are the order-0 convenience entry points ThreadHeap
// and the caches use for ordinary size-classed spans.
func (b *buddy) allocSpan() (uintptr, error) {
	return b.allocOrder(0)
}

func (b *buddy) freeSpan(base uintptr) {
	b.freeOrder(base, 0)
}

// shrink releases the physical pages backing every free block at order 2
// or above back to the kernel via MADV_DONTNEED. Releasing a block zeroes
// its header, so each block's free-list link is read first and written
// back afterwards; the free lists are unchanged. freeOrder already
// releases a block's pages the moment it coalesces past order 2, so shrink is a no-op for ordinary
// churn; it exists for a host program that wants to reclaim address
// space sitting idle in Buddy after a burst of large frees, on its own
// schedule rather than waiting for the next coalescing event to trigger
// it. Unused by the allocator's own hot paths.
func (b *buddy) shrink() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for order := 2; order <= b.maxOrder; order++ {
		length := int(uintptr(1<<uint(order)) * spanSize)
		for base := b.free[order]; base != 0; {
			next := spanAt(base).nextInCache
			releasePages(base, length)
			spanAt(base).nextInCache = next
			base = next
		}
	}
}

// orderFor returns the smallest order whose span count covers nBytes.
func orderFor(nBytes int64) int {
	spans := int64(1)
	order := 0
	need := (nBytes + spanHeaderSize + spanSize - 1) / spanSize
	for spans < need {
		spans <<= 1
		order++
	}
	return order
}
