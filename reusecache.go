package tcalloc

import "sync/atomic"

// reuseCache holds spans that still have at least one class-bound free
// block sitting in their remote-free list — a span with pending remote
// frees that its owner hasn't drained yet. It also takes spans from a
// reaped heap that still hold live blocks (Allocator.reclaimSpan), whose
// remote lists have just been drained. It is keyed by (shard, class)
// so a producer/consumer pair sharing a class can hand a span directly to
// the next allocator of that class without a Buddy round-trip
// (spec.md §4.3's ReuseCache purpose). Shard count mirrors GlobalCache's;
// the per-cell cap is deliberately small and configurable, since
// ReuseCache exists to bound the window between a remote free and some
// goroutine claiming it, not to act as a general free-span reservoir.
type reuseCache struct {
	cells  [][numClasses]taggedStack
	counts [][numClasses]atomic.Int64
	cap    int64
}

func newReuseCache(shardCount int, perCellCap int64) *reuseCache {
	if shardCount < 1 {
		shardCount = 1
	}
	return &reuseCache{
		cells:  make([][numClasses]taggedStack, shardCount),
		counts: make([][numClasses]atomic.Int64, shardCount),
		cap:    perCellCap,
	}
}

func (rc *reuseCache) shardFor(hint int) int {
	return hint % len(rc.cells)
}

// donate offers a span whose remote-free list just transitioned from
// empty to non-empty. The caller must already hold the span's reuseFlag
// claim (spanHeader.tryMarkReuse); donate clears it on a failed push so a
// future transition can retry.
func (rc *reuseCache) donate(hint, class int, base uintptr) bool {
	idx := rc.shardFor(hint)
	if rc.counts[idx][class].Load() >= rc.cap {
		spanAt(base).clearReuse()
		return false
	}
	rc.cells[idx][class].push(base)
	rc.counts[idx][class].Add(1)
	return true
}

// acquire pops a span for class from the preferred shard, falling back to
// other shards before the caller resorts to GlobalCache/Buddy.
func (rc *reuseCache) acquire(hint, class int) (uintptr, bool) {
	n := len(rc.cells)
	start := rc.shardFor(hint)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if base, ok := rc.cells[idx][class].pop(); ok {
			rc.counts[idx][class].Add(-1)
			spanAt(base).clearReuse()
			return base, true
		}
	}
	return 0, false
}
