package tcalloc

import "sync/atomic"

// globalCache holds clean, class-agnostic spans returned by ThreadHeap
// when it retires a fully-empty span it has no immediate reuse for. A
// span here carries no class binding; the next popper re-initializes it
// via spanHeader.initForClass for whatever class it currently needs.
//
// Shard count and the number of spans is-scheme are the way
// malloc/pool_flist.go spreads a pool's free chunks across multiple
// underlying lists (spec.md §4.3: "sharded, e.g. 8 shards"), both driven
// by config rather than fixed, so a host program under CPU or memory
// pressure can trade cache hit rate for footprint.
type globalCache struct {
	shards []taggedStack
	counts []atomic.Int64
	cap    int64 // soft cap per shard; enforced best-effort, not atomically
}

func newGlobalCache(shardCount int, perShardCap int64) *globalCache {
	if shardCount < 1 {
		shardCount = 1
	}
	return &globalCache{
		shards: make([]taggedStack, shardCount),
		counts: make([]atomic.Int64, shardCount),
		cap:    perShardCap,
	}
}

func (gc *globalCache) shardFor(hint int) int {
	return hint % len(gc.shards)
}

// donate pushes a clean span into the cache. Returns false (caller should
// fall back to Buddy) if the target shard is already at its soft cap.
func (gc *globalCache) donate(hint int, base uintptr) bool {
	idx := gc.shardFor(hint)
	if gc.counts[idx].Load() >= gc.cap {
		return false
	}
	gc.shards[idx].push(base)
	gc.counts[idx].Add(1)
	return true
}

// acquire pops a span from the preferred shard, then scans the rest of
// the shards before giving up — GlobalCache is a shared, class-agnostic
// resource so stealing from a colder shard is preferable to a Buddy trip.
func (gc *globalCache) acquire(hint int) (uintptr, bool) {
	n := len(gc.shards)
	start := gc.shardFor(hint)
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if base, ok := gc.shards[idx].pop(); ok {
			gc.counts[idx].Add(-1)
			return base, true
		}
	}
	return 0, false
}
