package tcalloc

import (
	"fmt"
	"strings"

	humanize "github.com/dustin/go-humanize"
)

// Stats is a point-in-time snapshot of arena occupancy, mirroring the
// shape malloc/arena.go's Memory/Allocated/Available/Utilization trio
// reports, adapted to a single fixed-capacity arena instead of many
// independently sized pools.
type Stats struct {
	ArenaBytes     int64
	SpansTotal     int
	SpansReserved  int
	CachedGlobal   int64
	CachedReuse    int64
	ClassOccupancy [numClasses]int64 // active spans per class, across all heaps; retired and cached spans are not counted
}

// Stats gathers a best-effort snapshot; nothing here takes a lock across
// more than one field, so it can lag briefly under concurrent traffic,
// the same tradeoff malloc/arena.go accepts for its own Utilization()
// report.
func (al *Allocator) Stats() Stats {
	al.arena.mu.Lock()
	reserved := al.arena.reserved
	al.arena.mu.Unlock()
	st := Stats{
		ArenaBytes:    al.arena.totalBytes(),
		SpansTotal:    al.arena.totalSpans(),
		SpansReserved: reserved,
	}
	for i := range al.gcache.shards {
		st.CachedGlobal += al.gcache.counts[i].Load()
	}
	for i := range al.rcache.cells {
		for c := 0; c < numClasses; c++ {
			st.CachedReuse += al.rcache.counts[i][c].Load()
		}
	}
	al.dir.m.Range(func(_, v interface{}) bool {
		h := v.(*threadHeap)
		for c := 0; c < numClasses; c++ {
			if h.spans[c] != 0 {
				st.ClassOccupancy[c]++
			}
		}
		return true
	})
	return st
}

// String renders a human-readable summary, sizes formatted with
// humanize.Bytes the way a CLI diagnostic tool would print them.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "arena: %s across %d spans\n", humanize.Bytes(uint64(s.ArenaBytes)), s.SpansTotal)
	fmt.Fprintf(&b, "global cache: %d spans, reuse cache: %d spans\n", s.CachedGlobal, s.CachedReuse)
	for c := 0; c < numClasses; c++ {
		if s.ClassOccupancy[c] == 0 {
			continue
		}
		fmt.Fprintf(&b, "  class %2d (%s): %d active spans\n", c, humanize.Bytes(uint64(ClassSize(c))), s.ClassOccupancy[c])
	}
	return b.String()
}
