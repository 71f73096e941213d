package tcalloc

import "testing"

func TestGlobalCacheDonateAcquireRoundTrip(t *testing.T) {
	a, err := newArena(spanSize)
	if err != nil {
		t.Fatalf("newArena failed: %v", err)
	}
	base, ok := a.reserve(1)
	if !ok {
		t.Fatalf("reserve failed")
	}
	gc := newGlobalCache(8, 4)
	if !gc.donate(0, base) {
		t.Fatalf("donate under cap should succeed")
	}
	got, ok := gc.acquire(0)
	if !ok || got != base {
		t.Fatalf("acquire returned (%#x, %v), want (%#x, true)", got, ok, base)
	}
}

func TestGlobalCacheRespectsSoftCap(t *testing.T) {
	a, err := newArena(4 * spanSize)
	if err != nil {
		t.Fatalf("newArena failed: %v", err)
	}
	gc := newGlobalCache(8, 2)
	for i := 0; i < 2; i++ {
		base, _ := a.reserve(1)
		if !gc.donate(0, base) {
			t.Fatalf("donate %d under cap should succeed", i)
		}
	}
	base, _ := a.reserve(1)
	if gc.donate(0, base) {
		t.Fatalf("donate past cap should fail")
	}
}

func TestGlobalCacheStealsFromOtherShards(t *testing.T) {
	a, err := newArena(spanSize)
	if err != nil {
		t.Fatalf("newArena failed: %v", err)
	}
	base, _ := a.reserve(1)
	gc := newGlobalCache(8, 4)
	gc.donate(3, base) // lands in shard 3
	got, ok := gc.acquire(0)
	if !ok || got != base {
		t.Fatalf("expected stealing acquire(0) to find span donated to shard 3")
	}
}
