package tcalloc

import "testing"

func newTestThreadHeap(t *testing.T, spans int) (*threadHeap, *buddy) {
	t.Helper()
	a, err := newArena(int64(spans) * spanSize)
	if err != nil {
		t.Fatalf("newArena failed: %v", err)
	}
	b := newBuddy(a)
	gc := newGlobalCache(8, 4)
	rc := newReuseCache(8, 4)
	return newThreadHeap(1, b, gc, rc), b
}

func TestThreadHeapAllocFromClassNeverRepeatsBlock(t *testing.T) {
	h, _ := newTestThreadHeap(t, 2)
	class := ClassOf(32)

	seen := make(map[uintptr]bool)
	for i := 0; i < 100; i++ {
		p := h.allocFromClass(class)
		if p == 0 {
			t.Fatalf("allocFromClass returned 0 at iteration %d", i)
		}
		if seen[p] {
			t.Fatalf("allocFromClass returned duplicate pointer %#x", p)
		}
		seen[p] = true
	}
}

func TestThreadHeapFreeOwnerThenReallocReusesHotBlock(t *testing.T) {
	h, _ := newTestThreadHeap(t, 1)
	class := ClassOf(32)

	p1 := h.allocFromClass(class)
	base := spanBase(p1)
	h.freeToClass(base, p1)

	p2 := h.allocFromClass(class)
	if p2 != p1 {
		t.Fatalf("expected hot-block reuse to hand back %#x, got %#x", p1, p2)
	}
}

func TestThreadHeapRetiresExhaustedSpan(t *testing.T) {
	h, _ := newTestThreadHeap(t, 4)
	class := ClassOf(maxBlockSize) // few blocks per span, easy to exhaust

	blocksPerSpan := int(int64(spanSize-spanHeaderSize) / ClassSize(class))
	base := uintptr(0)
	for i := 0; i < blocksPerSpan+10; i++ {
		p := h.allocFromClass(class)
		if p == 0 {
			t.Fatalf("ran out of spans unexpectedly at iteration %d", i)
		}
		if base == 0 {
			base = spanBase(p)
		}
		if spanBase(p) != base {
			// Heap rotated to a new span, which only happens once the
			// first is exhausted; the test's goal is met.
			return
		}
	}
	t.Fatalf("expected span rotation within a bounded number of allocations")
}

func TestThreadHeapNeverReinitsAnOccupiedRetiredSpan(t *testing.T) {
	h, _ := newTestThreadHeap(t, 4)
	class := ClassOf(maxBlockSize) // one block per span: exhausts on every allocation

	blocksPerSpan := int(int64(spanSize-spanHeaderSize) / ClassSize(class))
	seen := make(map[uintptr]bool)
	rotations := 0
	lastBase := uintptr(0)
	for i := 0; i < blocksPerSpan*3; i++ {
		p := h.allocFromClass(class)
		if p == 0 {
			t.Fatalf("ran out of spans unexpectedly at iteration %d", i)
		}
		if seen[p] {
			t.Fatalf("allocFromClass reissued live pointer %#x at iteration %d", p, i)
		}
		seen[p] = true
		if base := spanBase(p); base != lastBase {
			lastBase = base
			rotations++
		}
	}
	if rotations < 2 {
		t.Fatalf("expected multiple span rotations, got %d", rotations)
	}
}

func TestFreeRemotePublishesToReuseCacheOnFirstFree(t *testing.T) {
	h, _ := newTestThreadHeap(t, 1)
	class := ClassOf(32)
	p := h.allocFromClass(class)
	base := spanBase(p)

	rc := h.rcache
	freeRemote(rc, 0, base, p)

	got, ok := rc.acquire(0, class)
	if !ok || got != base {
		t.Fatalf("expected the span to be published to ReuseCache after its first remote free")
	}
}
