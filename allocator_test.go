package tcalloc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prataprc/tcalloc/config"
)

func newTestAllocator(t *testing.T, spans int64) *Allocator {
	t.Helper()
	cfg := config.Default()
	cfg["arena.bytes"] = spans * spanSize
	al, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(al.Close)
	return al
}

func TestAllocatorMallocFreeSingleThreaded(t *testing.T) {
	al := newTestAllocator(t, 4)
	ptrs := make([]uintptr, 0, 256)
	for i := 0; i < 256; i++ {
		p, err := al.Malloc(16)
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	seen := map[uintptr]bool{}
	for _, p := range ptrs {
		require.False(t, seen[p], "duplicate pointer %#x", p)
		seen[p] = true
	}
	for _, p := range ptrs {
		al.Free(p)
	}
	// Every block should be reclaimable again after freeing all of them.
	for i := 0; i < 256; i++ {
		_, err := al.Malloc(16)
		require.NoError(t, err)
	}
}

func TestAllocatorLargeAllocationBypassesClasses(t *testing.T) {
	al := newTestAllocator(t, 8)
	p, err := al.Malloc(maxBlockSize + 1)
	require.NoError(t, err)
	require.GreaterOrEqual(t, al.UsableSize(p), int64(maxBlockSize+1))
	al.Free(p)
}

func TestAllocatorCallocZeroesMemory(t *testing.T) {
	al := newTestAllocator(t, 2)
	p, err := al.Calloc(16, 8)
	require.NoError(t, err)
	b := unsafeSliceForTest(p, 128)
	for i, v := range b {
		require.Equalf(t, byte(0), v, "byte %d not zeroed", i)
	}
}

func TestAllocatorReallocPreservesContentOnGrow(t *testing.T) {
	al := newTestAllocator(t, 2)
	p, err := al.Malloc(16)
	require.NoError(t, err)
	b := unsafeSliceForTest(p, 16)
	for i := range b {
		b[i] = byte(i + 1)
	}
	p2, err := al.Realloc(p, 128)
	require.NoError(t, err)
	b2 := unsafeSliceForTest(p2, 16)
	for i := range b2 {
		require.Equal(t, byte(i+1), b2[i])
	}
}

func TestAllocatorReallocSameClassIsNoop(t *testing.T) {
	al := newTestAllocator(t, 2)
	p, err := al.Malloc(64)
	require.NoError(t, err)
	p2, err := al.Realloc(p, 65)
	require.NoError(t, err)
	require.Equal(t, p, p2, "Realloc within the same class should not move the block")
}

func TestAllocatorCrossGoroutineFreeIsSafe(t *testing.T) {
	al := newTestAllocator(t, 4)
	const n = 128
	ptrs := make([]uintptr, n)
	for i := range ptrs {
		p, err := al.Malloc(32)
		require.NoError(t, err)
		ptrs[i] = p
	}

	var wg sync.WaitGroup
	wg.Add(n)
	for _, p := range ptrs {
		go func(p uintptr) {
			defer wg.Done()
			al.Free(p)
		}(p)
	}
	wg.Wait()
}

func TestAllocatorReclaimSpanRoutesLiveSpanToReuseCache(t *testing.T) {
	al := newTestAllocator(t, 2)
	class := ClassOf(32)
	p, err := al.Malloc(32)
	require.NoError(t, err)
	base := spanBase(p)

	// Simulate the reaper draining a heap that exited without freeing p:
	// the span still carries a live block and must not be handed to
	// GlobalCache, which would reinitialize it for an unrelated class.
	al.reclaimSpan(base)

	got, ok := al.rcache.acquire(0, class)
	require.True(t, ok, "expected the still-occupied span in ReuseCache")
	require.Equal(t, base, got)
}

func TestAllocatorReclaimSpanRoutesDrainedSpanToGlobalCache(t *testing.T) {
	al := newTestAllocator(t, 2)
	p, err := al.Malloc(32)
	require.NoError(t, err)
	base := spanBase(p)
	al.Free(p)

	al.reclaimSpan(base)

	got, ok := al.gcache.acquire(0)
	require.True(t, ok, "expected the fully drained span in GlobalCache")
	require.Equal(t, base, got)
}

func TestAllocatorShrinkIsSafeAfterFrees(t *testing.T) {
	al := newTestAllocator(t, 4)
	p, err := al.Malloc(32)
	require.NoError(t, err)
	al.Free(p)
	al.Shrink()

	// The arena must still be usable after shrink.
	_, err = al.Malloc(32)
	require.NoError(t, err)
}

func TestAllocatorAlignedAllocReturnsAlignedPointer(t *testing.T) {
	al := newTestAllocator(t, 2)
	p, err := al.AlignedAlloc(64, 40)
	require.NoError(t, err)
	require.Zero(t, p%64, "pointer %#x is not 64-byte aligned", p)
}

func TestAllocatorAlignedAllocRejectsNonPowerOfTwo(t *testing.T) {
	al := newTestAllocator(t, 2)
	_, err := al.AlignedAlloc(48, 16)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAllocatorFreeOfForeignPointerPanicsWithErrInvalidFree(t *testing.T) {
	al := newTestAllocator(t, 2)
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected Free to panic on a foreign pointer")
		err, ok := r.(error)
		require.True(t, ok, "expected panic value to be an error, got %T", r)
		require.ErrorIs(t, err, ErrInvalidFree)
	}()
	al.Free(al.arena.base + uintptr(al.arena.size) + 8)
}
