package tcalloc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prataprc/tcalloc/internal/alog"
)

// heapDirectory is the process-wide registry of live per-goroutine heaps.
//
// spec.md models per-thread state as living for the OS thread's lifetime
// and torn down by a TLS destructor when the thread exits. Go exposes no
// equivalent hook: goroutines are not finalizable objects, and a
// runtime.SetFinalizer attached to a heap this directory keeps strongly
// reachable would never fire (the object never becomes unreachable while
// its entry survives). Rather than fabricate an unreliable hook, idle
// heaps are reclaimed by a background reaper that drains and evicts any
// heap that has not serviced a request in reapIdleAfter: a goroutine that
// is merely idle pays only the cost of re-registering on its next call,
// and a goroutine that has actually exited donates its spans back to the
// shared caches promptly instead of holding them forever.
//
// The directory itself is a sync.Map rather than a sharded mutex map: its
// access pattern is exactly what sync.Map is documented to optimize for
// (each key is written once, at first registration, and read repeatedly
// afterward by the same goroutine), so the steady-state lookup on every
// Malloc/Free never takes a lock at all.
type heapDirectory struct {
	m             sync.Map // uint64 -> *threadHeap
	reapIdleAfter time.Duration
	stop          chan struct{}
}

func newHeapDirectory(reapIdleAfter time.Duration) *heapDirectory {
	return &heapDirectory{reapIdleAfter: reapIdleAfter, stop: make(chan struct{})}
}

// lookup returns the heap for id, or nil if none is registered.
func (d *heapDirectory) lookup(id uint64) *threadHeap {
	v, ok := d.m.Load(id)
	if !ok {
		return nil
	}
	return v.(*threadHeap)
}

// register inserts h under id, replacing anything already registered.
func (d *heapDirectory) register(id uint64, h *threadHeap) {
	d.m.Store(id, h)
}

// getOrCreate returns the heap registered under id, creating and
// registering one via create if none exists yet. If two goroutines race
// to create the same id's heap (never true for the real caller, since a
// goroutine only ever resolves its own id, but exercised by tests), the
// loser's heap is discarded and the winner's is returned.
func (d *heapDirectory) getOrCreate(id uint64, create func() *threadHeap) *threadHeap {
	if v, ok := d.m.Load(id); ok {
		return v.(*threadHeap)
	}
	actual, _ := d.m.LoadOrStore(id, create())
	return actual.(*threadHeap)
}

func (d *heapDirectory) unregister(id uint64) {
	d.m.Delete(id)
}

// startReaper launches the idle sweep goroutine. Safe to call once per
// allocator instance; the returned stop function is idempotent.
func (d *heapDirectory) startReaper(interval time.Duration, drain func(*threadHeap)) func() {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.sweep(drain)
			case <-d.stop:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(d.stop) })
	}
}

func (d *heapDirectory) sweep(drain func(*threadHeap)) {
	now := time.Now()
	d.m.Range(func(key, value interface{}) bool {
		h := value.(*threadHeap)
		if now.Sub(h.lastActive()) < d.reapIdleAfter {
			return true
		}
		d.m.Delete(key)
		alog.Debugf("tcalloc: reaping idle heap for goroutine %d", key)
		drain(h)
		return true
	})
}

// touch records activity on h; called on every fast-path Malloc/Free so
// the reaper never evicts a heap still in active use.
func (h *threadHeap) touch() {
	atomic.StoreInt64(&h.lastActiveNanos, time.Now().UnixNano())
}

func (h *threadHeap) lastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&h.lastActiveNanos))
}
