package tcalloc

// retiredStash is a tiny owner-only holding pen for spans of one size
// class that just went empty. Checking here before touching GlobalCache
// or ReuseCache lets a goroutine with a bursty allocate/free/allocate
// pattern in one class avoid the shared caches entirely (spec.md §4.4's
// cold-path ordering: retired, then GlobalCache, then ReuseCache, then
// Buddy).
type retiredStash [2]uintptr

func (r *retiredStash) push(base uintptr) bool {
	for i := range r {
		if r[i] == 0 {
			r[i] = base
			return true
		}
	}
	return false
}

func (r *retiredStash) pop() (uintptr, bool) {
	for i := range r {
		if r[i] != 0 {
			base := r[i]
			r[i] = 0
			return base, true
		}
	}
	return 0, false
}

// restoreParked drains parked back into dst, in whatever order pop
// happens to return them; neither stash makes any ordering promise.
func restoreParked(dst, parked *retiredStash) {
	for {
		base, ok := parked.pop()
		if !ok {
			return
		}
		dst.push(base)
	}
}

// threadHeap holds all per-goroutine allocation state. spec.md models
// this as per-OS-thread state; here it is per-goroutine, which preserves
// the invariant the design actually depends on — a span's owner-only
// fields are touched by exactly one logical thread of control at a time —
// since a goroutine can never run concurrently with itself even when the
// scheduler migrates it across OS threads between calls.
type threadHeap struct {
	id        uint64
	shardHint int

	buddy  *buddy
	gcache *globalCache
	rcache *reuseCache

	spans   [numClasses]uintptr // active span per class, 0 if none bound
	retired [numClasses]retiredStash

	reentering bool // set while Malloc is inside allocFromClass

	lastActiveNanos int64
}

func newThreadHeap(id uint64, b *buddy, gc *globalCache, rc *reuseCache) *threadHeap {
	return &threadHeap{
		id:        id,
		shardHint: osThreadHint(),
		buddy:     b,
		gcache:    gc,
		rcache:    rc,
	}
}

// acquireSpan binds a fresh span to class, trying progressively more
// expensive sources, and returns its base address.
//
// A span popped from the retired stash is only trusted once it has had a
// chance to adopt any remote frees that arrived while it was parked. But
// empty() being true doesn't by itself mean the span is safe to hand off:
// a span that just ran its bump cursor dry with nothing freed yet is also
// empty() (blocksInUse == blocksTotal), and its blocks are still live in
// the caller's hands. Only blocksInUse == 0 means the span is genuinely
// unoccupied and can go to GlobalCache/Buddy for reinitialization under a
// different class; an empty-but-occupied span is left parked in the stash
// and the search moves on to an actual replacement.
func (h *threadHeap) acquireSpan(class int) (uintptr, error) {
	var parked retiredStash
	for {
		base, ok := h.retired[class].pop()
		if !ok {
			break
		}
		s := spanAt(base)
		s.adoptRemote()
		if !s.empty() {
			restoreParked(&h.retired[class], &parked)
			return base, nil
		}
		if s.blocksInUse == 0 {
			h.releaseExhausted(base)
			continue
		}
		parked.push(base)
	}
	restoreParked(&h.retired[class], &parked)
	if base, ok := h.gcache.acquire(h.shardHint); ok {
		spanAt(base).initForClass(class, h.id)
		return base, nil
	}
	if base, ok := h.rcache.acquire(h.shardHint, class); ok {
		spanAt(base).setOwner(h.id)
		spanAt(base).adoptRemote()
		return base, nil
	}
	base, err := h.buddy.allocSpan()
	if err != nil {
		return 0, err
	}
	spanAt(base).initForClass(class, h.id)
	return base, nil
}

// retireSpan is called when a class's active span has nothing left to
// give without a fresh acquire. It tries to keep the span nearby (the
// per-class stash) before giving it back to the shared tiers.
//
// base has just run out of bump capacity with nothing freed yet, so it is
// always fully occupied at this point — never a candidate for immediate
// release. If the stash is full, evictReleasable tries to make room by
// releasing an older stashed entry that has since become unoccupied; if
// none qualifies, base is simply left untracked by the stash. It is not
// lost: an owner-side free still finds it via spanBase(ptr), and a remote
// free still publishes it through ReuseCache (freeRemote).
func (h *threadHeap) retireSpan(class int, base uintptr) {
	if h.retired[class].push(base) {
		return
	}
	if h.evictReleasable(class) && h.retired[class].push(base) {
		return
	}
}

// evictReleasable looks for one entry in class's retired stash that is
// now genuinely unoccupied (blocksInUse == 0) and releases it to the
// shared tiers, freeing a stash slot. Reports whether it found one.
func (h *threadHeap) evictReleasable(class int) bool {
	var kept retiredStash
	found := false
	for {
		base, ok := h.retired[class].pop()
		if !ok {
			break
		}
		s := spanAt(base)
		s.adoptRemote()
		if !found && s.blocksInUse == 0 {
			h.releaseExhausted(base)
			found = true
			continue
		}
		kept.push(base)
	}
	restoreParked(&h.retired[class], &kept)
	return found
}

// releaseExhausted hands a span with nothing left in its owner-only stash
// down to the shared tiers: GlobalCache if there's room, Buddy otherwise.
func (h *threadHeap) releaseExhausted(base uintptr) {
	if h.gcache.donate(h.shardHint, base) {
		return
	}
	h.buddy.freeSpan(base)
}

// allocFromClass services one request of the given class from h's
// per-class state, acquiring or rotating spans as needed.
func (h *threadHeap) allocFromClass(class int) uintptr {
	for {
		base := h.spans[class]
		if base == 0 {
			acquired, err := h.acquireSpan(class)
			if err != nil {
				return 0
			}
			base = acquired
			h.spans[class] = base
		}
		s := spanAt(base)

		if p, ok := s.takeHot(); ok {
			return p
		}
		if p, ok := s.popLocalFree(); ok {
			return p
		}
		if s.adoptRemote() {
			if p, ok := s.popLocalFree(); ok {
				return p
			}
		}
		if p, ok := s.bumpAlloc(); ok {
			return p
		}

		// Span exhausted: retire it and try again with a new one.
		h.spans[class] = 0
		h.retireSpan(class, base)
	}
}

// freeToClass returns ptr, which belongs to a span this heap owns, to
// that span's owner-only free structures.
func (h *threadHeap) freeToClass(base uintptr, ptr uintptr) {
	spanAt(base).freeOwner(ptr)
}

// freeRemote returns ptr belonging to a span some other goroutine owns.
// If this push is the one that takes the span's remote list from empty
// to non-empty, it attempts to publish the span via ReuseCache so the
// owner (or anyone else) can pick it up without waiting on the owner to
// notice on its own.
func freeRemote(rc *reuseCache, hint int, base uintptr, ptr uintptr) {
	s := spanAt(base)
	if wasEmpty := s.pushRemote(ptr); wasEmpty && s.tryMarkReuse() {
		rc.donate(hint, int(s.classIdx), base)
	}
}
