package fdtable

// cacheList is an intrusive doubly-linked list of FD indices. Removal
// is O(1) because each record carries its own prev/next pointers;
// membership is tracked on the record itself (cacheMember) rather than
// by a sentinel neighbour value, so the membership test is a single
// field read.
type cacheList struct {
	head, tail int32 // fd indices, -1 when empty
}

const noFD int32 = -1

func (l *cacheList) pushBack(t *Table, fd int32) {
	rec := &t.records[fd]
	rec.cachePrev = l.tail
	rec.cacheNext = noFD
	if l.tail != noFD {
		t.records[l.tail].cacheNext = fd
	} else {
		l.head = fd
	}
	l.tail = fd
	rec.cacheMember = true
}

// remove is idempotent: removing an FD that is in no cache list is a
// no-op. Callers pass the list the FD was admitted to (cacheWorker).
func (l *cacheList) remove(t *Table, fd int32) {
	rec := &t.records[fd]
	if !rec.cacheMember {
		return
	}
	p, n := rec.cachePrev, rec.cacheNext
	if p != noFD {
		t.records[p].cacheNext = n
	} else {
		l.head = n
	}
	if n != noFD {
		t.records[n].cachePrev = p
	} else {
		l.tail = p
	}
	rec.cacheMember = false
	rec.cachePrev, rec.cacheNext = noFD, noFD
}

func (l *cacheList) empty() bool { return l.head == noFD }

// drain detaches and returns every FD currently in the list, leaving it
// empty. Used by the dispatch loop, which processes a cache in a single
// pass per tick so FDs re-admitted mid-pass are serviced on
// the next tick instead of starving the poller.
func (l *cacheList) drain(t *Table) []int32 {
	var out []int32
	for fd := l.head; fd != noFD; {
		next := t.records[fd].cacheNext
		rec := &t.records[fd]
		rec.cacheMember = false
		rec.cachePrev, rec.cacheNext = noFD, noFD
		out = append(out, fd)
		fd = next
	}
	l.head, l.tail = noFD, noFD
	return out
}

// updateCacheLocked re-evaluates cache admission for fd under its per-FD
// lock. Must be called with rec.lock held.
func (t *Table) updateCacheLocked(fd int) {
	rec := &t.records[fd]
	idx := int32(fd)
	admit := cacheEligible(rec.state.Load())
	single, worker := singleWorker(rec.threadMask)
	if admit {
		if rec.cacheMember {
			// Already admitted; leave it where it is; re-admission is a
			// no-op so FIFO order within the cache is preserved.
			return
		}
		if single {
			t.workers[worker].cache.pushBack(t, idx)
			rec.cacheWorker = worker
		} else {
			t.globalMu.Lock()
			t.globalCache.pushBack(t, idx)
			t.globalMu.Unlock()
			rec.cacheWorker = -1
		}
		t.refreshCacheMask()
		return
	}
	if !rec.cacheMember {
		return
	}
	if rec.cacheWorker >= 0 {
		t.workers[rec.cacheWorker].cache.remove(t, idx)
	} else {
		t.globalMu.Lock()
		t.globalCache.remove(t, idx)
		t.globalMu.Unlock()
	}
	t.refreshCacheMask()
}

// evictLocked removes fd from whichever cache holds it, unconditionally.
// Used by delete, which must guarantee the FD is gone from every cache
// regardless of what the state word currently says.
func (t *Table) evictLocked(fd int) {
	rec := &t.records[fd]
	if !rec.cacheMember {
		return
	}
	if rec.cacheWorker >= 0 {
		t.workers[rec.cacheWorker].cache.remove(t, int32(fd))
	} else {
		t.globalMu.Lock()
		t.globalCache.remove(t, int32(fd))
		t.globalMu.Unlock()
	}
	t.refreshCacheMask()
}

// singleWorker reports whether mask has exactly one bit set and, if so,
// returns that worker's index.
func singleWorker(mask uint64) (bool, int) {
	if mask == 0 || mask&(mask-1) != 0 {
		return false, -1
	}
	for i := 0; i < 64; i++ {
		if mask&(1<<uint(i)) != 0 {
			return true, i
		}
	}
	return false, -1
}

// refreshCacheMask recomputes fd_cache_mask: a worker's bit is set if
// its own per-thread cache is non-empty, or if the global cache is
// non-empty (any worker may be woken to help service it).
func (t *Table) refreshCacheMask() {
	t.globalMu.Lock()
	t.refreshCacheMaskLocked()
	t.globalMu.Unlock()
}

// refreshCacheMaskLocked is refreshCacheMask for callers that already
// hold globalMu (avoids the recursive-lock trap in TryDrainGlobalCache).
func (t *Table) refreshCacheMaskLocked() {
	var mask uint64
	globalNonEmpty := !t.globalCache.empty()
	for i, w := range t.workers {
		if !w.cache.empty() || globalNonEmpty {
			mask |= 1 << uint(i)
		}
	}
	t.cacheMask.Store(mask)
}

// CacheMask returns the current fd_cache_mask, used by dispatch loops
// deciding whether to poll with a zero timeout or block.
func (t *Table) CacheMask() uint64 { return t.cacheMask.Load() }

// DrainWorkerCache detaches and returns every FD in tid's own per-thread
// cache. Requires no locking: no thread but the owner may touch another
// thread's per-thread cache, so only the owning dispatch loop calls this
// for its own tid.
func (t *Table) DrainWorkerCache(tid int) []int32 {
	out := t.workers[tid].cache.drain(t)
	if len(out) > 0 {
		t.refreshCacheMask()
	}
	return out
}

// TryDrainGlobalCache attempts to acquire the global cache lock without
// blocking. On success it detaches every FD whose thread_mask includes
// tid; entries belonging to other workers are left in the global cache
// for them to pick up. Returns nil, false if the lock was contended.
func (t *Table) TryDrainGlobalCache(tid int) ([]int32, bool) {
	if !t.globalMu.TryLock() {
		return nil, false
	}
	defer t.globalMu.Unlock()

	all := t.globalCache.drain(t)
	bit := uint64(1) << uint(tid)
	var mine []int32
	for _, fd := range all {
		if t.records[fd].threadMask&bit != 0 {
			mine = append(mine, fd)
		} else {
			t.globalCache.pushBack(t, fd)
		}
	}
	t.refreshCacheMaskLocked()
	return mine, true
}
