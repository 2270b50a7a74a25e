package fdtable

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// IOCallback is invoked by the dispatch loop for an FD believed ready.
// It discovers its context via the owner it was registered with and
// must call CantRecv/CantSend on EAGAIN.
type IOCallback func(fd int)

// Record is the per-FD state: the atomic state word plus everything the
// per-FD spinlock guards. One Record exists per possible FD, indexed by
// FD number, for the lifetime of the table.
type Record struct {
	state atomic.Uint32 // low 8 bits meaningful; CAS/OR only, never locked

	lock spinlock // guards everything below

	ev         uint32 // poll-event snapshot; HUP/ERR bits sticky
	owner      any
	iocb       IOCallback
	threadMask uint64

	updateMask atomic.Uint64 // BTS per worker, cleared by backend reconciliation
	polledMask uint64        // guarded by lock; preserved across insert

	lingerRisk bool
	cloned     bool

	cachePrev, cacheNext int32
	cacheMember          bool
	cacheWorker          int // -1 = global cache, else per-worker index
}

// workerState is the per-worker half of the ready cache and update
// list. Only the owning worker ever touches its own cache (no lock);
// the update list is written by any worker driving a transition on an
// FD affine to this worker, which is why it is still append-only via
// atomic reservation rather than assumed single-writer.
type workerState struct {
	cache   cacheList
	updates *updateList
}

// Table is the process-wide FD table: one fixed-size array of records,
// the global ready cache, and one workerState per dispatch worker.
// A Table is built by New, which must precede any Insert.
type Table struct {
	records   []Record
	workers   []*workerState
	cacheMask atomic.Uint64

	globalMu    sync.Mutex
	globalCache cacheList
}

// New allocates a table sized for capacity possible FDs, serviced by
// nWorkers dispatch workers. capacity should track RLIMIT_NOFILE; 0
// uses the current RLIMIT_NOFILE soft limit, or 65536 if it cannot be
// read.
func New(capacity, nWorkers int) *Table {
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	if nWorkers <= 0 {
		nWorkers = 1
	}
	t := &Table{
		records: make([]Record, capacity),
	}
	for i := range t.records {
		t.records[i].cachePrev = noFD
		t.records[i].cacheNext = noFD
		t.records[i].cacheWorker = -1
	}
	t.globalCache.head, t.globalCache.tail = noFD, noFD
	t.workers = make([]*workerState, nWorkers)
	for i := range t.workers {
		ws := &workerState{updates: newUpdateList(capacity)}
		ws.cache.head, ws.cache.tail = noFD, noFD
		t.workers[i] = ws
	}
	return t
}

func defaultCapacity() int {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err == nil && rlim.Cur > 0 {
		return int(rlim.Cur)
	}
	return 65536
}

// NumWorkers returns the number of workers this table was built for.
func (t *Table) NumWorkers() int { return len(t.workers) }

// Capacity returns the table's FD capacity.
func (t *Table) Capacity() int { return len(t.records) }

// State returns a snapshot of fd's state word.
func (t *Table) State(fd int) State {
	return State(t.records[fd].state.Load())
}

// Owner returns the registrant currently bound to fd, or nil if fd is
// not currently inserted.
func (t *Table) Owner(fd int) any {
	rec := &t.records[fd]
	rec.lock.Lock()
	defer rec.lock.Unlock()
	return rec.owner
}

// Insert binds an unused slot to owner/iocb/threadMask.
// tid identifies the inserting worker, whose update_mask bit is cleared
// (a previous incarnation of this FD may have left it set).
// polled_mask is deliberately left untouched: a previous incarnation
// may still be armed in some backend, reconciled on the next drain.
func (t *Table) Insert(fd int, owner any, iocb IOCallback, threadMask uint64, tid int) {
	rec := &t.records[fd]
	rec.lock.Lock()
	defer rec.lock.Unlock()
	if rec.state.Load() != 0 || rec.owner != nil {
		contractViolation(fd, "insert", "slot already bound; double insert")
	}
	rec.owner = owner
	rec.iocb = iocb
	rec.threadMask = threadMask
	rec.ev = 0
	rec.lingerRisk = false
	rec.cloned = false
	t.clearUpdateMaskBit(fd, tid)
}

// Delete unbinds fd, evicts it from whichever cache holds it, marks the
// update list so the backend de-registers it, and closes the
// descriptor. The state word is zeroed before cache eviction so a
// concurrent dispatcher observing fd in a cache sees a zeroed state and
// skips it without invoking iocb.
func (t *Table) Delete(fd int, tid int) error {
	t.teardown(fd, tid)
	return unix.Close(fd)
}

// Remove is identical to Delete but does not close the descriptor,
// matching the insert/delete-vs-remove distinction.
func (t *Table) Remove(fd int, tid int) {
	t.teardown(fd, tid)
}

func (t *Table) teardown(fd int, tid int) {
	rec := &t.records[fd]
	if rec.state.Load() == 0 && rec.owner == nil {
		contractViolation(fd, "delete", "fd not registered")
	}
	rec.state.Store(0)

	rec.lock.Lock()
	t.evictLocked(fd)
	rec.owner = nil
	rec.iocb = nil
	rec.ev = 0
	rec.lock.Unlock()

	t.enqueueUpdate(fd, tid)
}

// Invoke calls fd's registered iocb, but only if fd is still live: the
// state word is non-zero and a callback is bound. A delete racing with
// dispatch zeroes the state word before evicting the cache (see
// teardown), so a concurrent dispatcher that observed fd in a cache
// finds a zeroed state here and returns false without invoking iocb,
// so a racing delete is never observed as a stale callback invocation.
func (t *Table) Invoke(fd int) bool {
	if t.records[fd].state.Load() == 0 {
		return false
	}
	rec := &t.records[fd]
	rec.lock.Lock()
	cb := rec.iocb
	rec.lock.Unlock()
	if cb == nil {
		return false
	}
	cb(fd)
	return true
}
