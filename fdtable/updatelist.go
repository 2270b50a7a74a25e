package fdtable

import "sync/atomic"

// updateList is a per-worker, fixed-capacity buffer of FD numbers whose
// polled intent changed since the backend last reconciled it. Capacity
// equals the FD-table size, since an FD is at-most-once resident per
// worker.
type updateList struct {
	fds []int32
	n   atomic.Int32
}

func newUpdateList(capacity int) *updateList {
	return &updateList{fds: make([]int32, capacity)}
}

// push appends fd, reserving the next slot atomically. Callers must
// already have won the update_mask bit-test-and-set for this worker;
// push itself does not deduplicate.
func (u *updateList) push(fd int32) {
	idx := u.n.Add(1) - 1
	if int(idx) >= len(u.fds) {
		// Table size bounds this; a caller that manages to exceed it has
		// broken the at-most-once invariant upstream.
		return
	}
	u.fds[idx] = fd
}

// drain returns every FD queued since the last drain and resets the
// list. The returned slice is only valid until the next push.
func (u *updateList) drain() []int32 {
	n := u.n.Swap(0)
	if n == 0 {
		return nil
	}
	if int(n) > len(u.fds) {
		n = int32(len(u.fds))
	}
	return u.fds[:n]
}

// enqueueUpdate implements update-list admission: bit-test-and-set
// on the record's update_mask for tid, pushing onto that worker's list
// only on the transition from unset to set.
func (t *Table) enqueueUpdate(fd int, tid int) {
	bit := uint64(1) << uint(tid)
	rec := &t.records[fd]
	for {
		old := rec.updateMask.Load()
		if old&bit != 0 {
			return
		}
		if rec.updateMask.CompareAndSwap(old, old|bit) {
			t.workers[tid].updates.push(int32(fd))
			return
		}
	}
}

// clearUpdateMaskBit clears tid's bit in fd's update_mask, called by the
// backend once it has reconciled that worker's registration for fd.
func (t *Table) clearUpdateMaskBit(fd int, tid int) {
	bit := uint64(1) << uint(tid)
	rec := &t.records[fd]
	for {
		old := rec.updateMask.Load()
		if old&bit == 0 {
			return
		}
		if rec.updateMask.CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

// DrainUpdates returns the pending FD list for worker tid and resets it.
// Called by the poller backend before each wait.
func (t *Table) DrainUpdates(tid int) []int32 {
	return t.workers[tid].updates.drain()
}

// AckUpdate clears tid's update_mask bit for fd once the backend has
// translated the pending delta into a kernel registration call. Until
// this is called, a further polled-bit change on fd for this worker is
// a silent no-op per the at-most-once membership rule.
func (t *Table) AckUpdate(fd int, tid int) {
	t.clearUpdateMaskBit(fd, tid)
}
