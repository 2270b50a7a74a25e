package fdtable

// This file implements the CAS-loop transitions. Each is a
// load/compute/CAS retry loop; a successful CAS that changed the
// POLLED bit enqueues the FD on tid's update list, and every successful
// CAS re-evaluates cache admission under the per-FD spinlock.

func (t *Table) want(fd int, tid int, d Direction) {
	rec := &t.records[fd]
	a, r, p := active(d), ready(d), polled(d)
	for {
		old := rec.state.Load()
		if old&a != 0 {
			return // already ACTIVE_d: no-op
		}
		next := old | a
		if old&r == 0 {
			next |= p
		}
		if rec.state.CompareAndSwap(old, next) {
			t.afterTransition(fd, tid, old, next, p)
			return
		}
	}
}

func (t *Table) stop(fd int, tid int, d Direction) {
	rec := &t.records[fd]
	a, p := active(d), polled(d)
	for {
		old := rec.state.Load()
		if old&a == 0 {
			return // already inactive: no-op
		}
		next := old &^ (a | p)
		if rec.state.CompareAndSwap(old, next) {
			t.afterTransition(fd, tid, old, next, p)
			return
		}
	}
}

func (t *Table) cant(fd int, tid int, d Direction) {
	rec := &t.records[fd]
	a, r, p := active(d), ready(d), polled(d)
	for {
		old := rec.state.Load()
		if old&r == 0 {
			return // not READY_d: no-op
		}
		next := old &^ r
		if next&a != 0 {
			next |= p
		}
		if rec.state.CompareAndSwap(old, next) {
			t.afterTransition(fd, tid, old, next, p)
			return
		}
	}
}

func (t *Table) may(fd int, tid int, d Direction) {
	rec := &t.records[fd]
	r := ready(d)
	for {
		old := rec.state.Load()
		next := old | r
		if next == old {
			return // already READY_d
		}
		if rec.state.CompareAndSwap(old, next) {
			// may_recv/may_send never changes POLLED.
			t.afterTransition(fd, tid, old, next, 0)
			return
		}
	}
}

func (t *Table) done(fd int, tid int, d Direction) {
	rec := &t.records[fd]
	a, r, p := active(d), ready(d), polled(d)
	for {
		old := rec.state.Load()
		if old&p == 0 || old&r == 0 {
			return // precondition POLLED_d && READY_d not met: no-op
		}
		next := old &^ r
		if next&a != 0 {
			next |= p
		}
		if rec.state.CompareAndSwap(old, next) {
			t.afterTransition(fd, tid, old, next, p)
			return
		}
	}
}

// stopBothDirections clears ACTIVE and POLLED in both nibbles with a
// single CAS, per stop_both's "atomically" requirement.
func (t *Table) stopBothDirections(fd int, tid int) {
	rec := &t.records[fd]
	const clearMask = ActiveR | PolledR | ActiveW | PolledW
	for {
		old := rec.state.Load()
		if old&(ActiveR|ActiveW) == 0 {
			return
		}
		next := old &^ clearMask
		if rec.state.CompareAndSwap(old, next) {
			// Either direction's POLLED bit may have changed; pass both
			// so afterTransition enqueues if either one did.
			t.afterTransition(fd, tid, old, next, PolledR|PolledW)
			return
		}
	}
}

// afterTransition implements the two post-CAS effects common to every
// transition: enqueueing fd on tid's update list if polledBits changed,
// and re-evaluating cache admission under the per-FD spinlock.
func (t *Table) afterTransition(fd int, tid int, old, next uint32, polledBits uint32) {
	if old&polledBits != next&polledBits {
		t.enqueueUpdate(fd, tid)
	}
	rec := &t.records[fd]
	rec.lock.Lock()
	t.updateCacheLocked(fd)
	rec.lock.Unlock()
}

// WantRecv sets ACTIVE_R; if the FD is not already READY_R it also sets
// POLLED_R so the backend arms it in the kernel.
func (t *Table) WantRecv(fd int, tid int) { t.want(fd, tid, Read) }

// WantSend is WantRecv's write-direction dual.
func (t *Table) WantSend(fd int, tid int) { t.want(fd, tid, Write) }

// StopRecv clears ACTIVE_R and POLLED_R.
func (t *Table) StopRecv(fd int, tid int) { t.stop(fd, tid, Read) }

// StopSend clears ACTIVE_W and POLLED_W.
func (t *Table) StopSend(fd int, tid int) { t.stop(fd, tid, Write) }

// StopBoth atomically clears ACTIVE and POLLED in both directions.
func (t *Table) StopBoth(fd int, tid int) { t.stopBothDirections(fd, tid) }

// CantRecv reports an EAGAIN observed on read: clears READY_R and,
// if still ACTIVE_R, re-arms POLLED_R.
func (t *Table) CantRecv(fd int, tid int) { t.cant(fd, tid, Read) }

// CantSend is CantRecv's write-direction dual.
func (t *Table) CantSend(fd int, tid int) { t.cant(fd, tid, Write) }

// MayRecv unconditionally sets READY_R; it never changes POLLED_R.
func (t *Table) MayRecv(fd int, tid int) { t.may(fd, tid, Read) }

// MaySend is MayRecv's write-direction dual.
func (t *Table) MaySend(fd int, tid int) { t.may(fd, tid, Write) }

// DoneRecv handles a suspected EOF on a level-triggered read: if both
// POLLED_R and READY_R are set, clears READY_R and, if still ACTIVE_R,
// re-arms POLLED_R.
func (t *Table) DoneRecv(fd int, tid int) { t.done(fd, tid, Read) }

// DoneSend is DoneRecv's write-direction dual.
func (t *Table) DoneSend(fd int, tid int) { t.done(fd, tid, Write) }
