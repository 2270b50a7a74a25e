package fdtable

// polled_mask bookkeeping. It survives insert (a previous
// incarnation of the FD may still be armed in a backend) and is only
// reconciled by the backend as it drains the update list. The precise
// multi-backend membership discipline was an open design question;
// this implementation's chosen discipline is: bit tid is set when
// backend tid successfully registers the FD, and cleared when backend
// tid successfully deregisters it or is told to forget it (e.g. during
// fork recovery), never inferred from the state word.

// SetPolledMaskBit records that backend tid now holds a kernel
// registration for fd.
func (t *Table) SetPolledMaskBit(fd int, tid int) {
	rec := &t.records[fd]
	rec.lock.Lock()
	rec.polledMask |= 1 << uint(tid)
	rec.lock.Unlock()
}

// ClearPolledMaskBit records that backend tid no longer holds a kernel
// registration for fd.
func (t *Table) ClearPolledMaskBit(fd int, tid int) {
	rec := &t.records[fd]
	rec.lock.Lock()
	rec.polledMask &^= 1 << uint(tid)
	rec.lock.Unlock()
}

// PolledMask returns the current polled_mask for fd.
func (t *Table) PolledMask(fd int) uint64 {
	rec := &t.records[fd]
	rec.lock.Lock()
	defer rec.lock.Unlock()
	return rec.polledMask
}

// ThreadMask returns the thread_mask fd was inserted with.
func (t *Table) ThreadMask(fd int) uint64 {
	rec := &t.records[fd]
	rec.lock.Lock()
	defer rec.lock.Unlock()
	return rec.threadMask
}

// ForEachActive calls fn for every FD currently bound to an owner with
// at least one ACTIVE bit set. Used after a fork to force-clear
// polled_mask and re-enqueue every active FD.
func (t *Table) ForEachActive(fn func(fd int)) {
	for i := range t.records {
		rec := &t.records[i]
		rec.lock.Lock()
		bound := rec.owner != nil
		active := rec.state.Load()&(ActiveR|ActiveW) != 0
		rec.lock.Unlock()
		if bound && active {
			fn(i)
		}
	}
}

// ForceClearPolledMask zeroes fd's polled_mask outright, bypassing the
// normal per-bit reconciliation. Used only during fork recovery, where
// every backend's kernel-side registration is known to be gone.
func (t *Table) ForceClearPolledMask(fd int) {
	rec := &t.records[fd]
	rec.lock.Lock()
	rec.polledMask = 0
	rec.lock.Unlock()
}

// ForceReenqueue pushes fd onto the update list of every worker named
// in its thread_mask, regardless of update_mask state. Used by fork
// recovery to force every active FD back through registration once a
// backend has been reinitialized and can no longer be trusted to have
// any live kernel registration.
func (t *Table) ForceReenqueue(fd int) {
	mask := t.ThreadMask(fd)
	for tid := 0; tid < len(t.workers); tid++ {
		if mask&(1<<uint(tid)) == 0 {
			continue
		}
		t.clearUpdateMaskBit(fd, tid)
		t.enqueueUpdate(fd, tid)
	}
}
