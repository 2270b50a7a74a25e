// Package dispatch implements the per-worker dispatch loop: drain the
// ready cache, invoke owner callbacks, then block in the poller. It
// is the only package that ties fdtable and netpoll together into a
// runnable worker.
package dispatch

import (
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/sp1l/fdcore/corelog"
	"github.com/sp1l/fdcore/fdtable"
	"github.com/sp1l/fdcore/netpoll"
)

// TimerFunc returns the absolute deadline (UnixNano) of the nearest
// externally-owned timer, or a negative value to block indefinitely.
// Timer bookkeeping itself is out of scope for this core;
// the dispatch loop only needs to know when to stop blocking.
type TimerFunc func() int64

// Loop runs one worker's dispatch cycle: flush update list, poll (with
// a zero timeout if the cache has work), process the ready cache, and
// invoke iocb for each FD still live by the time it is serviced.
type Loop struct {
	Table   *fdtable.Table
	TID     int
	Backend netpoll.Backend
	Pool    *ants.Pool // submits callbacks for shared (multi-worker) FDs
	Timer   TimerFunc

	stop chan struct{}
}

// NewLoop constructs a Loop for worker tid. pool may be nil, in which
// case shared-FD callbacks run inline on this goroutine instead of
// being submitted to a bounded pool.
func NewLoop(table *fdtable.Table, tid int, backend netpoll.Backend, pool *ants.Pool, timer TimerFunc) *Loop {
	if timer == nil {
		timer = func() int64 { return -1 }
	}
	return &Loop{
		Table:   table,
		TID:     tid,
		Backend: backend,
		Pool:    pool,
		Timer:   timer,
		stop:    make(chan struct{}),
	}
}

// Stop requests the loop to exit after its current iteration.
func (l *Loop) Stop() { close(l.stop) }

// Run blocks servicing this worker's FDs until Stop is called or the
// backend returns a non-transient error.
func (l *Loop) Run() error {
	sink := l.Table.UpdateEvents
	for {
		select {
		case <-l.stop:
			return nil
		default:
		}

		expire := l.nextDeadline()
		if err := l.Backend.Wait(l.TID, expire, sink); err != nil {
			return err
		}
		l.processCache()
	}
}

// nextDeadline picks a zero timeout if this
// worker's cache (or the global cache it may help service) has work
// waiting, otherwise the externally supplied timer deadline.
func (l *Loop) nextDeadline() int64 {
	if l.Table.CacheMask()&(1<<uint(l.TID)) != 0 {
		return time.Now().UnixNano()
	}
	return l.Timer()
}

// processCache services the per-thread cache
// first (no lock, invoked inline since these FDs are single-worker
// affine), then a try-locked pass over the global cache for FDs this
// worker is authorised to service, submitted to the worker pool since
// another worker may concurrently be servicing a different FD sharing
// the same underlying connection's thread_mask.
func (l *Loop) processCache() {
	for _, fd := range l.Table.DrainWorkerCache(l.TID) {
		l.invoke(int(fd))
	}
	if shared, ok := l.Table.TryDrainGlobalCache(l.TID); ok {
		for _, fd := range shared {
			l.submit(int(fd))
		}
	}
}

func (l *Loop) invoke(fd int) {
	defer func() {
		if r := recover(); r != nil {
			corelog.Error("dispatch: iocb panic", "fd", fd, "worker", l.TID, "recover", r)
		}
	}()
	l.Table.Invoke(fd)
}

// submit hands fd's callback to the worker pool; if the pool is absent
// or saturated, it falls back to running inline rather than dropping
// the event, since the ready cache is not itself a durable queue.
func (l *Loop) submit(fd int) {
	if l.Pool == nil {
		l.invoke(fd)
		return
	}
	err := l.Pool.Submit(func() { l.invoke(fd) })
	if err != nil {
		corelog.Warn("dispatch: pool submit failed, running inline", "fd", fd, "err", err)
		l.invoke(fd)
	}
}
