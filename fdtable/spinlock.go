package fdtable

import (
	"runtime"
	"sync/atomic"
)

// spinlock is the per-FD lock guarding ev, owner/iocb and the cache
// links. Held for only a handful of instructions, so a
// CAS-retry spinlock avoids the scheduling overhead of a mutex for the
// common uncontended case. Uses the same CompareAndSwap-retry idiom as
// the state-word transitions.
type spinlock struct {
	state int32
}

const (
	spinUnlocked int32 = 0
	spinLocked   int32 = 1
)

func (l *spinlock) Lock() {
	for !atomic.CompareAndSwapInt32(&l.state, spinUnlocked, spinLocked) {
		runtime.Gosched()
	}
}

func (l *spinlock) Unlock() {
	atomic.StoreInt32(&l.state, spinUnlocked)
}
