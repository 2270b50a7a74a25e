package dispatch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sp1l/fdcore/fdtable"
	"github.com/sp1l/fdcore/netpoll"
)

// stepBackend is a fake netpoll.Backend whose Wait makes one FD ready
// via the sink on its first call and closes waitDone; every call returns
// nil immediately, so the loop keeps spinning until the test stops it.
type stepBackend struct {
	fd       int
	fired    atomic.Bool
	waitDone chan struct{}
}

func (b *stepBackend) Init() error        { return nil }
func (b *stepBackend) Term() error        { return nil }
func (b *stepBackend) ForkRecover() error { return nil }
func (b *stepBackend) Name() string       { return "step" }

func (b *stepBackend) Wait(tid int, expire int64, sink netpoll.EventSink) error {
	if !b.fired.Swap(true) {
		sink(b.fd, tid, fdtable.EvIn)
	}
	select {
	case <-b.waitDone:
	default:
		close(b.waitDone)
	}
	return nil
}

func TestLoopDispatchesReadyFD(t *testing.T) {
	table := fdtable.New(16, 1)
	const fd = 3
	invoked := make(chan int, 1)
	table.Insert(fd, "owner", func(fd int) { invoked <- fd }, 1<<0, 0)
	table.WantRecv(fd, 0)

	backend := &stepBackend{fd: fd, waitDone: make(chan struct{})}
	loop := NewLoop(table, 0, backend, nil, nil)

	go func() {
		<-backend.waitDone
		loop.Stop()
	}()

	err := loop.Run()
	require.NoError(t, err)

	select {
	case got := <-invoked:
		require.Equal(t, fd, got)
	case <-time.After(time.Second):
		t.Fatal("iocb was never invoked")
	}
}

func TestLoopSubmitFallsBackInlineWithoutPool(t *testing.T) {
	table := fdtable.New(16, 2)
	const fd = 5
	invoked := make(chan int, 1)
	table.Insert(fd, "owner", func(fd int) { invoked <- fd }, (1<<0)|(1<<1), 0)
	table.WantRecv(fd, 0)
	table.UpdateEvents(fd, 0, fdtable.EvIn)

	loop := &Loop{Table: table, TID: 0, Timer: func() int64 { return -1 }}
	loop.processCache()

	select {
	case got := <-invoked:
		require.Equal(t, fd, got)
	default:
		t.Fatal("expected inline invocation via the shared-FD global cache path")
	}
}

func TestNextDeadlineZeroWhenCacheHasWork(t *testing.T) {
	table := fdtable.New(16, 1)
	const fd = 6
	table.Insert(fd, "owner", func(int) {}, 1<<0, 0)
	table.WantRecv(fd, 0)
	table.UpdateEvents(fd, 0, fdtable.EvIn)

	loop := NewLoop(table, 0, nil, nil, func() int64 { return time.Now().Add(time.Hour).UnixNano() })
	require.LessOrEqual(t, loop.nextDeadline(), time.Now().UnixNano())
}

func TestNextDeadlineUsesTimerWhenCacheEmpty(t *testing.T) {
	table := fdtable.New(16, 1)
	future := time.Now().Add(time.Hour).UnixNano()
	loop := NewLoop(table, 0, nil, nil, func() int64 { return future })
	require.Equal(t, future, loop.nextDeadline())
}
