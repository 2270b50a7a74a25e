package listen

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sp1l/fdcore/fdtable"
)

func TestListenRegistersAcceptedConnection(t *testing.T) {
	table := fdtable.New(256, 1)

	handler := func(conn net.Conn, insertTID int) (fdtable.IOCallback, uint64) {
		return func(int) {}, 0
	}

	a, err := Listen("tcp", "127.0.0.1:0", false, table, 0, handler)
	require.NoError(t, err)
	defer a.Close()

	go func() { _ = a.Serve() }()

	conn, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return table.CacheMask() != 0 || table.NumWorkers() > 0 && anyActive(table)
	}, 2*time.Second, 10*time.Millisecond, "accepted connection should end up registered and WantRecv-armed")
}

func anyActive(table *fdtable.Table) bool {
	found := false
	table.ForEachActive(func(int) { found = true })
	return found
}

func TestListenDefaultsThreadMaskToInsertTID(t *testing.T) {
	table := fdtable.New(256, 2)
	fdCh := make(chan int, 1)

	// handler observes the server-side accepted conn at accept time, so
	// fdOf here reports the FD actually inserted into table.
	handler := func(conn net.Conn, insertTID int) (fdtable.IOCallback, uint64) {
		if fd, ferr := fdOf(conn); ferr == nil {
			fdCh <- fd
		}
		return func(int) {}, 0
	}

	a, err := Listen("tcp", "127.0.0.1:0", false, table, 1, handler)
	require.NoError(t, err)
	defer a.Close()
	go func() { _ = a.Serve() }()

	conn, err := net.Dial("tcp", a.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var fd int
	select {
	case fd = <-fdCh:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked for the accepted connection")
	}

	require.Eventually(t, func() bool {
		return table.ThreadMask(fd) != 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, uint64(1<<1), table.ThreadMask(fd))
}
