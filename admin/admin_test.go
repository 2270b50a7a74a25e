package admin

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sp1l/fdcore/fdtable"
	"github.com/sp1l/fdcore/listen"
)

func writeFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	_, err := conn.Write(hdr[:])
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	var hdr [4]byte
	_, err := io.ReadFull(conn, hdr[:])
	require.NoError(t, err)
	n := binary.BigEndian.Uint32(hdr[:])
	buf := make([]byte, n)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

// TestServerAnswersStatsRequest drives admin.Server end to end over a
// real TCP loopback connection: the dispatch loop itself is stubbed
// out by calling onReadable directly once bytes have arrived, which is
// exactly what a dispatch.Loop would do once the FD is cache-ready.
func TestServerAnswersStatsRequest(t *testing.T) {
	table := fdtable.New(64, 1)
	srv := NewServer(table)

	fdCh := make(chan int, 1)
	wrapped := func(conn net.Conn, insertTID int) (fdtable.IOCallback, uint64) {
		iocb, mask := srv.Handler()(conn, insertTID)
		if fd, err := rawFD(conn); err == nil {
			fdCh <- fd
		}
		return iocb, mask
	}

	a, err := listen.Listen("tcp", "127.0.0.1:0", false, table, 0, wrapped)
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
		t.Fatal("server never accepted connection")
	}

	writeFrame(t, conn, []byte("STATS"))
	time.Sleep(50 * time.Millisecond) // let loopback deliver before we read it server-side

	srv.onReadable(fd, 0)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := readFrame(t, conn)
	require.Contains(t, string(resp), "capacity=64")
	require.Contains(t, string(resp), "workers=1")
}

func TestServerOnReadableIgnoresUnknownFD(t *testing.T) {
	table := fdtable.New(64, 1)
	const fd = 9
	srv := NewServer(table)
	table.Insert(fd, "peer", func(fd int) { srv.onReadable(fd, 0) }, 1<<0, 0)
	table.WantRecv(fd, 0)

	// No frame conn registered under this fd (never accepted through
	// Handler()): onReadable must no-op rather than panic on a missing
	// map entry.
	require.NotPanics(t, func() { srv.onReadable(fd, 0) })
}
