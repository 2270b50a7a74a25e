// Package listen provides the listener/acceptor glue treated as an
// external collaborator to the FD event core: binding a TCP or UNIX
// stream listener (optionally SO_REUSEPORT for multi-acceptor
// fan-out) and registering accepted connections into the FD table.
// It is intentionally thin, all interesting behavior lives in
// fdtable/dispatch; this package does nothing but Accept and hand the
// new connection off.
package listen

import (
	"net"
	"syscall"

	"github.com/libp2p/go-reuseport"
	"github.com/pkg/errors"

	"github.com/sp1l/fdcore/corelog"
	"github.com/sp1l/fdcore/fdtable"
)

// Handler is invoked once per accepted connection, on the accepting
// goroutine, before the connection is registered. It picks the iocb and
// thread_mask the connection should be serviced with; insertTID is the
// worker the connection is about to be inserted under, so the returned
// iocb can drive CantRecv/CantSend/Remove and friends with the tid they
// actually belong to instead of guessing.
type Handler func(conn net.Conn, insertTID int) (iocb fdtable.IOCallback, threadMask uint64)

// Acceptor runs a single listener's accept loop, registering each
// connection into table via insertTID (the worker considered to "own"
// inserts for this listener, following the external convention that
// insert happens on the accepting thread).
type Acceptor struct {
	ln        net.Listener
	table     *fdtable.Table
	insertTID int
	handler   Handler
}

// Listen binds network/address, using SO_REUSEPORT when reuseport is
// true so multiple Acceptors (typically one per worker) can share a
// single port without an accept-mutex bottleneck.
func Listen(network, address string, reuseportEnabled bool, table *fdtable.Table, insertTID int, handler Handler) (*Acceptor, error) {
	var ln net.Listener
	var err error
	if reuseportEnabled {
		ln, err = reuseport.Listen(network, address)
	} else {
		ln, err = net.Listen(network, address)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listen: bind %s %s", network, address)
	}
	return &Acceptor{ln: ln, table: table, insertTID: insertTID, handler: handler}, nil
}

// Close stops accepting and releases the listener.
func (a *Acceptor) Close() error { return a.ln.Close() }

// Addr returns the listener's bound address, useful when Listen was
// given a port of 0.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }

// Serve accepts connections, registering each into the FD table, until
// Accept fails (including because the listener was closed); that error
// is returned wrapped. A connection that cannot be registered is logged
// and closed, and accepting continues.
func (a *Acceptor) Serve() error {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return errors.Wrap(err, "listen: accept")
		}
		if err := a.register(conn); err != nil {
			corelog.Warn("listen: failed to register accepted connection", "err", err)
			_ = conn.Close()
		}
	}
}

func (a *Acceptor) register(conn net.Conn) error {
	fd, err := fdOf(conn)
	if err != nil {
		return errors.Wrap(err, "listen: extract raw fd")
	}
	iocb, threadMask := a.handler(conn, a.insertTID)
	if threadMask == 0 {
		threadMask = 1 << uint(a.insertTID)
	}
	a.table.Insert(fd, conn, iocb, threadMask, a.insertTID)
	a.table.WantRecv(fd, a.insertTID)
	return nil
}

// fdOf extracts the raw file descriptor backing conn, leaving conn's
// own fd ownership (and its eventual Close) with the caller; the core
// never dup()s, it borrows the descriptor number for kernel
// registration while conn remains the io.ReadWriteCloser applications
// use.
func fdOf(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, errors.New("listen: connection does not expose a raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	ctrlErr := raw.Control(func(fdPtr uintptr) { fd = int(fdPtr) })
	if ctrlErr != nil {
		return -1, ctrlErr
	}
	return fd, nil
}
