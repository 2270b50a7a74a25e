// Package admin serves the stats/admin protocol as just one of the
// protocols the core must stay neutral to: it is registered through
// the same fdtable/dispatch path as any data connection, demonstrating
// that the core does not special-case TCP data traffic.
// Framing uses a length-field codec (github.com/smallnest/goframe),
// chosen because the admin protocol is request/response over a stream
// rather than a raw byte pipe.
package admin

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/smallnest/goframe"

	"github.com/sp1l/fdcore/corelog"
	"github.com/sp1l/fdcore/fdtable"
	"github.com/sp1l/fdcore/iobuf"
	"github.com/sp1l/fdcore/listen"
)

// Stats is the snapshot the admin protocol reports. Fields are read
// directly off the table; nothing here is itself part of the FD core.
type Stats struct {
	Capacity int
	Workers  int
	// CacheMask mirrors fd_cache_mask at the moment of the request.
	CacheMask uint64
}

// Server answers admin-protocol requests with a Stats snapshot framed
// by goframe. The single supported request is any non-empty frame
// ("STATS"); the response is a plain-text rendering of Stats.
type Server struct {
	table *fdtable.Table
	mu    sync.Mutex
	conns map[int]peer
}

// peer pairs a connection with its goframe codec so teardown can close
// the real net.Conn rather than just forgetting it.
type peer struct {
	conn net.Conn
	fc   goframe.FrameConn
}

// NewServer builds an admin Server bound to table.
func NewServer(table *fdtable.Table) *Server {
	return &Server{table: table, conns: make(map[int]peer)}
}

// Handler returns a listen.Handler that registers accepted connections
// as admin-protocol peers instead of raw byte streams.
func (s *Server) Handler() listen.Handler {
	return func(conn net.Conn, tid int) (fdtable.IOCallback, uint64) {
		fc := goframe.NewLengthFieldBasedFrameConn(
			goframe.EncoderConfig{ByteOrder: binary.BigEndian, LengthFieldLength: 4},
			goframe.LengthFieldBasedFrameDecoderConfig{
				ByteOrder:           binary.BigEndian,
				LengthFieldLength:   4,
				InitialBytesToStrip: 4,
			},
			conn,
		)
		fd, err := rawFD(conn)
		if err == nil {
			s.mu.Lock()
			s.conns[fd] = peer{conn: conn, fc: fc}
			s.mu.Unlock()
		}
		return func(fd int) { s.onReadable(fd, tid) }, 0
	}
}

func (s *Server) onReadable(fd int, tid int) {
	s.mu.Lock()
	p, ok := s.conns[fd]
	s.mu.Unlock()
	if !ok {
		return
	}
	frame, err := p.fc.ReadFrame()
	if err != nil {
		if err != io.EOF {
			corelog.Warn("admin: read frame failed", "fd", fd, "err", err)
		}
		s.table.StopBoth(fd, tid)
		s.table.Remove(fd, tid)
		_ = p.conn.Close()
		s.mu.Lock()
		delete(s.conns, fd)
		s.mu.Unlock()
		return
	}
	if len(frame) == 0 {
		s.table.CantRecv(fd, tid)
		return
	}

	buf := iobuf.Get()
	defer iobuf.Put(buf)
	stats := s.snapshot()
	fmt.Fprintf(buf, "capacity=%d workers=%d cache_mask=%#x\n", stats.Capacity, stats.Workers, stats.CacheMask)
	if err := p.fc.WriteFrame(buf.Bytes()); err != nil {
		corelog.Warn("admin: write response failed", "fd", fd, "err", err)
		s.table.CantSend(fd, tid)
		return
	}
}

func (s *Server) snapshot() Stats {
	return Stats{
		Capacity:  s.table.Capacity(),
		Workers:   s.table.NumWorkers(),
		CacheMask: s.table.CacheMask(),
	}
}

func rawFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1, errors.New("admin: connection does not expose a raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	err = raw.Control(func(p uintptr) { fd = int(p) })
	return fd, err
}
