//go:build linux

package netpoll

import (
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/sp1l/fdcore/corelog"
	"github.com/sp1l/fdcore/fdtable"
)

func init() {
	Register("epoll", func(table *fdtable.Table, tid int) Backend {
		return &epoll{table: table, tid: tid}
	})
}

const (
	readEvents  = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents = unix.EPOLLOUT
)

// epoll is the Linux poller backend: one epoll instance plus an
// eventfd used to wake Wait() for asynchronous work such as a
// zero-timeout pass driven by the ready cache.
type epoll struct {
	table *fdtable.Table
	tid   int

	fd     int
	wfd    int
	wfdBuf []byte
	events []unix.EpollEvent
}

func (e *epoll) Name() string { return "epoll" }

func (e *epoll) Init() error {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return errors.Wrap(os.NewSyscallError("epoll_create1", err), "netpoll: init epoll")
	}
	r0, _, errno := unix.Syscall(unix.SYS_EVENTFD2, unix.O_CLOEXEC, unix.O_NONBLOCK, 0)
	if errno != 0 {
		_ = unix.Close(fd)
		return errors.Wrap(errno, "netpoll: init eventfd")
	}
	e.fd = fd
	e.wfd = int(r0)
	e.wfdBuf = make([]byte, 8)
	e.events = make([]unix.EpollEvent, 128)
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, e.wfd, &unix.EpollEvent{Fd: int32(e.wfd), Events: readEvents}); err != nil {
		_ = unix.Close(e.wfd)
		_ = unix.Close(e.fd)
		return errors.Wrap(err, "netpoll: arm wakeup fd")
	}
	return nil
}

func (e *epoll) Term() error {
	err1 := unix.Close(e.wfd)
	err2 := unix.Close(e.fd)
	if err1 != nil {
		return errors.Wrap(err1, "netpoll: close wakeup fd")
	}
	return errors.Wrap(err2, "netpoll: close epoll fd")
}

func (e *epoll) ForkRecover() error {
	if err := e.Term(); err != nil {
		return err
	}
	return e.Init()
}

func (e *epoll) Trigger() error {
	one := uint64(1)
	b := (*(*[8]byte)(unsafe.Pointer(&one)))[:]
	_, err := unix.Write(e.wfd, b)
	if err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("write", err)
	}
	return nil
}

// Wait applies the pending update list, then blocks for readiness up
// to the deadline, reporting every event through sink.
func (e *epoll) Wait(tid int, expireAbsoluteNanos int64, sink EventSink) error {
	e.applyUpdates(tid)

	msec := -1
	if expireAbsoluteNanos >= 0 {
		d := time.Until(time.Unix(0, expireAbsoluteNanos))
		if d < 0 {
			d = 0
		}
		msec = int(d.Milliseconds())
	}

	n, err := unix.EpollWait(e.fd, e.events, msec)
	if err != nil && err != unix.EINTR {
		return os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		fd := int(e.events[i].Fd)
		if fd == e.wfd {
			_, _ = unix.Read(e.wfd, e.wfdBuf)
			continue
		}
		sink(fd, tid, translate(e.events[i].Events))
	}
	return nil
}

func translate(ev uint32) uint32 {
	var out uint32
	if ev&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		out |= fdtable.EvIn
	}
	if ev&unix.EPOLLOUT != 0 {
		out |= fdtable.EvOut
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		out |= fdtable.EvHup
	}
	if ev&unix.EPOLLERR != 0 {
		out |= fdtable.EvErr
	}
	return out
}

// applyUpdates drains tid's update list and issues epoll_ctl calls to
// reconcile the kernel registration with each FD's POLLED bits,
// maintaining polled_mask per the chosen discipline (bit tid set
// exactly while this backend holds a live registration for fd). A
// single FD's epoll_ctl failure (ENOSPC, EMFILE, ...) never aborts the
// drain: it is logged and the FD is errored instead, leaving the rest
// of the batch to reconcile normally.
func (e *epoll) applyUpdates(tid int) {
	for _, fd32 := range e.table.DrainUpdates(tid) {
		fd := int(fd32)
		state := e.table.State(fd)
		wantR := state.Polled(fdtable.Read)
		wantW := state.Polled(fdtable.Write)
		registered := e.table.PolledMask(fd)&(1<<uint(tid)) != 0

		switch {
		case !wantR && !wantW:
			if registered {
				if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
					e.fail(fd, tid, "epoll_ctl del", err)
					continue
				}
				e.table.ClearPolledMaskBit(fd, tid)
			}
		case registered:
			ev := &unix.EpollEvent{Fd: int32(fd), Events: epollMask(wantR, wantW)}
			if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
				e.fail(fd, tid, "epoll_ctl mod", err)
				continue
			}
		default:
			ev := &unix.EpollEvent{Fd: int32(fd), Events: epollMask(wantR, wantW)}
			if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
				e.fail(fd, tid, "epoll_ctl add", err)
				continue
			}
			e.table.SetPolledMaskBit(fd, tid)
		}
		e.table.AckUpdate(fd, tid)
	}
}

// fail handles a per-FD kernel-registration failure: log it, surface
// EvErr so the owner's iocb observes the failure on its next read or
// write and tears fd down, and ack the update so a later change to fd
// is not silently dropped by the at-most-once update-list rule.
func (e *epoll) fail(fd, tid int, op string, err error) {
	corelog.Error("netpoll: kernel registration failed", "op", op, "fd", fd, "err", err)
	e.table.UpdateEvents(fd, tid, fdtable.EvErr)
	e.table.AckUpdate(fd, tid)
}

func epollMask(wantR, wantW bool) uint32 {
	var m uint32
	if wantR {
		m |= readEvents
	}
	if wantW {
		m |= writeEvents
	}
	return m
}
