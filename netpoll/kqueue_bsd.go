//go:build darwin || netbsd || freebsd || openbsd || dragonfly

package netpoll

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/sp1l/fdcore/corelog"
	"github.com/sp1l/fdcore/fdtable"
)

func init() {
	Register("kqueue", func(table *fdtable.Table, tid int) Backend {
		return &kqueue{table: table, tid: tid}
	})
}

// kqueue is the BSD/Darwin poller backend: a kqueue fd plus an
// EVFILT_USER wakeup event armed once at Init.
type kqueue struct {
	table *fdtable.Table
	tid   int

	fd     int
	events []unix.Kevent_t
}

func (k *kqueue) Name() string { return "kqueue" }

var wakeIdent = ^uint64(0) // reserved ident, never a real FD

func (k *kqueue) Init() error {
	fd, err := unix.Kqueue()
	if err != nil {
		return errors.Wrap(err, "netpoll: init kqueue")
	}
	_, err = unix.Kevent(fd, []unix.Kevent_t{{
		Ident:  wakeIdent,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil)
	if err != nil {
		_ = unix.Close(fd)
		return errors.Wrap(err, "netpoll: arm wakeup event")
	}
	k.fd = fd
	k.events = make([]unix.Kevent_t, 128)
	return nil
}

func (k *kqueue) Term() error {
	return errors.Wrap(unix.Close(k.fd), "netpoll: close kqueue fd")
}

func (k *kqueue) ForkRecover() error {
	if err := k.Term(); err != nil {
		return err
	}
	return k.Init()
}

var wakeChanges = []unix.Kevent_t{{
	Ident:  wakeIdent,
	Filter: unix.EVFILT_USER,
	Fflags: unix.NOTE_TRIGGER,
}}

func (k *kqueue) Trigger() error {
	_, err := unix.Kevent(k.fd, wakeChanges, nil, nil)
	return errors.Wrap(err, "netpoll: trigger wakeup")
}

func (k *kqueue) Wait(tid int, expireAbsoluteNanos int64, sink EventSink) error {
	k.applyUpdates(tid)

	var timeout *unix.Timespec
	if expireAbsoluteNanos >= 0 {
		d := time.Until(time.Unix(0, expireAbsoluteNanos))
		if d < 0 {
			d = 0
		}
		ts := unix.NsecToTimespec(d.Nanoseconds())
		timeout = &ts
	}

	n, err := unix.Kevent(k.fd, nil, k.events, timeout)
	if err != nil && err != unix.EINTR {
		return os.NewSyscallError("kevent", err)
	}
	for i := 0; i < n; i++ {
		ev := k.events[i]
		if ev.Ident == wakeIdent {
			continue
		}
		fd := int(ev.Ident)
		var bits uint32
		switch ev.Filter {
		case unix.EVFILT_READ:
			bits |= fdtable.EvIn
		case unix.EVFILT_WRITE:
			bits |= fdtable.EvOut
		}
		if ev.Flags&unix.EV_EOF != 0 {
			bits |= fdtable.EvHup
		}
		if ev.Flags&unix.EV_ERROR != 0 {
			bits |= fdtable.EvErr
		}
		sink(fd, tid, bits)
	}
	return nil
}

// applyUpdates is epoll's applyUpdates, kqueue-side: a single FD's
// kevent failure is logged and the FD is errored rather than aborting
// the rest of tid's batch.
func (k *kqueue) applyUpdates(tid int) {
	for _, fd32 := range k.table.DrainUpdates(tid) {
		fd := int(fd32)
		state := k.table.State(fd)
		wantR := state.Polled(fdtable.Read)
		wantW := state.Polled(fdtable.Write)
		registered := k.table.PolledMask(fd)&(1<<uint(tid)) != 0

		var changes []unix.Kevent_t
		if wantR {
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD})
		} else if registered {
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
		}
		if wantW {
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD})
		} else if registered {
			changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
		}
		if len(changes) > 0 {
			if _, err := unix.Kevent(k.fd, changes, nil, nil); err != nil && err != unix.ENOENT {
				k.fail(fd, tid, "kevent", err)
				continue
			}
		}
		if wantR || wantW {
			k.table.SetPolledMaskBit(fd, tid)
		} else if registered {
			k.table.ClearPolledMaskBit(fd, tid)
		}
		k.table.AckUpdate(fd, tid)
	}
}

// fail handles a per-FD kernel-registration failure: log it, surface
// EvErr so the owner's iocb observes the failure and tears fd down,
// and ack the update so a later change to fd is not silently dropped.
func (k *kqueue) fail(fd, tid int, op string, err error) {
	corelog.Error("netpoll: kernel registration failed", "op", op, "fd", fd, "err", err)
	k.table.UpdateEvents(fd, tid, fdtable.EvErr)
	k.table.AckUpdate(fd, tid)
}
