package dispatch

import (
	"github.com/pkg/errors"

	"github.com/sp1l/fdcore/corelog"
	"github.com/sp1l/fdcore/fdtable"
	"github.com/sp1l/fdcore/netpoll"
)

// RecoverFromFork runs after a fork: try each
// loop's current backend's ForkRecover; if that fails, open a fresh
// backend for that worker with netpoll.Open, which tries every
// registered backend in registration order. The failed backend is not
// excluded, so a new instance of the same kind is picked when its Init
// succeeds. Once every
// worker has a live backend again, force-clear polled_mask and
// re-enqueue every ACTIVE FD, since no backend can be trusted to still
// hold the child's kernel-side registrations.
func RecoverFromFork(table *fdtable.Table, loops []*Loop) error {
	for _, l := range loops {
		if err := l.Backend.ForkRecover(); err != nil {
			corelog.Warn("dispatch: backend fork-recover failed, falling back", "worker", l.TID, "backend", l.Backend.Name(), "err", err)
			next, openErr := netpoll.Open(table, l.TID)
			if openErr != nil {
				return errors.Wrapf(openErr, "dispatch: no backend available for worker %d after fork", l.TID)
			}
			l.Backend = next
		}
	}

	table.ForEachActive(func(fd int) {
		table.ForceClearPolledMask(fd)
		table.ForceReenqueue(fd)
	})
	return nil
}
