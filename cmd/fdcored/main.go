// Command fdcored is a minimal demonstration server wiring the FD
// event core to real listeners: it accepts TCP/UNIX connections,
// echoes bytes back, and serves the admin/stats protocol on a second
// listener, all dispatched through the same fdtable/dispatch path.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/sp1l/fdcore/admin"
	"github.com/sp1l/fdcore/config"
	"github.com/sp1l/fdcore/corelog"
	"github.com/sp1l/fdcore/dispatch"
	"github.com/sp1l/fdcore/fdtable"
	"github.com/sp1l/fdcore/iobuf"
	"github.com/sp1l/fdcore/listen"
	"github.com/sp1l/fdcore/netpoll"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file (optional)")
	verbose := flag.Bool("v", false, "enable info-level logging")
	flag.Parse()

	corelog.SetLogger(corelog.NewDefault(levelFor(*verbose)))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			corelog.Error("fdcored: failed to load config", "path", *configPath, "err", err)
			os.Exit(1)
		}
	}

	table := fdtable.New(cfg.TableCapacity, cfg.Workers)
	pool, err := ants.NewPool(cfg.Workers * 256)
	if err != nil {
		corelog.Error("fdcored: failed to build worker pool", "err", err)
		os.Exit(1)
	}
	defer pool.Release()

	loops := make([]*dispatch.Loop, cfg.Workers)
	for tid := 0; tid < cfg.Workers; tid++ {
		backend, err := netpoll.Open(table, tid, cfg.BackendOrder...)
		if err != nil {
			corelog.Error("fdcored: no poller backend available", "worker", tid, "err", err)
			os.Exit(1)
		}
		loops[tid] = dispatch.NewLoop(table, tid, backend, pool, nil)
		go func(l *dispatch.Loop) {
			if err := l.Run(); err != nil {
				corelog.Error("fdcored: dispatch loop exited", "worker", l.TID, "err", err)
			}
		}(loops[tid])
	}

	var acceptors []*listen.Acceptor
	for i, ln := range cfg.Listeners {
		tid := i % cfg.Workers
		a, err := listen.Listen(ln.Network, ln.Address, ln.Reuseport, table, tid, echoHandler(table))
		if err != nil {
			corelog.Error("fdcored: failed to bind listener", "address", ln.Address, "err", err)
			os.Exit(1)
		}
		acceptors = append(acceptors, a)
		go func(a *listen.Acceptor) {
			if err := a.Serve(); err != nil {
				corelog.Warn("fdcored: acceptor stopped", "err", err)
			}
		}(a)
	}

	if cfg.Admin.Address != "" {
		srv := admin.NewServer(table)
		a, err := listen.Listen(cfg.Admin.Network, cfg.Admin.Address, cfg.Admin.Reuseport, table, 0, srv.Handler())
		if err != nil {
			corelog.Error("fdcored: failed to bind admin listener", "address", cfg.Admin.Address, "err", err)
			os.Exit(1)
		}
		acceptors = append(acceptors, a)
		go func() {
			if err := a.Serve(); err != nil {
				corelog.Warn("fdcored: admin acceptor stopped", "err", err)
			}
		}()
	}

	waitForShutdown()
	for _, a := range acceptors {
		_ = a.Close()
	}
	for _, l := range loops {
		l.Stop()
	}
}

// echoHandler registers a plain byte-echo iocb for data connections:
// read into a pooled buffer, write the same bytes back, and drive the
// EAGAIN/EOF transitions directly, calling CantRecv/CantSend on EAGAIN
// as any iocb implementation must. Teardown always closes conn
// alongside Remove so the descriptor is actually released, not just
// forgotten by the table.
func echoHandler(table *fdtable.Table) listen.Handler {
	return func(conn net.Conn, tid int) (fdtable.IOCallback, uint64) {
		return func(fd int) {
			buf := iobuf.Get()
			defer iobuf.Put(buf)
			n, err := buf.ReadFrom(conn)
			if n > 0 {
				if _, werr := conn.Write(buf.Bytes()); werr != nil {
					if isTemporary(werr) {
						table.CantSend(fd, tid)
					} else {
						corelog.Warn("fdcored: echo write failed", "fd", fd, "err", werr)
						table.StopBoth(fd, tid)
						table.Remove(fd, tid)
						_ = conn.Close()
					}
				}
			}
			switch {
			case err == nil:
				return
			case isTemporary(err):
				table.CantRecv(fd, tid)
			default:
				table.DoneRecv(fd, tid)
				table.StopBoth(fd, tid)
				table.Remove(fd, tid)
				_ = conn.Close()
			}
		}, 0
	}
}

func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	t, ok := err.(temporary)
	return ok && t.Temporary()
}

func levelFor(verbose bool) zerolog.Level {
	if verbose {
		return zerolog.InfoLevel
	}
	return zerolog.WarnLevel
}

func waitForShutdown() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
}
