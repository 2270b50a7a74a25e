// Package fdtable implements the per-FD state word, its lock-free
// transitions, the per-worker update list and the two-tier ready cache
// described by the file-descriptor event core. It owns no kernel
// resources itself; netpoll backends and the dispatch loop are the
// only callers expected to reach into it on the hot path.
package fdtable

// Direction identifies which half of a full-duplex FD a transition
// or bit mask applies to.
type Direction uint32

const (
	// Read is the read/receive direction, occupying the low nibble
	// of the state word.
	Read Direction = 0
	// Write is the write/send direction, occupying the high nibble.
	Write Direction = 4
)

// Per-direction bits, matching the observable wire encoding:
// bit layout WwPwRwAw PrRrAr, low nibble read, high nibble write.
const (
	bitActive uint32 = 0x01
	bitReady  uint32 = 0x02
	bitPolled uint32 = 0x04
	// StatusMask isolates the three meaningful bits of one direction's
	// nibble; bit 3 of each nibble is unused/reserved.
	StatusMask uint32 = 0x07
)

// ActiveR, ReadyR and PolledR are the public read-direction masks named
// here. The write-direction masks are these shifted left by 4.
const (
	ActiveR uint32 = bitActive
	ReadyR  uint32 = bitReady
	PolledR uint32 = bitPolled

	ActiveW uint32 = bitActive << 4
	ReadyW  uint32 = bitReady << 4
	PolledW uint32 = bitPolled << 4
)

func active(d Direction) uint32 { return bitActive << uint32(d) }
func ready(d Direction) uint32  { return bitReady << uint32(d) }
func polled(d Direction) uint32 { return bitPolled << uint32(d) }

// cacheEligible reports whether the given raw state word belongs in the
// ready cache: (READY_R && ACTIVE_R) || (READY_W && ACTIVE_W).
func cacheEligible(state uint32) bool {
	r := state & (ActiveR | ReadyR)
	w := state & (ActiveW | ReadyW)
	return r == (ActiveR|ReadyR) || w == (ActiveW|ReadyW)
}

// State is a snapshot of a record's state word, returned by Table.State
// for diagnostics and tests. It is not safe to use for synchronization;
// by the time it is observed it may already be stale.
type State uint32

func (s State) Active(d Direction) bool { return uint32(s)&active(d) != 0 }
func (s State) Ready(d Direction) bool  { return uint32(s)&ready(d) != 0 }
func (s State) Polled(d Direction) bool { return uint32(s)&polled(d) != 0 }
