// Package arbiter implements the per-subordinate FIFO queue of pending
// manager commands described in spec.md §4.4. It is the generalized
// counterpart of the teacher's IOBus port map: instead of one device per
// port, one arbiter instance serves one subordinate, and instead of
// dispatching immediately it holds a strict-FIFO backlog the interconnect
// drains one entry per cycle.
package arbiter

import "github.com/antmicro/cocotb-ahb/protocol"

// Owner is the minimal capability an arbiter needs from whichever manager
// owns a queued command: the ability to fetch that manager's current
// data-phase payload. Keeping this interface local (rather than importing
// the fabric package's full Manager interface) keeps arbiter a leaf
// package with no dependency on fabric.
type Owner interface {
	GetData() protocol.Data
}

type entry struct {
	cmd   protocol.ICMD
	owner Owner
}

// Arbiter is the ordered queue of <command, owning-manager> entries for one
// subordinate, plus the identity of the manager currently occupying that
// subordinate's data phase (spec.md §3).
type Arbiter struct {
	queue []entry
	owner Owner
}

// New returns an empty arbiter.
func New() *Arbiter {
	return &Arbiter{}
}

// Queue appends cmd to the tail of the queue, owned by owner. Ordering is
// strict FIFO on arrival; ties within one cycle are broken by the caller
// iterating managers in their registration order before calling Queue
// (spec.md §4.4).
func (a *Arbiter) Queue(cmd protocol.ICMD, owner Owner) {
	a.queue = append(a.queue, entry{cmd: cmd, owner: owner})
}

// Take pops the head of the queue and sets it as the current data-phase
// owner for response routing. If the queue is empty it returns an Idle,
// unselected command with no owner, and clears the current owner.
func (a *Arbiter) Take() (protocol.ICMD, Owner) {
	if len(a.queue) == 0 {
		a.owner = nil
		return protocol.ICMD{MCMD: protocol.MCMD{Trans: protocol.Idle}, Sel: protocol.NoSel}, nil
	}
	e := a.queue[0]
	a.queue = a.queue[1:]
	a.owner = e.owner
	return e.cmd, e.owner
}

// PeekData forwards GetData() of the current data-phase owner, or a zero
// word if there is none (spec.md §4.4).
func (a *Arbiter) PeekData(busByteWidth int) protocol.Data {
	if a.owner == nil {
		return protocol.NewData(busByteWidth)
	}
	return a.owner.GetData()
}

// Owner returns the manager currently occupying the data phase, or nil.
func (a *Arbiter) Owner() Owner {
	return a.owner
}

// Len reports the number of commands still queued (not counting the
// current data-phase owner). Used by tests that assert on backlog depth.
func (a *Arbiter) Len() int {
	return len(a.queue)
}

// Reset empties the queue and clears the current owner.
func (a *Arbiter) Reset() {
	a.queue = nil
	a.owner = nil
}
