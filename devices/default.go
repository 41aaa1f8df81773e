package devices

import "github.com/antmicro/cocotb-ahb/protocol"

// DefaultSubordinateSize is the fixed 1 KiB footprint of DefaultSubordinate
// (spec.md §4.3).
const DefaultSubordinateSize = 1024

// DefaultSubordinate is the sink the interconnect installs per manager to
// catch addresses that fall outside every mapped region (spec.md §4.3). It
// accepts any addressed command and always answers Failed, after exactly
// one wait cycle for NonSeq/Seq; Idle/Busy get an immediate Ready. It never
// stores data.
type DefaultSubordinate struct {
	busByteWidth int
	ready        protocol.ReadyState
	waiting      bool
	rsp          protocol.SRESP

	// Monitorable bookkeeping (spec.md §5, §6): monCmd shadows the raw
	// command presented regardless of readiness, monFresh is the one-shot
	// flag a commit sets and Status clears, matching self.input and the
	// eval_done Event in the original implementation.
	monCmd   protocol.ICMD
	monFresh bool
}

// NewDefaultSubordinate returns a default subordinate for the given bus
// width.
func NewDefaultSubordinate(busByteWidth int) *DefaultSubordinate {
	d := &DefaultSubordinate{
		busByteWidth: busByteWidth,
		ready:        protocol.Ready,
	}
	d.rsp = protocol.SRESP{ReadyOut: protocol.Ready, Resp: protocol.Successful, ExOkay: protocol.Successful, RData: protocol.NewData(busByteWidth)}
	return d
}

func (d *DefaultSubordinate) SetReady(r protocol.ReadyState) { d.ready = r }
func (d *DefaultSubordinate) IsReady() bool                  { return d.ready == protocol.Ready }

// commitRsp latches a newly computed response and marks the Monitorable
// observation fresh (spec.md §5, §6).
func (d *DefaultSubordinate) commitRsp(rsp protocol.SRESP) {
	d.rsp = rsp
	d.monFresh = true
}

// PutCmd answers Idle/Busy and an unselected bus immediately; any addressed
// NonSeq/Seq begins the one-cycle error termination of spec.md §7. The raw
// command is always latched into the Monitorable observation shadow,
// matching self.input in the original implementation.
func (d *DefaultSubordinate) PutCmd(cmd protocol.ICMD) {
	d.monCmd = cmd
	if d.ready == protocol.NotReady {
		return
	}
	if cmd.Sel != protocol.Sel || cmd.Trans == protocol.Idle || cmd.Trans == protocol.Busy {
		d.waiting = false
		d.commitRsp(protocol.SRESP{ReadyOut: protocol.Ready, Resp: protocol.Successful, ExOkay: protocol.Successful, RData: protocol.NewData(d.busByteWidth)})
		return
	}
	d.waiting = true
	d.commitRsp(protocol.SRESP{ReadyOut: protocol.NotReady, Resp: protocol.Failed, ExOkay: protocol.Failed, RData: protocol.NewData(d.busByteWidth)})
}

// PutData is a no-op: the default subordinate never stores data.
func (d *DefaultSubordinate) PutData(protocol.IDATA) {}

// GetRsp completes the one-wait-cycle Failed response on its second call
// for a given command (spec.md §7). It returns the response latched by the
// prior PutCmd/GetRsp before advancing the latch for the next call, so a
// wait cycle is always observed once before the terminal Ready lands.
func (d *DefaultSubordinate) GetRsp() protocol.SRESP {
	rsp := d.rsp
	if d.waiting {
		d.waiting = false
		d.commitRsp(protocol.SRESP{ReadyOut: protocol.Ready, Resp: protocol.Failed, ExOkay: protocol.Failed, RData: protocol.NewData(d.busByteWidth)})
	}
	return rsp
}

// Status implements fabric.Monitorable: a one-shot snapshot of the raw
// command shadow, the response committed this cycle, the (always-zero)
// write-data payload, and readiness. It returns ok=false if nothing has
// been committed since the last successful call (spec.md §5, §6).
func (d *DefaultSubordinate) Status() (protocol.MonitorStatus, bool) {
	if !d.monFresh {
		return protocol.MonitorStatus{}, false
	}
	d.monFresh = false
	return protocol.MonitorStatus{
		Ready:   d.IsReady(),
		Command: d.monCmd,
		Resp:    d.rsp,
		WData:   protocol.NewData(d.busByteWidth),
	}, true
}
