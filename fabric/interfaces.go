// Package fabric implements the interconnect: address decode, manager to
// subordinate routing, master-id tagging, and the two-phase
// address/data handshake bookkeeping described in spec.md §4.5/§4.6. It
// plays the role the teacher's VirtualMachine plays for its devices: it
// owns every registered component and drives one cycle's worth of
// dispatch and response routing per call.
package fabric

import "github.com/antmicro/cocotb-ahb/protocol"

// Manager is the capability set spec.md §6 requires the interconnect to
// consume from a bus initiator.
type Manager interface {
	SetReady(protocol.ReadyState)
	IsReady() bool
	GetCmd() protocol.MCMD
	GetData() protocol.Data
	PutRsp(protocol.IRESP)
}

// Subordinate is the capability set spec.md §6 requires the interconnect to
// consume from a bus responder.
type Subordinate interface {
	SetReady(protocol.ReadyState)
	IsReady() bool
	PutCmd(protocol.ICMD)
	PutData(protocol.IDATA)
	GetRsp() protocol.SRESP
}

// Monitorable is the capability set spec.md §6 names for an observer: a
// one-shot-per-cycle status snapshot a manager or subordinate exposes once
// it has committed its response for the cycle, grounded on
// MonitorableInterface.monitor_get_status() in the original cocotb
// implementation. There, the owner's eval_done Event blocks a monitor
// coroutine until the cycle's evaluation is done, then immediately
// re-arms; here, with no coroutine scheduler to suspend, Status reports
// whether a fresh snapshot is available (ok) and, if so, consumes it so a
// second call before the next commit observes nothing new.
type Monitorable interface {
	Status() (protocol.MonitorStatus, bool)
}
