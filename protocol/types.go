// Package protocol defines the wire-level value types exchanged between a
// manager, the interconnect, and a subordinate on one simulated cycle of the
// bus: closed enumerations for each protocol field, and the command/response
// records built from them.
package protocol

import "fmt"

// BurstKind identifies the kind of burst a command belongs to.
type BurstKind uint8

const (
	Single BurstKind = iota
	Incr
	Wrap4
	Incr4
	Wrap8
	Incr8
	Wrap16
	Incr16
)

func (b BurstKind) String() string {
	switch b {
	case Single:
		return "Single"
	case Incr:
		return "Incr"
	case Wrap4:
		return "Wrap4"
	case Incr4:
		return "Incr4"
	case Wrap8:
		return "Wrap8"
	case Incr8:
		return "Incr8"
	case Wrap16:
		return "Wrap16"
	case Incr16:
		return "Incr16"
	default:
		return fmt.Sprintf("BurstKind(%d)", uint8(b))
	}
}

// FixedLen reports the beat count of a fixed-length Wrap/Incr burst, and
// whether b names one at all. Single and the unbounded Incr are not
// fixed-length. This is the single place burst length is derived from kind;
// nothing else may hardcode 4/8/16.
func (b BurstKind) FixedLen() (int, bool) {
	switch b {
	case Wrap4, Incr4:
		return 4, true
	case Wrap8, Incr8:
		return 8, true
	case Wrap16, Incr16:
		return 16, true
	default:
		return 0, false
	}
}

// Wrapping reports whether b is one of the Wrap-N kinds.
func (b BurstKind) Wrapping() bool {
	switch b {
	case Wrap4, Wrap8, Wrap16:
		return true
	default:
		return false
	}
}

// TransferKind identifies what a beat is doing this cycle.
type TransferKind uint8

const (
	Idle TransferKind = iota
	Busy
	NonSeq
	Seq
)

func (t TransferKind) String() string {
	switch t {
	case Idle:
		return "Idle"
	case Busy:
		return "Busy"
	case NonSeq:
		return "NonSeq"
	case Seq:
		return "Seq"
	default:
		return fmt.Sprintf("TransferKind(%d)", uint8(t))
	}
}

// WriteKind is the direction of a transfer.
type WriteKind uint8

const (
	Read WriteKind = iota
	Write
)

func (w WriteKind) String() string {
	if w == Write {
		return "Write"
	}
	return "Read"
}

// RespKind is shared by hResp and hExOkay: both are a two-valued
// success/failure signal.
type RespKind uint8

const (
	Successful RespKind = iota
	Failed
)

func (r RespKind) String() string {
	if r == Failed {
		return "Failed"
	}
	return "Successful"
}

// ReadyState is the shared two-valued "can this side proceed" signal. On a
// subordinate it is hReadyOut (Ready/NotReady); on a manager it is the same
// signal under the vocabulary spec.md §6 uses for it (Working/WaitState).
// Working and WaitState are aliases, not a distinct type, so a manager and a
// subordinate can be compared and stored uniformly by the interconnect.
type ReadyState uint8

const (
	Ready ReadyState = iota
	NotReady
)

// Manager-side aliases for ReadyState, used where the code is talking about
// a manager's own readiness to present a new address phase rather than a
// subordinate's hReadyOut.
const (
	Working   = Ready
	WaitState = NotReady
)

func (r ReadyState) String() string {
	if r == NotReady {
		return "NotReady"
	}
	return "Ready"
}

// SecKind is hNonsec.
type SecKind uint8

const (
	Secure SecKind = iota
	NonSecure
)

// ExclKind is hExcl.
type ExclKind uint8

const (
	NonExcl ExclKind = iota
	Excl
)

// LockKind is hMastlock.
type LockKind uint8

const (
	NotLocked LockKind = iota
	Locked
)

// SelKind is hSel, the flag distinguishing ICMD from MCMD (spec.md §3).
type SelKind uint8

const (
	NoSel SelKind = iota
	Sel
)

// Protection is the AHB protection descriptor (hProt and friends).
type Protection struct {
	Data       bool
	Privileged bool
	Bufferable bool
	Modifiable bool
	Lookup     bool
	Allocate   bool
	Shareable  bool
}

// MCMD is a manager command: the address-phase fields a manager presents.
type MCMD struct {
	Addr   uint64
	Burst  BurstKind
	Trans  TransferKind
	Write  WriteKind
	Size   uint8 // log2(bytes), 0..7
	Strobe Strobe
	NonSec SecKind
	Excl   ExclKind
	Lock   LockKind
	Prot   Protection
	Master uint32
}

// Bytes returns 2^Size, the transfer size in bytes.
func (c MCMD) Bytes() int { return 1 << c.Size }

// DefaultMCMD is the all-defaults / reset form of MCMD: Idle, Read, and
// hWstrb all-ones for the given bus width, per spec.md §4.1.
func DefaultMCMD(busByteWidth int) MCMD {
	return MCMD{
		Trans:  Idle,
		Write:  Read,
		Strobe: NewStrobe(busByteWidth),
	}
}

// ICMD is a subordinate command: MCMD plus the select flag distinguishing
// "this subordinate is addressed" from idle on the shared bus.
type ICMD struct {
	MCMD
	Sel SelKind
}

// DefaultICMD is the all-defaults / reset form of ICMD.
func DefaultICMD(busByteWidth int) ICMD {
	return ICMD{MCMD: DefaultMCMD(busByteWidth), Sel: NoSel}
}

// Data is a single bus-width data word, addressed byte-by-byte so lane
// placement (spec.md §4.2.4) is a direct slice index rather than a shift on
// a fixed-width integer — buses up to 128 bytes wide do not fit uint64.
// MDATA and IDATA are the same shape on the manager and subordinate sides
// of the data phase; they are distinguished only by which interface method
// produces/consumes them (spec.md §6).
type Data struct {
	Word []byte
}

// MDATA is the manager-side data-phase payload (get_data()).
type MDATA = Data

// IDATA is the subordinate-side data-phase payload (put_data()).
type IDATA = Data

// NewData returns a zero-filled data word for the given bus width.
func NewData(busByteWidth int) Data {
	return Data{Word: make([]byte, busByteWidth)}
}

// SRESP is a subordinate response.
type SRESP struct {
	RData    Data
	Resp     RespKind
	ReadyOut ReadyState
	ExOkay   RespKind
}

// IRESP is a manager response: SRESP minus ready-out, which the
// interconnect consumes to drive the manager's own ready signal rather than
// forwarding it (spec.md §3).
type IRESP struct {
	RData  Data
	Resp   RespKind
	ExOkay RespKind
}

// ToIRESP drops the ready-out field a manager never sees directly.
func (s SRESP) ToIRESP() IRESP {
	return IRESP{RData: s.RData, Resp: s.Resp, ExOkay: s.ExOkay}
}

// MonitorStatus is the one-shot per-cycle snapshot a Monitorable component
// exposes to an external observer (spec.md §5, §6): the shadow command
// latched regardless of readiness, the response committed for the cycle,
// the write-data payload, and current readiness. It is the Go analogue of
// the original implementation's HMONITOR.
type MonitorStatus struct {
	Ready   bool
	Command ICMD
	Resp    SRESP
	WData   Data
}

// Strobe is a per-byte write-enable mask, one entry per bus byte lane.
type Strobe []bool

// NewStrobe returns an all-enabled strobe for the given bus width, the
// hWstrb reset/default value (spec.md §4.1).
func NewStrobe(busByteWidth int) Strobe {
	s := make(Strobe, busByteWidth)
	for i := range s {
		s[i] = true
	}
	return s
}
