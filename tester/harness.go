// Package tester implements the traffic-tester harness named in spec.md §2
// row 6 and exercised by spec.md §8 scenario 6: a randomized manager stub
// and a cross-checking subordinate proxy. Per spec.md §1 the harness is
// specified only at its interface to the core (the manager/subordinate
// capability sets of spec.md §6); this package supplies the minimal
// reusable shape that interface demands, grounded on the same Mock*-proxy
// pattern the teacher's ne2000_test.go uses for InterruptRaiser/
// HostNetInterface, generalized from a test-only double into a manager the
// fabric can actually dispatch through.
package tester

import (
	"fmt"
	"math/rand"

	"github.com/antmicro/cocotb-ahb/fabric"
	"github.com/antmicro/cocotb-ahb/protocol"
)

// StubManager is a fabric.Manager whose address-phase commands are drawn
// from a deterministic random source (spec.md §9: reproducibility requires
// a seeded generator). It holds its own one-cycle-lagged write-data
// register, realizing the two-phase pipeline the same way a real manager
// would (spec.md §4.6).
type StubManager struct {
	rng          *rand.Rand
	addrLo       uint64
	addrHi       uint64
	busByteWidth int

	ready   protocol.ReadyState
	dataReg protocol.Data

	// abortNext implements the failed-then-retry policy spec.md §9 calls
	// out as a harness decision, not a bus requirement: after a Failed
	// response the next address phase is an aborted Idle rather than a
	// retry of the same command.
	abortNext bool

	issued    []protocol.MCMD
	responses []protocol.IRESP
}

// NewStubManager returns a manager that issues randomized commands
// targeting [addrLo, addrHi).
func NewStubManager(seed int64, busByteWidth int, addrLo, addrHi uint64) *StubManager {
	return &StubManager{
		rng:          rand.New(rand.NewSource(seed)),
		addrLo:       addrLo,
		addrHi:       addrHi,
		busByteWidth: busByteWidth,
		ready:        protocol.WaitState,
		dataReg:      protocol.NewData(busByteWidth),
	}
}

func (s *StubManager) SetReady(r protocol.ReadyState) { s.ready = r }
func (s *StubManager) IsReady() bool                  { return s.ready == protocol.Working }

// GetCmd produces the next address-phase command: a single-beat NonSeq of
// random direction, size, and (within range) address, unless the previous
// response was Failed, in which case it issues one aborted Idle first.
func (s *StubManager) GetCmd() protocol.MCMD {
	if s.abortNext {
		s.abortNext = false
		cmd := protocol.DefaultMCMD(s.busByteWidth)
		s.issued = append(s.issued, cmd)
		s.dataReg = protocol.NewData(s.busByteWidth)
		return cmd
	}

	maxSize := log2Floor(s.busByteWidth)
	size := uint8(s.rng.Intn(maxSize + 1))
	bytes := uint64(1) << size

	span := s.addrHi - s.addrLo
	addr := s.addrLo
	if span > uint64(bytes) {
		addr += uint64(s.rng.Int63n(int64(span)))
		addr -= addr % bytes
	}

	write := protocol.Read
	if s.rng.Intn(2) == 1 {
		write = protocol.Write
	}

	cmd := protocol.MCMD{
		Addr:   addr,
		Burst:  protocol.Single,
		Trans:  protocol.NonSeq,
		Write:  write,
		Size:   size,
		Strobe: protocol.NewStrobe(s.busByteWidth),
	}

	data := protocol.NewData(s.busByteWidth)
	if write == protocol.Write {
		s.rng.Read(data.Word)
	}

	s.issued = append(s.issued, cmd)
	s.dataReg = data
	return cmd
}

// GetData returns the one-cycle-lagged write-data register.
func (s *StubManager) GetData() protocol.Data { return s.dataReg }

// PutRsp records the response and arms the abort-next-command policy on a
// Failed response (spec.md §9).
func (s *StubManager) PutRsp(r protocol.IRESP) {
	s.responses = append(s.responses, r)
	if r.Resp == protocol.Failed {
		s.abortNext = true
	}
}

// Issued returns every command this manager has presented, in order.
func (s *StubManager) Issued() []protocol.MCMD { return s.issued }

// Responses returns every response this manager has observed, in order.
func (s *StubManager) Responses() []protocol.IRESP { return s.responses }

func log2Floor(n int) int {
	b := 0
	for n > 1 {
		n >>= 1
		b++
	}
	return b
}

// Tester wraps a real subordinate, forwarding every call untouched while
// recording the commands that actually arrive at it. It is the comparator
// of spec.md §2 row 6: cross-checking commands arriving at a subordinate
// against commands emitted by managers. It deliberately does not duplicate
// fabric's routing or response logic — it only observes the Subordinate
// interface spec.md §6 exposes.
type Tester struct {
	sub      fabric.Subordinate
	received []protocol.ICMD
}

// Wrap returns a Tester observing sub.
func Wrap(sub fabric.Subordinate) *Tester {
	return &Tester{sub: sub}
}

func (t *Tester) SetReady(r protocol.ReadyState) { t.sub.SetReady(r) }
func (t *Tester) IsReady() bool                  { return t.sub.IsReady() }

func (t *Tester) PutCmd(cmd protocol.ICMD) {
	if cmd.Sel == protocol.Sel {
		t.received = append(t.received, cmd)
	}
	t.sub.PutCmd(cmd)
}

func (t *Tester) PutData(d protocol.IDATA) { t.sub.PutData(d) }
func (t *Tester) GetRsp() protocol.SRESP   { return t.sub.GetRsp() }

// Received returns every selected command actually dequeued to the wrapped
// subordinate, in order.
func (t *Tester) Received() []protocol.ICMD { return t.received }

// CheckRouting verifies that every non-Idle command a manager issued whose
// address falls in this subordinate's range (per inRange) appears, in the
// same order and with matching address/direction/size, among the commands
// that manager's interconnect id actually produced at the wrapped
// subordinate (spec.md §8 scenario 6).
func CheckRouting(issued []protocol.MCMD, interconnectID int, received []protocol.ICMD, inRange func(addr uint64) bool) error {
	var expected []protocol.MCMD
	for _, c := range issued {
		if c.Trans == protocol.Idle {
			continue
		}
		if inRange(c.Addr) {
			expected = append(expected, c)
		}
	}

	var got []protocol.ICMD
	for _, r := range received {
		if r.Trans == protocol.Idle {
			continue
		}
		if int(r.Master>>4) == interconnectID {
			got = append(got, r)
		}
	}

	if len(expected) != len(got) {
		return fmt.Errorf("tester: expected %d commands routed from manager %d, observed %d", len(expected), interconnectID, len(got))
	}
	for i := range expected {
		if expected[i].Addr != got[i].Addr || expected[i].Write != got[i].Write || expected[i].Size != got[i].Size {
			return fmt.Errorf("tester: command %d mismatch: issued %+v, observed %+v", i, expected[i], got[i].MCMD)
		}
	}
	return nil
}
