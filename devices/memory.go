// Package devices implements the subordinate-side protocol checker and
// in-memory store: the memory subordinate (spec.md §4.2) and the default
// subordinate (spec.md §4.3). It is the generalized, single-threaded
// counterpart of the teacher's devices package: instead of a HandleIO
// entry point keyed by port number, each component here exposes the
// put_cmd/put_data/get_rsp/set_ready/is_ready capability set spec.md §6
// names, but the internal shape — a struct of latched register state with
// a switch-driven validation path, logging unexpected conditions the way
// PITDevice and PICDevice do — is the same.
package devices

import (
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/antmicro/cocotb-ahb/protocol"
)

// MemoryConfig holds the construction parameters of a memory subordinate
// (spec.md §4.2).
type MemoryConfig struct {
	Length       uint64 // bytes; must be positive and a multiple of 1024
	BusByteWidth int    // bytes; must be a power of two in {1,2,4,...,128}

	Burst       bool
	Exclusive   bool
	Secure      bool
	NonsecRead  bool
	NonsecWrite bool
	WriteStrobe bool

	MinWaitStates int
	MaxWaitStates int

	// Seed drives the deterministic Poisson wait-state sampler (spec.md §9:
	// "a deterministic seeded generator is required for reproducibility").
	Seed int64
}

func (cfg MemoryConfig) validate() error {
	if cfg.Length == 0 || cfg.Length%1024 != 0 {
		return fmt.Errorf("devices: length must be a positive multiple of 1024, got %d", cfg.Length)
	}
	switch cfg.BusByteWidth {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return fmt.Errorf("devices: bus width %d bytes is not a supported power-of-two width", cfg.BusByteWidth)
	}
	if cfg.MinWaitStates < 0 || cfg.MaxWaitStates < cfg.MinWaitStates {
		return fmt.Errorf("devices: invalid wait-state range [%d,%d]", cfg.MinWaitStates, cfg.MaxWaitStates)
	}
	return nil
}

// reservation is a value tuple keying the exclusive monitor's reservation
// and failed sets (spec.md §3, §9 "Reservation graph"). It must remain
// comparable (no slices) so it can be a map key.
type reservation struct {
	Addr   uint64
	Size   uint8
	Prot   protocol.Protection
	Burst  protocol.BurstKind
	Master uint32
	NonSec protocol.SecKind
}

// burstState is the per-subordinate burst tracker of spec.md §4.2.1.
type burstState struct {
	active    bool
	unbounded bool
	expected  []uint64 // fixed-length Wrap/Incr sequence
	idx       int
	next      uint64 // unbounded Incr's single "next" pointer

	size  uint8
	burst protocol.BurstKind
	write protocol.WriteKind
	prot  protocol.Protection
}

// MemorySubordinate is the subordinate-side protocol checker and in-memory
// store of spec.md §4.2: it validates every command it is handed, runs the
// burst tracker and exclusive monitor when enabled, applies the secure
// filter, and generates wait-state responses.
type MemorySubordinate struct {
	cfg MemoryConfig

	mem map[uint64]byte

	ready protocol.ReadyState

	curCmd          protocol.ICMD
	waitRemaining   int
	pendingResp     protocol.RespKind
	pendingExOkay   protocol.RespKind
	pendingWrite    bool
	pendingWriteCmd protocol.ICMD

	rsp protocol.SRESP

	burst burstState

	watched      map[uint64]bool
	reservations map[reservation]bool
	failed       map[reservation]bool

	rng *rand.Rand

	// Monitorable bookkeeping (spec.md §5, §6): monCmd/monData shadow the
	// raw command/data presented regardless of readiness, monFresh is the
	// one-shot flag a commit sets and Status clears, matching self.input
	// and the eval_done Event in the original implementation.
	monCmd   protocol.ICMD
	monData  protocol.Data
	monFresh bool
}

// NewMemorySubordinate validates cfg and returns a freshly reset memory
// subordinate.
func NewMemorySubordinate(cfg MemoryConfig) (*MemorySubordinate, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := &MemorySubordinate{
		cfg:   cfg,
		ready: protocol.Ready,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
	}
	m.Reset()
	return m, nil
}

// SetReady and IsReady are the interconnect-controlled readiness bookkeeping
// of spec.md §6; they are unrelated to the internal wait-state countdown.
func (m *MemorySubordinate) SetReady(r protocol.ReadyState) { m.ready = r }
func (m *MemorySubordinate) IsReady() bool                  { return m.ready == protocol.Ready }

// Reset clears memory, wait counters, reservations, watched, and the
// response latch. Feature switches persist (spec.md §4.2.6).
func (m *MemorySubordinate) Reset() {
	m.mem = make(map[uint64]byte)
	m.waitRemaining = 0
	m.pendingWrite = false
	m.burst = burstState{}
	m.watched = make(map[uint64]bool)
	m.reservations = make(map[reservation]bool)
	m.failed = make(map[reservation]bool)
	m.rsp = protocol.SRESP{
		ReadyOut: protocol.Ready,
		Resp:     protocol.Successful,
		ExOkay:   protocol.Successful,
		RData:    protocol.NewData(m.cfg.BusByteWidth),
	}
	m.monCmd = protocol.ICMD{}
	m.monData = protocol.Data{}
	m.monFresh = false
}

// Init pre-loads bytes starting at startAddr, wrapping modulo Length, for
// test and scenario setup (spec.md §6).
func (m *MemorySubordinate) Init(bytes []byte, startAddr uint64) {
	for i, b := range bytes {
		m.mem[(startAddr+uint64(i))%m.cfg.Length] = b
	}
}

// Dump returns the full declared length of the store, zero-filled for
// unwritten addresses (spec.md §6).
func (m *MemorySubordinate) Dump() []byte {
	out := make([]byte, m.cfg.Length)
	for addr, b := range m.mem {
		if addr < m.cfg.Length {
			out[addr] = b
		}
	}
	return out
}

// PutCmd latches an incoming command (spec.md §4.2). The raw command is
// always latched into the Monitorable observation shadow, matching
// self.input in the original implementation; if the subordinate's own
// ready flag is low, nothing else happens.
func (m *MemorySubordinate) PutCmd(cmd protocol.ICMD) {
	m.monCmd = cmd
	if m.ready == protocol.NotReady {
		return
	}

	if cmd.Sel != protocol.Sel {
		m.burstIdleCheck()
		m.finalizeImmediate(protocol.Successful, protocol.Successful, protocol.NewData(m.cfg.BusByteWidth))
		return
	}

	cmd.Addr = cmd.Addr % m.cfg.Length

	switch cmd.Trans {
	case protocol.Idle:
		m.burstIdleCheck()
		m.finalizeImmediate(protocol.Successful, protocol.Successful, protocol.NewData(m.cfg.BusByteWidth))
		return
	case protocol.Busy:
		if m.cfg.Burst && m.burst.active {
			// Legal continuation of an in-progress burst; consumes no slot.
			m.finalizeImmediate(protocol.Successful, protocol.Successful, protocol.NewData(m.cfg.BusByteWidth))
			return
		}
		panic("devices: Busy transfer outside a burst context")
	case protocol.Seq:
		if !(m.cfg.Burst && m.burst.active) {
			panic("devices: Seq transfer outside a burst context")
		}
	case protocol.NonSeq:
		if m.cfg.Burst && m.burst.active {
			log.Printf("devices: possible master switch, NonSeq terminates in-progress burst")
			m.burst = burstState{}
		}
	}

	if cmd.Addr%uint64(cmd.Bytes()) != 0 {
		panic(fmt.Sprintf("devices: misaligned address 0x%x for size %d bytes", cmd.Addr, cmd.Bytes()))
	}
	if cmd.Bytes() > m.cfg.BusByteWidth {
		panic(fmt.Sprintf("devices: transfer size %d bytes exceeds bus width %d bytes", cmd.Bytes(), m.cfg.BusByteWidth))
	}

	if m.cfg.Burst {
		m.runBurstTracker(cmd)
	}

	resp := protocol.Successful
	exOkay := protocol.Successful
	forceOneWait := false

	if m.cfg.Exclusive {
		r2, ex2, fw2 := m.runExclusiveMonitor(cmd)
		if r2 == protocol.Failed {
			resp = protocol.Failed
		}
		exOkay = ex2
		if fw2 {
			forceOneWait = true
		}
	}

	if m.cfg.Secure && cmd.NonSec == protocol.NonSecure {
		denyRead := cmd.Write == protocol.Read && !m.cfg.NonsecRead
		denyWrite := cmd.Write == protocol.Write && !m.cfg.NonsecWrite
		if denyRead || denyWrite {
			resp = protocol.Failed
			forceOneWait = true
		}
	}

	m.beginWait(cmd, resp, exOkay, forceOneWait)
}

// burstIdleCheck terminates an in-progress burst with a warning when an
// Idle beat (or an unselected cycle) interrupts it (spec.md §4.2.1).
func (m *MemorySubordinate) burstIdleCheck() {
	if m.cfg.Burst && m.burst.active {
		log.Printf("devices: possible master switch, Idle terminates in-progress burst")
		m.burst = burstState{}
	}
}

// commitRsp latches a newly computed response and marks the Monitorable
// observation fresh (spec.md §5, §6), matching the point in the original
// implementation where self.resp is reassigned each cycle.
func (m *MemorySubordinate) commitRsp(rsp protocol.SRESP) {
	m.rsp = rsp
	m.monFresh = true
}

// finalizeImmediate realizes the zero-wait Ready response Idle/Busy beats
// always produce (spec.md §4.2.4).
func (m *MemorySubordinate) finalizeImmediate(resp, exOkay protocol.RespKind, data protocol.Data) {
	m.waitRemaining = 0
	m.pendingWrite = false
	m.commitRsp(protocol.SRESP{ReadyOut: protocol.Ready, Resp: resp, ExOkay: exOkay, RData: data})
}

// beginWait samples the wait-state engine and latches the in-flight
// command for the eventual finalize (spec.md §4.2.4).
func (m *MemorySubordinate) beginWait(cmd protocol.ICMD, resp, exOkay protocol.RespKind, forceOneWait bool) {
	m.curCmd = cmd
	m.pendingResp = resp
	m.pendingExOkay = exOkay

	if forceOneWait {
		m.waitRemaining = 1
	} else {
		m.waitRemaining = m.sampleWait(cmd.Trans == protocol.Seq)
	}

	m.commitRsp(protocol.SRESP{
		ReadyOut: protocol.NotReady,
		Resp:     resp,
		ExOkay:   exOkay,
		RData:    protocol.NewData(m.cfg.BusByteWidth),
	})

	if m.waitRemaining == 0 {
		m.finalizeNow()
	}
}

// finalizeNow computes the terminal response once wait_cycles has reached
// zero (spec.md §4.2.4): for a successful read the data word is composed
// now; for a successful write, application is deferred to the next PutData
// call so it observes the correctly cycle-lagged hWData (spec.md §4.6).
func (m *MemorySubordinate) finalizeNow() {
	if m.pendingResp != protocol.Successful {
		m.commitRsp(protocol.SRESP{ReadyOut: protocol.Ready, Resp: m.pendingResp, ExOkay: m.pendingExOkay, RData: protocol.NewData(m.cfg.BusByteWidth)})
		return
	}
	if m.curCmd.Write == protocol.Read {
		m.commitRsp(protocol.SRESP{ReadyOut: protocol.Ready, Resp: protocol.Successful, ExOkay: m.pendingExOkay, RData: m.readWord(m.curCmd)})
		return
	}
	m.commitRsp(protocol.SRESP{ReadyOut: protocol.Ready, Resp: protocol.Successful, ExOkay: m.pendingExOkay, RData: protocol.NewData(m.cfg.BusByteWidth)})
	m.pendingWrite = true
	m.pendingWriteCmd = m.curCmd
}

// PutData latches the write-data word for the data-phase command (spec.md
// §4.2, §4.6), always updating the Monitorable shadow, and applies any
// write scheduled by the previous cycle's finalize.
func (m *MemorySubordinate) PutData(data protocol.IDATA) {
	m.monData = data
	if m.pendingWrite {
		m.applyWrite(m.pendingWriteCmd, data)
		m.pendingWrite = false
	}
}

// Status implements fabric.Monitorable: a one-shot snapshot of the raw
// command shadow, the response committed this cycle, the write-data
// payload, and readiness. It returns ok=false if nothing has been
// committed since the last successful call (spec.md §5, §6).
func (m *MemorySubordinate) Status() (protocol.MonitorStatus, bool) {
	if !m.monFresh {
		return protocol.MonitorStatus{}, false
	}
	m.monFresh = false
	return protocol.MonitorStatus{
		Ready:   m.IsReady(),
		Command: m.monCmd,
		Resp:    m.rsp,
		WData:   m.monData,
	}, true
}

// GetRsp returns the response latched by the previous PutCmd/GetRsp, then
// advances the wait-state countdown by one cycle for the next call. Taking
// the snapshot before mutating the countdown ensures a command sampled for
// W wait cycles is observed as W NotReady calls followed by one Ready call,
// never collapsing the last wait cycle and the terminal response into the
// same call (spec.md §4.2, §7).
func (m *MemorySubordinate) GetRsp() protocol.SRESP {
	rsp := m.rsp
	if m.waitRemaining > 0 {
		m.waitRemaining--
		if m.waitRemaining == 0 {
			m.finalizeNow()
		}
	}
	return rsp
}

// readWord composes hRData by reading bytes [addr, addr+2^size) and placing
// each at its lane offset within the bus-width word (spec.md §4.2.4).
func (m *MemorySubordinate) readWord(cmd protocol.ICMD) protocol.Data {
	d := protocol.NewData(m.cfg.BusByteWidth)
	laneBase := int(cmd.Addr % uint64(m.cfg.BusByteWidth))
	for i := 0; i < cmd.Bytes(); i++ {
		d.Word[laneBase+i] = m.mem[cmd.Addr+uint64(i)]
	}
	return d
}

// applyWrite stores each transferred byte unless write-strobes disable it,
// invalidating any exclusive reservation the byte is covered by just before
// the store actually happens (spec.md §4.2.5).
func (m *MemorySubordinate) applyWrite(cmd protocol.ICMD, data protocol.Data) {
	laneBase := int(cmd.Addr % uint64(m.cfg.BusByteWidth))
	for i := 0; i < cmd.Bytes(); i++ {
		lane := laneBase + i
		if m.cfg.WriteStrobe && lane < len(cmd.Strobe) && !cmd.Strobe[lane] {
			continue
		}
		byteAddr := cmd.Addr + uint64(i)
		if m.cfg.Exclusive {
			m.invalidateWatchers(byteAddr)
		}
		if lane < len(data.Word) {
			m.mem[byteAddr] = data.Word[lane]
		}
	}
}

func (m *MemorySubordinate) invalidateWatchers(byteAddr uint64) {
	if !m.watched[byteAddr] {
		return
	}
	for r := range m.reservations {
		if byteAddr >= r.Addr && byteAddr < r.Addr+uint64(1)<<r.Size {
			delete(m.reservations, r)
			m.failed[r] = true
		}
	}
	m.recomputeWatched()
}

func (m *MemorySubordinate) recomputeWatched() {
	m.watched = make(map[uint64]bool)
	for r := range m.reservations {
		top := r.Addr + uint64(1)<<r.Size
		for b := r.Addr; b < top; b++ {
			m.watched[b] = true
		}
	}
}

// runExclusiveMonitor implements spec.md §4.2.2. It returns the response
// and exclusive-okay kinds this command produces, and whether the secure
// filter's one-wait-cycle error termination also applies here.
func (m *MemorySubordinate) runExclusiveMonitor(cmd protocol.ICMD) (protocol.RespKind, protocol.RespKind, bool) {
	if cmd.Excl != protocol.Excl {
		return protocol.Successful, protocol.Successful, false
	}
	if cmd.Trans == protocol.Busy {
		panic("devices: exclusive transfer with Busy is not permitted")
	}
	if cmd.Burst != protocol.Single && cmd.Burst != protocol.Incr {
		panic(fmt.Sprintf("devices: exclusive transfer with burst kind %s is not permitted", cmd.Burst))
	}

	r := reservation{Addr: cmd.Addr, Size: cmd.Size, Prot: cmd.Prot, Burst: cmd.Burst, Master: cmd.Master, NonSec: cmd.NonSec}

	if cmd.Write == protocol.Read {
		if m.reservations[r] {
			panic("devices: duplicate exclusive read reservation without an intervening write")
		}
		m.reservations[r] = true
		m.recomputeWatched()
		return protocol.Successful, protocol.Successful, false
	}

	if !m.reservations[r] || m.failed[r] {
		delete(m.failed, r)
		return protocol.Failed, protocol.Failed, true
	}
	delete(m.reservations, r)
	m.recomputeWatched()
	return protocol.Successful, protocol.Successful, false
}

// runBurstTracker implements spec.md §4.2.1.
func (m *MemorySubordinate) runBurstTracker(cmd protocol.ICMD) {
	switch cmd.Trans {
	case protocol.NonSeq:
		if cmd.Burst == protocol.Single {
			m.burst = burstState{}
			return
		}
		if n, ok := cmd.Burst.FixedLen(); ok {
			var addrs []uint64
			if cmd.Burst.Wrapping() {
				addrs = wrapNAddrs(cmd.Addr, cmd.Size, n)
			} else {
				addrs = incrNAddrs(cmd.Addr, cmd.Size, n)
				last := addrs[n-1]
				if (cmd.Addr &^ 1023) != (last &^ 1023) {
					panic(fmt.Sprintf("devices: burst crosses 1 KiB boundary: 0x%x..0x%x", cmd.Addr, last))
				}
			}
			m.burst = burstState{active: true, expected: addrs, idx: 1, size: cmd.Size, burst: cmd.Burst, write: cmd.Write, prot: cmd.Prot}
			return
		}
		m.burst = burstState{active: true, unbounded: true, next: cmd.Addr + uint64(cmd.Bytes()), size: cmd.Size, burst: cmd.Burst, write: cmd.Write, prot: cmd.Prot}
	case protocol.Seq:
		var expectedAddr uint64
		if m.burst.unbounded {
			expectedAddr = m.burst.next
		} else {
			expectedAddr = m.burst.expected[m.burst.idx]
		}
		if cmd.Addr != expectedAddr || cmd.Size != m.burst.size || cmd.Burst != m.burst.burst || cmd.Write != m.burst.write || cmd.Prot != m.burst.prot {
			panic(fmt.Sprintf("devices: burst beat mismatch: expected addr 0x%x, got 0x%x", expectedAddr, cmd.Addr))
		}
		if m.burst.unbounded {
			m.burst.next = cmd.Addr + uint64(cmd.Bytes())
			return
		}
		m.burst.idx++
		if m.burst.idx >= len(m.burst.expected) {
			m.burst.active = false
		}
	}
}

// incrNAddrs computes the Incr-N fixed-length beat sequence (spec.md §8 P6).
func incrNAddrs(addr uint64, size uint8, n int) []uint64 {
	step := uint64(1) << size
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = addr + uint64(i)*step
	}
	return out
}

// wrapNAddrs computes the Wrap-N fixed-length beat sequence (spec.md §8 P6).
func wrapNAddrs(addr uint64, size uint8, n int) []uint64 {
	step := uint64(1) << size
	span := uint64(n) * step
	base := addr &^ (span - 1)
	offset := addr % span
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = base + (offset+uint64(i)*step)%span
	}
	return out
}

// sampleWait draws the Poisson-distributed wait-state count of spec.md
// §4.2.4: mean (min+max)/2 for a NonSeq first beat, mean min for a Seq beat
// within a burst, clamped to max.
func (m *MemorySubordinate) sampleWait(seqWithinBurst bool) int {
	mean := float64(m.cfg.MinWaitStates+m.cfg.MaxWaitStates) / 2
	if seqWithinBurst {
		mean = float64(m.cfg.MinWaitStates)
	}
	n := poisson(m.rng, mean)
	if n > m.cfg.MaxWaitStates {
		n = m.cfg.MaxWaitStates
	}
	if n < 0 {
		n = 0
	}
	return n
}

// poisson draws a Poisson-distributed sample via Knuth's method (spec.md
// §9). No third-party distribution library appears anywhere in the
// retrieved corpus; this is the one place this module reaches for
// math/rand directly rather than through a library the corpus demonstrates.
func poisson(rng *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	l := math.Exp(-mean)
	k := 0
	p := 1.0
	for {
		k++
		p *= rng.Float64()
		if p <= l {
			return k - 1
		}
	}
}
