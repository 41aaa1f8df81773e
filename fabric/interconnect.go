package fabric

import (
	"fmt"
	"log"

	"github.com/antmicro/cocotb-ahb/arbiter"
	"github.com/antmicro/cocotb-ahb/devices"
	"github.com/antmicro/cocotb-ahb/protocol"
)

type region struct {
	base, size uint64
	sub        Subordinate
}

// Interconnect owns every registered manager and subordinate and drives one
// cycle's worth of address decode, master-id tagging, and response routing
// per Tick call (spec.md §4.5, §4.6). It is the generalized counterpart of
// the teacher's VirtualMachine: instead of one IOBus serving one address
// space, it serves one independent routing table per manager, each
// terminating at a per-manager default subordinate.
type Interconnect struct {
	busByteWidth int
	widthSet     bool

	managers  []Manager
	managerID map[Manager]int
	idOwner   map[int]Manager
	nextID    int

	subordinates []Subordinate
	arbiters     map[Subordinate]*arbiter.Arbiter
	routes       map[Manager][]region
	defaults     map[Manager]Subordinate

	waitingManagers map[Manager]bool
	waitingSubs     map[Subordinate]bool
	pendingOwner    map[Subordinate]Manager

	bootstrapped bool
}

// New returns an empty interconnect. Bus width is fixed by the first
// manager to register; every later manager registration must match it
// (spec.md I3). Subordinate registrations carry no bus width and are not
// checked against it.
func New() *Interconnect {
	return &Interconnect{
		managerID:       map[Manager]int{},
		idOwner:         map[int]Manager{},
		arbiters:        map[Subordinate]*arbiter.Arbiter{},
		routes:          map[Manager][]region{},
		defaults:        map[Manager]Subordinate{},
		waitingManagers: map[Manager]bool{},
		waitingSubs:     map[Subordinate]bool{},
		pendingOwner:    map[Subordinate]Manager{},
	}
}

// BusByteWidth reports the fabric-wide bus width in bytes, fixed by the
// first manager registration.
func (ic *Interconnect) BusByteWidth() int { return ic.busByteWidth }

func (ic *Interconnect) checkWidth(busByteWidth int) error {
	if ic.widthSet && ic.busByteWidth != busByteWidth {
		return fmt.Errorf("fabric: bus width mismatch: fabric is %d bytes wide, component presents %d", ic.busByteWidth, busByteWidth)
	}
	if !ic.widthSet {
		ic.busByteWidth = busByteWidth
		ic.widthSet = true
	}
	return nil
}

// RegisterManager records m as a bus initiator. If id is omitted the
// smallest unused interconnect id is assigned; if id collides with a
// manager already holding it, that manager is displaced to the next unused
// id (spec.md §4.5). Registration is rejected once the fabric has ticked.
func (ic *Interconnect) RegisterManager(m Manager, busByteWidth int, id ...int) (int, error) {
	if ic.bootstrapped {
		return 0, fmt.Errorf("fabric: cannot register a manager after simulation has started")
	}
	if _, exists := ic.managerID[m]; exists {
		return 0, fmt.Errorf("fabric: manager already registered")
	}
	if err := ic.checkWidth(busByteWidth); err != nil {
		return 0, err
	}

	var assigned int
	if len(id) > 0 {
		assigned = id[0]
		if holder, ok := ic.idOwner[assigned]; ok && holder != m {
			newID := ic.nextFreeID()
			log.Printf("fabric: manager id %d already held, displacing prior holder to id %d", assigned, newID)
			ic.idOwner[newID] = holder
			ic.managerID[holder] = newID
			if newID >= ic.nextID {
				ic.nextID = newID + 1
			}
		}
	} else {
		assigned = ic.nextFreeID()
	}

	ic.managers = append(ic.managers, m)
	ic.managerID[m] = assigned
	ic.idOwner[assigned] = m
	if assigned >= ic.nextID {
		ic.nextID = assigned + 1
	}
	ic.routes[m] = nil
	m.SetReady(protocol.WaitState)
	return assigned, nil
}

func (ic *Interconnect) nextFreeID() int {
	for id := 0; ; id++ {
		if _, used := ic.idOwner[id]; !used {
			return id
		}
	}
}

// RegisterSubordinate records s as a bus responder and creates its arbiter.
// Re-registering the same subordinate is rejected, as is any registration
// once the fabric has ticked.
func (ic *Interconnect) RegisterSubordinate(s Subordinate) error {
	if ic.bootstrapped {
		return fmt.Errorf("fabric: cannot register a subordinate after simulation has started")
	}
	if _, exists := ic.arbiters[s]; exists {
		return fmt.Errorf("fabric: subordinate already registered")
	}
	s.SetReady(protocol.WaitState)
	ic.arbiters[s] = arbiter.New()
	ic.subordinates = append(ic.subordinates, s)
	return nil
}

// RegisterRoute associates the address range [base, base+size) for manager
// m with subordinate s. base must be 1024-aligned (spec.md I1) and the
// range must not overlap any range already registered for m.
func (ic *Interconnect) RegisterRoute(m Manager, s Subordinate, base, size uint64) error {
	if _, ok := ic.managerID[m]; !ok {
		return fmt.Errorf("fabric: manager not registered")
	}
	if _, ok := ic.arbiters[s]; !ok {
		return fmt.Errorf("fabric: subordinate not registered")
	}
	if base%1024 != 0 {
		return fmt.Errorf("fabric: region base 0x%x is not a multiple of 1024", base)
	}
	for _, r := range ic.routes[m] {
		if regionsOverlap(base, size, r.base, r.size) {
			return fmt.Errorf("fabric: region [0x%x,0x%x) overlaps existing region [0x%x,0x%x) registered for this manager", base, base+size, r.base, r.base+r.size)
		}
	}
	ic.routes[m] = append(ic.routes[m], region{base: base, size: size, sub: s})
	return nil
}

func regionsOverlap(baseA, sizeA, baseB, sizeB uint64) bool {
	endA, endB := baseA+sizeA, baseB+sizeB
	return baseA < endB && baseB < endA
}

// decode performs the linear scan of spec.md §4.5: the first region
// containing addr wins, falling back to m's default subordinate on miss.
func (ic *Interconnect) decode(m Manager, addr uint64) Subordinate {
	for _, r := range ic.routes[m] {
		if addr >= r.base && addr < r.base+r.size {
			return r.sub
		}
	}
	return ic.defaults[m]
}

// tagMaster rewrites hMaster as (interconnect id << 4) | (local sub-id),
// per spec.md §4.5.
func (ic *Interconnect) tagMaster(m Manager, cmd protocol.MCMD) protocol.MCMD {
	id := ic.managerID[m]
	cmd.Master = (uint32(id) << 4) | (cmd.Master & 0xF)
	return cmd
}

// bootstrap installs a default subordinate per registered manager and
// drives one reset pass, on the first Tick call after construction
// (spec.md §4.5 "First-cycle bootstrap").
func (ic *Interconnect) bootstrap() {
	for _, m := range ic.managers {
		def := devices.NewDefaultSubordinate(ic.busByteWidth)
		ic.defaults[m] = def
		if err := ic.RegisterSubordinate(def); err != nil {
			panic(fmt.Sprintf("fabric: failed to install default subordinate: %v", err))
		}
	}
	ic.bootstrapped = true
	ic.Reset()
}

// Reset clears every arbiter's backlog and pending-response bookkeeping and
// sets every manager and subordinate to Ready (spec.md §4.5 step 1).
func (ic *Interconnect) Reset() {
	for _, m := range ic.managers {
		m.SetReady(protocol.Ready)
		ic.waitingManagers[m] = false
	}
	for _, s := range ic.subordinates {
		s.SetReady(protocol.Ready)
		ic.waitingSubs[s] = false
		ic.arbiters[s].Reset()
		delete(ic.pendingOwner, s)
	}
}

// Tick advances the fabric by one clock cycle: forcing still-waiting
// components' ready signals low, then running proc_data, proc_rsp, and
// proc_cmd in that order (spec.md §4.5). Passing reset runs a reset pass
// instead of the normal dispatch sequence, as real AHB reset would.
func (ic *Interconnect) Tick(reset bool) {
	if !ic.bootstrapped {
		ic.bootstrap()
	}
	if reset {
		ic.Reset()
		return
	}

	for _, m := range ic.managers {
		if ic.waitingManagers[m] {
			m.SetReady(protocol.WaitState)
		}
	}
	for _, s := range ic.subordinates {
		if ic.waitingSubs[s] {
			s.SetReady(protocol.NotReady)
		}
	}

	ic.procData()
	ic.procRsp()
	ic.procCmd()
}

// procData pushes each subordinate's arbiter's current data-phase owner's
// write data into that subordinate, every cycle, regardless of readiness
// (spec.md §4.5 step 3). This is what realizes the two-phase pipeline
// (spec.md §4.6): the subordinate's PutData always sees the write-data
// register of whichever manager is in the data phase, one cycle behind
// that manager's own address phase.
func (ic *Interconnect) procData() {
	for _, s := range ic.subordinates {
		data := ic.arbiters[s].PeekData(ic.busByteWidth)
		s.PutData(data)
	}
}

// procRsp routes each waiting subordinate's response to the manager
// occupying its data phase. A Ready response terminates the transaction
// (spec.md §4.5 step 4); any other response is still delivered so the
// manager observes a live (if stalled) response every cycle, but leaves
// the subordinate waiting.
func (ic *Interconnect) procRsp() {
	for _, s := range ic.subordinates {
		if !ic.waitingSubs[s] {
			continue
		}
		rsp := s.GetRsp()
		owner := ic.pendingOwner[s]
		if owner != nil {
			owner.PutRsp(rsp.ToIRESP())
		}
		if rsp.ReadyOut == protocol.Ready {
			if owner != nil {
				owner.SetReady(protocol.Working)
				ic.waitingManagers[owner] = false
			}
			delete(ic.pendingOwner, s)
			ic.waitingSubs[s] = false
			s.SetReady(protocol.Ready)
		}
	}
}

// procCmd dispatches one new command per ready manager into its target
// subordinate's arbiter, then dequeues one command per ready subordinate
// and applies it (spec.md §4.5 step 5).
func (ic *Interconnect) procCmd() {
	for _, m := range ic.managers {
		if !m.IsReady() {
			continue
		}
		cmd := m.GetCmd()
		s := ic.decode(m, cmd.Addr)
		tagged := ic.tagMaster(m, cmd)
		icmd := protocol.ICMD{MCMD: tagged, Sel: protocol.Sel}
		ic.arbiters[s].Queue(icmd, m)
		m.SetReady(protocol.WaitState)
		ic.waitingManagers[m] = true
	}

	for _, s := range ic.subordinates {
		if !s.IsReady() {
			continue
		}
		cmd, ownerRef := ic.arbiters[s].Take()
		s.PutCmd(cmd)
		if cmd.Sel == protocol.Sel {
			if owner, ok := ownerRef.(Manager); ok {
				ic.pendingOwner[s] = owner
			}
			s.SetReady(protocol.NotReady)
			ic.waitingSubs[s] = true
		}
	}
}
