package tester_test

import (
	"testing"

	"github.com/antmicro/cocotb-ahb/devices"
	"github.com/antmicro/cocotb-ahb/fabric"
	"github.com/antmicro/cocotb-ahb/protocol"
	"github.com/antmicro/cocotb-ahb/tester"
)

func TestStubManagerIssuesWithinRange(t *testing.T) {
	m := tester.NewStubManager(1, 4, 0x1000, 0x2000)
	m.SetReady(protocol.Working)

	for i := 0; i < 50; i++ {
		cmd := m.GetCmd()
		if cmd.Addr < 0x1000 || cmd.Addr >= 0x2000 {
			t.Fatalf("issued command %d targets 0x%x, outside [0x1000,0x2000)", i, cmd.Addr)
		}
		m.PutRsp(protocol.IRESP{Resp: protocol.Successful, ExOkay: protocol.Successful})
	}
	if got := len(m.Issued()); got != 50 {
		t.Fatalf("Issued() has %d entries, want 50", got)
	}
}

func TestStubManagerAbortsAfterFailedResponse(t *testing.T) {
	m := tester.NewStubManager(2, 4, 0x1000, 0x2000)
	m.SetReady(protocol.Working)

	m.GetCmd()
	m.PutRsp(protocol.IRESP{Resp: protocol.Failed, ExOkay: protocol.Failed})

	next := m.GetCmd()
	if next.Trans != protocol.Idle {
		t.Fatalf("command after a Failed response = %v, want an aborted Idle", next.Trans)
	}
}

func TestWrapForwardsAndRecordsSelectedCommands(t *testing.T) {
	mem, err := devices.NewMemorySubordinate(devices.MemoryConfig{Length: 1024, BusByteWidth: 4})
	if err != nil {
		t.Fatalf("NewMemorySubordinate: %v", err)
	}
	probe := tester.Wrap(mem)

	probe.SetReady(protocol.Ready)
	cmd := protocol.ICMD{MCMD: protocol.MCMD{Addr: 0x40, Trans: protocol.NonSeq, Write: protocol.Read, Size: 2, Strobe: protocol.NewStrobe(4)}, Sel: protocol.Sel}
	probe.PutCmd(cmd)

	if rsp := probe.GetRsp(); rsp.Resp != protocol.Successful {
		t.Fatalf("wrapped GetRsp().Resp = %v, want Successful", rsp.Resp)
	}
	if len(probe.Received()) != 1 || probe.Received()[0].Addr != 0x40 {
		t.Fatalf("Received() = %+v, want one entry at 0x40", probe.Received())
	}

	probe.PutCmd(protocol.ICMD{MCMD: protocol.MCMD{Trans: protocol.Idle}, Sel: protocol.NoSel})
	if len(probe.Received()) != 1 {
		t.Fatalf("unselected command was recorded: %+v", probe.Received())
	}
}

func TestCheckRoutingDetectsMismatch(t *testing.T) {
	issued := []protocol.MCMD{
		{Addr: 0x10, Trans: protocol.NonSeq, Write: protocol.Read, Size: 2},
		{Addr: 0x20, Trans: protocol.NonSeq, Write: protocol.Write, Size: 2},
	}
	received := []protocol.ICMD{
		{MCMD: protocol.MCMD{Addr: 0x10, Trans: protocol.NonSeq, Write: protocol.Read, Size: 2, Master: 0}, Sel: protocol.Sel},
	}
	inRange := func(addr uint64) bool { return addr < 0x1000 }

	if err := tester.CheckRouting(issued, 0, received, inRange); err == nil {
		t.Fatal("expected CheckRouting to detect the missing second command")
	}

	received = append(received, protocol.ICMD{MCMD: protocol.MCMD{Addr: 0x20, Trans: protocol.NonSeq, Write: protocol.Write, Size: 2, Master: 0}, Sel: protocol.Sel})
	if err := tester.CheckRouting(issued, 0, received, inRange); err != nil {
		t.Fatalf("CheckRouting after completing the trace: %v", err)
	}
}

var _ fabric.Manager = (*tester.StubManager)(nil)
var _ fabric.Subordinate = (*tester.Tester)(nil)
