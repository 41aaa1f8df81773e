package devices_test

import (
	"testing"

	"github.com/antmicro/cocotb-ahb/devices"
	"github.com/antmicro/cocotb-ahb/protocol"
)

func newMem(t *testing.T, cfg devices.MemoryConfig) *devices.MemorySubordinate {
	t.Helper()
	if cfg.Length == 0 {
		cfg.Length = 1024
	}
	if cfg.BusByteWidth == 0 {
		cfg.BusByteWidth = 4
	}
	m, err := devices.NewMemorySubordinate(cfg)
	if err != nil {
		t.Fatalf("NewMemorySubordinate: %v", err)
	}
	return m
}

func TestMemoryWriteReadRoundTrip(t *testing.T) {
	m := newMem(t, devices.MemoryConfig{})

	write := protocol.ICMD{
		MCMD: protocol.MCMD{
			Addr:   0x100,
			Trans:  protocol.NonSeq,
			Write:  protocol.Write,
			Size:   2,
			Strobe: protocol.NewStrobe(4),
		},
		Sel: protocol.Sel,
	}
	m.PutCmd(write)
	m.PutData(protocol.Data{Word: []byte{0xDE, 0xAD, 0xBE, 0xEF}})
	if rsp := m.GetRsp(); rsp.Resp != protocol.Successful {
		t.Fatalf("write GetRsp().Resp = %v, want Successful", rsp.Resp)
	}

	read := protocol.ICMD{
		MCMD: protocol.MCMD{
			Addr:   0x100,
			Trans:  protocol.NonSeq,
			Write:  protocol.Read,
			Size:   1,
			Strobe: protocol.NewStrobe(4),
		},
		Sel: protocol.Sel,
	}
	m.PutCmd(read)
	rsp := m.GetRsp()
	if rsp.Resp != protocol.Successful {
		t.Fatalf("read GetRsp().Resp = %v, want Successful", rsp.Resp)
	}
	if got, want := rsp.RData.Word[1], byte(0xAD); got != want {
		t.Fatalf("halfword read at 0x100, lane 1 = 0x%x, want 0x%x", got, want)
	}
}

func TestMemoryWriteStrobeMasksBytes(t *testing.T) {
	m := newMem(t, devices.MemoryConfig{WriteStrobe: true})

	full := protocol.NewStrobe(4)
	write := protocol.ICMD{
		MCMD: protocol.MCMD{Addr: 0x200, Trans: protocol.NonSeq, Write: protocol.Write, Size: 2, Strobe: full},
		Sel:  protocol.Sel,
	}
	m.PutCmd(write)
	m.PutData(protocol.Data{Word: []byte{0x11, 0x22, 0x33, 0x44}})
	m.GetRsp()

	masked := protocol.Strobe{false, true, false, false}
	write2 := protocol.ICMD{
		MCMD: protocol.MCMD{Addr: 0x200, Trans: protocol.NonSeq, Write: protocol.Write, Size: 2, Strobe: masked},
		Sel:  protocol.Sel,
	}
	m.PutCmd(write2)
	m.PutData(protocol.Data{Word: []byte{0xAA, 0xBB, 0xCC, 0xDD}})
	m.GetRsp()

	read := protocol.ICMD{
		MCMD: protocol.MCMD{Addr: 0x200, Trans: protocol.NonSeq, Write: protocol.Read, Size: 2, Strobe: full},
		Sel:  protocol.Sel,
	}
	m.PutCmd(read)
	rsp := m.GetRsp()
	want := []byte{0x11, 0xBB, 0x33, 0x44}
	for i, b := range want {
		if rsp.RData.Word[i] != b {
			t.Fatalf("after masked write, byte %d = 0x%x, want 0x%x", i, rsp.RData.Word[i], b)
		}
	}
}

func TestMemoryExclusiveAtomicity(t *testing.T) {
	m := newMem(t, devices.MemoryConfig{Exclusive: true})

	exRead := protocol.ICMD{
		MCMD: protocol.MCMD{Addr: 0x300, Trans: protocol.NonSeq, Write: protocol.Read, Size: 2, Burst: protocol.Single, Excl: protocol.Excl, Strobe: protocol.NewStrobe(4)},
		Sel:  protocol.Sel,
	}
	m.PutCmd(exRead)
	if rsp := m.GetRsp(); rsp.ExOkay != protocol.Successful {
		t.Fatalf("exclusive read ExOkay = %v, want Successful", rsp.ExOkay)
	}

	exWrite := protocol.ICMD{
		MCMD: protocol.MCMD{Addr: 0x300, Trans: protocol.NonSeq, Write: protocol.Write, Size: 2, Burst: protocol.Single, Excl: protocol.Excl, Strobe: protocol.NewStrobe(4)},
		Sel:  protocol.Sel,
	}
	m.PutCmd(exWrite)
	m.PutData(protocol.Data{Word: []byte{1, 2, 3, 4}})
	if rsp := m.GetRsp(); rsp.ExOkay != protocol.Successful || rsp.Resp != protocol.Successful {
		t.Fatalf("first exclusive write = (%v,%v), want (Successful,Successful)", rsp.Resp, rsp.ExOkay)
	}

	m.PutCmd(exWrite)
	m.PutData(protocol.Data{Word: []byte{5, 6, 7, 8}})
	firstRsp := m.GetRsp()
	if firstRsp.ReadyOut != protocol.NotReady {
		t.Fatalf("second exclusive write first GetRsp().ReadyOut = %v, want NotReady (forced one wait cycle)", firstRsp.ReadyOut)
	}
	rsp := m.GetRsp()
	if rsp.ReadyOut != protocol.Ready || rsp.ExOkay != protocol.Failed || rsp.Resp != protocol.Failed {
		t.Fatalf("second exclusive write terminal GetRsp() = %+v, want Ready/(Failed,Failed)", rsp)
	}
}

func TestMemoryIncr16CrossesBoundaryPanics(t *testing.T) {
	m := newMem(t, devices.MemoryConfig{Burst: true, Length: 4096})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for Incr16 burst crossing a 1 KiB boundary")
		}
	}()

	cmd := protocol.ICMD{
		MCMD: protocol.MCMD{Addr: 1020, Trans: protocol.NonSeq, Write: protocol.Read, Size: 2, Burst: protocol.Incr16, Strobe: protocol.NewStrobe(4)},
		Sel:  protocol.Sel,
	}
	m.PutCmd(cmd)
}

func TestMemoryMisalignedAddressPanics(t *testing.T) {
	m := newMem(t, devices.MemoryConfig{})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for misaligned address")
		}
	}()

	cmd := protocol.ICMD{
		MCMD: protocol.MCMD{Addr: 1, Trans: protocol.NonSeq, Write: protocol.Read, Size: 2, Strobe: protocol.NewStrobe(4)},
		Sel:  protocol.Sel,
	}
	m.PutCmd(cmd)
}

func TestMemorySecureFilterDeniesNonsecureWrite(t *testing.T) {
	m := newMem(t, devices.MemoryConfig{Secure: true, NonsecWrite: false, NonsecRead: true})

	cmd := protocol.ICMD{
		MCMD: protocol.MCMD{Addr: 0x10, Trans: protocol.NonSeq, Write: protocol.Write, Size: 2, NonSec: protocol.NonSecure, Strobe: protocol.NewStrobe(4)},
		Sel:  protocol.Sel,
	}
	m.PutCmd(cmd)
	m.PutData(protocol.Data{Word: []byte{1, 2, 3, 4}})
	if rsp := m.GetRsp(); rsp.ReadyOut != protocol.NotReady {
		t.Fatalf("nonsecure write with NonsecWrite disabled: first GetRsp().ReadyOut = %v, want NotReady (forced one wait cycle)", rsp.ReadyOut)
	}
	if rsp := m.GetRsp(); rsp.ReadyOut != protocol.Ready || rsp.Resp != protocol.Failed {
		t.Fatalf("nonsecure write with NonsecWrite disabled: terminal GetRsp() = %+v, want Ready/Failed", rsp)
	}
}

func TestMemoryResetClearsStoreButKeepsConfig(t *testing.T) {
	m := newMem(t, devices.MemoryConfig{Secure: true, NonsecRead: false})
	m.Init([]byte{1, 2, 3, 4}, 0x40)
	m.Reset()
	if got := m.Dump()[0x40]; got != 0 {
		t.Fatalf("Dump()[0x40] after Reset() = %d, want 0", got)
	}

	cmd := protocol.ICMD{
		MCMD: protocol.MCMD{Addr: 0x40, Trans: protocol.NonSeq, Write: protocol.Read, Size: 2, NonSec: protocol.NonSecure, Strobe: protocol.NewStrobe(4)},
		Sel:  protocol.Sel,
	}
	m.PutCmd(cmd)
	m.GetRsp()
	if rsp := m.GetRsp(); rsp.ReadyOut != protocol.Ready || rsp.Resp != protocol.Failed {
		t.Fatalf("nonsecure read after Reset() = %+v, want Ready/Failed (secure filter still enabled)", rsp)
	}
}
