package devices_test

import (
	"testing"

	"github.com/antmicro/cocotb-ahb/devices"
	"github.com/antmicro/cocotb-ahb/protocol"
)

func TestDefaultSubordinateIdleIsImmediatelySuccessful(t *testing.T) {
	d := devices.NewDefaultSubordinate(4)
	d.PutCmd(protocol.ICMD{MCMD: protocol.MCMD{Trans: protocol.Idle}, Sel: protocol.NoSel})
	rsp := d.GetRsp()
	if rsp.ReadyOut != protocol.Ready || rsp.Resp != protocol.Successful {
		t.Fatalf("Idle GetRsp() = %+v, want Ready/Successful", rsp)
	}
}

func TestDefaultSubordinateAddressedCommandFails(t *testing.T) {
	d := devices.NewDefaultSubordinate(4)
	d.PutCmd(protocol.ICMD{MCMD: protocol.MCMD{Addr: 0x9000, Trans: protocol.NonSeq}, Sel: protocol.Sel})

	first := d.GetRsp()
	if first.ReadyOut != protocol.NotReady || first.Resp != protocol.Failed {
		t.Fatalf("first addressed NonSeq GetRsp() = %+v, want NotReady/Failed", first)
	}

	second := d.GetRsp()
	if second.ReadyOut != protocol.Ready || second.Resp != protocol.Failed {
		t.Fatalf("second addressed NonSeq GetRsp() = %+v, want Ready/Failed after termination", second)
	}
}

func TestDefaultSubordinateNeverStoresData(t *testing.T) {
	d := devices.NewDefaultSubordinate(4)
	d.PutCmd(protocol.ICMD{MCMD: protocol.MCMD{Addr: 0x10, Trans: protocol.NonSeq, Write: protocol.Write}, Sel: protocol.Sel})
	d.PutData(protocol.Data{Word: []byte{1, 2, 3, 4}})
	rsp := d.GetRsp()
	for i, b := range rsp.RData.Word {
		if b != 0 {
			t.Fatalf("RData.Word[%d] = %d, want 0 (default subordinate stores nothing)", i, b)
		}
	}
}
