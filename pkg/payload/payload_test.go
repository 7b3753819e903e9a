package payload_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/awfex/efex/pkg/devices"
	"github.com/awfex/efex/pkg/efex"
	"github.com/awfex/efex/pkg/efex/efextest"
	"github.com/awfex/efex/pkg/payload"
)

var (
	_ payload.Accessor = (*payload.Injector)(nil)
	_ payload.Accessor = (*payload.Native)(nil)
)

func open(t *testing.T) (*efex.Session, *efextest.Device) {
	t.Helper()
	s, d, err := efextest.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, d
}

// emulate runs the armed stubs of inj on the fake device.
func emulate(d *efextest.Device, inj *payload.Injector) {
	d.OnExec = func(mem efextest.Memory, addr uint32) error {
		st := inj.Stubs()
		if st == nil {
			return fmt.Errorf("exec at 0x%08x without stubs", addr)
		}
		var r payload.Routine
		switch addr {
		case st.ReadlAddr:
			r = st.Readl
		case st.WritelAddr:
			r = st.Writel
		default:
			return fmt.Errorf("exec at 0x%08x outside stubs", addr)
		}
		if code := mem.Read(uint64(addr), int(r.Params)); !bytes.Equal(code, r.Code[:r.Params]) {
			return fmt.Errorf("stub at 0x%08x not uploaded", addr)
		}
		target := uint64(mem.Uint32(uint64(addr + r.Params)))
		if addr == st.ReadlAddr {
			mem.PutUint32(uint64(addr+r.Result), mem.Uint32(target))
		} else {
			mem.PutUint32(target, mem.Uint32(uint64(addr+r.Params+4)))
		}
		return nil
	}
}

func TestNotInitialized(t *testing.T) {
	s, d := open(t)
	inj := payload.NewInjector(s)
	before := d.Wrappers

	_, err := inj.Readl(0x01c20000)
	if !errors.Is(err, payload.ErrNotInitialized) || !errors.Is(err, efex.ErrNotSupported) {
		t.Errorf("Readl: got %v, want not initialized", err)
	}
	if err := inj.Writel(0x01c20000, 1); !errors.Is(err, payload.ErrNotInitialized) {
		t.Errorf("Writel: got %v, want not initialized", err)
	}
	if d.Wrappers != before {
		t.Errorf("%d wrappers sent before init", d.Wrappers-before)
	}
}

func TestRoundTrip(t *testing.T) {
	for _, arch := range []devices.Arch{devices.ARM32, devices.AArch64, devices.RISCV} {
		t.Run(arch.String(), func(t *testing.T) {
			s, d := open(t)
			inj := payload.NewInjector(s)
			emulate(d, inj)
			if err := inj.Init(arch); err != nil {
				t.Fatalf("Init: %v", err)
			}
			st := inj.Stubs()
			if got := d.Memory.Read(0x7e00, len(st.Image)); !bytes.Equal(got, st.Image) {
				t.Errorf("scratch region does not hold the stubs")
			}

			const reg = 0x03006200
			if err := inj.Writel(reg, 0xcafebabe); err != nil {
				t.Fatalf("Writel: %v", err)
			}
			if got := d.Memory.Uint32(reg); got != 0xcafebabe {
				t.Errorf("device word 0x%08x", got)
			}
			v, err := inj.Readl(reg)
			if err != nil {
				t.Fatalf("Readl: %v", err)
			}
			if v != 0xcafebabe {
				t.Errorf("Readl = 0x%08x, want 0xcafebabe", v)
			}
			if diff := cmp.Diff([]uint32{st.WritelAddr, st.ReadlAddr}, d.Execs); diff != "" {
				t.Errorf("execs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReinitReplacesStubs(t *testing.T) {
	s, d := open(t)
	inj := payload.NewInjector(s)
	emulate(d, inj)
	if err := inj.Init(devices.ARM32); err != nil {
		t.Fatalf("Init arm: %v", err)
	}
	if err := inj.Init(devices.RISCV); err != nil {
		t.Fatalf("Init riscv: %v", err)
	}
	st := inj.Stubs()
	if st.Arch != devices.RISCV {
		t.Errorf("armed %s stubs", st.Arch)
	}
	if got := d.Memory.Read(0x7e00, 4); binary.LittleEndian.Uint32(got) != 0x00400337 {
		t.Errorf("scratch starts with 0x%08x", binary.LittleEndian.Uint32(got))
	}
	d.Memory.PutUint32(0x1000, 42)
	if v, err := inj.Readl(0x1000); err != nil || v != 42 {
		t.Errorf("Readl = %d, %v", v, err)
	}
}

func TestFailedReinitDisarms(t *testing.T) {
	s, d := open(t)
	inj := payload.NewInjector(s)
	if err := inj.Init(devices.AArch64); err != nil {
		t.Fatalf("Init: %v", err)
	}
	d.Fail = func(req efex.RequestBlock) uint8 {
		if req.Command == efex.CmdFELWrite {
			return 1
		}
		return 0
	}
	if err := inj.Init(devices.ARM32); !errors.Is(err, efex.ErrOperationFailed) {
		t.Fatalf("Init: got %v, want operation failed", err)
	}
	if _, err := inj.Readl(0x1000); !errors.Is(err, payload.ErrNotInitialized) {
		t.Errorf("Readl: got %v, want not initialized", err)
	}
}

func TestInitOptions(t *testing.T) {
	s, _ := open(t)
	inj := payload.NewInjector(s)
	if err := inj.Init(devices.AArch64, payload.WithScratch(0x20000)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	st := inj.Stubs()
	if st.ReadlAddr != 0x20000 || st.WritelAddr != 0x20040 {
		t.Errorf("stubs at 0x%x and 0x%x", st.ReadlAddr, st.WritelAddr)
	}

	if err := inj.Init(devices.Arch("mips")); !errors.Is(err, efex.ErrNotSupported) {
		t.Errorf("Init mips: got %v, want not supported", err)
	}
}

func TestInitWrongMode(t *testing.T) {
	s, _ := open(t)
	if err := s.SwitchRole(efex.ModeSRV); err != nil {
		t.Fatalf("SwitchRole: %v", err)
	}
	inj := payload.NewInjector(s)
	if err := inj.Init(devices.ARM32); !errors.Is(err, efex.ErrInvalidDeviceMode) {
		t.Errorf("got %v, want invalid device mode", err)
	}
}

func TestARM32Layout(t *testing.T) {
	v, err := payload.VariantFor(devices.ARM32)
	if err != nil {
		t.Fatalf("VariantFor: %v", err)
	}
	r := v.Readl(0x8000)
	if len(r.Code) != 68 || r.Params != 52 || r.Result != 56 {
		t.Errorf("readl: %d bytes, params %d, result %d", len(r.Code), r.Params, r.Result)
	}
	// Constant pool holds the slot addresses.
	if got := binary.LittleEndian.Uint32(r.Code[60:]); got != 0x8034 {
		t.Errorf("readl pool 0x%x", got)
	}
	w := v.Writel(0x8000)
	if len(w.Code) != 72 || w.Params != 56 || w.Result != 60 {
		t.Errorf("writel: %d bytes, params %d, result %d", len(w.Code), w.Params, w.Result)
	}
	if got := binary.LittleEndian.Uint32(w.Code[64:]); got != 0x8038 {
		t.Errorf("writel pool 0x%x", got)
	}

	st := payload.Link(v, 0x8000)
	if st.WritelAddr != 0x8080 || len(st.Image) != 0x80+72 {
		t.Errorf("linked writel at 0x%x, image %d bytes", st.WritelAddr, len(st.Image))
	}
}

func TestNative(t *testing.T) {
	s, d := open(t)
	n := payload.NewNative(s)
	if err := n.Writel(0x2000, 0x12345678); err != nil {
		t.Fatalf("Writel: %v", err)
	}
	if got := d.Memory.Uint32(0x2000); got != 0x12345678 {
		t.Errorf("device word 0x%08x", got)
	}
	if v, err := n.Readl(0x2000); err != nil || v != 0x12345678 {
		t.Errorf("Readl = 0x%08x, %v", v, err)
	}
	if len(d.Execs) != 0 {
		t.Errorf("native access executed code")
	}
}
