package payload

import (
	"encoding/binary"
	"fmt"

	"github.com/awfex/efex/pkg/devices"
	"github.com/awfex/efex/pkg/uasm"
)

// Routine is a stub linked to run at a given address. Params is the offset
// of the parameter slot: the target address, followed for writes by the value.
// Result is the offset of the word a read stores its result to.
type Routine struct {
	Code   []byte
	Params uint32
	Result uint32
}

// Variant supplies the stubs for one instruction set.
type Variant interface {
	Arch() devices.Arch
	Readl(base uint32) Routine
	Writel(base uint32) Routine
}

// VariantFor returns the stubs for arch.
func VariantFor(arch devices.Arch) (Variant, error) {
	switch arch {
	case devices.ARM32:
		return arm32{}, nil
	case devices.AArch64:
		return aarch64{}, nil
	case devices.RISCV:
		return riscv{}, nil
	}
	return nil, fmt.Errorf("no payload for architecture %q", arch)
}

// words builds a routine from position independent code followed by its
// zeroed slots.
func words(code []uint32, slots int) []byte {
	res := make([]byte, 4*(len(code)+slots))
	for i, w := range code {
		binary.LittleEndian.PutUint32(res[4*i:], w)
	}
	return res
}

type arm32 struct{}

func (arm32) Arch() devices.Arch {
	return devices.ARM32
}

// armPrologue flushes the TLB, the instruction cache and the branch
// predictor, so that a freshly written stub is what gets executed.
func armPrologue() []uasm.Statement {
	return []uasm.Statement{
		uasm.Mov{Dest: uasm.R0, Src: uasm.Immediate(0)},
		uasm.Mcr{CPn: 15, CRn: 8, CRm: 7, Opc2: 0, Src: uasm.R0},
		uasm.Mcr{CPn: 15, CRn: 7, CRm: 5, Opc2: 0, Src: uasm.R0},
		uasm.Mcr{CPn: 15, CRn: 7, CRm: 5, Opc2: 6, Src: uasm.R0},
		uasm.Mcr{CPn: 15, CRn: 7, CRm: 10, Opc2: 4, Src: uasm.R0},
		uasm.Mcr{CPn: 15, CRn: 7, CRm: 5, Opc2: 4, Src: uasm.R0},
		uasm.B{Dest: uasm.LabelRef("start")},
		uasm.Label("start"),
	}
}

func armRoutine(base uint32, body ...uasm.Statement) Routine {
	p := uasm.Program{
		Address: base,
		Listing: append(armPrologue(), body...),
	}
	syms := p.Symbols()
	return Routine{
		Code:   p.Assemble(),
		Params: syms["addr"] - base,
		Result: syms["value"] - base,
	}
}

func (arm32) Readl(base uint32) Routine {
	return armRoutine(base,
		uasm.Ldr{Dest: uasm.R0, Src: uasm.LabelRef("addr")},
		uasm.Ldr{Dest: uasm.R0, Src: uasm.Deref(uasm.R0, 0)},
		uasm.Ldr{Dest: uasm.R2, Src: uasm.Deref(uasm.R0, 0)},
		uasm.Ldr{Dest: uasm.R1, Src: uasm.LabelRef("value")},
		uasm.Str{Src: uasm.R2, Dest: uasm.Deref(uasm.R1, 0)},
		uasm.Bx{Dest: uasm.LR},

		uasm.Label("addr"),
		uasm.Embed{0, 0, 0, 0},
		uasm.Label("value"),
		uasm.Embed{0, 0, 0, 0},
	)
}

func (arm32) Writel(base uint32) Routine {
	return armRoutine(base,
		uasm.Ldr{Dest: uasm.R0, Src: uasm.LabelRef("addr")},
		uasm.Ldr{Dest: uasm.R0, Src: uasm.Deref(uasm.R0, 0)},
		uasm.Ldr{Dest: uasm.R1, Src: uasm.LabelRef("value")},
		uasm.Ldr{Dest: uasm.R1, Src: uasm.Deref(uasm.R1, 0)},
		uasm.Str{Src: uasm.R1, Dest: uasm.Deref(uasm.R0, 0)},
		// dsb
		uasm.Mcr{CPn: 15, CRn: 7, CRm: 10, Opc2: 4, Src: uasm.R0},
		uasm.Bx{Dest: uasm.LR},

		uasm.Label("addr"),
		uasm.Embed{0, 0, 0, 0},
		uasm.Label("value"),
		uasm.Embed{0, 0, 0, 0},
	)
}

type aarch64 struct{}

func (aarch64) Arch() devices.Arch {
	return devices.AArch64
}

func (aarch64) Readl(uint32) Routine {
	return Routine{
		Code: words([]uint32{
			0xd5033f9f, // dsb sy
			0xd5033fdf, // isb
			0x180000a1, // ldr w1, addr
			0xb9400022, // ldr w2, [x1]
			0x10000083, // adr x3, value
			0xb9000062, // str w2, [x3]
			0xd65f03c0, // ret
		}, 2),
		Params: 28,
		Result: 32,
	}
}

func (aarch64) Writel(uint32) Routine {
	return Routine{
		Code: words([]uint32{
			0xd5033f9f, // dsb sy
			0xd5033fdf, // isb
			0x180000a1, // ldr w1, addr
			0x180000a2, // ldr w2, value
			0xb9000022, // str w2, [x1]
			0xd5033f9f, // dsb sy
			0xd65f03c0, // ret
		}, 2),
		Params: 28,
		Result: 32,
	}
}

// riscv targets the XuanTie cores found in the D1 family. The prologue turns on
// the vendor extensions in mxstatus before touching memory.
type riscv struct{}

func (riscv) Arch() devices.Arch {
	return devices.RISCV
}

var riscvPrologue = []uint32{
	0x00400337, // lui t1, 0x400
	0x7c032073, // csrs mxstatus, t1
	0x0000100f, // fence.i
	0x0040006f, // j 1f
	0x00000297, // 1: auipc t0, 0
	0x02028293, // addi t0, t0, addr - 1b
	0x0002a283, // lw t0, 0(t0)
}

func (riscv) Readl(uint32) Routine {
	return Routine{
		Code: words(append(append([]uint32(nil), riscvPrologue...),
			0x0002a283, // lw t0, 0(t0)
			0x00000317, // 2: auipc t1, 0
			0x01430313, // addi t1, t1, value - 2b
			0x00532023, // sw t0, 0(t1)
			0x00008067, // ret
		), 2),
		Params: 48,
		Result: 52,
	}
}

func (riscv) Writel(uint32) Routine {
	return Routine{
		Code: words(append(append([]uint32(nil), riscvPrologue...),
			0x00000317, // 2: auipc t1, 0
			0x01830313, // addi t1, t1, value - 2b
			0x00032303, // lw t1, 0(t1)
			0x0062a023, // sw t1, 0(t0)
			0x00008067, // ret
		), 2),
		Params: 48,
		Result: 52,
	}
}
