package uasm

import "fmt"

// DataSource is the second operand of a data processing instruction.
type DataSource interface {
	encodeDataSource(c *ctx) uint32
}

// LoadSource is the address operand of ldr.
type LoadSource interface {
	encodeLoadSource(c *ctx) uint32
}

// StoreDest is the address operand of str.
type StoreDest interface {
	encodeStoreDest(c *ctx) uint32
}

// BranchTarget is an operand that resolves to a program address.
type BranchTarget interface {
	resolveBranchTarget(c *ctx) uint32
}

// MemoryDeref is [Reg, #Offset] with a positive 12-bit offset.
type MemoryDeref struct {
	Reg    Register
	Offset uint16
}

func Deref(r Register, offset uint16) MemoryDeref {
	return MemoryDeref{
		Reg:    r,
		Offset: offset,
	}
}

func (m MemoryDeref) encode() uint32 {
	if m.Offset >= (1 << 12) {
		panic(fmt.Sprintf("offset 0x%x too large", m.Offset))
	}
	return uint32(m.Offset) | m.Reg.Encode()<<16
}

func (m MemoryDeref) encodeLoadSource(c *ctx) uint32 { return m.encode() }

func (m MemoryDeref) encodeStoreDest(c *ctx) uint32 { return m.encode() }

// LabelRef names a label. As a load source it loads the label's address,
// which is placed in the constant pool after the code.
type LabelRef string

func (r LabelRef) resolveBranchTarget(c *ctx) uint32 {
	addr, ok := c.labels[string(r)]
	if !ok {
		panic(fmt.Sprintf("unknown label %q", string(r)))
	}
	return addr
}

func (r LabelRef) encodeLoadSource(c *ctx) uint32 {
	pool := c.constant(r.resolveBranchTarget(c))
	return Deref(PC, offsetForward(c.instrAddr, pool)).encode()
}

// Immediate is a rotated 8-bit constant.
type Immediate uint32

func (i Immediate) encodeDataSource(c *ctx) uint32 {
	val := uint32(i)
	for rot := uint32(0); rot < 16; rot++ {
		m := val<<(2*rot) | val>>(32-2*rot)
		if m < 256 {
			return 1<<25 | rot<<8 | m
		}
	}
	panic(fmt.Sprintf("unencodable immediate 0x%x", val))
}
