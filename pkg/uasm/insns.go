package uasm

import "fmt"

// Ldr loads a word: ldr Dest, Src.
type Ldr struct {
	instruction
	Dest Register
	Src  LoadSource
}

func (l Ldr) emit(c *ctx) []byte {
	return word(0xe59<<20 | l.Dest.Encode()<<12 | l.Src.encodeLoadSource(c))
}

// Str stores a word: str Src, Dest.
type Str struct {
	instruction
	Src  Register
	Dest StoreDest
}

func (s Str) emit(c *ctx) []byte {
	return word(0xe58<<20 | s.Src.Encode()<<12 | s.Dest.encodeStoreDest(c))
}

// Bx branches to the address in a register.
type Bx struct {
	instruction
	Dest Register
}

func (b Bx) emit(*ctx) []byte {
	return word(0xe12fff10 | b.Dest.Encode())
}

type B struct {
	instruction
	Cond Condition
	Dest BranchTarget
}

func (b B) emit(c *ctx) []byte {
	to := b.Dest.resolveBranchTarget(c)
	offset := (int64(to) - int64(c.instrAddr+8)) / 4
	if offset >= 1<<23 || offset < -(1<<23) {
		panic(fmt.Sprintf("branch to 0x%x out of reach from 0x%x", to, c.instrAddr))
	}
	return word(b.Cond.Encode() | 0b1010<<24 | uint32(offset)&(1<<24-1))
}

type Mov struct {
	instruction
	Dest Register
	Src  DataSource
}

func (m Mov) emit(c *ctx) []byte {
	return word(0xe1a<<20 | m.Dest.Encode()<<12 | m.Src.encodeDataSource(c))
}

// Mcr moves a core register into a coprocessor register. Cache and barrier
// maintenance on CP15 goes through it.
type Mcr struct {
	instruction
	Opc uint8
	// CRn is the coprocessor register number.
	CRn uint8
	Src Register
	// CPn is the coprocessor number (eg. CP15).
	CPn  uint8
	Opc2 uint8
	// CRm is the additional coprocessor register number.
	CRm uint8
}

func (m Mcr) emit(*ctx) []byte {
	var res uint32 = 0xee<<24 | 1<<4
	res |= uint32(m.Opc) << 21
	res |= uint32(m.CRn) << 16
	res |= m.Src.Encode() << 12
	res |= uint32(m.CPn) << 8
	res |= uint32(m.Opc2) << 5
	res |= uint32(m.CRm)
	return word(res)
}
