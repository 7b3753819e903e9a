// Package uasm implements a small pseudo assembler and linker for 32-bit ARM.
// It builds the boot ROM memory access stubs at the address they get loaded
// to, so that no assembler is needed at build or run time.
package uasm

import (
	"encoding/binary"
	"fmt"
)

// Program is a listing linked to run at Address.
type Program struct {
	Address uint32
	Listing []Statement
}

// Statement is a listing line: an instruction, a label or raw data.
type Statement interface {
	// size in bytes, known before any label is placed.
	size() uint32
	// place runs in the first pass and may define labels.
	place(c *ctx)
	// emit runs in the second pass and returns the encoded bytes.
	emit(c *ctx) []byte
}

// ctx is the linker state shared by both passes.
type ctx struct {
	// instrAddr is the address of the statement being processed.
	instrAddr uint32
	labels    map[string]uint32

	// The constant pool follows the code. Equal values share a slot.
	poolBase uint32
	pool     []uint32
}

func (p *Program) codeSize() uint32 {
	var n uint32
	for _, s := range p.Listing {
		n += s.size()
	}
	return n
}

// link places every label.
func (p *Program) link() *ctx {
	c := &ctx{
		labels:   make(map[string]uint32),
		poolBase: p.Address + p.codeSize(),
	}
	c.instrAddr = p.Address
	for _, s := range p.Listing {
		s.place(c)
		c.instrAddr += s.size()
	}
	return c
}

// Symbols returns the address of every label in the program.
func (p *Program) Symbols() map[string]uint32 {
	return p.link().labels
}

// Symbol returns the address of the named label.
func (p *Program) Symbol(name string) (uint32, bool) {
	addr, ok := p.Symbols()[name]
	return addr, ok
}

// Assemble returns the machine code of the program followed by its constant
// pool. Encoding errors are programming errors and panic.
func (p *Program) Assemble() []byte {
	c := p.link()
	c.instrAddr = p.Address
	res := make([]byte, 0, p.codeSize())
	for _, s := range p.Listing {
		res = append(res, s.emit(c)...)
		c.instrAddr += s.size()
	}
	for _, v := range c.pool {
		res = binary.LittleEndian.AppendUint32(res, v)
	}
	return res
}

// constant returns the pool address holding val, allocating it if needed.
func (c *ctx) constant(val uint32) uint32 {
	for i, v := range c.pool {
		if v == val {
			return c.poolBase + 4*uint32(i)
		}
	}
	c.pool = append(c.pool, val)
	return c.poolBase + 4*uint32(len(c.pool)-1)
}

// offsetForward returns the pc-relative offset from the instruction at from
// to a later address.
func offsetForward(from, to uint32) uint16 {
	pc := from + 8
	if to < pc {
		panic(fmt.Sprintf("0x%x is behind pc 0x%x", to, pc))
	}
	if to-pc >= 1<<12 {
		panic(fmt.Sprintf("0x%x is out of reach from 0x%x", to, from))
	}
	return uint16(to - pc)
}

type Register uint32

const (
	R0 Register = 0
	R1 Register = 1
	R2 Register = 2
	R3 Register = 3
	R4 Register = 4
	SP Register = 13
	LR Register = 14
	PC Register = 15
)

func (r Register) Encode() uint32 {
	return uint32(r)
}

// Condition is the condition field of an instruction. The zero value is AL.
type Condition uint8

const (
	AL Condition = iota
	NE
)

func (c Condition) Encode() uint32 {
	switch c {
	case AL:
		return 0b1110 << 28
	case NE:
		return 0b0001 << 28
	}
	panic(fmt.Sprintf("invalid condition %d", c))
}

// instruction is embedded by every 4-byte instruction.
type instruction struct{}

func (instruction) size() uint32 { return 4 }

func (instruction) place(*ctx) {}

func word(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

type Label string

func (Label) size() uint32 { return 0 }

func (l Label) place(c *ctx) {
	if _, ok := c.labels[string(l)]; ok {
		panic(fmt.Sprintf("duplicate label %q", string(l)))
	}
	c.labels[string(l)] = c.instrAddr
}

func (Label) emit(*ctx) []byte { return nil }

// Embed places raw bytes in the listing, eg. a parameter slot.
type Embed []byte

func (e Embed) size() uint32 { return uint32(len(e)) }

func (Embed) place(*ctx) {}

func (e Embed) emit(*ctx) []byte { return e }
