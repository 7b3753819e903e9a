package devices

import (
	"fmt"

	"github.com/google/gousb"
)

// Arch is the instruction set the boot ROM of a SoC runs in while in FEL
// mode.
type Arch string

const (
	ARM32   Arch = "arm"
	AArch64 Arch = "aarch64"
	RISCV   Arch = "riscv"
)

func (a Arch) String() string {
	switch a {
	case ARM32:
		return "ARMv7"
	case AArch64:
		return "AArch64"
	case RISCV:
		return "RISC-V (E907)"
	}
	return "UNKNOWN"
}

// ParseArch accepts the short names used on the command line and in the
// configuration file.
func ParseArch(s string) (Arch, error) {
	switch s {
	case "arm", "arm32", "armv7":
		return ARM32, nil
	case "aarch64", "arm64":
		return AArch64, nil
	case "riscv", "riscv32", "e907":
		return RISCV, nil
	}
	return "", fmt.Errorf("unknown architecture %q", s)
}

type Description struct {
	VID, PID gousb.ID
	Name     string
}

var Descriptions = []Description{
	{
		VID:  0x1f3a,
		PID:  0xefe8,
		Name: "Allwinner FEL",
	},
}

// SoC describes a chip family as identified by the handshake response.
type SoC struct {
	ID   uint16
	Name string
	Arch Arch
}

var SoCs = []SoC{
	{0x1623, "A10", ARM32},
	{0x1625, "A10s/A13/R8", ARM32},
	{0x1633, "A31", ARM32},
	{0x1650, "A23", ARM32},
	{0x1651, "A20", ARM32},
	{0x1667, "A33/R16", ARM32},
	{0x1673, "A83T", ARM32},
	{0x1680, "H2+/H3", ARM32},
	{0x1681, "V3s/S3", ARM32},
	{0x1689, "A64", ARM32},
	{0x1701, "R40", ARM32},
	{0x1718, "H5", ARM32},
	{0x1719, "A63", ARM32},
	{0x1728, "H6", ARM32},
	{0x1755, "V831", ARM32},
	{0x1823, "H616", ARM32},
	{0x1859, "D1/D1s/F133", RISCV},
	{0x1886, "V853", ARM32},
}

// SoCID extracts the chip family from the raw device id reported by the
// handshake.
func SoCID(deviceID uint32) uint16 {
	return uint16(deviceID >> 8)
}

// LookupSoC returns the known SoC for a raw handshake device id.
func LookupSoC(deviceID uint32) (*SoC, bool) {
	id := SoCID(deviceID)
	for i := range SoCs {
		if SoCs[i].ID == id {
			return &SoCs[i], true
		}
	}
	return nil, false
}
