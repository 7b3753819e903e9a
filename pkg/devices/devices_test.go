package devices

import "testing"

func TestLookupSoC(t *testing.T) {
	for _, tc := range []struct {
		id   uint32
		name string
		arch Arch
	}{
		{0x00185900, "D1/D1s/F133", RISCV},
		{0x00168000, "H2+/H3", ARM32},
		{0x00172800, "H6", ARM32},
	} {
		soc, ok := LookupSoC(tc.id)
		if !ok {
			t.Errorf("0x%08x: not found", tc.id)
			continue
		}
		if soc.Name != tc.name || soc.Arch != tc.arch {
			t.Errorf("0x%08x: got %s/%s, want %s/%s", tc.id, soc.Name, soc.Arch, tc.name, tc.arch)
		}
	}
	if _, ok := LookupSoC(0x00999900); ok {
		t.Errorf("found an unknown SoC")
	}
}

func TestParseArch(t *testing.T) {
	for in, want := range map[string]Arch{
		"arm":     ARM32,
		"armv7":   ARM32,
		"arm64":   AArch64,
		"aarch64": AArch64,
		"riscv":   RISCV,
		"e907":    RISCV,
	} {
		got, err := ParseArch(in)
		if err != nil || got != want {
			t.Errorf("ParseArch(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseArch("x86"); err == nil {
		t.Errorf("ParseArch accepted x86")
	}
}
