package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/awfex/efex/pkg/devices"
)

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := write(t, `
timeout = "3s"
payload_arch = "riscv"
scratch_address = 0x00020000
log_file = " /tmp/efex.log "
`)
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Config{
		Timeout:        3 * time.Second,
		PayloadArch:    devices.RISCV,
		ScratchAddress: 0x20000,
		LogFile:        "/tmp/efex.log",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoadKeepsDefaults(t *testing.T) {
	got, err := Load(write(t, `cache_dir = "/var/cache/efex"`))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	want.CacheDir = "/var/cache/efex"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name    string
		content string
	}{
		{"syntax", `timeout = `},
		{"duration", `timeout = "soon"`},
		{"negative", `timeout = "-1s"`},
		{"arch", `payload_arch = "mips"`},
		{"scratch", `scratch_address = 0x100000000`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(write(t, tc.content)); err == nil {
				t.Errorf("Load succeeded")
			}
		})
	}
}
