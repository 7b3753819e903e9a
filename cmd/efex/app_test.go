package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/awfex/efex/pkg/efex"
	"github.com/awfex/efex/pkg/efex/efextest"
)

func withScan(t *testing.T, fn func(...efex.Option) (*efex.Session, error)) {
	t.Helper()
	old := scan
	scan = fn
	t.Cleanup(func() { scan = old })
}

func TestUploadKeepsFileWithoutDevice(t *testing.T) {
	withScan(t, func(...efex.Option) (*efex.Session, error) {
		return nil, efex.NewError("scan", efex.ErrDeviceNotFound, errors.New("no device"))
	})
	fesDataType = "none"

	path := filepath.Join(t.TempDir(), "keep.bin")
	orig := []byte("previous contents")
	if err := os.WriteFile(path, orig, 0o644); err != nil {
		t.Fatal(err)
	}

	err := fesUploadCmd.RunE(fesUploadCmd, []string{"0", "16", path})
	if !errors.Is(err, efex.ErrDeviceNotFound) {
		t.Fatalf("got %v, want device not found", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, orig) {
		t.Errorf("file rewritten to %q", got)
	}
}

func TestUploadWritesFile(t *testing.T) {
	d := efextest.New()
	d.Flash.Write(0, []byte("raw flash sector"))
	withScan(t, func(opts ...efex.Option) (*efex.Session, error) {
		return efex.Open(d, opts...)
	})
	fesDataType = "none"

	path := filepath.Join(t.TempDir(), "out.bin")
	if err := fesUploadCmd.RunE(fesUploadCmd, []string{"0", "16", path}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "raw flash sector" {
		t.Errorf("file holds %q", got)
	}
	if d.Closed != 1 {
		t.Errorf("device closed %d times", d.Closed)
	}
}
