package cache

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"

	"github.com/awfex/efex/pkg/efex"
)

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	w, err := xz.NewWriter(buf)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestLoadPlain(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "boot0.bin")
	want := []byte("eGON.BT0 and friends")
	if err := os.WriteFile(src, want, 0644); err != nil {
		t.Fatal(err)
	}
	c := New(filepath.Join(dir, "cache"))
	got, err := c.Load(src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("got %q", got)
	}
	if _, err := os.Stat(c.Dir); !os.IsNotExist(err) {
		t.Errorf("plain load populated the cache")
	}
}

func TestLoadXZ(t *testing.T) {
	dir := t.TempDir()
	want := bytes.Repeat([]byte("rootfs"), 10000)
	compressed := compress(t, want)
	src := filepath.Join(dir, "rootfs.img.xz")
	if err := os.WriteFile(src, compressed, 0644); err != nil {
		t.Fatal(err)
	}

	c := New(filepath.Join(dir, "cache"))
	got, err := c.Load(src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("decompressed %d bytes, want %d", len(got), len(want))
	}

	// The second load must come from the cache entry.
	entry := c.pathFor("xz", string(compressed))
	if err := os.WriteFile(entry, []byte("cached"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = c.Load(src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(got) != "cached" {
		t.Errorf("second load did not use the cache")
	}
}

func TestLoadCorruptXZ(t *testing.T) {
	dir := t.TempDir()
	compressed := compress(t, bytes.Repeat([]byte{1, 2, 3}, 1000))
	src := filepath.Join(dir, "bad.xz")
	if err := os.WriteFile(src, compressed[:len(compressed)/2], 0644); err != nil {
		t.Fatal(err)
	}
	_, err := New(filepath.Join(dir, "cache")).Load(src)
	if !errors.Is(err, efex.ErrFileRead) {
		t.Errorf("got %v, want file read error", err)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := New(t.TempDir()).Load("/nonexistent/boot1.fex")
	if !errors.Is(err, efex.ErrFileOpen) {
		t.Errorf("got %v, want file open error", err)
	}
}

func TestLoadURL(t *testing.T) {
	want := []byte("u-boot-sunxi-with-spl")
	body := compress(t, want)
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != "/u-boot.bin.xz" {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	c := New(t.TempDir())
	for i := 0; i < 2; i++ {
		got, err := c.Load(srv.URL + "/u-boot.bin.xz")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("got %q", got)
		}
	}
	if hits != 1 {
		t.Errorf("%d requests, want 1", hits)
	}

	if _, err := c.Load(srv.URL + "/missing"); !errors.Is(err, efex.ErrFileOpen) {
		t.Errorf("got %v, want file open error", err)
	}
}
