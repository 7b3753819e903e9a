package fel_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/awfex/efex/pkg/efex"
	"github.com/awfex/efex/pkg/efex/efextest"
	"github.com/awfex/efex/pkg/fel"
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

func TestWriteRead(t *testing.T) {
	s, d := open(t)

	data := []byte("\x01\x02\x03\x04hello")
	calls := 0
	if err := fel.Write(s, 0x20000, data, fel.WithCompletion(func(n int) {
		calls++
		if n != len(data) {
			t.Errorf("completion with %d bytes, want %d", n, len(data))
		}
	})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if calls != 1 {
		t.Errorf("completion called %d times, want 1", calls)
	}
	if got := d.Memory.Read(0x20000, len(data)); !bytes.Equal(got, data) {
		t.Errorf("device memory %x, want %x", got, data)
	}

	got, err := fel.Read(s, 0x20002, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if want := []byte{3, 4, 'h', 'e'}; !bytes.Equal(got, want) {
		t.Errorf("read %x, want %x", got, want)
	}
}

func TestBounds(t *testing.T) {
	s, d := open(t)
	sent := d.Wrappers

	if _, err := fel.Read(s, 0, 0); !errors.Is(err, efex.ErrInvalidParam) {
		t.Errorf("zero read: got %v", err)
	}
	if _, err := fel.Read(s, 0, fel.MaxTransfer+1); !errors.Is(err, efex.ErrInvalidParam) {
		t.Errorf("oversized read: got %v", err)
	}
	if err := fel.Write(s, 0, make([]byte, fel.MaxTransfer+1)); !errors.Is(err, efex.ErrInvalidParam) {
		t.Errorf("oversized write: got %v", err)
	}
	if _, err := fel.ReadAll(s, 0, -1, nil); !errors.Is(err, efex.ErrInvalidParam) {
		t.Errorf("negative ReadAll: got %v", err)
	}
	if d.Wrappers != sent {
		t.Errorf("rejected calls sent %d wrappers", d.Wrappers-sent)
	}
	if err := fel.Write(s, 0, make([]byte, fel.MaxTransfer)); err != nil {
		t.Errorf("maximum write: %v", err)
	}
}

func TestExec(t *testing.T) {
	s, d := open(t)
	var ran []uint32
	d.OnExec = func(mem efextest.Memory, addr uint32) error {
		ran = append(ran, addr)
		mem.PutUint32(0x100, 0xdeadbeef)
		return nil
	}
	if err := fel.Exec(s, 0x7e00); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if len(ran) != 1 || ran[0] != 0x7e00 {
		t.Errorf("ran %x", ran)
	}
	if got := d.Memory.Uint32(0x100); got != 0xdeadbeef {
		t.Errorf("exec side effect missing: 0x%08x", got)
	}
}

func TestReadFailureHasNoPartialResult(t *testing.T) {
	s, d := open(t)
	d.Fail = func(req efex.RequestBlock) uint8 {
		if req.Command == efex.CmdFELRead {
			return 1
		}
		return 0
	}
	got, err := fel.Read(s, 0, 16, fel.WithCompletion(func(int) {
		t.Errorf("completion called on failure")
	}))
	if !errors.Is(err, efex.ErrOperationFailed) {
		t.Fatalf("got %v, want operation failed", err)
	}
	if got != nil {
		t.Errorf("partial result %x", got)
	}
}

func TestWrongMode(t *testing.T) {
	d := efextest.New()
	d.Response.Mode = efex.ModeSRV
	s, err := efex.Open(d)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Handshake(); err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if err := fel.Exec(s, 0); !errors.Is(err, efex.ErrInvalidDeviceMode) {
		t.Errorf("got %v, want invalid device mode", err)
	}
}

func TestReadWriteAll(t *testing.T) {
	s, d := open(t)
	data := make([]byte, 150000)
	for i := range data {
		data[i] = byte(i * 7)
	}

	var steps []int
	if err := fel.WriteAll(s, 0x40000000, data, func(done, total int) {
		if total != len(data) {
			t.Errorf("total %d", total)
		}
		steps = append(steps, done)
	}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if want := []int{65536, 131072, 150000}; len(steps) != 3 || steps[2] != want[2] || steps[0] != want[0] {
		t.Errorf("progress %v, want %v", steps, want)
	}
	if got := d.Memory.Read(0x40000000, len(data)); !bytes.Equal(got, data) {
		t.Errorf("device memory differs")
	}

	got, err := fel.ReadAll(s, 0x40000000, len(data), nil)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read back differs")
	}
}
