package awusb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/awfex/efex/pkg/devices"
)

type fakeEndpoints struct {
	written [][]byte
	reads   [][]byte
}

func (f *fakeEndpoints) Write(b []byte, _ time.Duration) (int, error) {
	f.written = append(f.written, append([]byte(nil), b...))
	return len(b), nil
}

func (f *fakeEndpoints) Read(b []byte, _ time.Duration) (int, error) {
	if len(f.reads) == 0 {
		return 0, devices.UsbTimeoutError
	}
	r := f.reads[0]
	f.reads = f.reads[1:]
	return copy(b, r), nil
}

func status(tag uint32) []byte {
	return (&CBS{Signature: CBSSignature, Tag: tag}).Bytes()
}

func newHost(f *fakeEndpoints) *Host {
	return &Host{
		Endpoints: devices.BulkEndpoints{In: f, Out: f},
	}
}

func TestSendToDevice(t *testing.T) {
	f := &fakeEndpoints{reads: [][]byte{status(1)}}
	h := newHost(f)

	data := bytes.Repeat([]byte{0xa5}, 16)
	st, err := h.Send(DataTransferToDevice, data)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if st != 0 {
		t.Errorf("status = %d, want 0", st)
	}
	if len(f.written) != 2 {
		t.Fatalf("got %d writes, want 2", len(f.written))
	}

	cbw := f.written[0]
	if len(cbw) != CBWSize {
		t.Fatalf("wrapper is %d bytes, want %d", len(cbw), CBWSize)
	}
	if !bytes.Equal(cbw[0:4], []byte("AWUC")) {
		t.Errorf("wrapper magic %q", cbw[0:4])
	}
	if got := binary.LittleEndian.Uint32(cbw[4:8]); got != 1 {
		t.Errorf("tag = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(cbw[8:12]); got != 16 {
		t.Errorf("declared length = %d, want 16", got)
	}
	if cbw[15] != CommandBlockLength {
		t.Errorf("command block length = %d, want %d", cbw[15], CommandBlockLength)
	}
	if cbw[16] != RequestWrite {
		t.Errorf("request = 0x%02x, want 0x%02x", cbw[16], RequestWrite)
	}
	if got := binary.LittleEndian.Uint32(cbw[18:22]); got != 16 {
		t.Errorf("command block length field = %d, want 16", got)
	}
	if !bytes.Equal(f.written[1], data) {
		t.Errorf("data phase mismatch")
	}
}

func TestSendFromDevice(t *testing.T) {
	want := []byte("hello, world")
	f := &fakeEndpoints{reads: [][]byte{want, status(1)}}
	h := newHost(f)

	got := make([]byte, len(want))
	if _, err := h.Send(DataTransferFromDevice, got); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read %q, want %q", got, want)
	}
	if f.written[0][16] != RequestRead {
		t.Errorf("request = 0x%02x, want 0x%02x", f.written[0][16], RequestRead)
	}
}

func TestTagsIncrease(t *testing.T) {
	f := &fakeEndpoints{reads: [][]byte{status(1), status(2), status(3)}}
	h := newHost(f)
	for i := 0; i < 3; i++ {
		if _, err := h.Send(DataTransferToDevice, []byte{byte(i)}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if h.Tag != 3 {
		t.Errorf("tag = %d, want 3", h.Tag)
	}
	for i, w := range []int{0, 2, 4} {
		if got := binary.LittleEndian.Uint32(f.written[w][4:8]); got != uint32(i+1) {
			t.Errorf("wrapper %d tag = %d, want %d", i, got, i+1)
		}
	}
}

func TestTagMismatch(t *testing.T) {
	// Status left over from the previous exchange.
	f := &fakeEndpoints{reads: [][]byte{status(4)}}
	h := newHost(f)
	h.Tag = 4

	_, err := h.Send(DataTransferToDevice, []byte{1, 2, 3, 4})
	if !errors.Is(err, ErrTagMismatch) {
		t.Fatalf("got %v, want tag mismatch", err)
	}
}

func TestBadSignature(t *testing.T) {
	cbs := status(1)
	copy(cbs, "USBS")
	f := &fakeEndpoints{reads: [][]byte{cbs}}
	_, err := newHost(f).Send(DataTransferToDevice, []byte{1})
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("got %v, want signature error", err)
	}
}

func TestResidue(t *testing.T) {
	cbs := &CBS{Signature: CBSSignature, Tag: 1, DataResidue: 2}
	f := &fakeEndpoints{reads: [][]byte{{1, 2}, cbs.Bytes()}}
	_, err := newHost(f).Send(DataTransferFromDevice, make([]byte, 2))
	if !errors.Is(err, ErrShortTransfer) {
		t.Fatalf("got %v, want short transfer", err)
	}
}

func TestSplitDataPhase(t *testing.T) {
	f := &fakeEndpoints{reads: [][]byte{status(1)}}
	h := newHost(f)
	if _, err := h.Send(DataTransferToDevice, make([]byte, MaxTransfer+10)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(f.written) != 3 {
		t.Fatalf("got %d writes, want 3", len(f.written))
	}
	if len(f.written[1]) != MaxTransfer || len(f.written[2]) != 10 {
		t.Errorf("data split as %d+%d", len(f.written[1]), len(f.written[2]))
	}
}

func TestTimeout(t *testing.T) {
	f := &fakeEndpoints{}
	_, err := newHost(f).Send(DataTransferToDevice, []byte{1})
	if !errors.Is(err, devices.UsbTimeoutError) {
		t.Fatalf("got %v, want timeout", err)
	}
}

func TestParseCBW(t *testing.T) {
	h := newHost(&fakeEndpoints{})
	cbw, err := h.buildCBW(DataTransferFromDevice, 0x1234)
	if err != nil {
		t.Fatalf("buildCBW: %v", err)
	}
	got, err := ParseCBW(cbw.Bytes())
	if err != nil {
		t.Fatalf("ParseCBW: %v", err)
	}
	code, length := got.Request()
	if code != RequestRead || length != 0x1234 || got.Tag != 1 {
		t.Errorf("got code 0x%02x length 0x%x tag %d", code, length, got.Tag)
	}
}

func TestSendRaw(t *testing.T) {
	req := append(bytes.Repeat([]byte{0x06}, 16), "AWUC"...)
	cbs := &CBS{Signature: CBSSignature, Status: 3}
	f := &fakeEndpoints{reads: [][]byte{cbs.Bytes()}}
	h := newHost(f)

	st, err := h.SendRaw(req, DataTransferToDevice, make([]byte, MaxTransfer+10))
	if err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	if st != 3 {
		t.Errorf("status = %d, want 3", st)
	}
	if len(f.written) != 3 {
		t.Fatalf("got %d writes, want 3", len(f.written))
	}
	if !bytes.Equal(f.written[0], req) {
		t.Errorf("request sent as % x", f.written[0])
	}
	if len(f.written[1]) != MaxTransfer || len(f.written[2]) != 10 {
		t.Errorf("data split as %d+%d", len(f.written[1]), len(f.written[2]))
	}
	if h.Tag != 0 {
		t.Errorf("raw exchange moved tag to %d", h.Tag)
	}
}

func TestSendRawFromDevice(t *testing.T) {
	want := []byte{1, 2, 3, 4}
	f := &fakeEndpoints{reads: [][]byte{want, status(0)}}
	got := make([]byte, len(want))
	if _, err := newHost(f).SendRaw(make([]byte, 20), DataTransferFromDevice, got); err != nil {
		t.Fatalf("SendRaw: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("read % x, want % x", got, want)
	}
	if len(f.written) != 1 {
		t.Errorf("got %d writes, want only the request", len(f.written))
	}
}

func TestSendRawBadSignature(t *testing.T) {
	cbs := status(0)
	copy(cbs, "USBS")
	f := &fakeEndpoints{reads: [][]byte{cbs}}
	_, err := newHost(f).SendRaw(make([]byte, 20), DataTransferNone, nil)
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("got %v, want signature error", err)
	}
}
