// Package awusb implements the bulk envelope used by Allwinner boot ROMs and
// FES firmware. Boot ROM exchanges are an AWUC command wrapper, an optional
// data phase and an AWUS status wrapper carrying the echoed tag. FES
// exchanges replace the command wrapper with a raw request packet.
package awusb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"

	"github.com/awfex/efex/pkg/devices"
)

type Direction uint8

const (
	DataTransferNone Direction = iota
	DataTransferToDevice
	DataTransferFromDevice
)

func (d Direction) String() string {
	switch d {
	case DataTransferNone:
		return "none"
	case DataTransferToDevice:
		return "out"
	case DataTransferFromDevice:
		return "in"
	}
	return "UNKNOWN"
}

const (
	// RequestRead and RequestWrite are the first byte of the command block.
	RequestRead  uint8 = 0x11
	RequestWrite uint8 = 0x12

	CommandBlockLength = 0x0c

	// MaxTransfer is the largest single bulk transfer issued during a data
	// phase.
	MaxTransfer = 128 * 1024

	DefaultTimeout = 10 * time.Second

	CBWSize = 32
	CBSSize = 13
)

var (
	CBWSignature = [4]byte{'A', 'W', 'U', 'C'}
	CBSSignature = [4]byte{'A', 'W', 'U', 'S'}
)

var (
	ErrTagMismatch   = errors.New("status tag mismatch")
	ErrSignature     = errors.New("invalid status signature")
	ErrShortTransfer = errors.New("short transfer")
)

// CBW is the command wrapper sent before every data phase.
type CBW struct {
	Signature          [4]byte
	Tag                uint32
	DataTransferLength uint32
	Reserved1          uint16
	Reserved2          uint8
	Length             uint8
	CB                 [16]byte
}

func (c *CBW) Bytes() []byte {
	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.LittleEndian, c)
	return buf.Bytes()
}

// Request returns the direction code and declared length carried in the
// command block.
func (c *CBW) Request() (code uint8, length uint32) {
	return c.CB[0], binary.LittleEndian.Uint32(c.CB[2:6])
}

// ParseCBW decodes a command wrapper.
func ParseCBW(b []byte) (*CBW, error) {
	if len(b) != CBWSize {
		return nil, fmt.Errorf("command wrapper is %d bytes, want %d", len(b), CBWSize)
	}
	var cbw CBW
	binary.Read(bytes.NewReader(b), binary.LittleEndian, &cbw)
	if cbw.Signature != CBWSignature {
		return nil, fmt.Errorf("cbw signature invalid")
	}
	return &cbw, nil
}

// CBS is the status wrapper returned after every data phase.
type CBS struct {
	Signature   [4]byte
	Tag         uint32
	DataResidue uint32
	Status      uint8
}

func (c *CBS) Bytes() []byte {
	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.LittleEndian, c)
	return buf.Bytes()
}

// Host frames exchanges over a pair of bulk endpoints. It is not safe for
// concurrent use.
type Host struct {
	Endpoints devices.BulkEndpoints
	// Tag is the tag of the last command wrapper sent. It is incremented
	// before every exchange.
	Tag     uint32
	Timeout time.Duration
}

func (h *Host) timeout() time.Duration {
	if h.Timeout == 0 {
		return DefaultTimeout
	}
	return h.Timeout
}

// Send performs one framed exchange and returns the status byte from the
// status wrapper. For DataTransferFromDevice, data is filled completely or an
// error is returned. Nothing is retried.
func (h *Host) Send(dir Direction, data []byte) (uint8, error) {
	cbw, err := h.buildCBW(dir, uint32(len(data)))
	if err != nil {
		return 0, fmt.Errorf("building CBW failed: %w", err)
	}
	glog.V(2).Infof("awusb: tag %d, %s %d bytes", cbw.Tag, dir, len(data))

	if err := h.write(cbw.Bytes()); err != nil {
		return 0, fmt.Errorf("write failed: %w", err)
	}

	switch dir {
	case DataTransferFromDevice:
		if err := h.read(data); err != nil {
			return 0, fmt.Errorf("data read failed: %w", err)
		}
	case DataTransferToDevice:
		if err := h.write(data); err != nil {
			return 0, fmt.Errorf("data write failed: %w", err)
		}
	}

	cbs, err := h.readStatus()
	if err != nil {
		return 0, err
	}
	if cbs.Tag != cbw.Tag {
		return 0, fmt.Errorf("%w: CBS %d != CBW %d", ErrTagMismatch, cbs.Tag, cbw.Tag)
	}
	if cbs.DataResidue != 0 {
		return 0, fmt.Errorf("%w: residue %d", ErrShortTransfer, cbs.DataResidue)
	}
	return cbs.Status, nil
}

// SendRaw performs one unwrapped exchange as spoken by FES firmware: req is
// written as is, the data phase follows without a command wrapper and a
// single status wrapper ends it. The firmware does not echo a tag, so only
// the status signature is checked.
func (h *Host) SendRaw(req []byte, dir Direction, data []byte) (uint8, error) {
	glog.V(2).Infof("awusb: raw request %d bytes, %s %d bytes", len(req), dir, len(data))
	if err := h.write(req); err != nil {
		return 0, fmt.Errorf("request write failed: %w", err)
	}

	switch dir {
	case DataTransferFromDevice:
		if err := h.read(data); err != nil {
			return 0, fmt.Errorf("data read failed: %w", err)
		}
	case DataTransferToDevice:
		if err := h.write(data); err != nil {
			return 0, fmt.Errorf("data write failed: %w", err)
		}
	case DataTransferNone:
	default:
		return 0, fmt.Errorf("direction must be to or from device or none")
	}

	cbs, err := h.readStatus()
	if err != nil {
		return 0, err
	}
	if cbs.DataResidue != 0 {
		glog.V(2).Infof("awusb: raw exchange left residue %d", cbs.DataResidue)
	}
	return cbs.Status, nil
}

func (h *Host) readStatus() (*CBS, error) {
	cbsb := make([]byte, CBSSize)
	n, err := h.Endpoints.In.Read(cbsb, h.timeout())
	if err != nil {
		return nil, fmt.Errorf("status read failed: %w", err)
	}
	if n != CBSSize {
		return nil, fmt.Errorf("status read failed: got %d bytes: %w", n, ErrShortTransfer)
	}
	var cbs CBS
	binary.Read(bytes.NewReader(cbsb), binary.LittleEndian, &cbs)

	if cbs.Signature != CBSSignature {
		return nil, fmt.Errorf("%w: %q", ErrSignature, cbs.Signature[:])
	}
	return &cbs, nil
}

func (h *Host) buildCBW(dir Direction, dataLength uint32) (*CBW, error) {
	var code uint8
	switch dir {
	case DataTransferFromDevice:
		code = RequestRead
	case DataTransferToDevice, DataTransferNone:
		code = RequestWrite
	default:
		return nil, fmt.Errorf("direction must be to or from device or none")
	}

	h.Tag += 1

	cbw := CBW{
		Signature:          CBWSignature,
		Tag:                h.Tag,
		DataTransferLength: dataLength,
		Length:             CommandBlockLength,
	}
	cbw.CB[0] = code
	binary.LittleEndian.PutUint32(cbw.CB[2:6], dataLength)
	return &cbw, nil
}

func (h *Host) write(data []byte) error {
	for len(data) > 0 {
		chunk := data[:min(len(data), MaxTransfer)]
		n, err := h.Endpoints.Out.Write(chunk, h.timeout())
		if err != nil {
			return err
		}
		if want, got := len(chunk), n; want != got {
			return fmt.Errorf("should've written %d bytes, wrote %d: %w", want, got, ErrShortTransfer)
		}
		data = data[n:]
	}
	return nil
}

func (h *Host) read(data []byte) error {
	for off := 0; off < len(data); {
		end := min(len(data), off+MaxTransfer)
		n, err := h.Endpoints.In.Read(data[off:end], h.timeout())
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("got %d of %d bytes: %w", off, len(data), ErrShortTransfer)
		}
		off += n
	}
	return nil
}
