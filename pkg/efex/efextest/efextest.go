// Package efextest provides an in-memory device speaking the FEL/FES wire
// protocol, for use in tests. Common and FEL commands arrive as three wrapped
// exchanges; FES commands arrive as a raw request packet, an unwrapped data
// phase and a single status wrapper.
package efextest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/awfex/efex/pkg/awusb"
	"github.com/awfex/efex/pkg/devices"
	"github.com/awfex/efex/pkg/efex"
)

const (
	StatusMagic     = 0xffff
	VerifyFlagValid = 0x6a617603
	ChipIDSize      = 129
)

// Memory is a sparse byte-addressed store. Unwritten bytes read as zero.
type Memory map[uint64]byte

func (m Memory) Write(addr uint64, data []byte) {
	for i, b := range data {
		m[addr+uint64(i)] = b
	}
}

func (m Memory) Read(addr uint64, n int) []byte {
	res := make([]byte, n)
	for i := range res {
		res[i] = m[addr+uint64(i)]
	}
	return res
}

func (m Memory) Uint32(addr uint64) uint32 {
	return binary.LittleEndian.Uint32(m.Read(addr, 4))
}

func (m Memory) PutUint32(addr uint64, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	m.Write(addr, b[:])
}

// Device implements devices.Usb. It is not safe for concurrent use, which
// matches how a Session drives it.
type Device struct {
	Response efex.DeviceResponse

	// Memory is the address space seen by FEL read/write/exec and by tagged
	// FES transfers. Flash is the raw storage seen by untagged FES transfers,
	// addressed in bytes.
	Memory Memory
	Flash  Memory
	// received holds what FES downloads delivered, before any tampering
	// with Memory.
	received Memory

	StorageType uint32
	SecureType  uint32
	FlashSize   uint32
	ChipID      string
	Version     efex.CommandSetVersion
	FlashOn     bool
	Ready       bool

	// OnExec emulates code running at addr.
	OnExec func(mem Memory, addr uint32) error
	// TamperTag rewrites the tag of outgoing status wrappers.
	TamperTag func(tag uint32) uint32
	// Fail returns a non-zero protocol status for matching requests.
	Fail func(req efex.RequestBlock) uint8

	// Requests logs every decoded request block.
	Requests []efex.RequestBlock
	// Wrappers counts command wrappers received. RawRequests holds every raw
	// FES request packet.
	Wrappers    int
	RawRequests [][]byte
	Execs    []uint32
	Closed   int

	state  wireState
	cbw    *awusb.CBW
	fes    bool
	want   int
	inbuf  []byte
	outbuf []byte
	phase  phase
	req    efex.RequestBlock
	last   verifyRange
}

type wireState int

const (
	awaitCBW wireState = iota
	awaitData
	sendData
	sendStatus
)

type phase int

const (
	expectRequest phase = iota
	expectData
	expectStatus
)

type verifyRange struct {
	addr uint64
	size int
}

// New returns a device in FEL mode.
func New() *Device {
	d := &Device{
		Memory:      Memory{},
		Flash:       Memory{},
		received:    Memory{},
		StorageType: 1,
		FlashSize:   0x00e90000,
		ChipID:      "00000000-0000-0000-0000-000000000000",
		Version:     efex.CommandSetVersion{Major: 1, Minor: 0},
		Ready:       true,
	}
	copy(d.Response.Magic[:], "AWUSBFEX")
	d.Response.ID = 0x00185900
	d.Response.Firmware = 1
	d.Response.Mode = efex.ModeFEL
	d.Response.DataFlag = 0x44
	d.Response.DataLength = 0x08
	d.Response.DataStartAddress = 0x00007e00
	return d
}

func (d *Device) ClaimEndpoints() (devices.BulkEndpoints, error) {
	return devices.BulkEndpoints{In: in{d}, Out: out{d}}, nil
}

func (d *Device) Close() error {
	d.Closed++
	return nil
}

type in struct{ d *Device }

func (e in) Read(buf []byte, _ time.Duration) (int, error) { return e.d.read(buf) }

type out struct{ d *Device }

func (e out) Write(buf []byte, _ time.Duration) (int, error) { return e.d.write(buf) }

var errSequence = errors.New("efextest: unexpected transfer")

func (d *Device) write(buf []byte) (int, error) {
	switch d.state {
	case awaitCBW:
		if len(buf) == efex.FESRequestSize {
			return d.fesRequest(buf)
		}
		cbw, err := awusb.ParseCBW(buf)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", errSequence, err)
		}
		d.Wrappers++
		d.cbw = cbw
		code, length := cbw.Request()
		if length != cbw.DataTransferLength {
			return 0, fmt.Errorf("%w: command block length %d != %d", errSequence, length, cbw.DataTransferLength)
		}
		switch code {
		case awusb.RequestWrite:
			d.inbuf = nil
			d.want = int(length)
			if length == 0 {
				if err := d.consume(nil); err != nil {
					return 0, err
				}
				d.state = sendStatus
			} else {
				d.state = awaitData
			}
		case awusb.RequestRead:
			data, err := d.produce(int(length))
			if err != nil {
				return 0, err
			}
			d.outbuf = data
			d.state = sendData
		default:
			return 0, fmt.Errorf("%w: request code 0x%02x", errSequence, code)
		}
		return len(buf), nil
	case awaitData:
		d.inbuf = append(d.inbuf, buf...)
		if len(d.inbuf) > d.want {
			return 0, fmt.Errorf("%w: %d bytes for a %d byte phase", errSequence, len(d.inbuf), d.want)
		}
		if len(d.inbuf) == d.want {
			consume := d.consume
			if d.fes {
				consume = d.run
			}
			if err := consume(d.inbuf); err != nil {
				return 0, err
			}
			d.state = sendStatus
		}
		return len(buf), nil
	}
	return 0, fmt.Errorf("%w: write in state %d", errSequence, d.state)
}

// fesRequest starts an FES command from its raw request packet.
func (d *Device) fesRequest(buf []byte) (int, error) {
	if d.phase != expectRequest {
		return 0, fmt.Errorf("%w: FES request inside a wrapped command", errSequence)
	}
	raw, err := efex.ParseFESRequest(buf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errSequence, err)
	}
	req := raw.Block()
	if req.Command.Family() != efex.FamilyFES {
		return 0, fmt.Errorf("%w: %s sent as an FES request", errSequence, req.Command)
	}
	d.RawRequests = append(d.RawRequests, append([]byte(nil), buf...))
	d.Requests = append(d.Requests, req)
	d.req = req
	d.fes = true
	d.inbuf = nil

	dir, n := d.dataPhase(req)
	switch {
	case dir == awusb.DataTransferToDevice && n > 0:
		d.want = n
		d.state = awaitData
	case dir == awusb.DataTransferFromDevice && n > 0:
		d.outbuf = d.answer(n)
		d.state = sendData
	default:
		if err := d.run(nil); err != nil {
			return 0, err
		}
		d.state = sendStatus
	}
	return len(buf), nil
}

func (d *Device) read(buf []byte) (int, error) {
	switch d.state {
	case sendData:
		n := copy(buf, d.outbuf)
		d.outbuf = d.outbuf[n:]
		if len(d.outbuf) == 0 {
			d.state = sendStatus
		}
		return n, nil
	case sendStatus:
		cbs := awusb.CBS{Signature: awusb.CBSSignature}
		if d.fes {
			cbs.Tag = uint32(d.req.Tag)
			if d.Fail != nil {
				cbs.Status = d.Fail(d.req)
			}
			d.fes = false
		} else {
			cbs.Tag = d.cbw.Tag
		}
		if d.TamperTag != nil {
			cbs.Tag = d.TamperTag(cbs.Tag)
		}
		d.state = awaitCBW
		return copy(buf, cbs.Bytes()), nil
	}
	return 0, devices.UsbTimeoutError
}

// dataPhase returns the direction and size of the data phase of req.
func (d *Device) dataPhase(req efex.RequestBlock) (awusb.Direction, int) {
	switch req.Command {
	case efex.CmdVerifyDevice:
		return awusb.DataTransferFromDevice, efex.ResponseSize
	case efex.CmdGetCmdSetVer:
		return awusb.DataTransferFromDevice, 4
	case efex.CmdFELWrite, efex.CmdFESDown:
		return awusb.DataTransferToDevice, int(req.Length)
	case efex.CmdFELRead, efex.CmdFESUp:
		return awusb.DataTransferFromDevice, int(req.Length)
	case efex.CmdFESVerifyValue, efex.CmdFESVerifyStatus, efex.CmdFESVerifyUbootBlk:
		return awusb.DataTransferFromDevice, 12
	case efex.CmdFESQueryStorage, efex.CmdFESQuerySecure, efex.CmdFESFlashSizeProbe:
		return awusb.DataTransferFromDevice, 4
	case efex.CmdFESGetChipID:
		return awusb.DataTransferFromDevice, ChipIDSize
	}
	return awusb.DataTransferNone, 0
}

func (d *Device) consume(data []byte) error {
	switch d.phase {
	case expectRequest:
		req, err := efex.ParseRequestBlock(data)
		if err != nil {
			return fmt.Errorf("%w: %v", errSequence, err)
		}
		if req.Command.Family() == efex.FamilyFES {
			return fmt.Errorf("%w: %s sent in a command wrapper", errSequence, req.Command)
		}
		d.req = *req
		d.Requests = append(d.Requests, *req)
		dir, _ := d.dataPhase(*req)
		if dir == awusb.DataTransferNone {
			if err := d.run(nil); err != nil {
				return err
			}
			d.phase = expectStatus
		} else {
			d.phase = expectData
		}
		return nil
	case expectData:
		dir, n := d.dataPhase(d.req)
		if dir != awusb.DataTransferToDevice || n != len(data) {
			return fmt.Errorf("%w: %d bytes written for %s", errSequence, len(data), d.req.Command)
		}
		d.phase = expectStatus
		return d.run(data)
	}
	return fmt.Errorf("%w: write while waiting for status read", errSequence)
}

func (d *Device) produce(n int) ([]byte, error) {
	switch d.phase {
	case expectData:
		dir, want := d.dataPhase(d.req)
		if dir != awusb.DataTransferFromDevice || want != n {
			return nil, fmt.Errorf("%w: %d bytes read for %s", errSequence, n, d.req.Command)
		}
		d.phase = expectStatus
		return d.answer(n), nil
	case expectStatus:
		if n != efex.StatusBlockSize {
			return nil, fmt.Errorf("%w: status read of %d bytes", errSequence, n)
		}
		st := efex.StatusBlock{Magic: StatusMagic}
		if d.Fail != nil {
			st.State = d.Fail(d.req)
		}
		if d.req.Command == efex.CmdIsReady && !d.Ready {
			st.State = 1
		}
		d.phase = expectRequest
		return st.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: read while waiting for a request", errSequence)
}

func tagged(flags uint32) bool {
	return flags&0x7fff != 0
}

// run executes a request whose data phase, if any, was sent to the device.
func (d *Device) run(data []byte) error {
	req := d.req
	switch req.Command {
	case efex.CmdFELWrite:
		d.Memory.Write(uint64(req.Address), data)
	case efex.CmdFELExec:
		d.Execs = append(d.Execs, req.Address)
		if d.OnExec != nil {
			return d.OnExec(d.Memory, req.Address)
		}
	case efex.CmdFESDown:
		if tagged(req.Flags) {
			d.Memory.Write(uint64(req.Address), data)
			d.received.Write(uint64(req.Address), data)
			if d.last.addr+uint64(d.last.size) == uint64(req.Address) {
				d.last.size += len(data)
			} else {
				d.last = verifyRange{uint64(req.Address), len(data)}
			}
		} else {
			d.Flash.Write(uint64(req.Address)*512, data)
		}
	case efex.CmdFESFlashSetOn:
		d.FlashOn = true
	case efex.CmdFESFlashSetOff:
		d.FlashOn = false
	case efex.CmdSwitchRole:
		d.Response.Mode = efex.Mode(req.Address)
	}
	return nil
}

// answer builds the data phase of a request reading from the device.
func (d *Device) answer(n int) []byte {
	req := d.req
	buf := bytes.NewBuffer(nil)
	switch req.Command {
	case efex.CmdVerifyDevice:
		buf.Write(d.Response.Bytes())
	case efex.CmdGetCmdSetVer:
		binary.Write(buf, binary.LittleEndian, d.Version)
	case efex.CmdFELRead:
		buf.Write(d.Memory.Read(uint64(req.Address), n))
	case efex.CmdFESUp:
		if tagged(req.Flags) {
			buf.Write(d.Memory.Read(uint64(req.Address), n))
		} else {
			buf.Write(d.Flash.Read(uint64(req.Address)*512, n))
		}
	case efex.CmdFESVerifyValue:
		size := uint64(req.Length) | uint64(req.Flags)<<32
		d.writeVerify(buf, uint64(req.Address), int(size))
	case efex.CmdFESVerifyStatus, efex.CmdFESVerifyUbootBlk:
		d.writeVerify(buf, d.last.addr, d.last.size)
	case efex.CmdFESQueryStorage:
		binary.Write(buf, binary.LittleEndian, d.StorageType)
	case efex.CmdFESQuerySecure:
		binary.Write(buf, binary.LittleEndian, d.SecureType)
	case efex.CmdFESFlashSizeProbe:
		binary.Write(buf, binary.LittleEndian, d.FlashSize)
	case efex.CmdFESGetChipID:
		buf.WriteString(d.ChipID)
	}
	res := make([]byte, n)
	copy(res, buf.Bytes())
	return res
}

func (d *Device) writeVerify(buf *bytes.Buffer, addr uint64, size int) {
	binary.Write(buf, binary.LittleEndian, struct {
		Flag     uint32
		FESCRC   uint32
		MediaCRC uint32
	}{
		Flag:     VerifyFlagValid,
		FESCRC:   crc32.ChecksumIEEE(d.received.Read(addr, size)),
		MediaCRC: crc32.ChecksumIEEE(d.Memory.Read(addr, size)),
	})
}

// Open returns a handshaken session over a new Device.
func Open() (*efex.Session, *Device, error) {
	d := New()
	s, err := efex.Open(d)
	if err != nil {
		return nil, nil, err
	}
	if err := s.Handshake(); err != nil {
		return nil, nil, err
	}
	return s, d, nil
}
