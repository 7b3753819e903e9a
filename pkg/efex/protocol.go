package efex

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/awfex/efex/pkg/awusb"
)

// Command is a protocol operation code.
type Command uint16

const (
	CmdVerifyDevice Command = 0x0001
	CmdSwitchRole   Command = 0x0002
	CmdIsReady      Command = 0x0003
	CmdGetCmdSetVer Command = 0x0004
	CmdDisconnect   Command = 0x0010

	CmdFELWrite Command = 0x0101
	CmdFELExec  Command = 0x0102
	CmdFELRead  Command = 0x0103

	CmdFESTrans           Command = 0x0201
	CmdFESRun             Command = 0x0202
	CmdFESInfo            Command = 0x0203
	CmdFESGetMsg          Command = 0x0204
	CmdFESUnregFED        Command = 0x0205
	CmdFESDown            Command = 0x0206
	CmdFESUp              Command = 0x0207
	CmdFESVerify          Command = 0x0208
	CmdFESQueryStorage    Command = 0x0209
	CmdFESFlashSetOn      Command = 0x020a
	CmdFESFlashSetOff     Command = 0x020b
	CmdFESVerifyValue     Command = 0x020c
	CmdFESVerifyStatus    Command = 0x020d
	CmdFESFlashSizeProbe  Command = 0x020e
	CmdFESToolMode        Command = 0x020f
	CmdFESVerifyUbootBlk  Command = 0x0214
	CmdFESForceEraseFlash Command = 0x0220
	CmdFESForceEraseKey   Command = 0x0221
	CmdFESQuerySecure     Command = 0x0230
	CmdFESQueryInfo       Command = 0x0231
	CmdFESGetChipID       Command = 0x0232
)

func (c Command) String() string {
	switch c {
	case CmdVerifyDevice:
		return "verify-device"
	case CmdSwitchRole:
		return "switch-role"
	case CmdIsReady:
		return "is-ready"
	case CmdGetCmdSetVer:
		return "get-cmd-set-version"
	case CmdDisconnect:
		return "disconnect"
	case CmdFELWrite:
		return "fel-write"
	case CmdFELExec:
		return "fel-exec"
	case CmdFELRead:
		return "fel-read"
	case CmdFESTrans:
		return "fes-trans"
	case CmdFESRun:
		return "fes-run"
	case CmdFESInfo:
		return "fes-info"
	case CmdFESGetMsg:
		return "fes-get-msg"
	case CmdFESUnregFED:
		return "fes-unreg-fed"
	case CmdFESDown:
		return "fes-down"
	case CmdFESUp:
		return "fes-up"
	case CmdFESVerify:
		return "fes-verify"
	case CmdFESQueryStorage:
		return "fes-query-storage"
	case CmdFESFlashSetOn:
		return "fes-flash-set-on"
	case CmdFESFlashSetOff:
		return "fes-flash-set-off"
	case CmdFESVerifyValue:
		return "fes-verify-value"
	case CmdFESVerifyStatus:
		return "fes-verify-status"
	case CmdFESFlashSizeProbe:
		return "fes-flash-size-probe"
	case CmdFESToolMode:
		return "fes-tool-mode"
	case CmdFESVerifyUbootBlk:
		return "fes-verify-uboot-blk"
	case CmdFESForceEraseFlash:
		return "fes-force-erase"
	case CmdFESForceEraseKey:
		return "fes-force-erase-key"
	case CmdFESQuerySecure:
		return "fes-query-secure"
	case CmdFESQueryInfo:
		return "fes-query-info"
	case CmdFESGetChipID:
		return "fes-get-chipid"
	}
	return fmt.Sprintf("UNKNOWN(0x%04x)", uint16(c))
}

// Family is the command group a Command belongs to. It decides which device
// modes may receive it.
type Family uint8

const (
	FamilyCommon Family = iota
	FamilyFEL
	FamilyFES
)

func (c Command) Family() Family {
	switch c >> 8 {
	case 0x01:
		return FamilyFEL
	case 0x02:
		return FamilyFES
	}
	return FamilyCommon
}

// Mode is the operating state reported by the device.
type Mode uint16

const (
	ModeNull       Mode = 0
	ModeFEL        Mode = 1
	ModeSRV        Mode = 2
	ModeUpdateCool Mode = 3
	ModeUpdateHot  Mode = 4
)

func (m Mode) String() string {
	switch m {
	case ModeNull:
		return "NULL"
	case ModeFEL:
		return "FEL"
	case ModeSRV:
		return "SRV"
	case ModeUpdateCool:
		return "UPDATE_COOL"
	case ModeUpdateHot:
		return "UPDATE_HOT"
	}
	return "UNKNOWN"
}

// Allows reports whether a device in mode m accepts commands of family f.
func (m Mode) Allows(f Family) bool {
	switch f {
	case FamilyFEL:
		return m == ModeFEL
	case FamilyFES:
		return m == ModeFEL || m == ModeSRV
	}
	return true
}

// RequestBlock is sent, wrapped, at the start of every common and FEL
// command.
type RequestBlock struct {
	Command Command
	Tag     uint16
	Address uint32
	Length  uint32
	Flags   uint32
}

const (
	RequestBlockSize = 16
	StatusBlockSize  = 8
	ResponseSize     = 32
)

func (r *RequestBlock) Bytes() []byte {
	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.LittleEndian, r)
	return buf.Bytes()
}

// ParseRequestBlock decodes a request block.
func ParseRequestBlock(b []byte) (*RequestBlock, error) {
	if len(b) != RequestBlockSize {
		return nil, fmt.Errorf("request block is %d bytes, want %d", len(b), RequestBlockSize)
	}
	var r RequestBlock
	binary.Read(bytes.NewReader(b), binary.LittleEndian, &r)
	return &r, nil
}

// FESRequest is the raw packet that opens an FES command. Its fields follow
// those of RequestBlock and it ends with the AWUC magic instead of being
// wrapped.
type FESRequest struct {
	Command Command
	Tag     uint16
	Address uint32
	Length  uint32
	Flags   uint32
	Magic   [4]byte
}

const FESRequestSize = 20

// NewFESRequest returns the packet carrying r on the FES path.
func NewFESRequest(r RequestBlock) *FESRequest {
	return &FESRequest{
		Command: r.Command,
		Tag:     r.Tag,
		Address: r.Address,
		Length:  r.Length,
		Flags:   r.Flags,
		Magic:   awusb.CBWSignature,
	}
}

func (r *FESRequest) Bytes() []byte {
	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.LittleEndian, r)
	return buf.Bytes()
}

// Block returns the request fields without the magic.
func (r *FESRequest) Block() RequestBlock {
	return RequestBlock{
		Command: r.Command,
		Tag:     r.Tag,
		Address: r.Address,
		Length:  r.Length,
		Flags:   r.Flags,
	}
}

// ParseFESRequest decodes a raw FES request packet.
func ParseFESRequest(b []byte) (*FESRequest, error) {
	if len(b) != FESRequestSize {
		return nil, fmt.Errorf("FES request is %d bytes, want %d", len(b), FESRequestSize)
	}
	var r FESRequest
	binary.Read(bytes.NewReader(b), binary.LittleEndian, &r)
	if r.Magic != awusb.CBWSignature {
		return nil, fmt.Errorf("FES request magic %q invalid", r.Magic[:])
	}
	return &r, nil
}

// StatusBlock ends every common and FEL command.
type StatusBlock struct {
	Magic    uint16
	Tag      uint16
	State    uint8
	Reserved [3]uint8
}

func (s *StatusBlock) Bytes() []byte {
	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.LittleEndian, s)
	return buf.Bytes()
}

// DeviceResponse is the handshake answer to CmdVerifyDevice.
type DeviceResponse struct {
	Magic            [8]byte
	ID               uint32
	Firmware         uint32
	Mode             Mode
	DataFlag         uint8
	DataLength       uint8
	DataStartAddress uint32
	Reserved         [8]byte
}

func (r *DeviceResponse) Bytes() []byte {
	buf := bytes.NewBuffer(nil)
	binary.Write(buf, binary.LittleEndian, r)
	return buf.Bytes()
}

// CommandSetVersion is the answer to CmdGetCmdSetVer.
type CommandSetVersion struct {
	Major uint16
	Minor uint16
}

func (v CommandSetVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}
