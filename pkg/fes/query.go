package fes

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/awfex/efex/pkg/awusb"
	"github.com/awfex/efex/pkg/efex"
)

// StorageType identifies the boot medium reported by the FES firmware.
type StorageType uint32

const (
	StorageNAND    StorageType = 0
	StorageSD      StorageType = 1
	StorageEMMC    StorageType = 2
	StorageNOR     StorageType = 3
	StorageEMMC3   StorageType = 4
	StorageSPINAND StorageType = 5
	StorageSD1     StorageType = 6
	StorageEMMC0   StorageType = 7
)

func (s StorageType) String() string {
	switch s {
	case StorageNAND:
		return "NAND"
	case StorageSD:
		return "SD"
	case StorageEMMC:
		return "eMMC"
	case StorageNOR:
		return "SPI NOR"
	case StorageEMMC3:
		return "eMMC3"
	case StorageSPINAND:
		return "SPI NAND"
	case StorageSD1:
		return "SD1"
	case StorageEMMC0:
		return "eMMC0"
	}
	return "UNKNOWN"
}

// ToolMode is the work mode requested with SetToolMode.
type ToolMode uint32

const (
	ToolModeBoot           ToolMode = 0x00
	ToolModeUsbToolProduct ToolMode = 0x04
	ToolModeUsbToolUpdate  ToolMode = 0x08
	ToolModeUsbProduct     ToolMode = 0x10
	ToolModeCardProduct    ToolMode = 0x11
	ToolModeUsbDebug       ToolMode = 0x12
	ToolModeSpriteRecovery ToolMode = 0x13
	ToolModeCardUpdate     ToolMode = 0x14
	ToolModeUsbUpdate      ToolMode = 0x20
	ToolModeOuterUpdate    ToolMode = 0x21
)

func (m ToolMode) String() string {
	switch m {
	case ToolModeBoot:
		return "boot"
	case ToolModeUsbToolProduct:
		return "usb-tool-product"
	case ToolModeUsbToolUpdate:
		return "usb-tool-update"
	case ToolModeUsbProduct:
		return "usb-product"
	case ToolModeCardProduct:
		return "card-product"
	case ToolModeUsbDebug:
		return "usb-debug"
	case ToolModeSpriteRecovery:
		return "sprite-recovery"
	case ToolModeCardUpdate:
		return "card-update"
	case ToolModeUsbUpdate:
		return "usb-update"
	case ToolModeOuterUpdate:
		return "outer-update"
	}
	return "UNKNOWN"
}

// NextAction selects what the device does once the tool mode action
// completed.
type NextAction uint32

const (
	NextNormal   NextAction = 1
	NextReboot   NextAction = 2
	NextPowerOff NextAction = 3
	NextReUpdate NextAction = 4
	NextBoot     NextAction = 5
)

func (a NextAction) String() string {
	switch a {
	case NextNormal:
		return "normal"
	case NextReboot:
		return "reboot"
	case NextPowerOff:
		return "poweroff"
	case NextReUpdate:
		return "reupdate"
	case NextBoot:
		return "boot"
	}
	return "UNKNOWN"
}

// ParseToolMode accepts the names returned by ToolMode.String.
func ParseToolMode(s string) (ToolMode, error) {
	for _, m := range []ToolMode{
		ToolModeBoot, ToolModeUsbToolProduct, ToolModeUsbToolUpdate,
		ToolModeUsbProduct, ToolModeCardProduct, ToolModeUsbDebug,
		ToolModeSpriteRecovery, ToolModeCardUpdate, ToolModeUsbUpdate,
		ToolModeOuterUpdate,
	} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown tool mode %q", s)
}

// ParseNextAction accepts the names returned by NextAction.String.
func ParseNextAction(s string) (NextAction, error) {
	for a := NextNormal; a <= NextBoot; a++ {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("unknown next action %q", s)
}

// ChipIDSize is the size of the buffer the chip id is returned in, including
// the terminating NUL.
const ChipIDSize = 129

func query32(x efex.Issuer, cmd efex.Command) (uint32, error) {
	data := make([]byte, 4)
	if err := efex.Call(x, &efex.Transfer{
		Command:   cmd,
		Direction: awusb.DataTransferFromDevice,
		Data:      data,
	}); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// QueryStorage returns the medium the device boots from.
func QueryStorage(x efex.Issuer) (StorageType, error) {
	v, err := query32(x, efex.CmdFESQueryStorage)
	return StorageType(v), err
}

// QuerySecure returns the secure boot state of the device.
func QuerySecure(x efex.Issuer) (uint32, error) {
	return query32(x, efex.CmdFESQuerySecure)
}

// ProbeFlashSize returns the size of the flash medium in sectors.
func ProbeFlashSize(x efex.Issuer) (uint32, error) {
	v, err := query32(x, efex.CmdFESFlashSizeProbe)
	if err != nil {
		return 0, efex.NewError(efex.CmdFESFlashSizeProbe.String(), efex.ErrFlashSizeProbe, err)
	}
	return v, nil
}

// SetFlash powers the flash medium of the given type on or off.
func SetFlash(x efex.Issuer, storage StorageType, on bool) error {
	cmd := efex.CmdFESFlashSetOff
	if on {
		cmd = efex.CmdFESFlashSetOn
	}
	if err := efex.Call(x, &efex.Transfer{
		Command: cmd,
		Address: uint32(storage),
	}); err != nil {
		return efex.NewError(cmd.String(), efex.ErrFlashSetOnOff, err)
	}
	return nil
}

// ChipID returns the unique id of the SoC. Ids longer than the protocol
// buffer are truncated.
func ChipID(x efex.Issuer) (string, error) {
	data := make([]byte, ChipIDSize)
	if err := efex.Call(x, &efex.Transfer{
		Command:   efex.CmdFESGetChipID,
		Direction: awusb.DataTransferFromDevice,
		Data:      data,
	}); err != nil {
		return "", err
	}
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		end = ChipIDSize - 1
	}
	return string(data[:end]), nil
}

// SetToolMode switches the FES firmware into mode, with next deciding what
// happens afterwards.
func SetToolMode(x efex.Issuer, mode ToolMode, next NextAction) error {
	return efex.Call(x, &efex.Transfer{
		Command: efex.CmdFESToolMode,
		Address: uint32(mode),
		Length:  uint32(next),
	})
}

// ForceEraseFlash erases the whole flash medium.
func ForceEraseFlash(x efex.Issuer) error {
	if err := efex.Call(x, &efex.Transfer{Command: efex.CmdFESForceEraseFlash}); err != nil {
		return efex.NewError(efex.CmdFESForceEraseFlash.String(), efex.ErrFlashAccess, err)
	}
	return nil
}

// ForceEraseKey erases the key storage area.
func ForceEraseKey(x efex.Issuer) error {
	if err := efex.Call(x, &efex.Transfer{Command: efex.CmdFESForceEraseKey}); err != nil {
		return efex.NewError(efex.CmdFESForceEraseKey.String(), efex.ErrFlashAccess, err)
	}
	return nil
}

// UnregisterFED drops the flash driver the FES firmware registered, so that a
// new one can be downloaded and run.
func UnregisterFED(x efex.Issuer) error {
	return efex.Call(x, &efex.Transfer{Command: efex.CmdFESUnregFED})
}
