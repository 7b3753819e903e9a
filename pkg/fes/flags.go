package fes

import (
	"fmt"
	"strings"
)

// DataType classifies the payload of a FES transfer. Tagged types address
// memory in bytes, DataTypeNone and DataTypeFlash address storage in 512 byte
// sectors.
type DataType uint32

const (
	DataTypeNone          DataType = 0x0000
	DataTypeDRAM          DataType = 0x7f00
	DataTypeMBR           DataType = 0x7f01
	DataTypeBoot1         DataType = 0x7f02
	DataTypeBoot0         DataType = 0x7f03
	DataTypeErase         DataType = 0x7f04
	DataTypeFullImageSize DataType = 0x7f10
	DataTypeExt4UBIFS     DataType = 0x7ff0
	DataTypeFlash         DataType = 0x8000
)

// Bit layout of the flags word of a transfer descriptor. FlagStart is defined
// by the protocol but never set: transfers rely on chunk order and FlagFinish.
const (
	DataTypeMask uint32 = 0x00007fff
	dataTypeBits uint32 = 0x0000ffff
	FlagFinish   uint32 = 0x00010000
	FlagStart    uint32 = 0x00020000
	FlagMask     uint32 = 0x00030000
)

const SectorSize = 512

// Tagged reports whether transfers of this type advance their address by
// bytes rather than by sectors.
func (t DataType) Tagged() bool {
	return uint32(t)&DataTypeMask != 0
}

func (t DataType) String() string {
	switch t {
	case DataTypeNone:
		return "none"
	case DataTypeDRAM:
		return "dram"
	case DataTypeMBR:
		return "mbr"
	case DataTypeBoot1:
		return "boot1"
	case DataTypeBoot0:
		return "boot0"
	case DataTypeErase:
		return "erase"
	case DataTypeFullImageSize:
		return "fullimg-size"
	case DataTypeExt4UBIFS:
		return "ext4"
	case DataTypeFlash:
		return "flash"
	}
	return fmt.Sprintf("0x%04x", uint32(t))
}

var dataTypeNames = []DataType{
	DataTypeNone, DataTypeDRAM, DataTypeMBR, DataTypeBoot1, DataTypeBoot0,
	DataTypeErase, DataTypeFullImageSize, DataTypeExt4UBIFS, DataTypeFlash,
}

// ParseDataType accepts the names returned by DataType.String.
func ParseDataType(s string) (DataType, error) {
	s = strings.ToLower(s)
	for _, t := range dataTypeNames {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q", s)
}

// TransferFlags is the decoded flags word of a transfer descriptor.
type TransferFlags struct {
	DataType DataType
	Start    bool
	Finish   bool
}

func (f TransferFlags) Encode() uint32 {
	v := uint32(f.DataType) & dataTypeBits
	if f.Start {
		v |= FlagStart
	}
	if f.Finish {
		v |= FlagFinish
	}
	return v
}

func DecodeFlags(v uint32) TransferFlags {
	return TransferFlags{
		DataType: DataType(v & dataTypeBits),
		Start:    v&FlagStart != 0,
		Finish:   v&FlagFinish != 0,
	}
}
