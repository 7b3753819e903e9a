package fes

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/awfex/efex/pkg/awusb"
	"github.com/awfex/efex/pkg/efex"
)

// VerifyResult holds the CRC the FES firmware computed over the data it
// received and the CRC it read back from the medium.
type VerifyResult struct {
	Flag      uint32
	EngineCRC uint32
	MediaCRC  uint32
}

func (r VerifyResult) OK() bool {
	return r.EngineCRC == r.MediaCRC
}

// Err returns an ErrCRCMismatch error if the CRCs differ.
func (r VerifyResult) Err() error {
	if r.OK() {
		return nil
	}
	return efex.NewError("verify", efex.ErrCRCMismatch, fmt.Errorf("engine 0x%08x, media 0x%08x", r.EngineCRC, r.MediaCRC))
}

const verifyResultSize = 12

func verify(x efex.Issuer, t *efex.Transfer) (VerifyResult, error) {
	var res VerifyResult
	data := make([]byte, verifyResultSize)
	t.Direction = awusb.DataTransferFromDevice
	t.Data = data
	if err := efex.Call(x, t); err != nil {
		return res, efex.NewError(t.Command.String(), efex.ErrVerification, err)
	}
	binary.Read(bytes.NewReader(data), binary.LittleEndian, &res)
	return res, nil
}

// VerifyValue asks for the CRCs of size bytes at addr.
func VerifyValue(x efex.Issuer, addr uint32, size uint64) (VerifyResult, error) {
	return verify(x, &efex.Transfer{
		Command: efex.CmdFESVerifyValue,
		Address: addr,
		Length:  uint32(size),
		Flags:   uint32(size >> 32),
	})
}

// VerifyStatus asks for the CRCs of the last transfer of the given data type
// tag.
func VerifyStatus(x efex.Issuer, tag uint32) (VerifyResult, error) {
	return verify(x, &efex.Transfer{
		Command: efex.CmdFESVerifyStatus,
		Flags:   tag,
	})
}

// VerifyUbootBlock asks for the CRCs of the u-boot block written with tag.
func VerifyUbootBlock(x efex.Issuer, tag uint32) (VerifyResult, error) {
	return verify(x, &efex.Transfer{
		Command: efex.CmdFESVerifyUbootBlk,
		Flags:   tag,
	})
}
