// Package image handles eGON boot headers, which the boot ROM and boot0
// check before running BOOT0 and BOOT1 images.
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/glog"
)

// Stamp is the value the checksum field holds while the checksum is being
// computed.
const Stamp uint32 = 0x5f0a6c39

// Kind is the stage an eGON image is meant for.
type Kind int

const (
	KindUnknown Kind = iota
	KindBT0
	KindBT1
)

func (k Kind) String() string {
	switch k {
	case KindBT0:
		return "eGON.BT0"
	case KindBT1:
		return "eGON.BT1"
	}
	return "UNKNOWN"
}

// Header is the start of every eGON image.
type Header struct {
	Jump            uint32
	Magic           [8]byte
	Checksum        uint32
	Length          uint32
	PubHeadSize     uint32
	PubHeadVersion  [4]byte
	FileHeadVersion [4]byte
	BootVersion     [4]byte
	EGONVersion     [4]byte
	Platform        [8]byte
}

const (
	HeaderSize     = 48
	checksumOffset = 12
)

var (
	ErrNotEGON     = errors.New("not an eGON image")
	ErrBadChecksum = errors.New("bad eGON checksum")
)

type Image struct {
	Header Header
	Kind   Kind
	// Data is the whole image, header included, cut to Header.Length.
	Data []byte
}

// Parse decodes the header of an eGON image.
func Parse(data []byte) (*Image, error) {
	if len(data) < HeaderSize {
		return nil, ErrNotEGON
	}
	var hdr Header
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var kind Kind
	for _, k := range []Kind{KindBT0, KindBT1} {
		if bytes.Equal(hdr.Magic[:], []byte(k.String())) {
			kind = k
			break
		}
	}
	if kind == KindUnknown {
		return nil, ErrNotEGON
	}
	if hdr.Length < HeaderSize || hdr.Length%4 != 0 {
		return nil, fmt.Errorf("invalid image length %d", hdr.Length)
	}
	if int(hdr.Length) > len(data) {
		return nil, fmt.Errorf("image truncated: header says %d bytes, have %d", hdr.Length, len(data))
	}

	glog.Infof("Parsed %s image, %d bytes.", kind, hdr.Length)
	return &Image{
		Header: hdr,
		Kind:   kind,
		Data:   data[:hdr.Length],
	}, nil
}

// Sum computes the checksum of the image: the sum of all its words, with the
// checksum field replaced by Stamp.
func (i *Image) Sum() uint32 {
	var sum uint32
	for off := 0; off < len(i.Data); off += 4 {
		if off == checksumOffset {
			sum += Stamp
			continue
		}
		sum += binary.LittleEndian.Uint32(i.Data[off:])
	}
	return sum
}

// Verify checks the checksum stored in the header.
func (i *Image) Verify() error {
	if sum := i.Sum(); sum != i.Header.Checksum {
		return fmt.Errorf("%w: header 0x%08x, computed 0x%08x", ErrBadChecksum, i.Header.Checksum, sum)
	}
	return nil
}

// Fixup returns a copy of the image with a correct checksum.
func (i *Image) Fixup() []byte {
	res := bytes.Clone(i.Data)
	binary.LittleEndian.PutUint32(res[checksumOffset:], i.Sum())
	return res
}
