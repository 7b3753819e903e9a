// Package fes implements the storage flashing protocol spoken by FES
// firmware: chunked download and upload, verification and storage queries.
package fes

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/glog"

	"github.com/awfex/efex/pkg/awusb"
	"github.com/awfex/efex/pkg/efex"
)

// ChunkSize is the largest payload of a single transfer descriptor.
const ChunkSize = 64 * 1024

// ProgressFunc receives the number of bytes transferred so far and the total.
type ProgressFunc func(done, total uint64)

// Chunk is one transfer descriptor of a chunked transfer.
type Chunk struct {
	Address uint32
	Length  uint32
	Flags   TransferFlags
}

// Plan splits a transfer of total bytes starting at addr into chunks. Tagged
// data types advance the address by bytes, untagged ones by 512 byte sectors.
// Only the last chunk carries the finish flag.
func Plan(addr uint32, total uint64, dt DataType) []Chunk {
	var res []Chunk
	for done := uint64(0); done < total; {
		n := min(total-done, ChunkSize)
		res = append(res, Chunk{
			Address: advance(addr, done, dt),
			Length:  uint32(n),
			Flags: TransferFlags{
				DataType: dt,
				Finish:   done+n == total,
			},
		})
		done += n
	}
	return res
}

// advance returns the address after done bytes of a transfer started at
// start.
func advance(start uint32, done uint64, dt DataType) uint32 {
	if dt.Tagged() {
		return start + uint32(done)
	}
	return start + uint32(done/SectorSize)
}

// Download sends data to the device starting at addr.
func Download(s *efex.Session, addr uint32, data []byte, dt DataType, progress ProgressFunc) error {
	return DownloadFrom(s, addr, bytes.NewReader(data), uint64(len(data)), dt, progress)
}

// DownloadFrom sends size bytes read from r. The session is held for the
// whole transfer. A failing chunk aborts the transfer, which cannot be
// resumed.
func DownloadFrom(s *efex.Session, addr uint32, r io.Reader, size uint64, dt DataType, progress ProgressFunc) error {
	return s.Do(func(c *efex.Conn) error {
		return download(c, addr, r, size, dt, progress)
	})
}

func download(x efex.Issuer, addr uint32, r io.Reader, size uint64, dt DataType, progress ProgressFunc) error {
	op := efex.CmdFESDown.String()
	if size == 0 {
		return efex.NewError(op, efex.ErrInvalidParam, fmt.Errorf("empty transfer"))
	}
	glog.Infof("fes: downloading %d bytes of %s to 0x%08x", size, dt, addr)
	buf := make([]byte, ChunkSize)
	var done uint64
	for _, chunk := range Plan(addr, size, dt) {
		data := buf[:chunk.Length]
		if _, err := io.ReadFull(r, data); err != nil {
			return efex.NewError(op, efex.ErrFileRead, err)
		}
		if err := efex.Call(x, &efex.Transfer{
			Command:   efex.CmdFESDown,
			Address:   chunk.Address,
			Length:    chunk.Length,
			Flags:     chunk.Flags.Encode(),
			Direction: awusb.DataTransferToDevice,
			Data:      data,
		}); err != nil {
			return fmt.Errorf("chunk at offset 0x%x: %w", done, err)
		}
		done += uint64(chunk.Length)
		if progress != nil {
			progress(done, size)
		}
	}
	return nil
}

// Upload reads length bytes from the device starting at addr.
func Upload(s *efex.Session, addr uint32, length uint64, dt DataType, progress ProgressFunc) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, length))
	if err := UploadTo(s, addr, buf, length, dt, progress); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UploadTo reads length bytes from the device into w. The session is held for
// the whole transfer.
func UploadTo(s *efex.Session, addr uint32, w io.Writer, length uint64, dt DataType, progress ProgressFunc) error {
	return s.Do(func(c *efex.Conn) error {
		return upload(c, addr, w, length, dt, progress)
	})
}

func upload(x efex.Issuer, addr uint32, w io.Writer, length uint64, dt DataType, progress ProgressFunc) error {
	op := efex.CmdFESUp.String()
	if length == 0 {
		return efex.NewError(op, efex.ErrInvalidParam, fmt.Errorf("empty transfer"))
	}
	glog.Infof("fes: uploading %d bytes of %s from 0x%08x", length, dt, addr)
	buf := make([]byte, ChunkSize)
	var done uint64
	for _, chunk := range Plan(addr, length, dt) {
		data := buf[:chunk.Length]
		if err := efex.Call(x, &efex.Transfer{
			Command:   efex.CmdFESUp,
			Address:   chunk.Address,
			Length:    chunk.Length,
			Flags:     chunk.Flags.Encode(),
			Direction: awusb.DataTransferFromDevice,
			Data:      data,
		}); err != nil {
			return fmt.Errorf("chunk at offset 0x%x: %w", done, err)
		}
		if _, err := w.Write(data); err != nil {
			return efex.NewError(op, efex.ErrFileWrite, err)
		}
		done += uint64(chunk.Length)
		if progress != nil {
			progress(done, length)
		}
	}
	return nil
}

// DownloadVerified downloads data and checks it with VerifyValue. A CRC
// mismatch invalidates the session.
func DownloadVerified(s *efex.Session, addr uint32, data []byte, dt DataType, progress ProgressFunc) error {
	return s.Do(func(c *efex.Conn) error {
		if err := download(c, addr, bytes.NewReader(data), uint64(len(data)), dt, progress); err != nil {
			return err
		}
		res, err := VerifyValue(c, addr, uint64(len(data)))
		if err != nil {
			return err
		}
		if err := res.Err(); err != nil {
			c.Invalidate(err)
			return err
		}
		return nil
	})
}
