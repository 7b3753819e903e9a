// Package fel implements the boot ROM memory primitives: exec, read and write
// of physical memory.
package fel

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/awfex/efex/pkg/awusb"
	"github.com/awfex/efex/pkg/efex"
)

// MaxTransfer is the largest read or write a single call accepts.
const MaxTransfer = 64 * 1024

// CompletionFunc is called once when a read or write finished, with the
// number of bytes moved.
type CompletionFunc func(n int)

type options struct {
	done CompletionFunc
}

type Option func(*options)

// WithCompletion registers fn to be called after a successful transfer.
func WithCompletion(fn CompletionFunc) Option {
	return func(o *options) {
		o.done = fn
	}
}

func collect(opts []Option) options {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func checkLength(op string, n int) error {
	if n <= 0 || n > MaxTransfer {
		return efex.NewError(op, efex.ErrInvalidParam, fmt.Errorf("length %d outside 1..%d", n, MaxTransfer))
	}
	return nil
}

// Exec makes the device call the code at addr. The call returns when the code
// returns to the boot ROM.
func Exec(x efex.Issuer, addr uint32) error {
	glog.V(1).Infof("fel: exec 0x%08x", addr)
	return efex.Call(x, &efex.Transfer{
		Command: efex.CmdFELExec,
		Address: addr,
	})
}

// Read reads length bytes at addr. It returns either all of them or an error.
func Read(x efex.Issuer, addr uint32, length int, opts ...Option) ([]byte, error) {
	if err := checkLength(efex.CmdFELRead.String(), length); err != nil {
		return nil, err
	}
	o := collect(opts)
	buf := make([]byte, length)
	if err := efex.Call(x, &efex.Transfer{
		Command:   efex.CmdFELRead,
		Address:   addr,
		Length:    uint32(length),
		Direction: awusb.DataTransferFromDevice,
		Data:      buf,
	}); err != nil {
		return nil, err
	}
	if o.done != nil {
		o.done(length)
	}
	return buf, nil
}

// Write writes data at addr.
func Write(x efex.Issuer, addr uint32, data []byte, opts ...Option) error {
	if err := checkLength(efex.CmdFELWrite.String(), len(data)); err != nil {
		return err
	}
	o := collect(opts)
	if err := efex.Call(x, &efex.Transfer{
		Command:   efex.CmdFELWrite,
		Address:   addr,
		Length:    uint32(len(data)),
		Direction: awusb.DataTransferToDevice,
		Data:      data,
	}); err != nil {
		return err
	}
	if o.done != nil {
		o.done(len(data))
	}
	return nil
}

// ProgressFunc receives the number of bytes moved so far and the total.
type ProgressFunc func(done, total int)

// ReadAll reads length bytes at addr in MaxTransfer pieces, holding the
// session for the whole read.
func ReadAll(s *efex.Session, addr uint32, length int, progress ProgressFunc) ([]byte, error) {
	if length < 0 {
		return nil, efex.NewError(efex.CmdFELRead.String(), efex.ErrInvalidParam, fmt.Errorf("negative length %d", length))
	}
	res := make([]byte, 0, length)
	err := s.Do(func(c *efex.Conn) error {
		for len(res) < length {
			n := min(length-len(res), MaxTransfer)
			data, err := Read(c, addr+uint32(len(res)), n)
			if err != nil {
				return fmt.Errorf("at offset 0x%x: %w", len(res), err)
			}
			res = append(res, data...)
			if progress != nil {
				progress(len(res), length)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// WriteAll writes data at addr in MaxTransfer pieces, holding the session for
// the whole write.
func WriteAll(s *efex.Session, addr uint32, data []byte, progress ProgressFunc) error {
	return s.Do(func(c *efex.Conn) error {
		for off := 0; off < len(data); off += MaxTransfer {
			end := min(len(data), off+MaxTransfer)
			if err := Write(c, addr+uint32(off), data[off:end]); err != nil {
				return fmt.Errorf("at offset 0x%x: %w", off, err)
			}
			if progress != nil {
				progress(end, len(data))
			}
		}
		return nil
	})
}
