// Package payload provides single word memory access on boot ROMs by running
// small stubs uploaded through FEL.
package payload

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/awfex/efex/pkg/devices"
	"github.com/awfex/efex/pkg/efex"
	"github.com/awfex/efex/pkg/fel"
)

// ErrNotInitialized is returned by Readl and Writel before Init.
var ErrNotInitialized = fmt.Errorf("payload not initialized: %w", efex.ErrNotSupported)

// Accessor reads and writes single 32-bit words of device memory.
type Accessor interface {
	Readl(addr uint32) (uint32, error)
	Writel(addr, value uint32) error
}

// routineAlign is the alignment of each routine within the scratch region.
const routineAlign = 64

// Stubs is the scratch region image holding both routines of a variant.
type Stubs struct {
	Arch       devices.Arch
	ReadlAddr  uint32
	WritelAddr uint32
	Readl      Routine
	Writel     Routine
	Image      []byte
}

func alignUp(n uint32) uint32 {
	return (n + routineAlign - 1) &^ (routineAlign - 1)
}

// Link places the routines of v into a scratch region starting at base.
func Link(v Variant, base uint32) *Stubs {
	r := v.Readl(base)
	waddr := base + alignUp(uint32(len(r.Code)))
	w := v.Writel(waddr)
	image := make([]byte, waddr-base+uint32(len(w.Code)))
	copy(image, r.Code)
	copy(image[waddr-base:], w.Code)
	return &Stubs{
		Arch:       v.Arch(),
		ReadlAddr:  base,
		WritelAddr: waddr,
		Readl:      r,
		Writel:     w,
		Image:      image,
	}
}

// Injector implements Accessor with stubs uploaded into the scratch region of
// a session in FEL mode.
type Injector struct {
	s *efex.Session

	mu    sync.Mutex
	stubs *Stubs
}

func NewInjector(s *efex.Session) *Injector {
	return &Injector{s: s}
}

type options struct {
	scratch uint32
}

type Option func(*options)

// WithScratch overrides the scratch address, which defaults to the data start
// address reported in the handshake.
func WithScratch(addr uint32) Option {
	return func(o *options) {
		o.scratch = addr
	}
}

// Init uploads the stubs for arch and arms them. Calling it again replaces
// the armed stubs; if that fails, the injector is left unarmed.
func (i *Injector) Init(arch devices.Arch, opts ...Option) error {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.scratch == 0 {
		o.scratch = i.s.Response().DataStartAddress
	}
	if o.scratch == 0 {
		return efex.NewError("payload init", efex.ErrInvalidParam, fmt.Errorf("no scratch address"))
	}
	v, err := VariantFor(arch)
	if err != nil {
		return efex.NewError("payload init", efex.ErrNotSupported, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.stubs = nil

	stubs := Link(v, o.scratch)
	glog.Infof("payload: uploading %s stubs (%d bytes) to 0x%08x", arch, len(stubs.Image), o.scratch)
	if err := fel.Write(i.s, o.scratch, stubs.Image); err != nil {
		return fmt.Errorf("uploading stubs: %w", err)
	}
	i.stubs = stubs
	return nil
}

// Stubs returns the armed stubs, or nil.
func (i *Injector) Stubs() *Stubs {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stubs
}

func (i *Injector) armed() (*Stubs, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stubs == nil {
		return nil, ErrNotInitialized
	}
	return i.stubs, nil
}

func (i *Injector) Readl(addr uint32) (uint32, error) {
	stubs, err := i.armed()
	if err != nil {
		return 0, err
	}
	var res uint32
	err = i.s.Do(func(c *efex.Conn) error {
		r := stubs.Readl
		if err := fel.Write(c, stubs.ReadlAddr+r.Params, le32(addr)); err != nil {
			return err
		}
		if err := fel.Exec(c, stubs.ReadlAddr); err != nil {
			return err
		}
		data, err := fel.Read(c, stubs.ReadlAddr+r.Result, 4)
		if err != nil {
			return err
		}
		res = binary.LittleEndian.Uint32(data)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("readl 0x%08x: %w", addr, err)
	}
	glog.V(1).Infof("payload: readl 0x%08x = 0x%08x", addr, res)
	return res, nil
}

func (i *Injector) Writel(addr, value uint32) error {
	stubs, err := i.armed()
	if err != nil {
		return err
	}
	glog.V(1).Infof("payload: writel 0x%08x = 0x%08x", addr, value)
	err = i.s.Do(func(c *efex.Conn) error {
		params := append(le32(addr), le32(value)...)
		if err := fel.Write(c, stubs.WritelAddr+stubs.Writel.Params, params); err != nil {
			return err
		}
		return fel.Exec(c, stubs.WritelAddr)
	})
	if err != nil {
		return fmt.Errorf("writel 0x%08x: %w", addr, err)
	}
	return nil
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// Native implements Accessor with plain FEL reads and writes, for memory the
// boot ROM can reach directly.
type Native struct {
	x efex.Issuer
}

func NewNative(x efex.Issuer) *Native {
	return &Native{x: x}
}

func (n *Native) Readl(addr uint32) (uint32, error) {
	data, err := fel.Read(n.x, addr, 4)
	if err != nil {
		return 0, fmt.Errorf("readl 0x%08x: %w", addr, err)
	}
	return binary.LittleEndian.Uint32(data), nil
}

func (n *Native) Writel(addr, value uint32) error {
	if err := fel.Write(n.x, addr, le32(value)); err != nil {
		return fmt.Errorf("writel 0x%08x: %w", addr, err)
	}
	return nil
}
