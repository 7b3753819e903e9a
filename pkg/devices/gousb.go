package devices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/hashicorp/go-multierror"
)

// desktopUsb implements Usb on top of libusb.
type desktopUsb struct {
	ctx  *gousb.Context
	usb  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
}

func (d *desktopUsb) ClaimEndpoints() (BulkEndpoints, error) {
	out := BulkEndpoints{}

	if err := d.usb.SetAutoDetach(true); err != nil {
		return out, err
	}
	cfgNum, err := d.usb.ActiveConfigNum()
	if err != nil {
		return out, err
	}
	cfg, err := d.usb.Config(cfgNum)
	if err != nil {
		return out, err
	}
	d.cfg = cfg
	i, err := cfg.Interface(0, 0)
	if err != nil {
		return out, err
	}
	d.intf = i
	for _, ep := range i.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			if out.In != nil {
				continue
			}
			in, err := i.InEndpoint(ep.Number)
			if err != nil {
				return out, err
			}
			out.In = &desktopIn{in}
		case gousb.EndpointDirectionOut:
			if out.Out != nil {
				continue
			}
			o, err := i.OutEndpoint(ep.Number)
			if err != nil {
				return out, err
			}
			out.Out = &desktopOut{o}
		}
	}

	if out.In == nil || out.Out == nil {
		return out, fmt.Errorf("did not find both IN and OUT bulk endpoint on interface 0")
	}
	return out, nil
}

func (d *desktopUsb) Close() error {
	var errs error
	if d.intf != nil {
		d.intf.Close()
		d.intf = nil
	}
	if d.cfg != nil {
		if err := d.cfg.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("when releasing config: %w", err))
		}
		d.cfg = nil
	}
	if err := d.usb.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("when closing USB device: %w", err))
	}
	if err := d.ctx.Close(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("when closing context: %w", err))
	}
	return errs
}

type desktopIn struct {
	ep *gousb.InEndpoint
}

func (e *desktopIn) Read(buf []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := e.ep.ReadContext(ctx, buf)
	return n, mapError(err)
}

type desktopOut struct {
	ep *gousb.OutEndpoint
}

func (e *desktopOut) Write(buf []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	n, err := e.ep.WriteContext(ctx, buf)
	return n, mapError(err)
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gousb.ErrorTimeout),
		errors.Is(err, gousb.TransferTimedOut),
		errors.Is(err, gousb.TransferCancelled),
		errors.Is(err, context.DeadlineExceeded):
		return UsbTimeoutError
	}
	return err
}

// Open finds the first connected device matching one of Descriptions and
// opens it. The returned Usb owns the libusb context and releases it on
// Close.
func Open() (Usb, *Description, error) {
	ctx, err := newContext()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", UsbInitError, err)
	}

	var errs error
	for i := range Descriptions {
		desc := &Descriptions[i]
		usb, err := ctx.OpenDeviceWithVIDPID(desc.VID, desc.PID)
		if err != nil {
			errs = multierror.Append(errs, err)
		}
		if usb == nil {
			continue
		}
		return &desktopUsb{ctx: ctx, usb: usb}, desc, nil
	}
	ctx.Close()
	if errs == nil {
		return nil, nil, NoDeviceError
	}
	return nil, nil, errs
}

func newContext() (*gousb.Context, error) {
	resC := make(chan *gousb.Context)
	errC := make(chan error)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errC <- fmt.Errorf("%v", r)
			}
		}()

		resC <- gousb.NewContext()
	}()

	select {
	case err := <-errC:
		return nil, err
	case res := <-resC:
		return res, nil
	}
}
