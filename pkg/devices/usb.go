package devices

import (
	"errors"
	"time"
)

// Usb describes a common API to access an Allwinner device (in FEL or in FES
// service mode) over USB.
type Usb interface {
	// ClaimEndpoints requests the underlying provider to grant access to the
	// bulk endpoints of the download interface, taking them over from any
	// default OS driver.
	ClaimEndpoints() (BulkEndpoints, error)

	// Close disposes of this device. No other functions may be called on the
	// interface afterwards.
	Close() error
}

// BulkInEndpoint reads from the device. A read that does not complete within
// timeout fails with UsbTimeoutError.
type BulkInEndpoint interface {
	Read(buf []byte, timeout time.Duration) (int, error)
}

// BulkOutEndpoint writes to the device. A write that does not complete within
// timeout fails with UsbTimeoutError.
type BulkOutEndpoint interface {
	Write(buf []byte, timeout time.Duration) (int, error)
}

type BulkEndpoints struct {
	In  BulkInEndpoint
	Out BulkOutEndpoint
}

var UsbTimeoutError = errors.New("USB timeout error")

var NoDeviceError = errors.New("no device found")

var UsbInitError = errors.New("failed to initialize USB")
