package efex

import (
	"errors"
	"fmt"

	"github.com/awfex/efex/pkg/awusb"
	"github.com/awfex/efex/pkg/devices"
)

// Category groups error codes by the layer that produced them.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryParameter
	CategoryTransport
	CategoryProtocol
	CategoryOperation
	CategoryFlash
	CategoryVerification
	CategoryFile
)

func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryParameter:
		return "parameter"
	case CategoryTransport:
		return "transport"
	case CategoryProtocol:
		return "protocol"
	case CategoryOperation:
		return "operation"
	case CategoryFlash:
		return "flash"
	case CategoryVerification:
		return "verification"
	case CategoryFile:
		return "file"
	}
	return "UNKNOWN"
}

// Code is a protocol engine error code. Every Code is an error and can be
// matched with errors.Is.
type Code int

const (
	ErrInvalidParam Code = -1
	ErrNullHandle   Code = -2
	ErrMemory       Code = -3
	ErrNotSupported Code = -4

	ErrUsbInit        Code = -10
	ErrDeviceNotFound Code = -11
	ErrUsbOpen        Code = -12
	ErrTransfer       Code = -13
	ErrTimeout        Code = -14

	ErrProtocol          Code = -20
	ErrInvalidResponse   Code = -21
	ErrUnexpectedStatus  Code = -22
	ErrInvalidState      Code = -23
	ErrInvalidDeviceMode Code = -24

	ErrOperationFailed Code = -30
	ErrDeviceBusy      Code = -31
	ErrDeviceNotReady  Code = -32

	ErrFlashAccess    Code = -40
	ErrFlashSizeProbe Code = -41
	ErrFlashSetOnOff  Code = -42

	ErrVerification Code = -50
	ErrCRCMismatch  Code = -51

	ErrFileOpen  Code = -60
	ErrFileRead  Code = -61
	ErrFileWrite Code = -62
	ErrFileSize  Code = -63
)

func (c Code) Error() string {
	switch c {
	case ErrInvalidParam:
		return "invalid parameter"
	case ErrNullHandle:
		return "null handle"
	case ErrMemory:
		return "memory allocation error"
	case ErrNotSupported:
		return "operation not supported"
	case ErrUsbInit:
		return "USB initialization failed"
	case ErrDeviceNotFound:
		return "device not found"
	case ErrUsbOpen:
		return "failed to open device"
	case ErrTransfer:
		return "USB transfer failed"
	case ErrTimeout:
		return "USB transfer timeout"
	case ErrProtocol:
		return "protocol error"
	case ErrInvalidResponse:
		return "invalid response from device"
	case ErrUnexpectedStatus:
		return "unexpected status code"
	case ErrInvalidState:
		return "invalid device state"
	case ErrInvalidDeviceMode:
		return "invalid device mode"
	case ErrOperationFailed:
		return "operation failed"
	case ErrDeviceBusy:
		return "device is busy"
	case ErrDeviceNotReady:
		return "device not ready"
	case ErrFlashAccess:
		return "flash access error"
	case ErrFlashSizeProbe:
		return "flash size probing failed"
	case ErrFlashSetOnOff:
		return "failed to set flash on/off"
	case ErrVerification:
		return "verification failed"
	case ErrCRCMismatch:
		return "CRC mismatch"
	case ErrFileOpen:
		return "failed to open file"
	case ErrFileRead:
		return "failed to read file"
	case ErrFileWrite:
		return "failed to write file"
	case ErrFileSize:
		return "file size error"
	}
	return fmt.Sprintf("unknown error %d", int(c))
}

func (c Code) Category() Category {
	switch {
	case c <= -60:
		return CategoryFile
	case c <= -50:
		return CategoryVerification
	case c <= -40:
		return CategoryFlash
	case c <= -30:
		return CategoryOperation
	case c <= -20:
		return CategoryProtocol
	case c <= -10:
		return CategoryTransport
	case c < 0:
		return CategoryParameter
	}
	return CategoryNone
}

// Error is returned by every engine operation. It unwraps to both its Code
// and the underlying cause.
type Error struct {
	Op   string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Code}
	}
	return []error{e.Code, e.Err}
}

// NewError builds an Error for op.
func NewError(op string, code Code, err error) error {
	return &Error{Op: op, Code: code, Err: err}
}

// CodeOf returns the first Code found in err's chain.
func CodeOf(err error) (Code, bool) {
	var c Code
	if errors.As(err, &c) {
		return c, true
	}
	return 0, false
}

// IsDesync reports whether err was caused by a status wrapper carrying the
// wrong tag or a foreign signature. FES status wrappers carry no tag, so the
// signature is all that detects a lost packet there.
func IsDesync(err error) bool {
	return errors.Is(err, awusb.ErrTagMismatch) || errors.Is(err, awusb.ErrSignature)
}

// IsFatal reports whether err leaves the session unusable. The caller has to
// close and reopen it.
func IsFatal(err error) bool {
	return IsDesync(err) || errors.Is(err, ErrCRCMismatch)
}

// IsAdvisory reports whether the operation may be re-issued after polling
// the device.
func IsAdvisory(err error) bool {
	return errors.Is(err, ErrDeviceBusy) || errors.Is(err, ErrDeviceNotReady)
}

// transportCode maps a framer failure onto the taxonomy.
func transportCode(err error) Code {
	switch {
	case errors.Is(err, awusb.ErrTagMismatch), errors.Is(err, awusb.ErrSignature):
		return ErrProtocol
	case errors.Is(err, devices.UsbTimeoutError):
		return ErrTimeout
	}
	return ErrTransfer
}
