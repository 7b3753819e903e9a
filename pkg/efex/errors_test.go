package efex

import (
	"errors"
	"fmt"
	"testing"

	"github.com/awfex/efex/pkg/awusb"
	"github.com/awfex/efex/pkg/devices"
)

func TestCategories(t *testing.T) {
	for _, tc := range []struct {
		code Code
		want Category
	}{
		{ErrInvalidParam, CategoryParameter},
		{ErrNotSupported, CategoryParameter},
		{ErrUsbInit, CategoryTransport},
		{ErrTimeout, CategoryTransport},
		{ErrProtocol, CategoryProtocol},
		{ErrInvalidDeviceMode, CategoryProtocol},
		{ErrDeviceBusy, CategoryOperation},
		{ErrFlashSetOnOff, CategoryFlash},
		{ErrCRCMismatch, CategoryVerification},
		{ErrFileSize, CategoryFile},
	} {
		if got := tc.code.Category(); got != tc.want {
			t.Errorf("%d (%v): category %s, want %s", int(tc.code), tc.code, got, tc.want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("status read failed: %w", devices.UsbTimeoutError)
	err := NewError("fel-read", transportCode(cause), cause)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("%v is not a timeout", err)
	}
	if !errors.Is(err, devices.UsbTimeoutError) {
		t.Errorf("%v lost its cause", err)
	}
	if c, ok := CodeOf(fmt.Errorf("wrapped: %w", err)); !ok || c != ErrTimeout {
		t.Errorf("CodeOf = %v, %v", c, ok)
	}
	if got, want := err.Error(), "fel-read: USB transfer timeout: status read failed: USB timeout error"; got != want {
		t.Errorf("message %q, want %q", got, want)
	}
}

func TestTransportCode(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want Code
	}{
		{fmt.Errorf("x: %w", awusb.ErrTagMismatch), ErrProtocol},
		{awusb.ErrSignature, ErrProtocol},
		{devices.UsbTimeoutError, ErrTimeout},
		{awusb.ErrShortTransfer, ErrTransfer},
		{errors.New("pipe error"), ErrTransfer},
	} {
		if got := transportCode(tc.err); got != tc.want {
			t.Errorf("transportCode(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
