package efex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/awfex/efex/pkg/awusb"
	"github.com/awfex/efex/pkg/devices"
)

// Transfer is one protocol command: a request, an optional data phase and a
// status.
type Transfer struct {
	Command Command
	Address uint32
	Length  uint32
	Flags   uint32

	Direction awusb.Direction
	// Data is sent to the device, or filled from it, depending on Direction.
	Data []byte
}

// Issuer sends protocol commands to a device. It is implemented by *Session,
// which serializes every call, and by *Conn, which is only valid inside
// Session.Do.
type Issuer interface {
	Issue(t *Transfer) (uint8, error)
	Mode() Mode
	Response() DeviceResponse
	// Invalidate marks the session unusable until it is reopened.
	Invalidate(cause error)
}

// Session owns one opened device. All methods are safe for concurrent use;
// commands are serialized so that only one request is ever in flight.
type Session struct {
	Desc *devices.Description

	mu     sync.Mutex
	usb    devices.Usb
	host   awusb.Host
	mode   Mode
	resp   DeviceResponse
	broken error
	closed bool
}

type Option func(*Session)

// WithTimeout sets the timeout applied to every bulk transfer.
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		s.host.Timeout = d
	}
}

// WithDescription records which device table entry the session was opened
// from.
func WithDescription(d *devices.Description) Option {
	return func(s *Session) {
		s.Desc = d
	}
}

// Open claims the bulk endpoints of usb and returns a session in ModeNull.
// On failure usb is closed.
func Open(usb devices.Usb, opts ...Option) (*Session, error) {
	eps, err := usb.ClaimEndpoints()
	if err != nil {
		usb.Close()
		return nil, NewError("open", ErrUsbOpen, err)
	}
	s := &Session{
		usb: usb,
		host: awusb.Host{
			Endpoints: eps,
			Timeout:   awusb.DefaultTimeout,
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Scan opens the first connected device in FEL/FES mode. Handshake must be
// called before issuing commands.
func Scan(opts ...Option) (*Session, error) {
	usb, desc, err := devices.Open()
	if err != nil {
		switch {
		case errors.Is(err, devices.NoDeviceError):
			return nil, NewError("scan", ErrDeviceNotFound, err)
		case errors.Is(err, devices.UsbInitError):
			return nil, NewError("scan", ErrUsbInit, err)
		}
		return nil, NewError("scan", ErrUsbOpen, err)
	}
	glog.Infof("Found %s device", desc.Name)
	return Open(usb, append([]Option{WithDescription(desc)}, opts...)...)
}

// Handshake queries the device identity and mode. It must be called once
// after Open.
func (s *Session) Handshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "handshake"
	data := make([]byte, ResponseSize)
	st, err := s.issue(&Transfer{
		Command:   CmdVerifyDevice,
		Direction: awusb.DataTransferFromDevice,
		Data:      data,
	})
	if err != nil {
		return err
	}
	if st != 0 {
		return NewError(op, ErrInvalidResponse, fmt.Errorf("device status %d", st))
	}
	var resp DeviceResponse
	binary.Read(bytes.NewReader(data), binary.LittleEndian, &resp)
	if resp.Mode.String() == "UNKNOWN" {
		return NewError(op, ErrInvalidResponse, fmt.Errorf("unknown device mode 0x%04x", uint16(resp.Mode)))
	}
	s.resp = resp
	s.mode = resp.Mode
	glog.Infof("Device 0x%08x, firmware 0x%08x, mode %s, data at 0x%08x", resp.ID, resp.Firmware, resp.Mode, resp.DataStartAddress)
	return nil
}

// Mode returns the tracked device mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Response returns the cached handshake response.
func (s *Session) Response() DeviceResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resp
}

func (s *Session) Invalidate(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate(cause)
}

func (s *Session) invalidate(cause error) {
	if s.broken == nil {
		glog.Warningf("Session invalidated: %v", cause)
		s.broken = cause
	}
}

// Issue sends a single command. The returned byte is the device status: the
// protocol status block for common and FEL commands, the status wrapper for
// FES commands.
func (s *Session) Issue(t *Transfer) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issue(t)
}

// Do runs fn with exclusive use of the session, so that multi-command
// sequences are never interleaved with other callers. The Conn must not be
// used after fn returns.
func (s *Session) Do(fn func(c *Conn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Conn{s: s})
}

// Conn is a session held by Session.Do.
type Conn struct {
	s *Session
}

func (c *Conn) Issue(t *Transfer) (uint8, error) {
	return c.s.issue(t)
}

func (c *Conn) Mode() Mode {
	return c.s.mode
}

func (c *Conn) Response() DeviceResponse {
	return c.s.resp
}

func (c *Conn) Invalidate(cause error) {
	c.s.invalidate(cause)
}

func (s *Session) usable(op string) error {
	if s.closed {
		return NewError(op, ErrNullHandle, fmt.Errorf("session closed"))
	}
	if s.broken != nil {
		return NewError(op, ErrInvalidState, fmt.Errorf("session unusable: %w", s.broken))
	}
	return nil
}

// checkMode rejects commands the device cannot accept in its tracked mode
// before anything is sent.
func (s *Session) checkMode(op string, cmd Command) error {
	if cmd == CmdVerifyDevice {
		return nil
	}
	if s.mode == ModeNull || !s.mode.Allows(cmd.Family()) {
		return NewError(op, ErrInvalidDeviceMode, fmt.Errorf("device is in %s mode", s.mode))
	}
	return nil
}

func (s *Session) issue(t *Transfer) (uint8, error) {
	op := t.Command.String()
	if err := s.usable(op); err != nil {
		return 0, err
	}
	if err := s.checkMode(op, t.Command); err != nil {
		return 0, err
	}
	if t.Direction != awusb.DataTransferNone && len(t.Data) == 0 {
		return 0, NewError(op, ErrInvalidParam, fmt.Errorf("empty data phase"))
	}

	glog.V(1).Infof("efex: %s addr 0x%08x len %d flags 0x%x", op, t.Address, t.Length, t.Flags)
	req := RequestBlock{
		Command: t.Command,
		Address: t.Address,
		Length:  t.Length,
		Flags:   t.Flags,
	}
	if t.Command.Family() == FamilyFES {
		return s.issueFES(op, req, t)
	}
	if err := s.exchange(op, awusb.DataTransferToDevice, req.Bytes()); err != nil {
		return 0, err
	}
	if t.Direction != awusb.DataTransferNone {
		if err := s.exchange(op, t.Direction, t.Data); err != nil {
			return 0, err
		}
	}
	sb := make([]byte, StatusBlockSize)
	if err := s.exchange(op, awusb.DataTransferFromDevice, sb); err != nil {
		return 0, err
	}
	var status StatusBlock
	binary.Read(bytes.NewReader(sb), binary.LittleEndian, &status)
	return status.State, nil
}

// issueFES sends a command the way FES firmware expects it: one raw request
// packet, an unwrapped data phase and a status wrapper whose status byte is
// the command result.
func (s *Session) issueFES(op string, req RequestBlock, t *Transfer) (uint8, error) {
	st, err := s.host.SendRaw(NewFESRequest(req).Bytes(), t.Direction, t.Data)
	if err != nil {
		if IsDesync(err) {
			s.invalidate(err)
		}
		return 0, NewError(op, transportCode(err), err)
	}
	return st, nil
}

func (s *Session) exchange(op string, dir awusb.Direction, data []byte) error {
	st, err := s.host.Send(dir, data)
	if err != nil {
		if IsDesync(err) {
			s.invalidate(err)
		}
		return NewError(op, transportCode(err), err)
	}
	if st != 0 {
		return NewError(op, ErrUnexpectedStatus, fmt.Errorf("status wrapper reported %d", st))
	}
	return nil
}

// Call issues t and fails with ErrOperationFailed if the device reports a
// non-zero status.
func Call(x Issuer, t *Transfer) error {
	st, err := x.Issue(t)
	if err != nil {
		return err
	}
	if st != 0 {
		return NewError(t.Command.String(), ErrOperationFailed, fmt.Errorf("device status %d", st))
	}
	return nil
}

// IsReady asks whether the device can accept the next command. A device that
// is not ready yields ErrDeviceNotReady, which is advisory.
func (s *Session) IsReady() error {
	st, err := s.Issue(&Transfer{Command: CmdIsReady})
	if err != nil {
		return err
	}
	if st != 0 {
		return NewError(CmdIsReady.String(), ErrDeviceNotReady, fmt.Errorf("device status %d", st))
	}
	return nil
}

// CommandSetVersion returns the protocol revision implemented by the device.
func (s *Session) CommandSetVersion() (CommandSetVersion, error) {
	var v CommandSetVersion
	data := make([]byte, 4)
	if err := Call(s, &Transfer{
		Command:   CmdGetCmdSetVer,
		Direction: awusb.DataTransferFromDevice,
		Data:      data,
	}); err != nil {
		return v, err
	}
	binary.Read(bytes.NewReader(data), binary.LittleEndian, &v)
	return v, nil
}

// SwitchRole moves a device in FEL mode into one of the service modes.
func (s *Session) SwitchRole(to Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op := CmdSwitchRole.String()
	if s.mode != ModeFEL {
		return NewError(op, ErrInvalidDeviceMode, fmt.Errorf("cannot switch role from %s mode", s.mode))
	}
	switch to {
	case ModeSRV, ModeUpdateCool, ModeUpdateHot:
	default:
		return NewError(op, ErrInvalidParam, fmt.Errorf("cannot switch role to %s mode", to))
	}
	if err := Call(&Conn{s: s}, &Transfer{Command: CmdSwitchRole, Address: uint32(to)}); err != nil {
		return err
	}
	glog.Infof("Switched role from %s to %s", s.mode, to)
	s.mode = to
	return nil
}

// Disconnect tells the device to end the session and releases the handle.
// Close must not be called afterwards.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := Call(&Conn{s: s}, &Transfer{Command: CmdDisconnect})
	if cerr := s.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Close releases the device handle. It must be called exactly once; a second
// call fails with ErrNullHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close()
}

func (s *Session) close() error {
	if s.closed {
		return NewError("close", ErrNullHandle, fmt.Errorf("session already closed"))
	}
	s.closed = true
	s.mode = ModeNull
	if err := s.usb.Close(); err != nil {
		return fmt.Errorf("when closing USB device: %w", err)
	}
	return nil
}
