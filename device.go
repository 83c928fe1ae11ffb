package notwebusb

import (
	"errors"

	"github.com/charmbracelet/log"
)

// Device is the public façade: an Engine driven by one HIDDevice, plus the
// plumbing needed to keep packets in order when a write can't be queued
// immediately (base spec §2, §5).
type Device struct {
	hid    HIDDevice
	engine *Engine

	// pendingWrite holds an encoded report that WriteReport has already
	// refused once with ErrWouldBlock; it must be retried, in order,
	// before anything else is written.
	pendingWrite *RawReport
}

// New builds a Device around hid, gating tunneled U2F requests with filter
// (AcceptAllOrigins if nil).
func New(hid HIDDevice, filter OriginFilter) *Device {
	return &Device{
		hid:    hid,
		engine: NewEngine(filter, nil),
	}
}

// NewWithLogger is New, additionally wiring a logger into the engine for
// transition/warning output (SPEC_FULL.md's ambient logging section).
func NewWithLogger(hid HIDDevice, filter OriginFilter, logger *log.Logger) *Device {
	return &Device{
		hid:    hid,
		engine: NewEngine(filter, logger),
	}
}

// Poll drives one non-blocking iteration of the protocol: flush any
// previously-blocked write, read at most one incoming report and dispatch
// it, then drain one more packet of an in-progress multi-packet response
// if the incoming report didn't already produce one. It never blocks.
//
// A non-nil, non-fatal error return is impossible by construction: every
// *UsbError surfaced here has Fatal set, per base spec §7 taxon 3, and the
// caller should treat it as "re-enumerate the device" — all engine state
// has already been reset by the time this returns.
func (d *Device) Poll() error {
	if d.pendingWrite != nil {
		if err := d.flushPendingWrite(); err != nil {
			return err
		}
		if d.pendingWrite != nil {
			return nil // still blocked; preserve packet order, try again next poll
		}
	}

	report, err := d.hid.ReadReport()
	switch {
	case err == nil:
		resp, ok := d.engine.HandleReport(report)
		if ok {
			return d.writeResponse(resp)
		}
		// No immediate reply. Fall through to draining a staged response.

	case errors.Is(err, ErrWouldBlock):
		// No incoming report. Fall through to draining a staged response.

	default:
		d.engine.Reset()
		return fatalUsbError(err)
	}

	if d.engine.HasPendingOutboundPacket() {
		resp, ok := d.engine.NextOutboundPacket()
		if ok {
			return d.writeResponse(resp)
		}
	}
	return nil
}

// CheckPendingRequest returns the fully-reassembled application payload the
// host has finished sending, without consuming it. The application should
// call SendResponse once it has produced a reply.
func (d *Device) CheckPendingRequest() ([]byte, bool) {
	return d.engine.CheckPendingRequest()
}

// SendResponse hands the application's reply to the tunnel, to be
// packetized out over subsequent Poll calls. Returns ErrNoPendingRequest if
// CheckPendingRequest has not most recently reported a pending request.
func (d *Device) SendResponse(response []byte) error {
	return d.engine.SendResponse(response)
}

func (d *Device) writeResponse(resp Response) error {
	var raw RawReport
	resp.Encode(&raw)
	return d.writeRaw(raw)
}

func (d *Device) flushPendingWrite() error {
	raw := *d.pendingWrite
	if err := d.writeRaw(raw); err != nil {
		return err
	}
	return nil
}

// writeRaw pushes one encoded report to the host, applying the USB error
// taxonomy of base spec §7 taxon 3: WouldBlock queues it for retry,
// Duplicate is treated as success, anything else is fatal and resets all
// engine state.
func (d *Device) writeRaw(raw RawReport) error {
	err := d.hid.WriteReport(raw)
	switch {
	case err == nil, errors.Is(err, ErrDuplicate):
		d.pendingWrite = nil
		return nil
	case errors.Is(err, ErrWouldBlock):
		d.pendingWrite = &raw
		return nil
	default:
		d.engine.Reset()
		d.pendingWrite = nil
		return fatalUsbError(err)
	}
}
