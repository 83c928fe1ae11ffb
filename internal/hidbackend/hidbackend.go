// Package hidbackend adapts github.com/karalabe/hid's blocking Device
// interface to the non-blocking notwebusb.HIDDevice contract, the way the
// reference hidapi Device in karalabe/hid exposes Read/ReadTimeout/Write
// over cgo (see other_examples' hid_enabled.go for the underlying call
// shapes this wraps).
package hidbackend

import (
	"fmt"

	"github.com/karalabe/hid"

	notwebusb "github.com/aelzeiny/not-webusb"
)

// Backend is a notwebusb.HIDDevice backed by a real USB HID device opened
// through karalabe/hid.
type Backend struct {
	dev hid.Device
}

// Open enumerates for a device matching vendorID/productID and opens the
// first match.
func Open(vendorID, productID uint16) (*Backend, error) {
	infos, err := hid.Enumerate(vendorID, productID)
	if err != nil {
		return nil, fmt.Errorf("hidbackend: enumerate: %w", err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("hidbackend: no device matching vid=%#04x pid=%#04x", vendorID, productID)
	}
	dev, err := infos[0].Open()
	if err != nil {
		return nil, fmt.Errorf("hidbackend: open: %w", err)
	}
	return &Backend{dev: dev}, nil
}

// Close releases the underlying device handle.
func (b *Backend) Close() error {
	return b.dev.Close()
}

// ReadReport implements notwebusb.HIDDevice. A zero timeout makes
// ReadTimeout non-blocking: no report available surfaces as
// notwebusb.ErrWouldBlock rather than parking the poll loop.
func (b *Backend) ReadReport() (notwebusb.RawReport, error) {
	var raw notwebusb.RawReport
	n, err := b.dev.ReadTimeout(raw[:], 0)
	if err != nil {
		return raw, fmt.Errorf("hidbackend: read: %w", err)
	}
	if n == 0 {
		return raw, notwebusb.ErrWouldBlock
	}
	return raw, nil
}

// WriteReport implements notwebusb.HIDDevice.
func (b *Backend) WriteReport(report notwebusb.RawReport) error {
	n, err := b.dev.Write(report[:])
	if err != nil {
		return fmt.Errorf("hidbackend: write: %w", err)
	}
	if n != notwebusb.ReportSize {
		return fmt.Errorf("hidbackend: short write: wrote %d of %d bytes", n, notwebusb.ReportSize)
	}
	return nil
}
