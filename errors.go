package notwebusb

import "errors"

// UsbError classifies the outcome of a non-blocking HID report read/write,
// per base spec §7 taxon 3.
type UsbError struct {
	// Fatal is true when the error is not WouldBlock/Duplicate and the
	// caller must decide whether to re-enumerate the device. All engine
	// state has already been reset by the time this is returned.
	Fatal bool
	Err   error
}

func (e *UsbError) Error() string {
	return e.Err.Error()
}

func (e *UsbError) Unwrap() error {
	return e.Err
}

func fatalUsbError(err error) *UsbError {
	return &UsbError{Fatal: true, Err: err}
}

// Sentinel errors surfaced by the HIDDevice interface. A conforming
// implementation returns ErrWouldBlock from Read when no report is
// available and from Write when the report could not be queued yet;
// ErrDuplicate may be returned from Write when the host already has an
// identical outstanding report (treated as success, see poll()).
var (
	ErrWouldBlock = errors.New("notwebusb: usb operation would block")
	ErrDuplicate  = errors.New("notwebusb: duplicate report, treated as success")
)

// Ring buffer errors.
var (
	// ErrInsufficientSpace is returned by Ring.GrantExact when fewer than
	// n contiguous bytes are free.
	ErrInsufficientSpace = errors.New("notwebusb: ring has insufficient contiguous space")
	// ErrNothingReadable is returned by Ring.Read when there are no bytes
	// available to read. This is the expected, non-error steady state
	// when no response is being staged.
	ErrNothingReadable = errors.New("notwebusb: ring has nothing readable")
	// ErrReleaseExceedsReadable is returned by Ring.Release if asked to
	// release more bytes than were returned by the preceding Read.
	ErrReleaseExceedsReadable = errors.New("notwebusb: release exceeds last read length")
	// ErrCommitExceedsGrant is returned by Ring.Commit if asked to commit
	// more bytes than were granted.
	ErrCommitExceedsGrant = errors.New("notwebusb: commit exceeds granted length")
)

// Protocol-level errors, taxon 1 of base spec §7: each of these corresponds
// 1:1 to a CTAPHID ERROR frame emitted on the wire. Engine.errorResponse
// maps each to its wire code through protocolErrorCodes.
var (
	ErrInvalidCommand  = errors.New("notwebusb: invalid ctaphid command")
	ErrInvalidLen      = errors.New("notwebusb: invalid ctaphid payload length")
	ErrInvalidSeq      = errors.New("notwebusb: invalid continuation sequence")
	ErrChannelBusy     = errors.New("notwebusb: channel busy, transaction already in progress")
	ErrKeepAliveCancel = errors.New("notwebusb: transaction cancelled by host")
	ErrInvalidChannel  = errors.New("notwebusb: unknown channel id")

	// ErrSequenceOverflow is returned when a continuation sequence would
	// step past 127. The engine only stages responses far smaller than
	// MaxCTAPHIDMessage, so no wire input can trigger it today. See
	// DESIGN.md Open Question 2.
	ErrSequenceOverflow = errors.New("notwebusb: continuation sequence would wrap past 127")
)

// Tunnel-level protocol misuse, taxon 2 of base spec §7. Each is a distinct
// sentinel per SPEC_FULL.md item 3 (the original Rust source panics on all
// three; this implementation resets UserDataState and logs why instead).
var (
	ErrUnknownHeader     = errors.New("notwebusb: unknown application header byte")
	ErrUnexpectedHeader  = errors.New("notwebusb: application header not valid for current tunnel state")
	ErrDuplicateRequest  = errors.New("notwebusb: new request received while previous request is unresolved")
	ErrNoPendingRequest  = errors.New("notwebusb: SendResponse called without a pending request")
	ErrPollWhileResponse = errors.New("notwebusb: poll byte received while no response is pending")
)

// CTAPHIDError is the wire-level error code carried in an ERROR frame
// (command 0x3F, one payload byte).
type CTAPHIDError uint8

const (
	CTAPHIDErrInvalidCommand CTAPHIDError = 0x01
	CTAPHIDErrInvalidLen     CTAPHIDError = 0x03
	CTAPHIDErrInvalidSeq     CTAPHIDError = 0x04
	CTAPHIDErrChannelBusy    CTAPHIDError = 0x06
	CTAPHIDErrInvalidChannel CTAPHIDError = 0x0B
	CTAPHIDErrKeepAlive      CTAPHIDError = 0x2D
)

var protocolErrorCodes = map[error]CTAPHIDError{
	ErrInvalidCommand:  CTAPHIDErrInvalidCommand,
	ErrInvalidLen:      CTAPHIDErrInvalidLen,
	ErrInvalidSeq:      CTAPHIDErrInvalidSeq,
	ErrChannelBusy:     CTAPHIDErrChannelBusy,
	ErrInvalidChannel:  CTAPHIDErrInvalidChannel,
	ErrKeepAliveCancel: CTAPHIDErrKeepAlive,
}
