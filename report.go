package notwebusb

// ReportSize is the fixed size of every CTAPHID HID report, in both
// directions.
const ReportSize = 64

const (
	initHeaderSize         = 7 // cid(4) + cmd(1) + bcnt(2)
	continuationHeaderSize = 5 // cid(4) + seq(1)
	maxInitPayload         = ReportSize - initHeaderSize         // 57
	maxContinuationPayload = ReportSize - continuationHeaderSize // 59
)

// MaxCTAPHIDMessage is the largest total payload a single CTAPHID message
// may carry, per the FIDO CTAPHID spec and base spec §3.
const MaxCTAPHIDMessage = 7609

// RawReport is one 64-byte HID report, read from or written to the class
// driver verbatim.
type RawReport [ReportSize]byte

// ChannelID is a CTAPHID channel identifier (CID), big-endian on the wire.
type ChannelID uint32

const (
	// BroadcastChannelID is used only for the initial INIT handshake.
	BroadcastChannelID ChannelID = 0xFFFFFFFF
	// reservedChannelID (0x00000000) must never be allocated.
	reservedChannelID ChannelID = 0x00000000
)

// Command is the raw wire value of byte 4 of an initialization frame (MSB
// set). Continuation frames instead carry a 0-127 sequence number in the
// same byte position; see isInitializationFrame.
//
// CmdError is a quirk inherited unchanged from the reference implementation
// (rukai/not-webusb-rs): it is emitted without the initialization-frame MSB
// set, unlike every other command here.
type Command uint8

const (
	CmdPing   Command = 0x81
	CmdMsg    Command = 0x83 // U2F-tunneled message, both directions
	CmdInit   Command = 0x86
	CmdCBOR   Command = 0x90
	CmdCancel Command = 0x91
	CmdError  Command = 0x3F
)

func isInitializationFrame(b byte) bool {
	return b&0x80 != 0
}

// MessageType distinguishes the two message-carrying commands.
type MessageType int

const (
	MessageTypeU2F MessageType = iota
	MessageTypeCBOR
)

func (t MessageType) command() Command {
	if t == MessageTypeCBOR {
		return CmdCBOR
	}
	return CmdMsg
}

// RequestKind tags the variant carried by a parsed Request.
type RequestKind int

const (
	RequestInit RequestKind = iota
	RequestPing
	RequestMessageInitial
	RequestMessageContinuation
	RequestCancel
	RequestUnknown
)

// Request is the parsed form of one inbound 64-byte HID report. Exactly the
// fields relevant to Kind are populated; see base spec §4.1.
type Request struct {
	CID  ChannelID
	Kind RequestKind

	// RequestInit
	Nonce [8]byte

	// RequestMessageInitial
	MessageType  MessageType
	PayloadTotal uint16
	InitialData  []byte // up to 57 bytes

	// RequestMessageContinuation
	Sequence uint8
	ContData []byte // up to 59 bytes

	// RequestUnknown
	RawCommand byte
}

// ParseRequest decodes one raw HID report into a typed Request.
func ParseRequest(report RawReport) Request {
	cid := ChannelID(beUint32(report[0:4]))
	b4 := report[4]

	if !isInitializationFrame(b4) {
		data := make([]byte, maxContinuationPayload)
		copy(data, report[5:])
		return Request{
			CID:      cid,
			Kind:     RequestMessageContinuation,
			Sequence: b4,
			ContData: data,
		}
	}

	switch Command(b4) {
	case CmdPing:
		return Request{CID: cid, Kind: RequestPing}
	case CmdInit:
		var nonce [8]byte
		copy(nonce[:], report[7:15])
		return Request{CID: cid, Kind: RequestInit, Nonce: nonce}
	case CmdMsg, CmdCBOR:
		bcnt := beUint16(report[5:7])
		data := make([]byte, maxInitPayload)
		copy(data, report[7:])
		mt := MessageTypeU2F
		if Command(b4) == CmdCBOR {
			mt = MessageTypeCBOR
		}
		return Request{
			CID:          cid,
			Kind:         RequestMessageInitial,
			MessageType:  mt,
			PayloadTotal: bcnt,
			InitialData:  data,
		}
	case CmdCancel:
		return Request{CID: cid, Kind: RequestCancel}
	default:
		return Request{CID: cid, Kind: RequestUnknown, RawCommand: b4}
	}
}

// ResponseKind tags the variant of an outbound Response.
type ResponseKind int

const (
	ResponseInit ResponseKind = iota
	ResponseMessage
	ResponseRaw
	ResponseError
)

// InitResponsePayload is the body of a CmdInit response.
type InitResponsePayload struct {
	Nonce              [8]byte
	NewChannelID       ChannelID
	ProtocolVersion    uint8
	DeviceVersionMajor uint8
	DeviceVersionMinor uint8
	DeviceVersionBuild uint8
	Capabilities       uint8
}

// Response is one outbound CTAPHID frame, ready to encode.
type Response struct {
	CID               ChannelID
	Kind              ResponseKind
	ContinuationState ContinuationState

	Init InitResponsePayload

	// ResponseMessage
	MessageType MessageType
	// TotalLength is only meaningful (and only encoded) in the Initial
	// continuation state; it becomes the frame's bcnt field.
	TotalLength uint16
	Data        []byte

	// ResponseRaw
	Raw RawReport

	// ResponseError
	ErrorCode CTAPHIDError
}

// Encode writes r into out, a full zero-filled 64-byte report. Every
// outbound report is zero-filled before encoding so trailing bytes are
// deterministic, per base spec §4.1.
func (r Response) Encode(out *RawReport) {
	for i := range out {
		out[i] = 0
	}

	switch r.Kind {
	case ResponseInit:
		encodeInitHeader(out, r.CID, CmdInit, 17)
		data := out[7:]
		copy(data[0:8], r.Init.Nonce[:])
		putBE32(data[8:12], uint32(r.Init.NewChannelID))
		// data[12] is intentionally left zero: the reference
		// implementation (rukai/not-webusb-rs) leaves a reserved byte
		// here between the channel id and the protocol version.
		data[13] = r.Init.ProtocolVersion
		data[14] = r.Init.DeviceVersionMajor
		data[15] = r.Init.DeviceVersionMinor
		data[16] = r.Init.DeviceVersionBuild
		data[17] = r.Init.Capabilities

	case ResponseMessage:
		switch r.ContinuationState.kind {
		case continuationInitial:
			encodeInitHeader(out, r.CID, r.MessageType.command(), r.TotalLength)
			copy(out[7:7+len(r.Data)], r.Data)
		case continuationFollowup:
			encodeContinuationHeader(out, r.CID, r.ContinuationState.sequence)
			copy(out[5:5+len(r.Data)], r.Data)
		}

	case ResponseRaw:
		*out = r.Raw

	case ResponseError:
		encodeInitHeader(out, r.CID, CmdError, 1)
		out[7] = byte(r.ErrorCode)
	}
}

func encodeInitHeader(out *RawReport, cid ChannelID, cmd Command, bcnt uint16) {
	putBE32(out[0:4], uint32(cid))
	out[4] = byte(cmd)
	putBE16(out[5:7], bcnt)
}

func encodeContinuationHeader(out *RawReport, cid ChannelID, seq uint8) {
	putBE32(out[0:4], uint32(cid))
	out[4] = seq
}
