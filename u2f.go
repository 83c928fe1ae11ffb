package notwebusb

// OriginFilter decides whether a given U2F application parameter (the
// SHA-256 hash of the relying party's origin, as computed by the browser)
// is allowed to tunnel data through this device. It is invoked once per
// Authenticate request and never produces an error: a rejection simply
// yields a valid-but-empty Authenticate response (base spec §4.4, §9).
type OriginFilter func(applicationParameter [32]byte) bool

// AcceptAllOrigins is the trivial OriginFilter that accepts every site.
func AcceptAllOrigins(_ [32]byte) bool { return true }

// u2fIns is the INS byte of a U2F APDU.
type u2fIns uint8

const (
	insRegister     u2fIns = 0x01
	insAuthenticate u2fIns = 0x02
	insVersion      u2fIns = 0x03
)

// AuthenticateControl is the P1 byte of a U2F Authenticate request.
type AuthenticateControl uint8

const (
	AuthCheckOnly           AuthenticateControl = 0x07
	AuthEnforcePresence     AuthenticateControl = 0x03
	AuthDontEnforcePresence AuthenticateControl = 0x08
	authUnknownControl      AuthenticateControl = 0x00 // sentinel, never a real P1 value used on the wire
)

func decodeAuthenticateControl(p1 byte) AuthenticateControl {
	switch p1 {
	case byte(AuthCheckOnly), byte(AuthEnforcePresence), byte(AuthDontEnforcePresence):
		return AuthenticateControl(p1)
	default:
		return authUnknownControl
	}
}

// statusWord is a U2F response status code (ISO 7816-4 style).
type statusWord uint16

const (
	statusSuccess                statusWord = 0x9000
	statusConditionsNotSatisfied statusWord = 0x6985
	statusWrongData              statusWord = 0x6A80
	statusWrongLength            statusWord = 0x6700
	statusClaNotSupported        statusWord = 0x6E00
	statusInsNotSupported        statusWord = 0x6D00
)

// apduRequest is a decoded U2F request APDU (base spec §4.4).
type apduRequest struct {
	ins u2fIns

	// insAuthenticate
	control              AuthenticateControl
	challengeParameter   [32]byte
	applicationParameter [32]byte
	keyHandle            []byte

	// unrecognized INS
	cla, rawIns byte
}

// decodeAPDU parses an assembled U2F APDU: [CLA, INS, P1, P2, Lc-or-00, ...].
// Byte 4 of zero selects the extended length form (u16 BE length at bytes
// 5..7, body at byte 7); any other value is the short form (length is that
// byte itself, body starts at byte 5). A message too short for the lengths
// it declares decodes as the zero apduRequest (INS 0x00), which
// handleU2FMessage answers with INS_NOT_SUPPORTED.
func decodeAPDU(message []byte) apduRequest {
	if len(message) < 5 || (message[4] == 0 && len(message) < 7) {
		return apduRequest{}
	}
	cla := message[0]
	ins := message[1]
	p1 := message[2]

	var length int
	var bodyStart int
	if message[4] == 0 {
		length = int(beUint16(message[5:7]))
		bodyStart = 7
	} else {
		length = int(message[4])
		bodyStart = 5
	}
	if bodyStart+length > len(message) {
		return apduRequest{}
	}
	body := message[bodyStart : bodyStart+length]

	switch u2fIns(ins) {
	case insAuthenticate:
		if len(body) < 65 || len(body) < 65+int(body[64]) {
			return apduRequest{}
		}
		keyHandleLen := int(body[64])
		keyHandle := make([]byte, keyHandleLen)
		copy(keyHandle, body[65:65+keyHandleLen])
		req := apduRequest{
			ins:       insAuthenticate,
			control:   decodeAuthenticateControl(p1),
			keyHandle: keyHandle,
		}
		copy(req.challengeParameter[:], body[0:32])
		copy(req.applicationParameter[:], body[32:64])
		return req
	case insVersion:
		return apduRequest{ins: insVersion}
	case insRegister:
		// Legacy: parsed so CLA/INS dispatch is uniform, but never used
		// to carry tunnel payload (base spec §4.4). Treated the same as
		// an unsupported instruction below.
		return apduRequest{ins: insRegister, cla: cla, rawIns: ins}
	default:
		return apduRequest{ins: u2fIns(ins), cla: cla, rawIns: ins}
	}
}

// encodeVersionResponse builds the response to a U2F Version request:
// the ASCII string "U2F_V2" followed by a success status word.
func encodeVersionResponse() []byte {
	out := make([]byte, 0, 8)
	out = append(out, []byte("U2F_V2")...)
	return appendStatusWord(out, statusSuccess)
}

// encodeStatusResponse builds a response carrying nothing but a status
// word, used for every error case in base spec §4.4.
func encodeStatusResponse(code statusWord) []byte {
	return appendStatusWord(nil, code)
}

func appendStatusWord(out []byte, code statusWord) []byte {
	buf := make([]byte, 2)
	putBE16(buf, uint16(code))
	return append(out, buf...)
}

// encodeAuthenticateResponse builds a U2F Authenticate success response:
// user presence byte, 32-bit BE counter, the (possibly smuggled) ASN.1
// signature, and a trailing success status word (base spec §4.4).
func encodeAuthenticateResponse(userPresence bool, counter uint32, signature []byte) []byte {
	out := make([]byte, 0, 1+4+len(signature)+2)
	if userPresence {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	counterBytes := make([]byte, 4)
	putBE32(counterBytes, counter)
	out = append(out, counterBytes...)
	out = append(out, signature...)
	return appendStatusWord(out, statusSuccess)
}

// --- signature smuggling (base spec §4.4) ---

const (
	smuggleIntegerBodyLen = 0x20                                       // ASN.1 INTEGER content length, including the 0x7F sign-guard byte
	smuggleIntegerPayload = smuggleIntegerBodyLen - 1                  // 0x1F: bytes of real payload per INTEGER
	smuggleLengthPrefix   = 4                                          // bytes of the first INTEGER reserved for the total-length header
	smuggleFirstPayload   = smuggleIntegerPayload - smuggleLengthPrefix // 0x1B: payload bytes in INTEGER 1 of the first response
)

// buildSmuggledSignature encodes the next chunk of response bytes into a
// synthetic ASN.1 SEQUENCE of two fixed-width INTEGERs, exactly as
// described in base spec §4.4:
//
//	30 44                 ; SEQUENCE, 0x44 bytes follow
//	02 20 7F <31 bytes>   ; INTEGER 1
//	02 20 7F <31 bytes>   ; INTEGER 2
//
// The very first call for a given response (bytesSent == 0 on entry)
// reserves the first 4 bytes of INTEGER 1 for the big-endian total
// response length; later calls use the full 62 bytes of body for payload.
// *bytesSent is advanced by however much payload was written.
func buildSmuggledSignature(response []byte, bytesSent *uint32) []byte {
	sig := make([]byte, 0, 0x46)
	sig = append(sig, 0x30, 0x44)

	first := *bytesSent == 0

	sig = append(sig, 0x02, smuggleIntegerBodyLen, 0x7F)
	if first {
		lengthBytes := make([]byte, 4)
		putBE32(lengthBytes, uint32(len(response)))
		sig = append(sig, lengthBytes...)
		sig = appendPayloadChunk(sig, response, bytesSent, smuggleFirstPayload)
	} else {
		sig = appendPayloadChunk(sig, response, bytesSent, smuggleIntegerPayload)
	}

	sig = append(sig, 0x02, smuggleIntegerBodyLen, 0x7F)
	sig = appendPayloadChunk(sig, response, bytesSent, smuggleIntegerPayload)

	return sig
}

// appendPayloadChunk writes up to want bytes of response starting at
// *bytesSent, zero-padding to exactly want bytes, and advances *bytesSent.
func appendPayloadChunk(out []byte, response []byte, bytesSent *uint32, want int) []byte {
	remaining := len(response) - int(*bytesSent)
	n := want
	if remaining < n {
		n = remaining
	}
	if n < 0 {
		n = 0
	}
	out = append(out, response[*bytesSent:int(*bytesSent)+n]...)
	for i := n; i < want; i++ {
		out = append(out, 0)
	}
	*bytesSent += uint32(n)
	return out
}

// u2fOutcome is the result of handling one assembled U2F message.
type u2fOutcomeKind int

const (
	// u2fOutcomeImmediateResponse: ResponseBytes is ready to stage in the
	// outbound ring right away.
	u2fOutcomeImmediateResponse u2fOutcomeKind = iota
	// u2fOutcomeTunnelChunk: the Authenticate's key handle is one chunk of
	// tunneled request data for the transport FSM (§4.6); no U2F response
	// is emitted until the FSM produces one.
	u2fOutcomeTunnelChunk
)

type u2fOutcome struct {
	kind          u2fOutcomeKind
	responseBytes []byte
	tunnelChunk   []byte
}

// handleU2FMessage implements base spec §4.4's Authenticate handling table.
func handleU2FMessage(message []byte, filter OriginFilter) u2fOutcome {
	req := decodeAPDU(message)

	switch req.ins {
	case insAuthenticate:
		switch req.control {
		case AuthCheckOnly:
			// Per U2F, this signals "key handle is valid, but user
			// interaction required". Browsers treat it as success for
			// credential discovery.
			return u2fOutcome{kind: u2fOutcomeImmediateResponse, responseBytes: encodeStatusResponse(statusConditionsNotSatisfied)}
		default:
			// Per the reference implementation, any control value
			// other than CheckOnly (including an unrecognized P1) is
			// subject to the origin filter rather than rejected
			// outright.
			if filter(req.applicationParameter) {
				return u2fOutcome{kind: u2fOutcomeTunnelChunk, tunnelChunk: req.keyHandle}
			}
			// Rejected: return a well-formed response with an empty
			// signature, indistinguishable from a device without the
			// credential.
			return u2fOutcome{kind: u2fOutcomeImmediateResponse, responseBytes: encodeAuthenticateResponse(true, 0, nil)}
		}
	case insVersion:
		return u2fOutcome{kind: u2fOutcomeImmediateResponse, responseBytes: encodeVersionResponse()}
	default:
		// insRegister and any truly unknown INS both answer with
		// INS_NOT_SUPPORTED; real attestation/registration is a
		// non-goal.
		return u2fOutcome{kind: u2fOutcomeImmediateResponse, responseBytes: encodeStatusResponse(statusInsNotSupported)}
	}
}
