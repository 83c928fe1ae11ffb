package notwebusb

// applicationHeader is the 1-byte header prepended to every user-level
// chunk carried inside a U2F key handle (request direction), base spec
// §4.6.
type applicationHeader uint8

const (
	// headerInitialChunk: more request chunks follow.
	headerInitialChunk applicationHeader = 0
	// headerPoll: the host asks the device to deliver more response
	// bytes.
	headerPoll applicationHeader = 1
	// headerFinalChunk: no more request chunks.
	headerFinalChunk applicationHeader = 2
)

func parseApplicationHeader(b byte) (applicationHeader, bool) {
	switch applicationHeader(b) {
	case headerInitialChunk, headerPoll, headerFinalChunk:
		return applicationHeader(b), true
	default:
		return 0, false
	}
}

// userDataStateKind tags UserDataState.
type userDataStateKind int

const (
	userDataNone userDataStateKind = iota
	userDataReceivingRequest
	userDataReceivedRequest
	userDataSendingResponse
)

// UserDataState is the application-level tunnel state machine riding on
// top of repeated U2F Authenticate calls (base spec §3, §4.6).
type UserDataState struct {
	kind          userDataStateKind
	buf           []byte // ReceivingRequest/ReceivedRequest accumulator, or SendingResponse's response body
	bytesSent     uint32 // SendingResponse progress
	pendingRequest bool   // SendingResponse: a poll byte arrived and is owed a reply
}

// tunnelEvent is the outcome of feeding one Authenticate arrival through
// the transport FSM.
type tunnelEventKind int

const (
	tunnelEventNone tunnelEventKind = iota
	// tunnelEventAckEmptySignature: reply to this Authenticate with an
	// empty-signature success response (acknowledging receipt of one
	// request chunk without yet having a real response to smuggle).
	tunnelEventAckEmptySignature
	// tunnelEventDeliverResponseChunk: emit the next smuggled response
	// chunk now.
	tunnelEventDeliverResponseChunk
)

type tunnelEvent struct {
	kind tunnelEventKind
}

// handleTunnelChunk advances the FSM on arrival of an accepted-origin
// Authenticate carrying application header byte h and body b (the key
// handle bytes after the header). It implements the transition table in
// base spec §4.6. A returned error is always one of the tunnel-level
// protocol-misuse sentinels from errors.go; the caller
// (Engine.handleTunnelOutcome in ctaphid.go) logs it, resets UserDataState
// to None and answers with U2F status 0x6A80 (wrong data).
func (s *UserDataState) handleTunnelChunk(raw byte, body []byte) (tunnelEvent, error) {
	header, ok := parseApplicationHeader(raw)
	if !ok {
		return tunnelEvent{}, ErrUnknownHeader
	}

	switch s.kind {
	case userDataNone:
		switch header {
		case headerInitialChunk:
			s.kind = userDataReceivingRequest
			s.buf = append([]byte(nil), body...)
			return tunnelEvent{kind: tunnelEventAckEmptySignature}, nil
		case headerFinalChunk:
			s.kind = userDataReceivedRequest
			s.buf = append([]byte(nil), body...)
			return tunnelEvent{kind: tunnelEventAckEmptySignature}, nil
		default: // headerPoll
			return tunnelEvent{}, ErrUnexpectedHeader
		}

	case userDataReceivingRequest:
		switch header {
		case headerInitialChunk:
			s.buf = append(s.buf, body...)
			return tunnelEvent{kind: tunnelEventAckEmptySignature}, nil
		case headerFinalChunk:
			s.buf = append(s.buf, body...)
			s.kind = userDataReceivedRequest
			return tunnelEvent{kind: tunnelEventAckEmptySignature}, nil
		default: // headerPoll
			return tunnelEvent{}, ErrUnexpectedHeader
		}

	case userDataReceivedRequest:
		switch header {
		case headerPoll:
			// The application hasn't produced a response yet; keep the
			// host polling with an empty-signature ack rather than
			// erroring (base spec §4.6).
			return tunnelEvent{kind: tunnelEventAckEmptySignature}, nil
		default:
			// A new request chunk arrived while a previous one is still
			// unresolved by the application (SPEC_FULL.md item 3).
			return tunnelEvent{}, ErrDuplicateRequest
		}

	case userDataSendingResponse:
		if header != headerPoll {
			return tunnelEvent{}, ErrUnexpectedHeader
		}
		s.pendingRequest = true
		return tunnelEvent{kind: tunnelEventDeliverResponseChunk}, nil

	default:
		return tunnelEvent{}, ErrUnexpectedHeader
	}
}

// checkPendingRequest returns the buffered request iff the state is
// ReceivedRequest, without consuming it.
func (s *UserDataState) checkPendingRequest() ([]byte, bool) {
	if s.kind == userDataReceivedRequest {
		return s.buf, true
	}
	return nil, false
}

// sendResponse transitions ReceivedRequest -> SendingResponse. Returns
// ErrNoPendingRequest if called in any other state.
func (s *UserDataState) sendResponse(response []byte) error {
	if s.kind != userDataReceivedRequest {
		return ErrNoPendingRequest
	}
	*s = UserDataState{
		kind:           userDataSendingResponse,
		buf:            response,
		bytesSent:      0,
		pendingRequest: true,
	}
	return nil
}

// nextResponseChunk produces the next smuggled signature chunk for the
// in-progress SendingResponse, clearing pendingRequest and transitioning
// back to None once the whole buffer has been sent.
func (s *UserDataState) nextResponseChunk() []byte {
	sig := buildSmuggledSignature(s.buf, &s.bytesSent)
	s.pendingRequest = false
	if s.bytesSent >= uint32(len(s.buf)) {
		*s = UserDataState{}
	}
	return sig
}

// reset returns the FSM to None, discarding any partial tunnel state. Used
// both for tunnel-level protocol misuse (§7 taxon 2) and for a fatal USB
// reset (§3 lifecycle).
func (s *UserDataState) reset() {
	*s = UserDataState{}
}
