package notwebusb

import (
	"io"

	"github.com/charmbracelet/log"
)

// Engine is the CTAPHID-level protocol state machine: channel allocation,
// one in-flight transaction, response packetization, and the U2F/CBOR
// message dispatch and tunnel FSM layered on top of it (base spec §3, §4).
// An Engine is not safe for concurrent use; base spec §5 assumes a single
// cooperative poll loop, mirrored here by Device.Poll.
type Engine struct {
	nextCID   ChannelID
	knownCIDs map[ChannelID]bool

	txn *Transaction

	tunnel UserDataState
	filter OriginFilter

	ring       *Ring
	respActive bool
	respCID    ChannelID
	respType   MessageType
	respTotal  uint16
	respState  ContinuationState

	logger *log.Logger
}

// NewEngine constructs an Engine. filter gates which U2F application
// parameters (origins) may tunnel data through it; logger receives
// transition/debug/warning output per SPEC_FULL.md's ambient logging
// section. A nil logger disables logging.
func NewEngine(filter OriginFilter, logger *log.Logger) *Engine {
	if filter == nil {
		filter = AcceptAllOrigins
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Engine{
		nextCID:   1,
		knownCIDs: make(map[ChannelID]bool),
		ring:      NewRing(2 * MaxCTAPHIDMessage),
		filter:    filter,
		logger:    logger,
	}
}

func (e *Engine) allocateChannelID() ChannelID {
	for {
		cid := e.nextCID
		e.nextCID++
		if cid == reservedChannelID || cid == BroadcastChannelID {
			continue
		}
		e.knownCIDs[cid] = true
		return cid
	}
}

// HandleReport processes one inbound 64-byte HID report, returning a
// response frame to send immediately, if any. A false second return means
// no reply is due yet (the message is still being assembled, or the report
// was silently ignored per base spec §4.6).
func (e *Engine) HandleReport(in RawReport) (Response, bool) {
	req := ParseRequest(in)

	switch req.Kind {
	case RequestInit:
		return e.handleInit(req), true

	case RequestPing:
		// Echoed verbatim on any CID, including one never allocated by
		// this engine (SPEC_FULL.md item 4).
		return Response{CID: req.CID, Kind: ResponseRaw, Raw: in}, true

	case RequestMessageInitial:
		return e.handleMessageInitial(req)

	case RequestMessageContinuation:
		return e.handleMessageContinuation(req)

	case RequestCancel:
		return e.handleCancel(req)

	default:
		e.logger.Warn("unrecognized ctaphid command", "cid", req.CID, "cmd", req.RawCommand)
		return e.errorResponse(req.CID, ErrInvalidCommand), true
	}
}

func (e *Engine) handleInit(req Request) Response {
	cid := e.allocateChannelID()
	e.logger.Debug("init", "new_cid", cid)
	return Response{
		CID:  req.CID,
		Kind: ResponseInit,
		Init: InitResponsePayload{
			Nonce:              req.Nonce,
			NewChannelID:       cid,
			ProtocolVersion:    2,
			DeviceVersionMajor: 1,
			DeviceVersionMinor: 0,
			DeviceVersionBuild: 0,
			Capabilities:       0,
		},
	}
}

func (e *Engine) handleMessageInitial(req Request) (Response, bool) {
	if e.txn != nil || e.respActive {
		// Busy covers both an in-progress request reassembly and a prior
		// response still draining out over subsequent polls - accepting a
		// new request before the host has read the old response back
		// would discard it out from under the host (base spec §3, §4.3).
		e.logger.Warn("channel busy", "cid", req.CID)
		return e.errorResponse(req.CID, ErrChannelBusy), true
	}
	if !e.knownCIDs[req.CID] {
		e.logger.Warn("message on unknown channel", "cid", req.CID)
		return e.errorResponse(req.CID, ErrInvalidChannel), true
	}
	if req.PayloadTotal > MaxCTAPHIDMessage {
		e.logger.Warn("oversized message", "cid", req.CID, "bcnt", req.PayloadTotal)
		return e.errorResponse(req.CID, ErrInvalidLen), true
	}

	txn := newTransaction(req.CID, req.MessageType, req.PayloadTotal)
	complete := txn.appendInitial(req.InitialData)
	if !complete {
		e.txn = txn
		return Response{}, false
	}
	return e.dispatchMessage(txn)
}

func (e *Engine) handleMessageContinuation(req Request) (Response, bool) {
	if e.txn == nil || req.CID != e.txn.CID {
		// Stray continuation for no (or the wrong) transaction: ignored,
		// per SPEC_FULL.md item 4.
		return Response{}, false
	}
	if req.Sequence != e.txn.requestSequence {
		txn := e.txn
		e.txn = nil
		e.logger.Warn("invalid continuation sequence", "cid", req.CID, "got", req.Sequence, "want", txn.requestSequence)
		return e.errorResponse(req.CID, ErrInvalidSeq), true
	}

	complete := e.txn.appendContinuation(req.ContData)
	if !complete {
		return Response{}, false
	}
	txn := e.txn
	e.txn = nil
	return e.dispatchMessage(txn)
}

// handleCancel implements CANCEL: if a transaction is in progress on req's
// channel, it's torn down and a KEEPALIVE_CANCEL error frame is sent.
// Otherwise CANCEL is a no-op - no state change, no wire traffic (base spec
// §4.3, §5).
func (e *Engine) handleCancel(req Request) (Response, bool) {
	if e.txn == nil || e.txn.CID != req.CID {
		return Response{}, false
	}
	e.txn = nil
	e.tunnel.reset()
	return e.errorResponse(req.CID, ErrKeepAliveCancel), true
}

// dispatchMessage runs an assembled CTAPHID message through the CBOR stub
// or the U2F/tunnel pipeline and stages whatever response results, per base
// spec §4.4-§4.6. It always returns true: a complete message always
// produces at least the first packet of a reply.
func (e *Engine) dispatchMessage(txn *Transaction) (Response, bool) {
	e.txn = nil

	if txn.MessageType == MessageTypeCBOR {
		e.stageResponse(txn.CID, MessageTypeCBOR, getInfoCBOR)
		resp, _ := e.nextOutboundPacket()
		return resp, true
	}

	outcome := handleU2FMessage(txn.requestMessage(), e.filter)
	switch outcome.kind {
	case u2fOutcomeImmediateResponse:
		e.stageResponse(txn.CID, MessageTypeU2F, outcome.responseBytes)

	case u2fOutcomeTunnelChunk:
		e.handleTunnelOutcome(txn.CID, outcome.tunnelChunk)
	}

	resp, _ := e.nextOutboundPacket()
	return resp, true
}

func (e *Engine) handleTunnelOutcome(cid ChannelID, chunk []byte) {
	if len(chunk) == 0 {
		e.logger.Warn("empty tunnel chunk, treating as unknown header")
		e.tunnel.reset()
		e.stageResponse(cid, MessageTypeU2F, encodeStatusResponse(statusWrongData))
		return
	}

	event, err := e.tunnel.handleTunnelChunk(chunk[0], chunk[1:])
	if err != nil {
		e.logger.Warn("tunnel protocol error, resetting", "err", err)
		e.tunnel.reset()
		e.stageResponse(cid, MessageTypeU2F, encodeStatusResponse(statusWrongData))
		return
	}

	switch event.kind {
	case tunnelEventAckEmptySignature:
		e.stageResponse(cid, MessageTypeU2F, encodeAuthenticateResponse(true, 0, nil))
	case tunnelEventDeliverResponseChunk:
		sig := e.tunnel.nextResponseChunk()
		e.stageResponse(cid, MessageTypeU2F, encodeAuthenticateResponse(true, 0, sig))
	}
}

// CheckPendingRequest returns the fully-reassembled tunneled request once
// the host has finished sending it (UserDataState == ReceivedRequest). The
// request stays pending until SendResponse is called.
func (e *Engine) CheckPendingRequest() ([]byte, bool) {
	return e.tunnel.checkPendingRequest()
}

// SendResponse hands the application's reply to the tunnel FSM, to be
// packetized out over subsequent polls from the host. Returns
// ErrNoPendingRequest if there is no ReceivedRequest to answer.
func (e *Engine) SendResponse(response []byte) error {
	return e.tunnel.sendResponse(response)
}

func (e *Engine) errorResponse(cid ChannelID, sentinel error) Response {
	code, ok := protocolErrorCodes[sentinel]
	if !ok {
		code = CTAPHIDErrInvalidCommand
	}
	return Response{CID: cid, Kind: ResponseError, ErrorCode: code}
}

// stageResponse loads payload into the ring and arms the packetizer to
// drain it as a sequence of ResponseMessage frames on CID.
func (e *Engine) stageResponse(cid ChannelID, mt MessageType, payload []byte) {
	if e.respActive {
		// The channel-busy check in handleMessageInitial is meant to
		// prevent this; treat it as a bug rather than silently drop the
		// undelivered response.
		e.logger.Error("staging response over one still in flight, dropping prior", "cid", e.respCID)
	}
	e.ring.Reset()
	grant, err := e.ring.GrantExact(len(payload))
	if err != nil {
		// payload can never exceed the ring's capacity (2*MaxCTAPHIDMessage);
		// a failure here means a caller built an oversized response.
		e.logger.Error("response exceeds ring capacity, dropping", "len", len(payload))
		return
	}
	copy(grant, payload)
	_ = e.ring.Commit(len(payload))

	e.respActive = true
	e.respCID = cid
	e.respType = mt
	e.respTotal = uint16(len(payload))
	e.respState = initialContinuationState()
}

// nextOutboundPacket drains the next 57- or 59-byte chunk of the
// currently-staged response, if any, per base spec §4.2-§4.3.
func (e *Engine) nextOutboundPacket() (Response, bool) {
	if !e.respActive {
		return Response{}, false
	}

	width := maxInitPayload
	if !e.respState.isInitial() {
		width = maxContinuationPayload
	}

	data, err := e.ring.Read()
	if err != nil {
		e.respActive = false
		return Response{}, false
	}
	n := width
	if n > len(data) {
		n = len(data)
	}
	chunk := data[:n]

	resp := Response{
		CID:               e.respCID,
		Kind:              ResponseMessage,
		ContinuationState: e.respState,
		MessageType:       e.respType,
		TotalLength:       e.respTotal,
		Data:              chunk,
	}

	_ = e.ring.Release(n)
	e.respState, err = e.respState.next()
	if err != nil {
		e.logger.Error("response sequence overflow, truncating", "err", err)
		e.respActive = false
		e.ring.Reset()
		return resp, true
	}
	if e.ring.Len() == 0 {
		e.respActive = false
	}
	return resp, true
}

// HasPendingOutboundPacket reports whether a staged response still has
// unsent packets, for Device.Poll to know whether a write is owed even
// when no new report has arrived.
func (e *Engine) HasPendingOutboundPacket() bool {
	return e.respActive
}

// NextOutboundPacket is the exported form of nextOutboundPacket, used by
// Device.Poll to continue draining a multi-packet response across several
// poll cycles.
func (e *Engine) NextOutboundPacket() (Response, bool) {
	return e.nextOutboundPacket()
}

// Reset clears all engine state: channels, the in-flight transaction, the
// tunnel FSM, and any staged response. Called after a fatal USB error
// (base spec §3 lifecycle, §7 taxon 3).
func (e *Engine) Reset() {
	e.nextCID = 1
	e.knownCIDs = make(map[ChannelID]bool)
	e.txn = nil
	e.tunnel.reset()
	e.ring.Reset()
	e.respActive = false
}
